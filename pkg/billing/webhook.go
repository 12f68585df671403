package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// AddonConfig identifies the one-time prices that credit usage add-ons
type AddonConfig struct {
	ProductID                string
	ExtraTokensPriceID       string
	ExtraAudioMinutesPriceID string
	ExtraTokensAmount        int64
	ExtraAudioMinutesAmount  int64
}

// LineItemLister fetches the line items of a checkout session when the
// webhook payload does not carry them inline
type LineItemLister func(ctx context.Context, sessionID string) ([]*stripe.LineItem, error)

// WebhookProcessor applies verified billing events to user profiles.
// All handlers are overwrite-style and idempotent except the add-on credit
// path, which is guarded by the event ledger.
type WebhookProcessor struct {
	store     Store
	ledger    Ledger
	resolver  *TierResolver
	addons    AddonConfig
	lineItems LineItemLister
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// NewWebhookProcessor creates a new WebhookProcessor
func NewWebhookProcessor(store Store, ledger Ledger, resolver *TierResolver, addons AddonConfig, logger *observability.Logger, metrics *observability.Metrics) *WebhookProcessor {
	return &WebhookProcessor{
		store:    store,
		ledger:   ledger,
		resolver: resolver,
		addons:   addons,
		logger:   logger,
		metrics:  metrics,
	}
}

// SetLineItemLister overrides how checkout line items are fetched
func (p *WebhookProcessor) SetLineItemLister(lister LineItemLister) {
	p.lineItems = lister
}

// Process routes a verified event to its handler. Unrecognized event types
// are logged and acknowledged: delivery is at-least-once, so unknown events
// must be idempotent no-ops.
func (p *WebhookProcessor) Process(ctx context.Context, event stripe.Event) error {
	log := p.logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": string(event.Type),
	})

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = p.handleCheckoutCompleted(ctx, event, log)
	case "customer.subscription.created":
		err = p.handleSubscriptionCreated(ctx, event, log)
	case "customer.subscription.updated":
		err = p.handleSubscriptionUpdated(ctx, event, log)
	case "customer.subscription.deleted":
		err = p.handleSubscriptionDeleted(ctx, event, log)
	case "invoice.payment_succeeded":
		err = p.handleInvoicePaymentSucceeded(ctx, event, log)
	case "invoice.payment_failed":
		err = p.handleInvoicePaymentFailed(ctx, event, log)
	default:
		log.Info("ignoring unhandled event type")
		p.count(event, "ignored")
		return nil
	}

	// A customer id with no matching profile is acknowledged, not retried:
	// the provider's redelivery cannot fix a missing user record.
	if errors.Is(err, ErrNoMatchingUser) {
		if p.metrics != nil {
			p.metrics.OrphanCustomerLookups.Inc()
		}
		p.count(event, "orphan")
		return nil
	}
	if err != nil {
		log.WithError(err).Error("webhook handler failed")
		if p.metrics != nil {
			p.metrics.WebhookErrorsTotal.WithLabelValues(string(event.Type)).Inc()
		}
		return err
	}

	log.Info("webhook event processed")
	p.count(event, "processed")
	return nil
}

func (p *WebhookProcessor) count(event stripe.Event, outcome string) {
	if p.metrics != nil {
		p.metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), outcome).Inc()
	}
}

// handleCheckoutCompleted attaches the billing customer id to the user who
// checked out and credits add-on purchases found among the line items.
func (p *WebhookProcessor) handleCheckoutCompleted(ctx context.Context, event stripe.Event, log *observability.Logger) error {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return fmt.Errorf("failed to parse checkout session: %w", err)
	}

	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}
	if customerID == "" {
		return fmt.Errorf("checkout session missing customer id")
	}

	email := sess.CustomerEmail
	if email == "" && sess.CustomerDetails != nil {
		email = sess.CustomerDetails.Email
	}

	if _, err := p.store.AttachCustomer(ctx, sess.ClientReferenceID, email, customerID); err != nil {
		return err
	}

	extraTokens, extraMinutes, err := p.addonCredits(ctx, &sess)
	if err != nil {
		return err
	}
	if extraTokens == 0 && extraMinutes == 0 {
		return nil
	}

	// The credit is an increment, so redelivered events must be skipped
	first, err := p.ledger.MarkProcessed(ctx, event.ID, string(event.Type))
	if err != nil {
		return err
	}
	if !first {
		log.Info("skipping duplicate addon credit")
		if p.metrics != nil {
			p.metrics.WebhookDuplicatesTotal.WithLabelValues(string(event.Type)).Inc()
		}
		return nil
	}

	_, err = p.store.CreditAddon(ctx, customerID, extraTokens, extraMinutes)
	return err
}

// addonCredits sums the add-on amounts purchased in the session
func (p *WebhookProcessor) addonCredits(ctx context.Context, sess *stripe.CheckoutSession) (extraTokens, extraMinutes int64, err error) {
	if sess.Mode != stripe.CheckoutSessionModePayment {
		return 0, 0, nil
	}

	var items []*stripe.LineItem
	if sess.LineItems != nil {
		items = sess.LineItems.Data
	} else if p.lineItems != nil {
		items, err = p.lineItems(ctx, sess.ID)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to list line items: %w", err)
		}
	}

	for _, item := range items {
		if item.Price == nil {
			continue
		}
		quantity := item.Quantity
		if quantity == 0 {
			quantity = 1
		}
		switch item.Price.ID {
		case p.addons.ExtraTokensPriceID:
			extraTokens += p.addons.ExtraTokensAmount * quantity
		case p.addons.ExtraAudioMinutesPriceID:
			extraMinutes += p.addons.ExtraAudioMinutesAmount * quantity
		}
	}
	return extraTokens, extraMinutes, nil
}

// handleSubscriptionCreated records the new subscription, resolves the tier,
// starts a fresh usage period, and marks the paid-subscription flag.
func (p *WebhookProcessor) handleSubscriptionCreated(ctx context.Context, event stripe.Event, _ *observability.Logger) error {
	sub, customerID, err := parseSubscription(event)
	if err != nil {
		return err
	}

	priceID := subscriptionPriceID(sub)
	tier := p.resolver.TierForPrice(priceID)
	status := SubscriptionStatus(sub.Status)
	start := time.Unix(sub.StartDate, 0)
	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	update := SubscriptionUpdate{
		SubscriptionID:         &sub.ID,
		PriceID:                &priceID,
		Tier:                   &tier,
		Status:                 &status,
		SubscriptionStartDate:  &start,
		NextBillingDate:        &periodEnd,
		PeriodStart:            &periodStart,
		PeriodEnd:              &periodEnd,
		HasHadPaidSubscription: true,
		ResetPeriodUsage:       true,
	}

	_, err = p.store.UpdateByCustomer(ctx, customerID, update)
	return err
}

// handleSubscriptionUpdated refreshes price/status/dates/tier; a pending
// cancel-at-period-end becomes a scheduled downgrade to free.
func (p *WebhookProcessor) handleSubscriptionUpdated(ctx context.Context, event stripe.Event, _ *observability.Logger) error {
	sub, customerID, err := parseSubscription(event)
	if err != nil {
		return err
	}

	priceID := subscriptionPriceID(sub)
	tier := p.resolver.TierForPrice(priceID)
	status := SubscriptionStatus(sub.Status)
	periodStart := time.Unix(sub.CurrentPeriodStart, 0)
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)

	update := SubscriptionUpdate{
		SubscriptionID:         &sub.ID,
		PriceID:                &priceID,
		Tier:                   &tier,
		Status:                 &status,
		NextBillingDate:        &periodEnd,
		PeriodStart:            &periodStart,
		PeriodEnd:              &periodEnd,
		HasHadPaidSubscription: true,
	}

	if sub.CancelAtPeriodEnd {
		update.ScheduledTierChange = &ScheduledTierChange{
			Tier:          TierFree,
			EffectiveDate: periodEnd,
			Action:        TierChangeActionCancel,
		}
	} else {
		update.ClearScheduledTierChange = true
	}

	_, err = p.store.UpdateByCustomer(ctx, customerID, update)
	return err
}

// handleSubscriptionDeleted clears the subscription and drops the tier to
// free. The store still protects manually-granted diamond tiers.
func (p *WebhookProcessor) handleSubscriptionDeleted(ctx context.Context, event stripe.Event, _ *observability.Logger) error {
	_, customerID, err := parseSubscription(event)
	if err != nil {
		return err
	}

	empty := ""
	tier := TierFree
	status := SubscriptionStatusCanceled

	update := SubscriptionUpdate{
		SubscriptionID:           &empty,
		PriceID:                  &empty,
		Tier:                     &tier,
		Status:                   &status,
		ClearScheduledTierChange: true,
	}

	_, err = p.store.UpdateByCustomer(ctx, customerID, update)
	return err
}

// handleInvoicePaymentSucceeded advances the billing period and resets the
// usage counters for the new period.
func (p *WebhookProcessor) handleInvoicePaymentSucceeded(ctx context.Context, event stripe.Event, _ *observability.Logger) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return fmt.Errorf("invoice missing customer id")
	}

	periodEnd := time.Unix(inv.PeriodEnd, 0)
	status := SubscriptionStatusActive

	update := SubscriptionUpdate{
		Status:           &status,
		NextBillingDate:  &periodEnd,
		PeriodEnd:        &periodEnd,
		ResetPeriodUsage: true,
	}

	_, err := p.store.UpdateByCustomer(ctx, inv.Customer.ID, update)
	return err
}

// handleInvoicePaymentFailed marks the subscription past due
func (p *WebhookProcessor) handleInvoicePaymentFailed(ctx context.Context, event stripe.Event, _ *observability.Logger) error {
	var inv stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	if inv.Customer == nil || inv.Customer.ID == "" {
		return fmt.Errorf("invoice missing customer id")
	}

	status := SubscriptionStatusPastDue
	update := SubscriptionUpdate{Status: &status}

	_, err := p.store.UpdateByCustomer(ctx, inv.Customer.ID, update)
	return err
}

func parseSubscription(event stripe.Event) (*stripe.Subscription, string, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, "", fmt.Errorf("failed to parse subscription: %w", err)
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, "", fmt.Errorf("subscription missing customer id")
	}
	return &sub, sub.Customer.ID, nil
}

func subscriptionPriceID(sub *stripe.Subscription) string {
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item.Price == nil {
		return ""
	}
	return item.Price.ID
}
