package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	sub "github.com/stripe/stripe-go/v79/subscription"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// CheckoutService creates checkout sessions and reactivates subscriptions.
// These calls are direct external side effects with no local state change:
// the subsequent webhook is the actual state writer, except reactivation,
// which also writes the profile immediately so the UI reflects it.
type CheckoutService struct {
	store       Store
	resolver    *TierResolver
	frontendURL string
	logger      *observability.Logger
	metrics     *observability.Metrics
}

// NewCheckoutService creates a new CheckoutService
func NewCheckoutService(store Store, resolver *TierResolver, frontendURL string, logger *observability.Logger, metrics *observability.Metrics) *CheckoutService {
	return &CheckoutService{
		store:       store,
		resolver:    resolver,
		frontendURL: frontendURL,
		logger:      logger,
		metrics:     metrics,
	}
}

// ValidateCheckout checks a checkout request before any provider call
func (s *CheckoutService) ValidateCheckout(req *CheckoutRequest) error {
	if req.PriceID == "" || req.UserID == "" || req.UserEmail == "" {
		return fmt.Errorf("%w: priceId, userId and userEmail are required", ErrInvalidRequest)
	}
	if !s.resolver.PriceAllowed(req.PriceID) {
		return fmt.Errorf("%w: price id is not allowed", ErrInvalidRequest)
	}
	return nil
}

// CreateCheckoutSession creates a subscription checkout session for the user.
// The customer is created or reused keyed by email.
func (s *CheckoutService) CreateCheckoutSession(ctx context.Context, req *CheckoutRequest) (*CheckoutResponse, error) {
	customerID, err := s.ensureCustomer(ctx, req.UserEmail, req.UserID)
	if err != nil {
		s.countCheckout("error")
		return nil, err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(req.UserID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.frontendURL + "/billing/success"),
		CancelURL:  stripe.String(s.frontendURL + "/billing/cancel"),
	}
	params.Context = ctx

	sess, err := session.New(params)
	if err != nil {
		s.logger.WithError(err).Error("checkout session creation failed")
		s.countCheckout("error")
		return nil, err
	}

	s.countCheckout("created")
	return &CheckoutResponse{
		SessionID: sess.ID,
		URL:       sess.URL,
	}, nil
}

// ReactivateSubscription creates a fresh subscription for an existing
// customer and writes the resulting state back to the profile. The webhook
// will deliver the same state again; both writes are overwrites.
func (s *CheckoutService) ReactivateSubscription(ctx context.Context, req *ReactivationRequest) (*ReactivationResponse, error) {
	if req.CustomerID == "" || req.PriceID == "" {
		return nil, fmt.Errorf("%w: customerId and priceId are required", ErrInvalidRequest)
	}
	if !s.resolver.PriceAllowed(req.PriceID) {
		return nil, fmt.Errorf("%w: price id is not allowed", ErrInvalidRequest)
	}

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
	}
	if req.StartDate != nil {
		params.BackdateStartDate = stripe.Int64(*req.StartDate)
	}
	params.Context = ctx

	created, err := sub.New(params)
	if err != nil {
		s.logger.WithError(err).Error("subscription reactivation failed")
		s.countReactivation("error")
		return nil, err
	}

	tier := s.resolver.TierForPrice(req.PriceID)
	status := SubscriptionStatus(created.Status)
	start := time.Unix(created.CurrentPeriodStart, 0)
	end := time.Unix(created.CurrentPeriodEnd, 0)

	update := SubscriptionUpdate{
		SubscriptionID:         &created.ID,
		PriceID:                &req.PriceID,
		Tier:                   &tier,
		Status:                 &status,
		SubscriptionStartDate:  &start,
		NextBillingDate:        &end,
		PeriodStart:            &start,
		PeriodEnd:              &end,
		HasHadPaidSubscription: true,
		ResetPeriodUsage:       true,
	}

	profileUpdated := true
	if _, err := s.store.UpdateByCustomer(ctx, req.CustomerID, update); err != nil {
		// The subscription exists either way; the webhook will retry the write
		s.logger.WithError(err).Warn("profile update after reactivation failed")
		profileUpdated = false
	}

	s.countReactivation("created")
	return &ReactivationResponse{
		SubscriptionID:     created.ID,
		Status:             string(created.Status),
		CurrentPeriodStart: created.CurrentPeriodStart,
		CurrentPeriodEnd:   created.CurrentPeriodEnd,
		ProfileUpdated:     profileUpdated,
	}, nil
}

// ensureCustomer finds an existing billing customer by email or creates one
func (s *CheckoutService) ensureCustomer(ctx context.Context, email, userID string) (string, error) {
	listParams := &stripe.CustomerListParams{Email: stripe.String(email)}
	listParams.Limit = stripe.Int64(1)
	listParams.Context = ctx

	iter := customer.List(listParams)
	for iter.Next() {
		return iter.Customer().ID, nil
	}
	if err := iter.Err(); err != nil {
		return "", fmt.Errorf("failed to list customers: %w", err)
	}

	createParams := &stripe.CustomerParams{
		Email: stripe.String(email),
		Metadata: map[string]string{
			"app_user_id": userID,
		},
	}
	createParams.Context = ctx

	created, err := customer.New(createParams)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	return created.ID, nil
}

// StripeLineItems fetches the line items of a checkout session from the
// billing provider. Used by the webhook processor when the event payload
// does not embed them.
func StripeLineItems(ctx context.Context, sessionID string) ([]*stripe.LineItem, error) {
	params := &stripe.CheckoutSessionListLineItemsParams{
		Session: stripe.String(sessionID),
	}
	params.Context = ctx

	var items []*stripe.LineItem
	iter := session.ListLineItems(params)
	for iter.Next() {
		items = append(items, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list session line items: %w", err)
	}
	return items, nil
}

func (s *CheckoutService) countCheckout(outcome string) {
	if s.metrics != nil {
		s.metrics.CheckoutSessionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (s *CheckoutService) countReactivation(outcome string) {
	if s.metrics != nil {
		s.metrics.ReactivationsTotal.WithLabelValues(outcome).Inc()
	}
}
