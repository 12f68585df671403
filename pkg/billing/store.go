package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/recaphorizon/horizon/pkg/observability"
)

// ErrNoMatchingUser is returned when no user profile carries the given
// billing customer id. Webhook handlers treat it as a logged no-op; the
// provider's own redelivery is the only recovery path.
var ErrNoMatchingUser = errors.New("no user profile for billing customer")

// ErrProfileNotFound is returned when a profile lookup by user id misses
var ErrProfileNotFound = errors.New("profile not found")

// customerCacheSize bounds the customer-id → user-id lookup cache
const customerCacheSize = 4096

// Store is the persistence interface the webhook processor and handlers
// depend on
type Store interface {
	FindUserIDByCustomer(ctx context.Context, customerID string) (string, error)
	UpdateByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) (string, error)
	AttachCustomer(ctx context.Context, userID, email, customerID string) (string, error)
	CreditAddon(ctx context.Context, customerID string, extraTokens, extraAudioMinutes int64) (string, error)
	GetProfile(ctx context.Context, userID string) (*UserProfile, error)
	ApplyDueTierChanges(ctx context.Context, now time.Time) (int64, error)
}

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	logger   *observability.Logger
	customer *lru.Cache[string, string] // customer id -> user id
}

// NewPostgresStore creates a new PostgresStore
func NewPostgresStore(db *sql.DB, logger *observability.Logger) (*PostgresStore, error) {
	cache, err := lru.New[string, string](customerCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create customer cache: %w", err)
	}
	return &PostgresStore{
		db:       db,
		logger:   logger,
		customer: cache,
	}, nil
}

// FindUserIDByCustomer resolves a billing customer id to a user id.
// Results are cached; a miss against the database returns ErrNoMatchingUser.
func (s *PostgresStore) FindUserIDByCustomer(ctx context.Context, customerID string) (string, error) {
	if customerID == "" {
		return "", ErrNoMatchingUser
	}

	if userID, ok := s.customer.Get(customerID); ok {
		return userID, nil
	}

	query := `SELECT id FROM user_profiles WHERE stripe_customer_id = $1 LIMIT 1`
	var userID string
	err := s.db.QueryRowContext(ctx, query, customerID).Scan(&userID)
	if err == sql.ErrNoRows {
		s.logger.WithField("customer_id", customerID).Warn("no user profile for billing customer")
		return "", ErrNoMatchingUser
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up customer: %w", err)
	}

	s.customer.Add(customerID, userID)
	return userID, nil
}

// UpdateByCustomer merges the given subscription fields into the profile
// matching the customer id and stamps updated_at server-side.
//
// Diamond protection: when the stored tier is diamond, an incoming tier
// change is stripped before writing; all other fields still apply.
func (s *PostgresStore) UpdateByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) (string, error) {
	userID, err := s.FindUserIDByCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}

	if update.Tier != nil {
		var currentTier Tier
		err := s.db.QueryRowContext(ctx,
			`SELECT subscription_tier FROM user_profiles WHERE id = $1`, userID,
		).Scan(&currentTier)
		if err != nil {
			return "", fmt.Errorf("failed to read current tier: %w", err)
		}
		if currentTier == TierDiamond {
			s.logger.WithField("user_id", userID).Info("skipping tier update for diamond user")
			update.Tier = nil
		}
	}

	set, args := buildUpdateClauses(update)
	if len(set) == 0 {
		return userID, nil
	}

	args = append(args, userID)
	query := fmt.Sprintf(
		`UPDATE user_profiles SET %s, updated_at = NOW() WHERE id = $%d`,
		strings.Join(set, ", "), len(args),
	)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return "", fmt.Errorf("failed to update profile: %w", err)
	}

	return userID, nil
}

// buildUpdateClauses produces SET clauses in a fixed field order
func buildUpdateClauses(update SubscriptionUpdate) ([]string, []interface{}) {
	var set []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.SubscriptionID != nil {
		add("stripe_subscription_id", *update.SubscriptionID)
	}
	if update.PriceID != nil {
		add("stripe_price_id", *update.PriceID)
	}
	if update.Tier != nil {
		add("subscription_tier", *update.Tier)
	}
	if update.Status != nil {
		add("subscription_status", *update.Status)
	}
	if update.SubscriptionStartDate != nil {
		add("subscription_start_date", *update.SubscriptionStartDate)
	}
	if update.NextBillingDate != nil {
		add("next_billing_date", *update.NextBillingDate)
	}
	if update.PeriodStart != nil {
		add("period_start", *update.PeriodStart)
	}
	if update.PeriodEnd != nil {
		add("period_end", *update.PeriodEnd)
	}
	if update.HasHadPaidSubscription {
		add("has_had_paid_subscription", true)
	}
	if update.ScheduledTierChange != nil {
		payload, _ := json.Marshal(update.ScheduledTierChange)
		add("scheduled_tier_change", payload)
	} else if update.ClearScheduledTierChange {
		set = append(set, "scheduled_tier_change = NULL")
	}
	if update.ResetPeriodUsage {
		set = append(set,
			"period_input_tokens = 0",
			"period_output_tokens = 0",
			"period_sessions_count = 0",
			"period_extra_tokens = 0",
		)
	}

	return set, args
}

// AttachCustomer records the billing customer id on a profile after the
// first checkout completes. The profile is found by user id, falling back
// to email when the checkout session carried no client reference.
func (s *PostgresStore) AttachCustomer(ctx context.Context, userID, email, customerID string) (string, error) {
	var query string
	var key string
	switch {
	case userID != "":
		query = `UPDATE user_profiles SET stripe_customer_id = $1, updated_at = NOW() WHERE id = $2 RETURNING id`
		key = userID
	case email != "":
		query = `UPDATE user_profiles SET stripe_customer_id = $1, updated_at = NOW() WHERE email = $2 RETURNING id`
		key = email
	default:
		return "", ErrNoMatchingUser
	}

	var id string
	err := s.db.QueryRowContext(ctx, query, customerID, key).Scan(&id)
	if err == sql.ErrNoRows {
		s.logger.WithField("customer_id", customerID).Warn("checkout completed for unknown user")
		return "", ErrNoMatchingUser
	}
	if err != nil {
		return "", fmt.Errorf("failed to attach customer: %w", err)
	}

	s.customer.Add(customerID, id)
	return id, nil
}

// CreditAddon increments the add-on balances for the profile matching the
// customer id. Idempotence is the caller's responsibility (event ledger).
func (s *PostgresStore) CreditAddon(ctx context.Context, customerID string, extraTokens, extraAudioMinutes int64) (string, error) {
	userID, err := s.FindUserIDByCustomer(ctx, customerID)
	if err != nil {
		return "", err
	}

	query := `
		UPDATE user_profiles
		SET period_extra_tokens = period_extra_tokens + $1,
		    extra_audio_minutes_balance = extra_audio_minutes_balance + $2,
		    updated_at = NOW()
		WHERE id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, extraTokens, extraAudioMinutes, userID); err != nil {
		return "", fmt.Errorf("failed to credit addon: %w", err)
	}

	return userID, nil
}

// GetProfile loads the billing view of a user profile
func (s *PostgresStore) GetProfile(ctx context.Context, userID string) (*UserProfile, error) {
	query := `
		SELECT id, email, stripe_customer_id, stripe_subscription_id, stripe_price_id,
		       subscription_tier, subscription_status, subscription_start_date,
		       next_billing_date, period_start, period_end,
		       period_input_tokens, period_output_tokens, period_sessions_count,
		       period_extra_tokens, extra_audio_minutes_balance,
		       has_had_paid_subscription, scheduled_tier_change, updated_at
		FROM user_profiles
		WHERE id = $1
	`
	p := &UserProfile{}
	var customerID, subscriptionID, priceID, status sql.NullString
	var startDate, nextBilling, periodStart, periodEnd sql.NullTime
	var scheduledJSON []byte

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.ID, &p.Email, &customerID, &subscriptionID, &priceID,
		&p.SubscriptionTier, &status, &startDate,
		&nextBilling, &periodStart, &periodEnd,
		&p.PeriodInputTokens, &p.PeriodOutputTokens, &p.PeriodSessionsCount,
		&p.PeriodExtraTokens, &p.ExtraAudioMinutesBalance,
		&p.HasHadPaidSubscription, &scheduledJSON, &p.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	p.StripeCustomerID = customerID.String
	p.StripeSubscriptionID = subscriptionID.String
	p.StripePriceID = priceID.String
	p.SubscriptionStatus = SubscriptionStatus(status.String)
	if startDate.Valid {
		p.SubscriptionStartDate = &startDate.Time
	}
	if nextBilling.Valid {
		p.NextBillingDate = &nextBilling.Time
	}
	if periodStart.Valid {
		p.PeriodStart = &periodStart.Time
	}
	if periodEnd.Valid {
		p.PeriodEnd = &periodEnd.Time
	}
	if len(scheduledJSON) > 0 {
		var change ScheduledTierChange
		if err := json.Unmarshal(scheduledJSON, &change); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scheduled tier change: %w", err)
		}
		p.ScheduledTierChange = &change
	}

	return p, nil
}

// ApplyDueTierChanges applies every scheduled cancel whose effective date has
// passed: tier drops to free and the pending change is cleared. Returns the
// number of profiles changed.
func (s *PostgresStore) ApplyDueTierChanges(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE user_profiles
		SET subscription_tier = 'free',
		    scheduled_tier_change = NULL,
		    updated_at = NOW()
		WHERE scheduled_tier_change IS NOT NULL
		  AND scheduled_tier_change->>'action' = 'cancel'
		  AND (scheduled_tier_change->>'effectiveDate')::timestamptz <= $1
		  AND subscription_tier <> 'diamond'
	`
	result, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to apply tier changes: %w", err)
	}
	return result.RowsAffected()
}
