package billing

import (
	"time"
)

// Tier represents the service tier granted by a subscription
type Tier string

const (
	TierFree       Tier = "free"
	TierSilver     Tier = "silver"
	TierGold       Tier = "gold"
	TierEnterprise Tier = "enterprise"
	// TierDiamond is granted manually and is never overwritten by
	// webhook-derived tier computations
	TierDiamond Tier = "diamond"
)

// SubscriptionStatus mirrors the billing provider's subscription statuses
type SubscriptionStatus string

const (
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete SubscriptionStatus = "incomplete"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// TierChangeAction describes what happens when a scheduled change becomes due
type TierChangeAction string

const (
	TierChangeActionCancel    TierChangeAction = "cancel"
	TierChangeActionDowngrade TierChangeAction = "downgrade"
)

// ScheduledTierChange is a pending tier transition, applied when the
// effective date passes.
type ScheduledTierChange struct {
	Tier          Tier             `json:"tier"`
	EffectiveDate time.Time        `json:"effectiveDate"`
	Action        TierChangeAction `json:"action"`
}

// UserProfile is the billing view of a user record. Profiles are created at
// signup; this subsystem attaches the billing customer id on first checkout
// and mutates subscription fields from webhook events. It never deletes them.
type UserProfile struct {
	ID                       string               `json:"id"`
	Email                    string               `json:"email"`
	StripeCustomerID         string               `json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID     string               `json:"stripeSubscriptionId,omitempty"`
	StripePriceID            string               `json:"stripePriceId,omitempty"`
	SubscriptionTier         Tier                 `json:"subscriptionTier"`
	SubscriptionStatus       SubscriptionStatus   `json:"currentSubscriptionStatus,omitempty"`
	SubscriptionStartDate    *time.Time           `json:"currentSubscriptionStartDate,omitempty"`
	NextBillingDate          *time.Time           `json:"nextBillingDate,omitempty"`
	PeriodStart              *time.Time           `json:"periodStart,omitempty"`
	PeriodEnd                *time.Time           `json:"periodEnd,omitempty"`
	PeriodInputTokens        int64                `json:"periodInputTokens"`
	PeriodOutputTokens       int64                `json:"periodOutputTokens"`
	PeriodSessionsCount      int64                `json:"periodSessionsCount"`
	PeriodExtraTokens        int64                `json:"periodExtraTokens"`
	ExtraAudioMinutesBalance int64                `json:"extraAudioMinutesBalance"`
	HasHadPaidSubscription   bool                 `json:"hasHadPaidSubscription"`
	ScheduledTierChange      *ScheduledTierChange `json:"scheduledTierChange,omitempty"`
	UpdatedAt                time.Time            `json:"updatedAt"`
}

// SubscriptionUpdate is a partial update of a profile's billing fields.
// Nil pointers leave the stored value untouched.
type SubscriptionUpdate struct {
	SubscriptionID        *string
	PriceID               *string
	Tier                  *Tier
	Status                *SubscriptionStatus
	SubscriptionStartDate *time.Time
	NextBillingDate       *time.Time
	PeriodStart           *time.Time
	PeriodEnd             *time.Time

	// HasHadPaidSubscription is monotonic: it is only ever set to true
	HasHadPaidSubscription bool

	// ScheduledTierChange replaces the stored change when non-nil;
	// ClearScheduledTierChange nulls it out instead
	ScheduledTierChange      *ScheduledTierChange
	ClearScheduledTierChange bool

	// ResetPeriodUsage zeroes all period usage counters
	ResetPeriodUsage bool
}

// CheckoutRequest is the body of POST /create-checkout-session
type CheckoutRequest struct {
	PriceID   string `json:"priceId"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

// CheckoutResponse is the successful checkout-session payload
type CheckoutResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// ReactivationRequest is the body of POST /reactivate-subscription
type ReactivationRequest struct {
	CustomerID string `json:"customerId"`
	PriceID    string `json:"priceId"`
	StartDate  *int64 `json:"startDate,omitempty"` // unix seconds
}

// ReactivationResponse is the successful reactivation payload
type ReactivationResponse struct {
	SubscriptionID     string `json:"subscriptionId"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"currentPeriodStart"`
	CurrentPeriodEnd   int64  `json:"currentPeriodEnd"`
	ProfileUpdated     bool   `json:"profileUpdated"`
}
