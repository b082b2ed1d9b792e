package billing

import (
	"time"
)

// SubscriptionStatus represents the local status of a subscription
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

// Terminal reports whether no transition leaves s
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusExpired
}

// Subscription links an account to the billing processor's recurring-payment object
type Subscription struct {
	ID          int64              `json:"id"`
	AccountID   string             `json:"accountId"`
	PlanID      string             `json:"planId"`
	Status      SubscriptionStatus `json:"status"`
	ExternalRef string             `json:"externalRef"`
	CancelledAt *time.Time         `json:"cancelledAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	UpdatedAt   time.Time          `json:"updatedAt"`
}

// UpgradeRequest moves an account onto a plan, optionally backed by a processor subscription
type UpgradeRequest struct {
	AccountID   string
	PlanID      string
	ExternalRef string
	ExpiresAt   *time.Time
}

// Outcome describes what a status event did
type Outcome string

const (
	// OutcomeApplied means local state changed
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the event matched the current state
	OutcomeNoop Outcome = "noop"
	// OutcomeIgnored means the event was acknowledged without effect
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnknownRef means no local subscription carries the reference
	OutcomeUnknownRef Outcome = "unknown_ref"
)

// ProcessorStatus is a processor status spelling mapped onto local semantics
type ProcessorStatus struct {
	Status  SubscriptionStatus
	PastDue bool
}

// NormalizeStatus maps processor status spellings onto local statuses.
// past_due and unpaid keep the subscription active but flag the account.
func NormalizeStatus(raw string) (ProcessorStatus, bool) {
	switch raw {
	case "active", "trialing":
		return ProcessorStatus{Status: StatusActive}, true
	case "past_due", "unpaid":
		return ProcessorStatus{Status: StatusActive, PastDue: true}, true
	case "pending", "incomplete":
		return ProcessorStatus{Status: StatusPending}, true
	case "cancelled", "canceled":
		return ProcessorStatus{Status: StatusCancelled}, true
	case "expired", "incomplete_expired":
		return ProcessorStatus{Status: StatusExpired}, true
	}
	return ProcessorStatus{}, false
}
