package plans

import (
	"time"
)

// Tier keys seeded into the catalog
const (
	PlanFree    = "free"
	PlanBasic   = "basic"
	PlanPremium = "premium"
)

// AccountStatus represents the plan status of an account
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
	AccountStatusPastDue  AccountStatus = "past_due"
)

// Valid reports whether s is a known account status
func (s AccountStatus) Valid() bool {
	switch s {
	case AccountStatusActive, AccountStatusInactive, AccountStatusPastDue:
		return true
	}
	return false
}

// Plan is a capability tier from the catalog
type Plan struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Price       int64    `json:"price" yaml:"price"`
	MaxStudents *int64   `json:"maxStudents" yaml:"max_students"`
	Features    []string `json:"features" yaml:"features"`
	Active      bool     `json:"active" yaml:"active"`
}

// Unlimited reports whether the plan has no student ceiling
func (p *Plan) Unlimited() bool {
	return p.MaxStudents == nil
}

// Account is the paying subject whose entitlement is tracked
type Account struct {
	ID              string        `json:"id"`
	PlanID          *string       `json:"planId,omitempty"`
	PlanStatus      AccountStatus `json:"planStatus"`
	PlanExpiresAt   *time.Time    `json:"planExpiresAt,omitempty"`
	SubscriptionRef *string       `json:"subscriptionRef,omitempty"`
}

// EntitlementSource records which step of the fallback chain produced a plan
type EntitlementSource string

const (
	SourceAccount      EntitlementSource = "account"
	SourceFreeFallback EntitlementSource = "free_fallback"
	SourceBaseline     EntitlementSource = "baseline"
)

// Entitlement is the resolved (plan, status) pair governing an account
type Entitlement struct {
	AccountID       string            `json:"accountId"`
	Plan            Plan              `json:"plan"`
	Status          AccountStatus     `json:"status"`
	ExpiresAt       *time.Time        `json:"expiresAt"`
	SubscriptionRef *string           `json:"subscriptionRef"`
	Source          EntitlementSource `json:"source"`
}

// ResourceKind names a limited child resource
type ResourceKind string

const (
	ResourceStudents ResourceKind = "students"
)

// LimitResult is the outcome of a ceiling check
type LimitResult struct {
	Resource ResourceKind `json:"resource"`
	CanAdd   bool         `json:"canAdd"`
	Current  *int64       `json:"current"`
	Max      *int64       `json:"max"`
	PlanName string       `json:"planName"`
}

// Int64 returns a pointer to v
func Int64(v int64) *int64 {
	return &v
}

// String returns a pointer to v
func String(v string) *string {
	return &v
}
