package audit

import (
	"time"
)

// EventType represents the kind of plan change recorded
type EventType string

const (
	EventTypePlanUpgraded  EventType = "plan.upgraded"
	EventTypePlanCancelled EventType = "plan.cancelled"
	EventTypePlanExpired   EventType = "plan.expired"
	// EventTypeSubscriptionStatus is a processor status event that changed local state
	EventTypeSubscriptionStatus EventType = "subscription.status_changed"
)

// Actor identifies who initiated a change
type Actor string

const (
	ActorAccount   Actor = "account"
	ActorProcessor Actor = "processor"
	ActorSweeper   Actor = "sweeper"
)

// Event is a single entry in an account's plan history
type Event struct {
	ID              int64                  `json:"id"`
	Timestamp       time.Time              `json:"timestamp"`
	EventType       EventType              `json:"eventType"`
	AccountID       string                 `json:"accountId"`
	Actor           Actor                  `json:"actor"`
	PlanID          *string                `json:"planId,omitempty"`
	SubscriptionRef *string                `json:"subscriptionRef,omitempty"`
	Status          string                 `json:"status,omitempty"`
	RequestID       string                 `json:"requestId,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter represents filters for searching plan history
type SearchFilter struct {
	AccountID  string
	EventTypes []EventType

	// Time range, inclusive start and exclusive end
	StartTime *time.Time
	EndTime   *time.Time

	// Pagination
	Limit  int
	Offset int
}
