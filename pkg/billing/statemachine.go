package billing

import (
	"slices"
)

// Transition represents a subscription status change
type Transition struct {
	From SubscriptionStatus
	To   SubscriptionStatus
}

// validTransitions defines all allowed status changes. Cancelled and expired are terminal.
var validTransitions = map[Transition]bool{
	{StatusPending, StatusActive}:    true, // first payment confirmed
	{StatusPending, StatusCancelled}: true,
	{StatusPending, StatusExpired}:   true, // checkout abandoned
	{StatusActive, StatusActive}:     true, // renewal
	{StatusActive, StatusCancelled}:  true,
	{StatusActive, StatusExpired}:    true,
}

// CanTransition checks if a transition from one status to another is valid
func CanTransition(from, to SubscriptionStatus) bool {
	return validTransitions[Transition{from, to}]
}

// ValidTransitionsFrom returns all valid target statuses from the given status
func ValidTransitionsFrom(from SubscriptionStatus) []SubscriptionStatus {
	targets := make([]SubscriptionStatus, 0)
	for t := range validTransitions {
		if t.From == from {
			targets = append(targets, t.To)
		}
	}
	slices.Sort(targets)
	return targets
}
