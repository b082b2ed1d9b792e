package plans

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanNotFound is returned when a plan id is not in the catalog
	ErrPlanNotFound = errors.New("plan not found")
	// ErrPlanInactive is returned when a plan exists but is not offered
	ErrPlanInactive = errors.New("plan is not active")
	// ErrAccountNotFound is returned when an account id is unknown
	ErrAccountNotFound = errors.New("account not found")
	// ErrUnsupportedResource is returned for resource kinds with no registered capability
	ErrUnsupportedResource = errors.New("unsupported resource")
)

// LimitExceededError is returned when an account is at its ceiling for a resource
type LimitExceededError struct {
	AccountID string
	Resource  ResourceKind
	Current   int64
	Limit     int64
	PlanName  string
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("limit exceeded for %s: %d of %d on plan %s", e.Resource, e.Current, e.Limit, e.PlanName)
}

// IsLimitExceeded checks if an error is a limit exceeded error
func IsLimitExceeded(err error) bool {
	var le *LimitExceededError
	return errors.As(err, &le)
}
