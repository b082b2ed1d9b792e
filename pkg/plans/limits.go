package plans

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/platinummonkey/coachplan/pkg/observability"
)

// Counter returns the number of units of a resource an account owns
type Counter func(ctx context.Context, accountID string) (int64, error)

// Capability binds a resource kind to its usage counter and the plan field capping it
type Capability struct {
	Count   Counter
	Ceiling func(p *Plan) *int64
}

// EntitlementResolver resolves an account's effective plan
type EntitlementResolver interface {
	Resolve(ctx context.Context, accountID string) (*Entitlement, error)
}

// Enforcer checks resource ceilings. Checks are reads without locks: concurrent
// admissions against an account at its ceiling may each see room and over-admit.
type Enforcer struct {
	resolver EntitlementResolver
	mu       sync.RWMutex
	kinds    map[ResourceKind]Capability
	metrics  *observability.Metrics
}

// NewEnforcer creates an enforcer with the students capability registered against db
func NewEnforcer(resolver EntitlementResolver, db *sql.DB, metrics *observability.Metrics) *Enforcer {
	e := &Enforcer{
		resolver: resolver,
		kinds:    make(map[ResourceKind]Capability),
		metrics:  metrics,
	}
	e.Register(ResourceStudents, Capability{
		Count:   StudentCounter(db),
		Ceiling: func(p *Plan) *int64 { return p.MaxStudents },
	})
	return e
}

// Register adds or replaces the capability for kind
func (e *Enforcer) Register(kind ResourceKind, capability Capability) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.kinds[kind] = capability
}

// Supports reports whether kind has a registered capability
func (e *Enforcer) Supports(kind ResourceKind) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.kinds[kind]
	return ok
}

// CheckLimit reports whether accountID may add one more unit of kind
func (e *Enforcer) CheckLimit(ctx context.Context, accountID string, kind ResourceKind) (*LimitResult, error) {
	e.mu.RLock()
	capability, ok := e.kinds[kind]
	e.mu.RUnlock()
	if !ok {
		e.metrics.RecordLimitCheck(string(kind), "unsupported")
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedResource, kind)
	}

	ent, err := e.resolver.Resolve(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	result := &LimitResult{
		Resource: kind,
		PlanName: ent.Plan.Name,
	}

	ceiling := capability.Ceiling(&ent.Plan)
	if ceiling == nil {
		result.CanAdd = true
		e.metrics.RecordLimitCheck(string(kind), "unlimited")
		return result, nil
	}

	current, err := capability.Count(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to count %s: %w", kind, err)
	}

	result.Current = Int64(current)
	result.Max = Int64(*ceiling)
	result.CanAdd = current < *ceiling

	if result.CanAdd {
		e.metrics.RecordLimitCheck(string(kind), "allowed")
	} else {
		e.metrics.RecordLimitCheck(string(kind), "denied")
	}
	return result, nil
}

// Admit returns a *LimitExceededError when accountID is at its ceiling for kind
func (e *Enforcer) Admit(ctx context.Context, accountID string, kind ResourceKind) error {
	result, err := e.CheckLimit(ctx, accountID, kind)
	if err != nil {
		return err
	}
	if result.CanAdd {
		return nil
	}
	return &LimitExceededError{
		AccountID: accountID,
		Resource:  kind,
		Current:   *result.Current,
		Limit:     *result.Max,
		PlanName:  result.PlanName,
	}
}

// StudentCounter counts the students owned by an account
func StudentCounter(db *sql.DB) Counter {
	return func(ctx context.Context, accountID string) (int64, error) {
		var count int64
		err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM students WHERE account_id = $1`, accountID).Scan(&count)
		if err != nil {
			return 0, err
		}
		return count, nil
	}
}
