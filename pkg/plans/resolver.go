package plans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/coachplan/pkg/observability"
)

// EntitlementCache stores resolved entitlements between requests.
// Get returns (nil, nil) on a miss.
type EntitlementCache interface {
	Get(ctx context.Context, accountID string) (*Entitlement, error)
	Set(ctx context.Context, ent *Entitlement) error
	Invalidate(ctx context.Context, accountIDs ...string) error
}

// Baseline is the plan used when the catalog has no free row
func Baseline() Plan {
	return Plan{
		ID:          PlanFree,
		Name:        "Free",
		Price:       0,
		MaxStudents: Int64(1),
		Features:    []string{"Up to 1 student"},
		Active:      true,
	}
}

// sharedLoadTimeout bounds a coalesced storage read that no caller can cancel
const sharedLoadTimeout = 30 * time.Second

// Resolver resolves the effective plan of an account
type Resolver struct {
	db      *sql.DB
	catalog *Catalog
	cache   EntitlementCache
	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewResolver creates a resolver. cache and metrics may be nil.
func NewResolver(db *sql.DB, catalog *Catalog, cache EntitlementCache, logger *observability.Logger, metrics *observability.Metrics) *Resolver {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Resolver{
		db:      db,
		catalog: catalog,
		cache:   cache,
		logger:  logger,
		metrics: metrics,
	}
}

// Resolve returns the entitlement governing accountID. It falls back to the
// catalog's free row and then to Baseline, so it fails only on storage errors.
func (r *Resolver) Resolve(ctx context.Context, accountID string) (*Entitlement, error) {
	if r.cache != nil {
		ent, err := r.cache.Get(ctx, accountID)
		switch {
		case err != nil:
			r.logger.WithError(err).WithField("account_id", accountID).Warn("entitlement cache read failed")
		case ent != nil:
			r.metrics.RecordCache("entitlement", true)
			return ent, nil
		default:
			r.metrics.RecordCache("entitlement", false)
		}
	}

	// The shared load outlives any single caller; each caller still honours its own ctx.
	detached := context.WithoutCancel(ctx)
	ch := r.group.DoChan(accountID, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(detached, sharedLoadTimeout)
		defer cancel()
		return r.load(loadCtx, accountID)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	ent := res.Val.(*Entitlement)
	r.metrics.RecordResolution(string(ent.Source))

	if r.cache != nil {
		if err := r.cache.Set(ctx, ent); err != nil {
			r.logger.WithError(err).WithField("account_id", accountID).Warn("entitlement cache write failed")
		}
	}

	// Shared singleflight results must not be mutated by callers.
	cp := *ent
	return &cp, nil
}

// Forget drops any in-flight shared load for the accounts, so callers arriving
// after a committed transition read fresh rows.
func (r *Resolver) Forget(accountIDs ...string) {
	for _, id := range accountIDs {
		r.group.Forget(id)
	}
}

// Load resolves from storage, bypassing the cache
func (r *Resolver) Load(ctx context.Context, accountID string) (*Entitlement, error) {
	return r.load(ctx, accountID)
}

func (r *Resolver) load(ctx context.Context, accountID string) (*Entitlement, error) {
	account, err := LoadAccount(ctx, r.db, accountID)
	if errors.Is(err, ErrAccountNotFound) {
		return r.fallback(ctx, accountID, AccountStatusActive, nil, nil)
	}
	if err != nil {
		return nil, err
	}

	if account.PlanID != nil {
		plan, err := r.catalog.Get(ctx, *account.PlanID)
		switch {
		case err == nil && plan.Active:
			return &Entitlement{
				AccountID:       accountID,
				Plan:            *plan,
				Status:          account.PlanStatus,
				ExpiresAt:       account.PlanExpiresAt,
				SubscriptionRef: account.SubscriptionRef,
				Source:          SourceAccount,
			}, nil
		case err != nil && !errors.Is(err, ErrPlanNotFound):
			return nil, err
		}
		r.logger.WithFields(map[string]interface{}{
			"account_id": accountID,
			"plan_id":    *account.PlanID,
		}).Warn("account references a missing or inactive plan, using free tier")
	}

	return r.fallback(ctx, accountID, account.PlanStatus, account.PlanExpiresAt, account.SubscriptionRef)
}

func (r *Resolver) fallback(ctx context.Context, accountID string, status AccountStatus, expiresAt *time.Time, ref *string) (*Entitlement, error) {
	ent := &Entitlement{
		AccountID:       accountID,
		Status:          status,
		ExpiresAt:       expiresAt,
		SubscriptionRef: ref,
	}

	free, err := r.catalog.Free(ctx)
	switch {
	case err == nil:
		ent.Plan = *free
		ent.Source = SourceFreeFallback
	case errors.Is(err, ErrPlanNotFound):
		ent.Plan = Baseline()
		ent.Source = SourceBaseline
	default:
		return nil, err
	}
	return ent, nil
}

// LoadAccount reads an account row through q, which may be a *sql.DB or *sql.Tx
func LoadAccount(ctx context.Context, q Querier, accountID string) (*Account, error) {
	var (
		a         Account
		planID    sql.NullString
		status    string
		expiresAt sql.NullTime
		ref       sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, plan_id, plan_status, plan_expires_at, subscription_ref
		FROM accounts
		WHERE id = $1
	`, accountID).Scan(&a.ID, &planID, &status, &expiresAt, &ref)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load account %s: %w", accountID, err)
	}

	a.PlanStatus = AccountStatus(status)
	if planID.Valid {
		a.PlanID = String(planID.String)
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		a.PlanExpiresAt = &t
	}
	if ref.Valid {
		a.SubscriptionRef = String(ref.String)
	}
	return &a, nil
}

// Querier is satisfied by *sql.DB and *sql.Tx
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
