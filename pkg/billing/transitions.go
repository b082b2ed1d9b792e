package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coachplan/pkg/async"
	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
	"github.com/platinummonkey/coachplan/pkg/storage/postgres"
)

// Manager executes plan transitions as single transactions over accounts and subscriptions
type Manager struct {
	db       *sql.DB
	catalog  *plans.Catalog
	resolver *plans.Resolver
	cache    plans.EntitlementCache
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   trace.Tracer
	audit    AuditRecorder
	now      func() time.Time

	reinvalidateDelay time.Duration
}

const (
	// DefaultReinvalidateDelay is how long after a commit cached entitlements are dropped again
	DefaultReinvalidateDelay = 2 * time.Second
	reinvalidateTimeout      = 5 * time.Second
)

// AuditRecorder writes plan history through the transition's transaction
type AuditRecorder interface {
	Record(ctx context.Context, q audit.Queryer, event *audit.Event) error
}

// NewManager creates a transition manager. cache and metrics may be nil.
func NewManager(db *sql.DB, catalog *plans.Catalog, resolver *plans.Resolver, cache plans.EntitlementCache, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		db:       db,
		catalog:  catalog,
		resolver: resolver,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
		tracer:   observability.Tracer(),
		now:      func() time.Time { return time.Now().UTC() },

		reinvalidateDelay: DefaultReinvalidateDelay,
	}
}

// WithReinvalidateDelay sets the delay of the second cache invalidation; zero disables it
func (m *Manager) WithReinvalidateDelay(d time.Duration) *Manager {
	m.reinvalidateDelay = d
	return m
}

// WithAudit records every applied transition in rec
func (m *Manager) WithAudit(rec AuditRecorder) *Manager {
	m.audit = rec
	return m
}

// Upgrade moves an account onto an active plan. When ExternalRef is set the
// subscription with that reference becomes the account's only active one.
func (m *Manager) Upgrade(ctx context.Context, req UpgradeRequest) (*plans.Entitlement, error) {
	if req.AccountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}
	if req.PlanID == "" {
		return nil, fmt.Errorf("%w: planId is required", ErrValidation)
	}

	plan, err := m.catalog.Active(ctx, req.PlanID)
	if err != nil {
		m.logFailure(req.AccountID, "upgrade", err)
		return nil, err
	}

	now := m.now()
	var expiresAt sql.NullTime
	if req.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: req.ExpiresAt.UTC(), Valid: true}
	}
	var ref sql.NullString
	if req.ExternalRef != "" {
		ref = sql.NullString{String: req.ExternalRef, Valid: true}
	}

	err = m.withTx(ctx, "upgrade", req.AccountID, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE accounts
			SET plan_id = $1, subscription_ref = $2, plan_status = 'active', plan_expires_at = $3, updated_at = $4
			WHERE id = $5
		`, plan.ID, ref, expiresAt, now, req.AccountID)
		if err != nil {
			return fmt.Errorf("failed to update account: %w", err)
		}
		if err := requireRows(res, req.AccountID); err != nil {
			return err
		}

		event := &audit.Event{
			EventType: audit.EventTypePlanUpgraded,
			AccountID: req.AccountID,
			Actor:     audit.ActorAccount,
			PlanID:    plans.String(plan.ID),
		}
		if expiresAt.Valid {
			event.Metadata = map[string]interface{}{"expiresAt": expiresAt.Time.Format(time.RFC3339)}
		}

		if ref.Valid {
			if _, err := cancelActiveSubscriptions(ctx, tx, req.AccountID, req.ExternalRef, now); err != nil {
				return err
			}
			if err := upsertSubscription(ctx, tx, req.AccountID, plan.ID, req.ExternalRef, now); err != nil {
				return err
			}
			event.SubscriptionRef = plans.String(req.ExternalRef)
		}
		return m.record(ctx, tx, event)
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, req.AccountID)
	m.logger.WithFields(map[string]interface{}{
		"account_id":   req.AccountID,
		"operation":    "upgrade",
		"outcome":      "applied",
		"plan_id":      plan.ID,
		"external_ref": req.ExternalRef,
	}).Info("plan upgraded")

	return m.resolver.Load(ctx, req.AccountID)
}

// Cancel cancels every active subscription of the account and returns it to
// the free tier. Cancelling an account already on free succeeds.
func (m *Manager) Cancel(ctx context.Context, accountID string) (*plans.Entitlement, error) {
	if accountID == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrValidation)
	}

	now := m.now()
	outcome := "applied"
	err := m.withTx(ctx, "cancel", accountID, func(ctx context.Context, tx *sql.Tx) error {
		before, err := plans.LoadAccount(ctx, tx, accountID)
		if err != nil {
			return err
		}
		reset, err := resetAccountsToFree(ctx, tx, now, byAccountID(accountID))
		if err != nil {
			return err
		}
		if len(reset) == 0 {
			return fmt.Errorf("%w: %s", plans.ErrAccountNotFound, accountID)
		}
		cancelled, err := cancelActiveSubscriptions(ctx, tx, accountID, "", now)
		if err != nil {
			return err
		}
		if cancelled == 0 && onBaseFreeTier(before) {
			outcome = "noop"
			return nil
		}
		return m.record(ctx, tx, &audit.Event{
			EventType: audit.EventTypePlanCancelled,
			AccountID: accountID,
			Actor:     audit.ActorAccount,
			PlanID:    plans.String(plans.PlanFree),
			Metadata:  map[string]interface{}{"cancelledSubscriptions": cancelled},
		})
	})
	if err != nil {
		return nil, err
	}

	m.invalidate(ctx, accountID)
	m.logger.WithFields(map[string]interface{}{
		"account_id": accountID,
		"operation":  "cancel",
		"outcome":    outcome,
	}).Info("plan cancelled")

	return m.resolver.Load(ctx, accountID)
}

// onBaseFreeTier reports whether a cancel would leave the account unchanged
func onBaseFreeTier(a *plans.Account) bool {
	return (a.PlanID == nil || *a.PlanID == plans.PlanFree) &&
		a.SubscriptionRef == nil &&
		a.PlanExpiresAt == nil &&
		a.PlanStatus == plans.AccountStatusActive
}

// withTx runs fn in one transaction: commit only when fn succeeds, rollback otherwise
func (m *Manager) withTx(ctx context.Context, op, accountID string, fn func(ctx context.Context, tx *sql.Tx) error) (err error) {
	ctx, span := m.tracer.Start(ctx, "billing."+op, trace.WithAttributes(attribute.String("account.id", accountID)))
	started := time.Now()
	defer func() {
		m.metrics.RecordTransition(op, err, started)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			m.logFailure(accountID, op, err)
		}
		span.End()
	}()

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			m.logger.WithError(rbErr).WithField("operation", op).Error("rollback failed")
		}
		if postgres.IsUniqueViolation(err) {
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (m *Manager) record(ctx context.Context, tx *sql.Tx, event *audit.Event) error {
	if m.audit == nil {
		return nil
	}
	event.Timestamp = m.now()
	return m.audit.Record(ctx, tx, event)
}

// invalidate drops cached entitlements after a commit. A second pass after
// reinvalidateDelay removes entries written by loads that read pre-commit rows.
func (m *Manager) invalidate(ctx context.Context, accountIDs ...string) {
	if len(accountIDs) == 0 {
		return
	}
	if m.resolver != nil {
		m.resolver.Forget(accountIDs...)
	}
	if m.cache == nil {
		return
	}
	if err := m.cache.Invalidate(ctx, accountIDs...); err != nil {
		m.logger.WithError(err).WithField("accounts", accountIDs).Warn("entitlement cache invalidation failed")
	}
	if m.reinvalidateDelay <= 0 {
		return
	}

	delay := m.reinvalidateDelay
	async.Go(context.WithoutCancel(ctx), m.logger, delay+reinvalidateTimeout, "entitlement re-invalidation", func(ctx context.Context) error {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		return m.cache.Invalidate(ctx, accountIDs...)
	})
}

func (m *Manager) logFailure(accountID, op string, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, ErrValidation), errors.Is(err, plans.ErrPlanNotFound), errors.Is(err, plans.ErrAccountNotFound):
		outcome = "rejected"
	case errors.Is(err, ErrConflict):
		outcome = "conflict"
	}
	m.logger.WithError(err).WithFields(map[string]interface{}{
		"account_id": accountID,
		"operation":  op,
		"outcome":    outcome,
	}).Warn("plan transition failed")
}

func requireRows(res sql.Result, accountID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", plans.ErrAccountNotFound, accountID)
	}
	return nil
}

// accountFilter selects accounts for resetAccountsToFree. Its placeholders start at $3.
type accountFilter struct {
	clause string
	args   []interface{}
}

func byAccountID(id string) accountFilter {
	return accountFilter{clause: "id = $3", args: []interface{}{id}}
}

func bySubscriptionRef(ref string) accountFilter {
	return accountFilter{clause: "subscription_ref = $3", args: []interface{}{ref}}
}

func byLapsedAccount(id string, now time.Time) accountFilter {
	return accountFilter{clause: "id = $3 AND plan_expires_at < $4", args: []interface{}{id, now}}
}

// resetAccountsToFree puts the matching accounts on the free tier, status active,
// with no subscription reference or expiry. It returns the ids it changed.
func resetAccountsToFree(ctx context.Context, tx *sql.Tx, now time.Time, filter accountFilter) ([]string, error) {
	args := append([]interface{}{plans.PlanFree, now}, filter.args...)
	rows, err := tx.QueryContext(ctx, `
		UPDATE accounts
		SET plan_id = (SELECT id FROM plans WHERE id = $1),
			plan_status = 'active',
			subscription_ref = NULL,
			plan_expires_at = NULL,
			updated_at = $2
		WHERE `+filter.clause+`
		RETURNING id
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to reset accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to reset accounts: %w", err)
	}
	return ids, nil
}

// setAccountsPlanStatus moves accounts referencing ref from one plan status to another
func setAccountsPlanStatus(ctx context.Context, tx *sql.Tx, ref string, from, to plans.AccountStatus, now time.Time) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		UPDATE accounts
		SET plan_status = $1, updated_at = $2
		WHERE subscription_ref = $3 AND plan_status = $4
		RETURNING id
	`, string(to), now, ref, string(from))
	if err != nil {
		return nil, fmt.Errorf("failed to update plan status: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// lockSubscription touches the subscription row so the rest of the transaction
// holds its row lock, and returns its current state. found is false for an unknown ref.
func lockSubscription(ctx context.Context, tx *sql.Tx, ref string, now time.Time) (sub Subscription, found bool, err error) {
	var status string
	err = tx.QueryRowContext(ctx, `
		UPDATE subscriptions
		SET updated_at = $1
		WHERE external_ref = $2
		RETURNING id, account_id, plan_id, status
	`, now, ref).Scan(&sub.ID, &sub.AccountID, &sub.PlanID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return sub, false, nil
	}
	if err != nil {
		return sub, false, fmt.Errorf("failed to load subscription: %w", err)
	}
	sub.ExternalRef = ref
	sub.Status = SubscriptionStatus(status)
	return sub, true, nil
}

// setSubscriptionStatus writes a status, stamping cancelled_at on the first cancellation
func setSubscriptionStatus(ctx context.Context, tx *sql.Tx, ref string, status SubscriptionStatus, now time.Time) error {
	var cancelledAt sql.NullTime
	if status == StatusCancelled {
		cancelledAt = sql.NullTime{Time: now, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = $1, cancelled_at = COALESCE(cancelled_at, $2), updated_at = $3
		WHERE external_ref = $4
	`, string(status), cancelledAt, now, ref)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	return nil
}

// cancelActiveSubscriptions cancels the account's active subscriptions other than keepRef
func cancelActiveSubscriptions(ctx context.Context, tx *sql.Tx, accountID, keepRef string, now time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = 'cancelled', cancelled_at = $1, updated_at = $1
		WHERE account_id = $2 AND status = 'active' AND external_ref <> $3
	`, now, accountID, keepRef)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel subscriptions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// hasOtherActiveSubscription reports whether the account has an active subscription other than ref
func hasOtherActiveSubscription(ctx context.Context, tx *sql.Tx, accountID, ref string) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM subscriptions
		WHERE account_id = $1 AND status = 'active' AND external_ref <> $2
	`, accountID, ref).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check active subscriptions: %w", err)
	}
	return n > 0, nil
}

// extendPlanExpiry moves a finite plan expiry of accounts referencing ref forward to
// periodEnd. Accounts without an expiry, or already expiring later, are left alone.
func extendPlanExpiry(ctx context.Context, tx *sql.Tx, ref string, periodEnd *time.Time, now time.Time) ([]string, error) {
	if periodEnd == nil {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		UPDATE accounts
		SET plan_expires_at = $1, updated_at = $2
		WHERE subscription_ref = $3 AND plan_expires_at IS NOT NULL AND plan_expires_at < $1
		RETURNING id
	`, periodEnd.UTC(), now, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to extend plan expiry: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan account id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// upsertSubscription inserts or reactivates the subscription keyed by ref.
// A ref owned by another account is a conflict, never a reassignment.
func upsertSubscription(ctx context.Context, tx *sql.Tx, accountID, planID, ref string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO subscriptions (account_id, plan_id, status, external_ref, created_at, updated_at)
		VALUES ($1, $2, 'active', $3, $4, $4)
		ON CONFLICT (external_ref) DO UPDATE SET
			plan_id = excluded.plan_id,
			status = 'active',
			cancelled_at = NULL,
			updated_at = excluded.updated_at
		WHERE subscriptions.account_id = excluded.account_id
	`, accountID, planID, ref, now)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: subscription %s belongs to another account", ErrConflict, ref)
	}
	return nil
}
