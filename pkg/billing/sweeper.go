package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/platinummonkey/coachplan/pkg/async"
	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/plans"
)

const (
	defaultSweepConcurrency = 4
	sweepAccountTimeout     = 30 * time.Second
)

// Sweeper returns accounts whose paid plan has lapsed to the free tier
type Sweeper struct {
	manager     *Manager
	concurrency int
}

// NewSweeper creates a sweeper sharing the manager's storage and cache
func NewSweeper(manager *Manager) *Sweeper {
	return &Sweeper{manager: manager, concurrency: defaultSweepConcurrency}
}

// WithConcurrency sets how many accounts are expired in parallel
func (s *Sweeper) WithConcurrency(n int) *Sweeper {
	if n > 0 {
		s.concurrency = n
	}
	return s
}

// ExpireLapsed resets every account with plan_expires_at before now, one
// transaction per account. It returns how many accounts were reset and
// keeps going past per-account failures, reporting them joined.
func (s *Sweeper) ExpireLapsed(ctx context.Context, now time.Time) (int, error) {
	m := s.manager
	now = now.UTC()

	ids, err := s.lapsedAccounts(ctx, now)
	if err != nil {
		return 0, err
	}

	var reset atomic.Int64
	err = async.Batch(ctx, ids, s.concurrency, sweepAccountTimeout, func(ctx context.Context, id string) error {
		changed, err := s.expireAccount(ctx, id, now)
		if err != nil {
			return fmt.Errorf("account %s: %w", id, err)
		}
		if changed {
			reset.Add(1)
			m.invalidate(ctx, id)
		}
		return nil
	})

	fields := map[string]interface{}{
		"operation":  "sweep",
		"candidates": len(ids),
		"reset":      reset.Load(),
	}
	if err != nil {
		m.logger.WithFields(fields).WithError(err).Warn("lapsed plan sweep finished with failures")
	} else {
		m.logger.WithFields(fields).Info("lapsed plan sweep finished")
	}

	return int(reset.Load()), err
}

func (s *Sweeper) lapsedAccounts(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.manager.db.QueryContext(ctx, `
		SELECT id FROM accounts
		WHERE plan_expires_at IS NOT NULL AND plan_expires_at < $1
			AND (plan_id IS NULL OR plan_id <> $2)
		ORDER BY plan_expires_at ASC
	`, now, plans.PlanFree)
	if err != nil {
		return nil, fmt.Errorf("failed to list lapsed accounts: %w", err)
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
		return nil, fmt.Errorf("failed to list lapsed accounts: %w", err)
	}
	return ids, nil
}

// expireAccount re-reads the account inside the transaction, so an upgrade
// that extended the expiry after the scan wins.
func (s *Sweeper) expireAccount(ctx context.Context, accountID string, now time.Time) (bool, error) {
	var changed bool
	err := s.manager.withTx(ctx, "expire", accountID, func(ctx context.Context, tx *sql.Tx) error {
		account, err := plans.LoadAccount(ctx, tx, accountID)
		if errors.Is(err, plans.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if account.PlanExpiresAt == nil || !account.PlanExpiresAt.Before(now) {
			return nil
		}

		if account.SubscriptionRef != nil {
			sub, found, err := lockSubscription(ctx, tx, *account.SubscriptionRef, now)
			if err != nil {
				return err
			}
			if found && sub.Status == StatusActive {
				if err := setSubscriptionStatus(ctx, tx, sub.ExternalRef, StatusExpired, now); err != nil {
					return err
				}
			}
		}

		ids, err := resetAccountsToFree(ctx, tx, now, byLapsedAccount(accountID, now))
		if err != nil {
			return err
		}
		changed = len(ids) > 0
		if !changed {
			return nil
		}
		return s.manager.record(ctx, tx, &audit.Event{
			EventType:       audit.EventTypePlanExpired,
			AccountID:       accountID,
			Actor:           audit.ActorSweeper,
			PlanID:          plans.String(plans.PlanFree),
			SubscriptionRef: account.SubscriptionRef,
			Metadata: map[string]interface{}{
				"previousPlan": stringOrEmpty(account.PlanID),
				"expiredAt":    account.PlanExpiresAt.UTC().Format(time.RFC3339),
			},
		})
	})
	return changed, err
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
