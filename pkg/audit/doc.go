// Package audit records the plan history of each account.
//
// # Overview
//
// Every applied transition (upgrade, cancel, sweep expiry, processor status
// change) writes one plan_events row through the same transaction that
// changed the account, so history and state never disagree. Rejected and
// no-op requests are not recorded.
//
// # Event Types
//
//	plan.upgraded                 account moved onto a paid plan
//	plan.cancelled                account returned to free by the user
//	plan.expired                  sweeper reset a lapsed plan
//	subscription.status_changed   processor event changed local state
//
// # Usage Example
//
//	store := audit.NewStore(db)
//	err := store.Record(ctx, tx, &audit.Event{
//		EventType: audit.EventTypePlanUpgraded,
//		AccountID: "acct-1",
//		Actor:     audit.ActorAccount,
//		PlanID:    plans.String("premium"),
//	})
//
//	events, err := store.History(ctx, "acct-1", 20)
//
// # Retention
//
// Cleanup deletes events older than a cutoff; cmd/coachplan-sweeper calls
// it after each sweep when -audit-retention is set.
package audit
