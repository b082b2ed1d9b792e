// Package billing keeps local plan state consistent with an external billing processor.
//
// # Overview
//
// Manager runs the user-initiated transitions (upgrade, cancel) as single
// transactions over accounts and subscriptions. Reconciler applies the
// processor's asynchronous status notifications through the same primitives,
// and Sweeper returns accounts whose paid plan lapsed to the free tier.
//
// # Subscription States
//
//	pending  -> active, cancelled, expired
//	active   -> active (renewal), cancelled, expired
//
// cancelled and expired are terminal. A status event for a subscription the
// service has never seen is acknowledged and dropped. An activation that
// arrives after the account moved to another active subscription is ignored.
// An active event carrying current_period_end moves a finite plan expiry
// forward, so renewed accounts are not swept.
//
// # Usage Example
//
//	ent, err := manager.Upgrade(ctx, billing.UpgradeRequest{
//		AccountID:   accountID,
//		PlanID:      plans.PlanPremium,
//		ExternalRef: "sub_123",
//	})
//
//	outcome, err := reconciler.HandleWebhook(ctx, "stripe", body, r.Header.Get("Stripe-Signature"))
//
// # Related Packages
//
//   - pkg/plans: Catalog, entitlement resolution and limit checks
package billing
