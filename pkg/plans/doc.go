// Package plans decides which capability tier an account holds and whether it
// may add more of a limited resource.
//
// The Catalog reads plan tiers, the Resolver walks the fallback chain
// (account plan, then the catalog's free row, then Baseline) and the Enforcer
// compares live usage counts against the resolved plan's ceilings.
//
//	catalog := plans.NewCatalog(db, nil)
//	resolver := plans.NewResolver(db, catalog, cache, logger, metrics)
//	enforcer := plans.NewEnforcer(resolver, db, metrics)
//
//	result, err := enforcer.CheckLimit(ctx, accountID, plans.ResourceStudents)
//
// A nil ceiling means unlimited; CheckLimit then skips counting and reports
// neither Current nor Max.
package plans
