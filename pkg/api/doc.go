// Package api provides the HTTP surface of the plan entitlement service.
//
// # Endpoints
//
//	GET  /plans                          active plans, ascending by price (public)
//	GET  /plans/user                     caller's effective plan
//	GET  /plans/check-limit/{resource}   ceiling check for one resource kind
//	POST /plans/upgrade                  {planId, subscriptionId?, expiresAt?}
//	POST /plans/cancel                   return to the free tier
//	GET  /plans/history?limit=N          caller's plan changes, newest first
//	POST /plans/webhook/{processor}      billing processor notifications (signature, no identity)
//
// Caller identity comes from middleware.IdentityMiddleware. Engine errors are
// mapped onto statuses in one place, writeServiceError.
//
// The webhook answers 200 for every parsed event, including ignored and
// unknown references. Storage failures answer 500 so the processor redelivers;
// a rejected signature or unparseable body answers 400.
//
// # Usage
//
//	server := api.NewServer(api.Services{
//		Catalog:     catalog,
//		Resolver:    resolver,
//		Limits:      enforcer,
//		Transitions: manager,
//		Webhooks:    reconciler,
//		History:     auditStore,
//	}, api.ServerConfig{Logger: logger, Metrics: metrics})
//
//	server.Router().Handle("/students", server.LimitGuard(plans.ResourceStudents, createStudent)).Methods("POST")
package api
