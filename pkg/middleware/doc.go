// Package middleware provides HTTP middleware for identity, plan limits and rate limiting.
//
// # Middleware Components
//
// IdentityMiddleware: consumes the identity established by the upstream gateway
//
//	router.Use(middleware.IdentityMiddleware(middleware.NewHeaderVerifier("X-Account-ID")))
//
// LimitMiddleware: rejects child-resource creation at the plan ceiling
//
//	router.Handle("/students", middleware.LimitMiddleware(enforcer, plans.ResourceStudents, "/plans")(create))
//
// RateLimitMiddleware: per-account (or per-IP) fixed windows, in process or in Redis
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, nil, "ratelimit")
//	router.Use(middleware.RateLimitMiddleware(limiter, logger))
//
// # Ordering
//
// IdentityMiddleware must run before LimitMiddleware and before
// RateLimitMiddleware on authenticated routes; otherwise the account id is
// missing and limits are keyed by client IP.
package middleware
