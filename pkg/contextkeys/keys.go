// Package contextkeys provides centralized context key definitions
//
// All context keys used across the service are defined here so that packages
// never collide on string keys.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/coachplan/pkg/contextkeys"
//	ctx = contextkeys.WithAccountID(ctx, accountID)
//	accountID := contextkeys.GetAccountID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AccountIDKey contains the verified account id string
	// Set by: middleware.IdentityMiddleware (pkg/middleware/identity.go)
	// Required by: every authenticated /plans endpoint, LimitMiddleware
	// Type: string
	AccountIDKey Key = "account_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: httputil.LoggingMiddleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithAccountID adds the verified account id to the context
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, AccountIDKey, accountID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetAccountID retrieves the verified account id from context
func GetAccountID(ctx context.Context) string {
	if accountID, ok := ctx.Value(AccountIDKey).(string); ok {
		return accountID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
