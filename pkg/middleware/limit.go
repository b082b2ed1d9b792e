package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/coachplan/pkg/httputil"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
)

// DefaultUpgradeURL is returned to clients that hit a plan ceiling
const DefaultUpgradeURL = "/plans"

// Admitter decides whether an account may add one more resource
type Admitter interface {
	Admit(ctx context.Context, accountID string, kind plans.ResourceKind) error
}

// LimitExceededResponse is the 403 body written when a ceiling is reached
type LimitExceededResponse struct {
	Error      string             `json:"error"`
	Resource   plans.ResourceKind `json:"resource"`
	Current    int64              `json:"current"`
	Max        int64              `json:"max"`
	PlanName   string             `json:"planName"`
	UpgradeURL string             `json:"upgradeUrl"`
}

// LimitMiddleware guards child-resource creation routes.
//
// REQUIRES: IdentityMiddleware must run before this middleware.
// Returns: 403 with LimitExceededResponse when the account is at its ceiling.
//
// The check does not lock, so concurrent creations at the ceiling can both pass.
func LimitMiddleware(admitter Admitter, kind plans.ResourceKind, upgradeURL string) func(http.Handler) http.Handler {
	if upgradeURL == "" {
		upgradeURL = DefaultUpgradeURL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			accountID := AccountID(r)
			if accountID == "" {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			err := admitter.Admit(r.Context(), accountID, kind)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}

			var le *plans.LimitExceededError
			if errors.As(err, &le) {
				_ = httputil.WriteJSON(w, http.StatusForbidden, LimitExceededResponse{
					Error:      "plan limit reached",
					Resource:   le.Resource,
					Current:    le.Current,
					Max:        le.Limit,
					PlanName:   le.PlanName,
					UpgradeURL: upgradeURL,
				})
				return
			}

			observability.FromContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
				"operation": "limit_check",
				"resource":  kind,
				"outcome":   "error",
			}).Error("limit check failed")
			httputil.WriteInternalError(w)
		})
	}
}
