package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/billing"
	"github.com/platinummonkey/coachplan/pkg/httputil"
	"github.com/platinummonkey/coachplan/pkg/middleware"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
)

// UpgradeRequest is the body of POST /plans/upgrade
type UpgradeRequest struct {
	PlanID         string     `json:"planId"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
}

// WebhookResponse acknowledges a processor notification
type WebhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome"`
}

func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	list, err := s.services.Catalog.ListActive(r.Context())
	if err != nil {
		s.writeServiceError(w, r, "list_plans", err)
		return
	}
	httputil.WriteSuccess(w, list)
}

func (s *Server) getUserPlan(w http.ResponseWriter, r *http.Request) {
	ent, err := s.services.Resolver.Resolve(r.Context(), middleware.AccountID(r))
	if err != nil {
		s.writeServiceError(w, r, "get_plan", err)
		return
	}
	httputil.WriteSuccess(w, ent)
}

func (s *Server) checkLimit(w http.ResponseWriter, r *http.Request) {
	resource, ok := httputil.ParsePathStringOrError(w, r, "resource")
	if !ok {
		return
	}

	result, err := s.services.Limits.CheckLimit(r.Context(), middleware.AccountID(r), plans.ResourceKind(resource))
	if err != nil {
		s.writeServiceError(w, r, "check_limit", err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func (s *Server) upgradePlan(w http.ResponseWriter, r *http.Request) {
	var req UpgradeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PlanID == "" {
		httputil.WriteBadRequest(w, "planId is required")
		return
	}

	ent, err := s.services.Transitions.Upgrade(r.Context(), billing.UpgradeRequest{
		AccountID:   middleware.AccountID(r),
		PlanID:      req.PlanID,
		ExternalRef: req.SubscriptionID,
		ExpiresAt:   req.ExpiresAt,
	})
	if err != nil {
		s.writeServiceError(w, r, "upgrade", err)
		return
	}
	httputil.WriteSuccess(w, ent)
}

func (s *Server) cancelPlan(w http.ResponseWriter, r *http.Request) {
	ent, err := s.services.Transitions.Cancel(r.Context(), middleware.AccountID(r))
	if err != nil {
		s.writeServiceError(w, r, "cancel", err)
		return
	}
	httputil.WriteSuccess(w, ent)
}

func (s *Server) planHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", audit.DefaultLimit)
	if err != nil || limit <= 0 {
		httputil.WriteBadRequest(w, "limit must be a positive integer")
		return
	}

	events, err := s.services.History.History(r.Context(), middleware.AccountID(r), limit)
	if err != nil {
		s.writeServiceError(w, r, "history", err)
		return
	}
	httputil.WriteSuccess(w, events)
}

// handleWebhook acknowledges every parsed event with 200, whatever its outcome
// (applied, noop, ignored, unknown_ref). It deliberately answers non-200 when the
// processor should act: 400 for an unparseable body or a signature that fails
// verification, 409 if storage reports a uniqueness conflict, and 500 when storage
// fails so the processor redelivers the event.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	processor, ok := httputil.ParsePathStringOrError(w, r, "processor")
	if !ok {
		return
	}

	payload, err := httputil.ReadBody(r, s.config.MaxBodyBytes)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		signature = r.Header.Get("X-Webhook-Signature")
	}

	outcome, err := s.services.Webhooks.HandleWebhook(r.Context(), processor, payload, signature)
	if err != nil {
		s.writeServiceError(w, r, "webhook", err)
		return
	}
	httputil.WriteSuccess(w, WebhookResponse{Received: true, Outcome: outcome})
}

// writeServiceError maps engine errors onto HTTP statuses
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	log := observability.WithTraceContext(r.Context(), observability.FromContext(r.Context())).
		WithError(err).
		WithField("operation", op)

	var le *plans.LimitExceededError
	switch {
	case errors.As(err, &le):
		_ = httputil.WriteJSON(w, http.StatusForbidden, middleware.LimitExceededResponse{
			Error:      "plan limit reached",
			Resource:   le.Resource,
			Current:    le.Current,
			Max:        le.Limit,
			PlanName:   le.PlanName,
			UpgradeURL: s.config.UpgradeURL,
		})
	case errors.Is(err, plans.ErrPlanInactive):
		httputil.WriteForbidden(w, "plan is not available")
	case errors.Is(err, plans.ErrPlanNotFound):
		httputil.WriteBadRequest(w, "unknown plan")
	case errors.Is(err, plans.ErrUnsupportedResource):
		httputil.WriteBadRequest(w, "unsupported resource")
	case errors.Is(err, billing.ErrValidation):
		httputil.WriteBadRequest(w, err.Error())
	case errors.Is(err, billing.ErrInvalidSignature):
		httputil.WriteBadRequest(w, "invalid signature")
	case errors.Is(err, billing.ErrMalformedEvent):
		httputil.WriteBadRequest(w, "malformed event")
	case errors.Is(err, plans.ErrAccountNotFound):
		httputil.WriteNotFound(w, "account not found")
	case errors.Is(err, billing.ErrConflict):
		httputil.WriteConflict(w, "conflicting subscription change, retry")
	default:
		log.WithField("outcome", "error").Error("request failed")
		httputil.WriteInternalError(w)
		return
	}
	log.WithField("outcome", "rejected").Info("request rejected")
}
