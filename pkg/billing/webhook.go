package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/coachplan/pkg/audit"
	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/plans"
)

// Reconciler applies asynchronous status notifications from billing processors
type Reconciler struct {
	manager *Manager
	secrets map[string]string
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewReconciler creates a reconciler. secrets maps processor name to its
// signing secret; processors without a secret are accepted unsigned.
// See verifySignature for the accepted schemes.
func NewReconciler(manager *Manager, secrets map[string]string) *Reconciler {
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &Reconciler{
		manager: manager,
		secrets: secrets,
		logger:  manager.logger,
		metrics: manager.metrics,
	}
}

type eventPayload struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data eventData `json:"data"`
}

type eventData struct {
	ID               string       `json:"id"`
	Status           string       `json:"status"`
	CurrentPeriodEnd int64        `json:"current_period_end"`
	Object           *eventObject `json:"object,omitempty"`
}

type eventObject struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
}

// ref and status prefer the Stripe object envelope when present
func (e eventPayload) ref() string {
	if e.Data.Object != nil && e.Data.Object.ID != "" {
		return e.Data.Object.ID
	}
	return e.Data.ID
}

func (e eventPayload) status() string {
	if e.Data.Object != nil && e.Data.Object.Status != "" {
		return e.Data.Object.Status
	}
	return e.Data.Status
}

// periodEnd is the end of the paid period in unix seconds, when the processor sends one
func (e eventPayload) periodEnd() *time.Time {
	end := e.Data.CurrentPeriodEnd
	if e.Data.Object != nil && e.Data.Object.CurrentPeriodEnd != 0 {
		end = e.Data.Object.CurrentPeriodEnd
	}
	if end <= 0 {
		return nil
	}
	t := time.Unix(end, 0).UTC()
	return &t
}

// StatusEvent is a processor notification reduced to what reconciliation needs
type StatusEvent struct {
	ExternalRef string
	Status      string
	// PeriodEnd moves a finite plan expiry forward when the subscription is active
	PeriodEnd *time.Time
}

// HandleWebhook verifies and parses a processor notification, then applies it
func (r *Reconciler) HandleWebhook(ctx context.Context, processor string, payload []byte, signatureHeader string) (outcome Outcome, err error) {
	defer func() {
		label := string(outcome)
		if err != nil {
			label = "error"
		}
		r.metrics.RecordWebhook(processor, label)
	}()

	if secret, ok := r.secrets[processor]; ok && secret != "" {
		if err := verifySignature(processor, payload, signatureHeader, secret); err != nil {
			r.logger.WithError(err).WithField("processor", processor).Warn("webhook signature rejected")
			return "", fmt.Errorf("%w: %w", ErrInvalidSignature, err)
		}
	}

	var event eventPayload
	if err := json.Unmarshal(payload, &event); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	ref, status := event.ref(), event.status()
	if ref == "" || status == "" {
		r.logger.WithFields(map[string]interface{}{
			"processor":  processor,
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Info("webhook event carries no subscription status, ignoring")
		return OutcomeIgnored, nil
	}

	return r.Apply(ctx, StatusEvent{ExternalRef: ref, Status: status, PeriodEnd: event.periodEnd()})
}

// ApplyStatusEvent applies a processor status for the subscription with
// externalRef. An unknown reference is acknowledged with OutcomeUnknownRef.
func (r *Reconciler) ApplyStatusEvent(ctx context.Context, externalRef, rawStatus string) (Outcome, error) {
	return r.Apply(ctx, StatusEvent{ExternalRef: externalRef, Status: rawStatus})
}

// Apply reconciles one processor event. An active event carrying PeriodEnd
// renews accounts whose plan has a finite expiry; open-ended plans stay open-ended.
func (r *Reconciler) Apply(ctx context.Context, event StatusEvent) (Outcome, error) {
	externalRef := event.ExternalRef
	log := r.logger.WithFields(map[string]interface{}{
		"operation":    "webhook",
		"external_ref": externalRef,
		"status":       event.Status,
	})

	target, ok := NormalizeStatus(event.Status)
	if !ok {
		log.WithField("outcome", OutcomeIgnored).Info("unrecognized processor status")
		return OutcomeIgnored, nil
	}

	m := r.manager
	now := m.now()
	var (
		outcome  Outcome
		affected []string
		sub      Subscription
	)

	err := m.withTx(ctx, "webhook", "", func(ctx context.Context, tx *sql.Tx) error {
		trace.SpanFromContext(ctx).SetAttributes(
			attribute.String("subscription.ref", externalRef),
			attribute.String("subscription.target_status", string(target.Status)),
		)

		var found bool
		var err error
		sub, found, err = lockSubscription(ctx, tx, externalRef, now)
		if err != nil {
			return err
		}
		if !found {
			outcome = OutcomeUnknownRef
			return nil
		}

		outcome, affected, err = applyTransition(ctx, tx, sub, target, event.PeriodEnd, now)
		if err != nil || outcome != OutcomeApplied {
			return err
		}
		return m.recordStatusChange(ctx, tx, sub, target, event.PeriodEnd, affected)
	})
	if err != nil {
		return "", err
	}

	m.invalidate(ctx, affected...)
	log.WithFields(map[string]interface{}{
		"account_id": sub.AccountID,
		"from":       sub.Status,
		"outcome":    outcome,
		"affected":   len(affected),
	}).Info("webhook status event processed")
	return outcome, nil
}

// applyTransition runs inside the caller's transaction with the subscription row locked
func applyTransition(ctx context.Context, tx *sql.Tx, sub Subscription, target ProcessorStatus, periodEnd *time.Time, now time.Time) (Outcome, []string, error) {
	ref := sub.ExternalRef

	if target.PastDue {
		if sub.Status != StatusActive {
			return OutcomeIgnored, nil, nil
		}
		ids, err := setAccountsPlanStatus(ctx, tx, ref, plans.AccountStatusActive, plans.AccountStatusPastDue, now)
		if err != nil {
			return "", nil, err
		}
		if len(ids) == 0 {
			return OutcomeNoop, nil, nil
		}
		return OutcomeApplied, ids, nil
	}

	switch {
	case sub.Status == target.Status && target.Status.Terminal():
		// A retried terminal event re-checks referencing accounts so the
		// second delivery converges on the same state as the first.
		ids, err := resetAccountsToFree(ctx, tx, now, bySubscriptionRef(ref))
		if err != nil {
			return "", nil, err
		}
		return OutcomeNoop, ids, nil

	case sub.Status == StatusActive && target.Status == StatusActive:
		ids, err := setAccountsPlanStatus(ctx, tx, ref, plans.AccountStatusPastDue, plans.AccountStatusActive, now)
		if err != nil {
			return "", nil, err
		}
		renewed, err := extendPlanExpiry(ctx, tx, ref, periodEnd, now)
		if err != nil {
			return "", nil, err
		}
		ids = mergeIDs(ids, renewed)
		if len(ids) == 0 {
			return OutcomeNoop, nil, nil
		}
		return OutcomeApplied, ids, nil

	case !CanTransition(sub.Status, target.Status):
		return OutcomeIgnored, nil, nil
	}

	if target.Status == StatusActive {
		// A late activation must not displace the subscription the account moved to.
		superseded, err := hasOtherActiveSubscription(ctx, tx, sub.AccountID, ref)
		if err != nil {
			return "", nil, err
		}
		if superseded {
			return OutcomeIgnored, nil, nil
		}
	}

	if err := setSubscriptionStatus(ctx, tx, ref, target.Status, now); err != nil {
		return "", nil, err
	}

	var ids []string
	var err error
	switch {
	case target.Status.Terminal():
		ids, err = resetAccountsToFree(ctx, tx, now, bySubscriptionRef(ref))
	case target.Status == StatusActive:
		ids, err = setAccountsPlanStatus(ctx, tx, ref, plans.AccountStatusPastDue, plans.AccountStatusActive, now)
		if err == nil {
			var renewed []string
			renewed, err = extendPlanExpiry(ctx, tx, ref, periodEnd, now)
			ids = mergeIDs(ids, renewed)
		}
	}
	if err != nil {
		return "", nil, err
	}
	return OutcomeApplied, ids, nil
}

func mergeIDs(a, b []string) []string {
	for _, id := range b {
		if !slices.Contains(a, id) {
			a = append(a, id)
		}
	}
	return a
}

func (m *Manager) recordStatusChange(ctx context.Context, tx *sql.Tx, sub Subscription, target ProcessorStatus, periodEnd *time.Time, affected []string) error {
	status := string(target.Status)
	if target.PastDue {
		status = string(plans.AccountStatusPastDue)
	}
	var planID *string
	if target.Status.Terminal() {
		planID = plans.String(plans.PlanFree)
	}

	metadata := map[string]interface{}{"from": string(sub.Status)}
	if periodEnd != nil && target.Status == StatusActive && !target.PastDue {
		metadata["periodEnd"] = periodEnd.Format(time.RFC3339)
	}

	accounts := affected
	if len(accounts) == 0 {
		accounts = []string{sub.AccountID}
	}
	for _, id := range accounts {
		err := m.record(ctx, tx, &audit.Event{
			EventType:       audit.EventTypeSubscriptionStatus,
			AccountID:       id,
			Actor:           audit.ActorProcessor,
			PlanID:          planID,
			SubscriptionRef: plans.String(sub.ExternalRef),
			Status:          status,
			Metadata:        metadata,
		})
		if err != nil {
			return err
		}
	}
	return nil
}
