package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/coachplan/pkg/contextkeys"
)

const (
	// DefaultLimit bounds a search without an explicit limit
	DefaultLimit = 50
	// MaxLimit is the largest page a search returns
	MaxLimit = 500
)

// Queryer is satisfied by *sql.DB and *sql.Tx
type Queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store persists plan history in the plan_events table
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore creates a store reading from db
func NewStore(db *sql.DB) *Store {
	return &Store{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Record inserts event through q so it commits or rolls back with the
// caller's transaction. A nil q writes directly to the store's database.
// Timestamp and RequestID default to now and the request id in ctx.
func (s *Store) Record(ctx context.Context, q Queryer, event *Event) error {
	if event.AccountID == "" || event.EventType == "" || event.Actor == "" {
		return fmt.Errorf("audit event requires account id, type and actor")
	}
	if q == nil {
		q = s.db
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now()
	}
	if event.RequestID == "" {
		event.RequestID = contextkeys.GetRequestID(ctx)
	}

	var metadata sql.NullString
	if len(event.Metadata) > 0 {
		encoded, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadata = sql.NullString{String: string(encoded), Valid: true}
	}

	err := q.QueryRowContext(ctx, `
		INSERT INTO plan_events (
			account_id, event_type, actor, plan_id, subscription_ref,
			status, request_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`,
		event.AccountID, event.EventType, event.Actor, event.PlanID, event.SubscriptionRef,
		nullString(event.Status), nullString(event.RequestID), metadata, event.Timestamp.UTC(),
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert plan event: %w", err)
	}
	return nil
}

// History returns the most recent events for accountID, newest first
func (s *Store) History(ctx context.Context, accountID string, limit int) ([]Event, error) {
	return s.Search(ctx, SearchFilter{AccountID: accountID, Limit: limit})
}

// Search returns events matching filter, newest first
func (s *Store) Search(ctx context.Context, filter SearchFilter) ([]Event, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.AccountID != "" {
		where = append(where, "account_id = "+arg(filter.AccountID))
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, t := range filter.EventTypes {
			placeholders[i] = arg(string(t))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.StartTime != nil {
		where = append(where, "created_at >= "+arg(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		where = append(where, "created_at < "+arg(filter.EndTime.UTC()))
	}

	query := `
		SELECT id, account_id, event_type, actor, plan_id, subscription_ref,
			status, request_id, metadata, created_at
		FROM plan_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + arg(filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search plan events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var (
			e                        Event
			planID, ref              sql.NullString
			status, requestID, rawMD sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &e.EventType, &e.Actor, &planID, &ref,
			&status, &requestID, &rawMD, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan plan event: %w", err)
		}
		if planID.Valid {
			e.PlanID = &planID.String
		}
		if ref.Valid {
			e.SubscriptionRef = &ref.String
		}
		e.Status = status.String
		e.RequestID = requestID.String
		if rawMD.Valid && rawMD.String != "" {
			if err := json.Unmarshal([]byte(rawMD.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata of plan event %d: %w", e.ID, err)
			}
		}
		e.Timestamp = e.Timestamp.UTC()
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to search plan events: %w", err)
	}
	return events, nil
}

// Cleanup removes events recorded before cutoff and returns how many were removed
func (s *Store) Cleanup(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM plan_events WHERE created_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete plan events: %w", err)
	}
	return result.RowsAffected()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
