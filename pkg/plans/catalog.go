package plans

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	activeListKey = "active"

	defaultCatalogCacheSize = 64
	defaultCatalogCacheTTL  = 5 * time.Minute
)

// CatalogConfig configures the in-process plan cache
type CatalogConfig struct {
	CacheSize int
	CacheTTL  time.Duration
}

// Catalog is the read-only registry of plan tiers
type Catalog struct {
	db    *sql.DB
	plans *lru.LRU[string, Plan]
	lists *lru.LRU[string, []Plan]
}

// NewCatalog creates a catalog reading from db
func NewCatalog(db *sql.DB, config *CatalogConfig) *Catalog {
	size, ttl := defaultCatalogCacheSize, defaultCatalogCacheTTL
	if config != nil {
		if config.CacheSize > 0 {
			size = config.CacheSize
		}
		if config.CacheTTL > 0 {
			ttl = config.CacheTTL
		}
	}

	return &Catalog{
		db:    db,
		plans: lru.NewLRU[string, Plan](size, nil, ttl),
		lists: lru.NewLRU[string, []Plan](1, nil, ttl),
	}
}

const planColumns = `id, name, price, max_students, features, active`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*Plan, error) {
	var (
		p           Plan
		maxStudents sql.NullInt64
		features    sql.NullString
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Price, &maxStudents, &features, &p.Active); err != nil {
		return nil, err
	}
	if maxStudents.Valid {
		p.MaxStudents = Int64(maxStudents.Int64)
	}
	p.Features = []string{}
	if features.Valid && features.String != "" {
		if err := json.Unmarshal([]byte(features.String), &p.Features); err != nil {
			return nil, fmt.Errorf("failed to decode features for plan %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

// ListActive returns all active plans ordered by ascending price
func (c *Catalog) ListActive(ctx context.Context) ([]Plan, error) {
	if cached, ok := c.lists.Get(activeListKey); ok {
		return cached, nil
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE active = TRUE
		ORDER BY price ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	result := []Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		result = append(result, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}

	c.lists.Add(activeListKey, result)
	return result, nil
}

// Get returns a plan regardless of its active flag, or ErrPlanNotFound
func (c *Catalog) Get(ctx context.Context, id string) (*Plan, error) {
	if cached, ok := c.plans.Get(id); ok {
		return &cached, nil
	}

	p, err := scanPlan(c.db.QueryRowContext(ctx, `
		SELECT `+planColumns+`
		FROM plans
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get plan %s: %w", id, err)
	}

	c.plans.Add(id, *p)
	return p, nil
}

// Active returns a plan only when it is offered. An inactive plan yields an
// error matching both ErrPlanNotFound and ErrPlanInactive.
func (c *Catalog) Active(ctx context.Context, id string) (*Plan, error) {
	p, err := c.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, fmt.Errorf("%w: %w: %s", ErrPlanNotFound, ErrPlanInactive, id)
	}
	return p, nil
}

// Free returns the catalog's free tier row, or ErrPlanNotFound before seeding
func (c *Catalog) Free(ctx context.Context) (*Plan, error) {
	return c.Get(ctx, PlanFree)
}

// Seed upserts plans in one transaction and drops cached entries
func (c *Catalog) Seed(ctx context.Context, plans []Plan) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range plans {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("plan id and name are required")
		}
		features := p.Features
		if features == nil {
			features = []string{}
		}
		encoded, err := json.Marshal(features)
		if err != nil {
			return fmt.Errorf("failed to encode features for plan %s: %w", p.ID, err)
		}

		var maxStudents sql.NullInt64
		if p.MaxStudents != nil {
			maxStudents = sql.NullInt64{Int64: *p.MaxStudents, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO plans (id, name, price, max_students, features, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = excluded.name,
				price = excluded.price,
				max_students = excluded.max_students,
				features = excluded.features,
				active = excluded.active
		`, p.ID, p.Name, p.Price, maxStudents, string(encoded), p.Active)
		if err != nil {
			return fmt.Errorf("failed to upsert plan %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	c.Purge()
	return nil
}

// Purge drops every cached plan
func (c *Catalog) Purge() {
	c.plans.Purge()
	c.lists.Purge()
}
