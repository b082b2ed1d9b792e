package plans

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coachplan/pkg/observability"
	"github.com/platinummonkey/coachplan/pkg/storage/storagetest"
)

type stubResolver struct {
	ent *Entitlement
	err error
}

func (s stubResolver) Resolve(ctx context.Context, accountID string) (*Entitlement, error) {
	return s.ent, s.err
}

func TestEnforcer_CeilingScenario(t *testing.T) {
	db := storagetest.NewDB(t)
	storagetest.SeedDefaultPlans(t, db)
	storagetest.CreateAccount(t, db, "coach", PlanBasic)
	storagetest.AddStudents(t, db, "coach", 4)

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	enforcer := NewEnforcer(NewResolver(db, NewCatalog(db, nil), nil, nil, nil), db, metrics)
	ctx := context.Background()

	result, err := enforcer.CheckLimit(ctx, "coach", ResourceStudents)
	require.NoError(t, err)
	assert.False(t, result.CanAdd)
	assert.Equal(t, int64(4), *result.Current)
	assert.Equal(t, int64(4), *result.Max)
	assert.Equal(t, "Basic", result.PlanName)

	_, err = db.Exec(`UPDATE accounts SET plan_id = 'premium' WHERE id = 'coach'`)
	require.NoError(t, err)

	result, err = enforcer.CheckLimit(ctx, "coach", ResourceStudents)
	require.NoError(t, err)
	assert.True(t, result.CanAdd)
	assert.Nil(t, result.Max)
	assert.Nil(t, result.Current)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LimitChecksTotal.WithLabelValues("students", "denied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.LimitChecksTotal.WithLabelValues("students", "unlimited")))
}

func TestEnforcer_AdmitsUpToCeiling(t *testing.T) {
	db := storagetest.NewDB(t)
	storagetest.SeedDefaultPlans(t, db)
	storagetest.CreateAccount(t, db, "coach", PlanBasic)

	enforcer := NewEnforcer(NewResolver(db, NewCatalog(db, nil), nil, nil, nil), db, nil)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, enforcer.Admit(ctx, "coach", ResourceStudents), "admission %d", i+1)
		storagetest.AddStudents(t, db, "coach", 1)
	}

	err := enforcer.Admit(ctx, "coach", ResourceStudents)
	require.Error(t, err)
	assert.True(t, IsLimitExceeded(err))

	var le *LimitExceededError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, int64(4), le.Current)
	assert.Equal(t, int64(4), le.Limit)
	assert.Equal(t, "Basic", le.PlanName)
	assert.Equal(t, "coach", le.AccountID)
}

func TestEnforcer_FreeFallbackCeiling(t *testing.T) {
	db := storagetest.NewDB(t)
	storagetest.SeedDefaultPlans(t, db)
	storagetest.CreateAccount(t, db, "coach", "")
	storagetest.AddStudents(t, db, "coach", 1)

	enforcer := NewEnforcer(NewResolver(db, NewCatalog(db, nil), nil, nil, nil), db, nil)

	result, err := enforcer.CheckLimit(context.Background(), "coach", ResourceStudents)
	require.NoError(t, err)
	assert.False(t, result.CanAdd)
	assert.Equal(t, "Free", result.PlanName)
}

func TestEnforcer_UnsupportedResource(t *testing.T) {
	enforcer := NewEnforcer(stubResolver{}, nil, nil)

	_, err := enforcer.CheckLimit(context.Background(), "coach", ResourceKind("workouts"))
	assert.ErrorIs(t, err, ErrUnsupportedResource)
	assert.False(t, enforcer.Supports("workouts"))
	assert.True(t, enforcer.Supports(ResourceStudents))
}

func TestEnforcer_Register(t *testing.T) {
	counted := false
	resolver := stubResolver{ent: &Entitlement{Plan: Plan{Name: "Basic", MaxStudents: Int64(4)}}}
	enforcer := NewEnforcer(resolver, nil, nil)
	enforcer.Register("programs", Capability{
		Count: func(ctx context.Context, accountID string) (int64, error) {
			counted = true
			return 2, nil
		},
		Ceiling: func(p *Plan) *int64 { return Int64(2) },
	})

	result, err := enforcer.CheckLimit(context.Background(), "coach", "programs")
	require.NoError(t, err)
	assert.True(t, counted)
	assert.False(t, result.CanAdd)
	assert.Equal(t, ResourceKind("programs"), result.Resource)
}

func TestEnforcer_UnlimitedSkipsCounting(t *testing.T) {
	resolver := stubResolver{ent: &Entitlement{Plan: Plan{Name: "Premium"}}}
	enforcer := NewEnforcer(resolver, nil, nil)
	enforcer.Register(ResourceStudents, Capability{
		Count: func(ctx context.Context, accountID string) (int64, error) {
			t.Fatal("counter must not run for unlimited plans")
			return 0, nil
		},
		Ceiling: func(p *Plan) *int64 { return p.MaxStudents },
	})

	require.NoError(t, enforcer.Admit(context.Background(), "coach", ResourceStudents))
}

func TestEnforcer_ErrorsPropagate(t *testing.T) {
	t.Run("resolver", func(t *testing.T) {
		enforcer := NewEnforcer(stubResolver{err: errors.New("db down")}, nil, nil)
		_, err := enforcer.CheckLimit(context.Background(), "coach", ResourceStudents)
		assert.Error(t, err)
	})

	t.Run("counter", func(t *testing.T) {
		resolver := stubResolver{ent: &Entitlement{Plan: Plan{MaxStudents: Int64(1)}}}
		enforcer := NewEnforcer(resolver, nil, nil)
		enforcer.Register(ResourceStudents, Capability{
			Count:   func(ctx context.Context, accountID string) (int64, error) { return 0, errors.New("timeout") },
			Ceiling: func(p *Plan) *int64 { return p.MaxStudents },
		})
		err := enforcer.Admit(context.Background(), "coach", ResourceStudents)
		assert.Error(t, err)
		assert.False(t, IsLimitExceeded(err))
	})
}
