package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/apperr"
	"github.com/therealutkarshpriyadarshi/stickerforge/pkg/models"
)

type MockPlanStore struct {
	mock.Mock
}

func (m *MockPlanStore) ActivePlan(ctx context.Context, userID string) (models.Plan, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(models.Plan), args.Error(1)
}

// memoryUsage records generation timestamps per user
type memoryUsage struct {
	records map[string][]time.Time
}

func (m *memoryUsage) CountGenerationsSince(ctx context.Context, userID string, since time.Time) (int, error) {
	n := 0
	for _, at := range m.records[userID] {
		if at.After(since) {
			n++
		}
	}
	return n, nil
}

func TestAnonymousNeverLimited(t *testing.T) {
	plans := new(MockPlanStore)
	gate := NewGate(plans, &memoryUsage{}, 0)

	assert.NoError(t, gate.AssertWithinFreeQuota(context.Background(), ""))

	plan, err := gate.Plan(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, plan)

	plans.AssertNotCalled(t, "ActivePlan", mock.Anything, mock.Anything)
}

func TestFreeUserHitsQuota(t *testing.T) {
	now := time.Now()
	plans := new(MockPlanStore)
	plans.On("ActivePlan", mock.Anything, "u1").Return(models.PlanFree, nil)

	usage := &memoryUsage{records: map[string][]time.Time{}}
	gate := NewGate(plans, usage, 3)
	gate.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, gate.AssertWithinFreeQuota(ctx, "u1"))
		usage.records["u1"] = append(usage.records["u1"], now.Add(-time.Minute))
	}

	err := gate.AssertWithinFreeQuota(ctx, "u1")
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.CodeQuotaExceeded, appErr.Code)
	assert.Equal(t, 3, appErr.Details["limit"])
	assert.GreaterOrEqual(t, appErr.Details["used"].(int), appErr.Details["limit"].(int))
	assert.Equal(t, 24, appErr.Details["windowHours"])
}

func TestWindowIsTrailing(t *testing.T) {
	now := time.Date(2024, 3, 10, 1, 0, 0, 0, time.UTC)
	plans := new(MockPlanStore)
	plans.On("ActivePlan", mock.Anything, "u1").Return(models.PlanFree, nil)

	usage := &memoryUsage{records: map[string][]time.Time{
		// Same calendar day boundary crossed, still inside 24h
		"u1": {now.Add(-23 * time.Hour), now.Add(-25 * time.Hour)},
	}}
	gate := NewGate(plans, usage, 1)
	gate.now = func() time.Time { return now }

	assert.Error(t, gate.AssertWithinFreeQuota(context.Background(), "u1"))

	gate.now = func() time.Time { return now.Add(2 * time.Hour) }
	assert.NoError(t, gate.AssertWithinFreeQuota(context.Background(), "u1"))
}

func TestProUserExempt(t *testing.T) {
	now := time.Now()
	plans := new(MockPlanStore)
	plans.On("ActivePlan", mock.Anything, "pro").Return(models.PlanPro, nil)

	usage := &memoryUsage{records: map[string][]time.Time{}}
	gate := NewGate(plans, usage, 3)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, gate.AssertWithinFreeQuota(ctx, "pro"))
		usage.records["pro"] = append(usage.records["pro"], now)
	}
}

func TestUsage(t *testing.T) {
	plans := new(MockPlanStore)
	plans.On("ActivePlan", mock.Anything, "u1").Return(models.PlanFree, nil)

	usage := &memoryUsage{records: map[string][]time.Time{"u1": {time.Now()}}}
	gate := NewGate(plans, usage, 3)

	u, err := gate.Usage(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, &Usage{Plan: models.PlanFree, Used: 1, Limit: 3, WindowHours: 24}, u)

	anon, err := gate.Usage(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 0, anon.Used)
}
