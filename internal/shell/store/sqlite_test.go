package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/octahe/internal/core/domain"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

var baseTime = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func testRun(id string, offset time.Duration) *domain.Run {
	return &domain.Run{
		ID:         id,
		Mode:       domain.ModeDeploy,
		Files:      []string{"Targetfile"},
		State:      domain.StateDegraded,
		Steps:      3,
		StartedAt:  baseTime.Add(offset),
		FinishedAt: baseTime.Add(offset + 2*time.Second),
		Targets: []domain.TargetOutcome{
			{Name: "web", State: domain.TargetAvailable, FailedStep: -1},
			{Name: "db", State: domain.TargetFailed, FailedStep: 1, FailedTask: "RUN false", Error: "exit status 1"},
		},
	}
}

// =============================================================================
// Run Tests
// =============================================================================

func TestSaveAndGetRun(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("run-1", 0)
	require.NoError(t, store.SaveRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)

	assert.Equal(t, run.Mode, got.Mode)
	assert.Equal(t, run.Files, got.Files)
	assert.Equal(t, run.State, got.State)
	assert.Equal(t, 3, got.Steps)
	assert.True(t, run.StartedAt.Equal(got.StartedAt))
	assert.Equal(t, 2*time.Second, got.Duration())
	require.Len(t, got.Targets, 2)
	assert.Equal(t, "web", got.Targets[0].Name)
	assert.Equal(t, -1, got.Targets[0].FailedStep)
	assert.Equal(t, "RUN false", got.Targets[1].FailedTask)
	assert.Equal(t, 1, got.FailedTargets())
}

func TestSaveRun_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRun(ctx, testRun("dup", 0)))
	assert.ErrorIs(t, store.SaveRun(ctx, testRun("dup", time.Minute)), ErrDuplicateID)

	invalid := testRun("", 0)
	assert.ErrorIs(t, store.SaveRun(ctx, invalid), ErrInvalidData)
}

func TestSaveRun_RollsBackOnTargetError(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := testRun("rollback", 0)
	run.Targets = append(run.Targets, domain.TargetOutcome{Name: "web", State: domain.TargetAvailable})

	assert.Error(t, store.SaveRun(ctx, run))

	_, err := store.GetRun(ctx, "rollback")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRun_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		run := testRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Minute)
		if i%2 == 1 {
			run.Mode = domain.ModeUndeploy
		}
		require.NoError(t, store.SaveRun(ctx, run))
	}

	t.Run("newest first", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, DefaultListOptions())
		require.NoError(t, err)
		require.Len(t, runs, 5)
		assert.Equal(t, "run-4", runs[0].ID)
		assert.Equal(t, "run-0", runs[4].ID)
		assert.Len(t, runs[0].Targets, 2)
	})

	t.Run("pagination", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "run-3", runs[0].ID)
	})

	t.Run("by mode", func(t *testing.T) {
		runs, err := store.ListRuns(ctx, ListOptions{Mode: domain.ModeUndeploy})
		require.NoError(t, err)
		require.Len(t, runs, 2)
		for _, r := range runs {
			assert.Equal(t, domain.ModeUndeploy, r.Mode)
		}
	})
}

func TestPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, store.SaveRun(ctx, testRun(fmt.Sprintf("run-%d", i), time.Duration(i)*time.Minute)))
	}

	removed, err := store.PruneRuns(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, removed)

	removed, err = store.PruneRuns(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	runs, err := store.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)

	var orphans int
	require.NoError(t, store.db.Get(&orphans, `SELECT COUNT(*) FROM run_targets WHERE run_id IN ('run-0', 'run-1')`))
	assert.Zero(t, orphans)
}

func TestListOptions_Normalize(t *testing.T) {
	opts := ListOptions{Limit: -1, Offset: -5}.Normalize()
	assert.Equal(t, 20, opts.Limit)
	assert.Equal(t, 0, opts.Offset)

	opts = ListOptions{Limit: 5000}.Normalize()
	assert.Equal(t, 1000, opts.Limit)
}
