package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

func TestSnapshotSaveLoadRoundTrip(t *testing.T) {
	snap, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	state := &domain.OrchestratorState{
		ProjectID:   "p1",
		Status:      domain.StatusGenerating,
		CurrentWave: 2,
		CostTracker: domain.CostTracker{TotalTokens: 1000, EstimatedCostUSD: 0.05},
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, snap.Save(state))

	loaded, err := snap.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusGenerating, loaded.Status)
	assert.Equal(t, 2, loaded.CurrentWave)
	assert.Equal(t, int64(1000), loaded.CostTracker.TotalTokens)
}

func TestSnapshotLoadMissingReturnsNotFound(t *testing.T) {
	snap, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	_, err = snap.Load("does-not-exist")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

func TestSnapshotOverwriteIsAtomic(t *testing.T) {
	snap, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	state := &domain.OrchestratorState{ProjectID: "p1", Status: domain.StatusGenerating, CurrentWave: 1}
	require.NoError(t, snap.Save(state))

	state.Status = domain.StatusAnalyzing
	state.CurrentWave = 2
	require.NoError(t, snap.Save(state))

	loaded, err := snap.Load("p1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusAnalyzing, loaded.Status)
	assert.Equal(t, 2, loaded.CurrentWave)
}

func TestSnapshotListProjectIDs(t *testing.T) {
	snap, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, snap.Save(&domain.OrchestratorState{ProjectID: "p1", Status: domain.StatusGenerating}))
	require.NoError(t, snap.Save(&domain.OrchestratorState{ProjectID: "p2", Status: domain.StatusCompleted}))

	ids, err := snap.ListProjectIDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, ids)
}
