package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sral/selfrefine/internal/domain"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		name    string
		dbPath  string
		wantErr bool
	}{
		{name: "creates database file", dbPath: filepath.Join(t.TempDir(), "test.db")},
		{name: "handles in-memory database", dbPath: ":memory:"},
		{name: "creates parent directories if needed", dbPath: filepath.Join(t.TempDir(), "nested", "dir", "test.db")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStore(tt.dbPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, s)
			defer s.Close()
		})
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestArtifactUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &domain.ArtifactRecord{
		ID:         "a1",
		ProjectID:  "p1",
		WaveNumber: 1,
		Status:     domain.ArtifactPending,
		CreatedAt:  now,
	}
	require.NoError(t, s.UpsertArtifact(ctx, a))

	got, err := s.GetArtifact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "p1", got.ProjectID)
	assert.Equal(t, domain.ArtifactPending, got.Status)
	assert.Nil(t, got.QualityScore)

	score := 87.5
	a.Status = domain.ArtifactSuccess
	a.QualityScore = &score
	a.BlobPath = "artifacts/wave-1/a1.html"
	require.NoError(t, s.UpsertArtifact(ctx, a))

	got, err = s.GetArtifact(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.ArtifactSuccess, got.Status)
	require.NotNil(t, got.QualityScore)
	assert.Equal(t, 87.5, *got.QualityScore)
	assert.Equal(t, "artifacts/wave-1/a1.html", got.BlobPath)
}

func TestListArtifactsByWaveOrdering(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a3", "a1", "a2"} {
		require.NoError(t, s.UpsertArtifact(ctx, &domain.ArtifactRecord{
			ID: id, ProjectID: "p1", WaveNumber: 2, Status: domain.ArtifactSuccess, CreatedAt: now,
		}))
	}
	require.NoError(t, s.UpsertArtifact(ctx, &domain.ArtifactRecord{
		ID: "other-wave", ProjectID: "p1", WaveNumber: 1, Status: domain.ArtifactSuccess, CreatedAt: now,
	}))

	list, err := s.ListArtifactsByWave(ctx, "p1", 2)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a1", "a2", "a3"}, []string{list[0].ID, list[1].ID, list[2].ID})
}

func TestDispatchedJobLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	j := &domain.DispatchedJob{
		JobID:      "j1",
		ProjectID:  "p1",
		ArtifactID: "a1",
		WaveNumber: 1,
		Kind:       domain.JobGeneration,
		Status:     domain.JobPending,
		CreatedAt:  now,
		DeadlineAt: now.Add(-time.Minute),
	}
	require.NoError(t, s.UpsertDispatchedJob(ctx, j))

	overdue, err := s.ListOverdueJobs(ctx, now)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "j1", overdue[0].JobID)

	j.Status = domain.JobComplete
	j.Retries = 1
	require.NoError(t, s.UpsertDispatchedJob(ctx, j))

	got, err := s.GetDispatchedJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobComplete, got.Status)
	assert.Equal(t, 1, got.Retries)

	overdue, err = s.ListOverdueJobs(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, overdue)
}

func TestListPendingJobsByProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.UpsertDispatchedJob(ctx, &domain.DispatchedJob{
		JobID: "j1", ProjectID: "p1", WaveNumber: 1, Kind: domain.JobGeneration,
		Status: domain.JobPending, CreatedAt: now, DeadlineAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.UpsertDispatchedJob(ctx, &domain.DispatchedJob{
		JobID: "j2", ProjectID: "p1", WaveNumber: 1, Kind: domain.JobGeneration,
		Status: domain.JobComplete, CreatedAt: now, DeadlineAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.UpsertDispatchedJob(ctx, &domain.DispatchedJob{
		JobID: "j3", ProjectID: "p2", WaveNumber: 1, Kind: domain.JobGeneration,
		Status: domain.JobPending, CreatedAt: now, DeadlineAt: now.Add(time.Hour),
	}))

	pending, err := s.ListPendingJobsByProject(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "j1", pending[0].JobID)
}
