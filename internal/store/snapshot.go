package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/filelock"
)

// SnapshotStore mirrors one OrchestratorState JSON document per project to
// disk, giving the Orchestrator a single authoritative blob to rehydrate
// from on restart independent of the SQL tables' query-friendly shape.
type SnapshotStore struct {
	dir string
}

// NewSnapshotStore returns a SnapshotStore rooted at dir, creating it if
// necessary.
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("store: create snapshot dir %s: %w", dir, err)
	}
	return &SnapshotStore{dir: dir}, nil
}

func (s *SnapshotStore) path(projectID string) string {
	return filepath.Join(s.dir, projectID+".json")
}

// Save atomically persists state, replacing any prior snapshot for the same
// project. Every orchestrator state transition calls this before acting on
// the new state, so a crash mid-transition leaves the last fully-written
// state on disk rather than a half-applied one.
func (s *SnapshotStore) Save(state *domain.OrchestratorState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal state %s: %w", state.ProjectID, err)
	}
	path := s.path(state.ProjectID)
	if err := filelock.WithLock(path, func() error {
		return filelock.AtomicWrite(path, data)
	}); err != nil {
		return fmt.Errorf("store: save snapshot %s: %w", state.ProjectID, err)
	}
	return nil
}

// Load reads back the snapshot for projectID.
func (s *SnapshotStore) Load(projectID string) (*domain.OrchestratorState, error) {
	path := s.path(projectID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("store: %w", core.ErrProjectNotFound)
		}
		return nil, fmt.Errorf("store: read snapshot %s: %w", projectID, err)
	}
	var state domain.OrchestratorState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: unmarshal snapshot %s: %w", projectID, err)
	}
	return &state, nil
}

// ListProjectIDs returns every project with a persisted snapshot. On
// startup the Orchestrator walks this list and rehydrates the first
// non-terminal project it finds.
func (s *SnapshotStore) ListProjectIDs() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read snapshot dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		ids = append(ids, e.Name()[:len(e.Name())-len(".json")])
	}
	return ids, nil
}
