package persistence

import "sync"

// InMemoryStore is a goroutine-safe SnapshotStore backed by a map. It is
// the default store for embedded engines that do not need durability.
type InMemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunSnapshot
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{runs: make(map[string]RunSnapshot)}
}

// Ensure InMemoryStore implements the interface.
var _ SnapshotStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveRun(snap *RunSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[snap.RunID] = *snap
	return nil
}

func (s *InMemoryStore) GetRun(runID string) (*RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}

	copied := snap
	return &copied, nil
}

func (s *InMemoryStore) ListRuns(filter RunFilter) ([]*RunSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var snaps []*RunSnapshot
	for _, snap := range s.runs {
		if filter.Workflow != "" && snap.Workflow != filter.Workflow {
			continue
		}
		if filter.Status != "" && snap.Status != filter.Status {
			continue
		}
		copied := snap
		snaps = append(snaps, &copied)
	}
	return snaps, nil
}
