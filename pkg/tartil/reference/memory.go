package reference

import (
	"context"
	"sort"
	"sync"

	"github.com/himanishpuri/Tartil/pkg/models"
)

// MemoryStore keeps references in a map. It is used by tests and by the CLI
// when evaluating against a single reference file.
type MemoryStore struct {
	mu   sync.RWMutex
	refs map[string]entry
}

type entry struct {
	key  models.ReferenceKey
	spec *models.Spectrogram
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{refs: make(map[string]entry)}
}

func (m *MemoryStore) Get(_ context.Context, key models.ReferenceKey) (*models.Spectrogram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.refs[key.Path()]
	if !ok {
		return nil, models.NotFound("no reference for %s", key)
	}
	return e.spec, nil
}

func (m *MemoryStore) Put(_ context.Context, key models.ReferenceKey, spec *models.Spectrogram) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[key.Path()] = entry{key: key, spec: spec}
	return nil
}

func (m *MemoryStore) List(_ context.Context, level models.Level) ([]models.ReferenceKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	paths := make([]string, 0, len(m.refs))
	for p, e := range m.refs {
		if level == "" || e.key.Level() == level {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	keys := make([]models.ReferenceKey, len(paths))
	for i, p := range paths {
		keys[i] = m.refs[p].key
	}
	return keys, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
