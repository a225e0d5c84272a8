// Package reference resolves evaluation keys to precomputed reference
// spectrograms.
package reference

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
)

// Store is a read-only source of reference spectrograms. Get must return an
// error wrapping models.ErrReferenceNotFound when nothing is stored for key.
// Implementations must be safe for concurrent use.
type Store interface {
	Get(ctx context.Context, key models.ReferenceKey) (*models.Spectrogram, error)
	Ping(ctx context.Context) error
	Close() error
}

// Writer is implemented by stores that can be populated offline.
type Writer interface {
	Put(ctx context.Context, key models.ReferenceKey, spec *models.Spectrogram) error
}

// Lister is implemented by stores that can enumerate their keys.
type Lister interface {
	List(ctx context.Context, level models.Level) ([]models.ReferenceKey, error)
}

// storeBox lets an interface value live behind an atomic.Pointer.
type storeBox struct {
	name  string
	store Store
}

// Resolver validates keys and fetches references from the current store.
type Resolver struct {
	current atomic.Pointer[storeBox]
}

// NewResolver returns a resolver over store. name labels the store in health
// output.
func NewResolver(name string, store Store) *Resolver {
	r := &Resolver{}
	r.current.Store(&storeBox{name: name, store: store})
	return r
}

// Resolve returns the reference spectrogram for key.
func (r *Resolver) Resolve(ctx context.Context, key models.ReferenceKey) (*models.Spectrogram, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	box := r.current.Load()
	if box == nil || box.store == nil {
		return nil, models.Internal(errors.New("no reference store configured"))
	}

	spec, err := box.store.Get(ctx, key)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrReferenceNotFound):
		return nil, err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, err
	default:
		return nil, models.Internal(fmt.Errorf("reading reference %s: %w", key, err))
	}

	if err := spec.Validate(); err != nil {
		return nil, models.Internal(fmt.Errorf("reference %s is corrupt: %w", key, err))
	}
	if spec.Bands() > features.MaxBands {
		return nil, models.Internal(fmt.Errorf("reference %s has unsupported band count %d (maximum %d)", key, spec.Bands(), features.MaxBands))
	}
	return spec, nil
}

// Ping reports whether the current store is reachable.
func (r *Resolver) Ping(ctx context.Context) error {
	box := r.current.Load()
	if box == nil || box.store == nil {
		return errors.New("no reference store configured")
	}
	return box.store.Ping(ctx)
}

// Name returns the label of the current store.
func (r *Resolver) Name() string {
	if box := r.current.Load(); box != nil {
		return box.name
	}
	return ""
}

// Store returns the current store.
func (r *Resolver) Store() Store {
	if box := r.current.Load(); box != nil {
		return box.store
	}
	return nil
}

// Swap installs a new store and returns the previous one. The caller owns the
// returned store and closes it once in-flight requests have drained.
func (r *Resolver) Swap(name string, store Store) Store {
	old := r.current.Swap(&storeBox{name: name, store: store})
	if old == nil {
		return nil
	}
	return old.store
}

// Close closes the current store.
func (r *Resolver) Close() error {
	if s := r.Store(); s != nil {
		return s.Close()
	}
	return nil
}
