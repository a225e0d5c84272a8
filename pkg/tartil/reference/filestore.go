package reference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/himanishpuri/Tartil/pkg/models"
)

// FileExt is the extension of serialized references.
const FileExt = ".msgpack"

// maxPayload bounds a single reference object. A two hour 40-band surah is
// about 50 MB.
const maxPayload = 512 << 20

// FileStore reads msgpack-encoded spectrograms laid out as
// <level>/<surah>/<ayah>/<word>.msgpack over an Objects backend.
type FileStore struct {
	objects Objects
}

// NewFileStore returns a store over objects.
func NewFileStore(objects Objects) *FileStore {
	return &FileStore{objects: objects}
}

func (f *FileStore) Get(ctx context.Context, key models.ReferenceKey) (*models.Spectrogram, error) {
	rc, err := f.objects.Read(ctx, key.Path()+FileExt)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, models.NotFound("no reference for %s", key)
		}
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxPayload+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key.Path(), err)
	}
	if len(data) > maxPayload {
		return nil, fmt.Errorf("reference %s exceeds %d bytes", key.Path(), maxPayload)
	}
	return Decode(data)
}

func (f *FileStore) Put(ctx context.Context, key models.ReferenceKey, spec *models.Spectrogram) error {
	if err := key.Validate(); err != nil {
		return err
	}
	data, err := Encode(spec)
	if err != nil {
		return err
	}
	return f.objects.Write(ctx, key.Path()+FileExt, data)
}

// List returns the keys stored for level, or for every level when level is
// empty. Objects that do not parse as keys are skipped.
func (f *FileStore) List(ctx context.Context, level models.Level) ([]models.ReferenceKey, error) {
	paths, err := f.objects.List(ctx, string(level))
	if err != nil {
		return nil, err
	}
	keys := make([]models.ReferenceKey, 0, len(paths))
	for _, p := range paths {
		if !strings.HasSuffix(p, FileExt) {
			continue
		}
		key, err := models.ParseKeyPath(strings.TrimSuffix(p, FileExt))
		if err != nil {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (f *FileStore) Ping(ctx context.Context) error {
	return f.objects.Ping(ctx)
}

func (f *FileStore) Close() error { return nil }
