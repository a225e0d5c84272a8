package reference

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/himanishpuri/Tartil/pkg/models"
	"github.com/himanishpuri/Tartil/pkg/tartil/features"
)

func testSpec(t *testing.T, bands, frames int) *models.Spectrogram {
	t.Helper()
	s := models.NewSpectrogram(bands, frames)
	for tt := 0; tt < frames; tt++ {
		for b := 0; b < bands; b++ {
			s.Set(b, tt, float64(b+tt)/8)
		}
	}
	return s
}

// mustKey returns a function that unwraps a key constructor's result, so
// calls read mustKey(t)(models.WordKey(1, 2, 3)).
func mustKey(t *testing.T) func(models.ReferenceKey, error) models.ReferenceKey {
	return func(k models.ReferenceKey, err error) models.ReferenceKey {
		t.Helper()
		if err != nil {
			t.Fatalf("building key: %v", err)
		}
		return k
	}
}

func equalSpec(t *testing.T, want, got *models.Spectrogram) {
	t.Helper()
	if got.Bands() != want.Bands() || got.Frames() != want.Frames() {
		t.Fatalf("Shape mismatch: want %d×%d, got %d×%d", want.Bands(), want.Frames(), got.Bands(), got.Frames())
	}
	for tt := 0; tt < want.Frames(); tt++ {
		for b := 0; b < want.Bands(); b++ {
			if float32(want.At(b, tt)) != float32(got.At(b, tt)) {
				t.Fatalf("Value mismatch at band %d frame %d: %v vs %v", b, tt, want.At(b, tt), got.At(b, tt))
			}
		}
	}
}

func TestResolverInvalidKeys(t *testing.T) {
	r := NewResolver("memory", NewMemoryStore())
	one := 1

	tests := []struct {
		name string
		key  func() (models.ReferenceKey, error)
	}{
		{"word missing ayah", func() (models.ReferenceKey, error) { return models.KeyFor(models.LevelWord, 1, nil, &one) }},
		{"word missing word", func() (models.ReferenceKey, error) { return models.KeyFor(models.LevelWord, 1, &one, nil) }},
		{"surah zero", func() (models.ReferenceKey, error) { return models.SurahKey(0) }},
		{"surah 115", func() (models.ReferenceKey, error) { return models.AyahKey(115, 1) }},
		{"ayah zero", func() (models.ReferenceKey, error) { return models.AyahKey(1, 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := tt.key()
			if err == nil {
				_, err = r.Resolve(context.Background(), key)
			}
			if !errors.Is(err, models.ErrInvalidKey) {
				t.Errorf("Expected ErrInvalidKey, got %v", err)
			}
		})
	}

	// The zero key never reaches the store.
	if _, err := r.Resolve(context.Background(), models.ReferenceKey{}); !errors.Is(err, models.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey for zero key, got %v", err)
	}
}

func TestResolverNotFound(t *testing.T) {
	r := NewResolver("memory", NewMemoryStore())
	key := mustKey(t)(models.AyahKey(2, 255))

	_, err := r.Resolve(context.Background(), key)
	if !errors.Is(err, models.ErrReferenceNotFound) {
		t.Errorf("Expected ErrReferenceNotFound, got %v", err)
	}
}

type failingStore struct {
	MemoryStore
	err  error
	spec *models.Spectrogram
}

func (f *failingStore) Get(context.Context, models.ReferenceKey) (*models.Spectrogram, error) {
	return f.spec, f.err
}

func TestResolverStoreFailureIsInternal(t *testing.T) {
	key := mustKey(t)(models.SurahKey(1))

	r := NewResolver("broken", &failingStore{err: errors.New("disk on fire")})
	_, err := r.Resolve(context.Background(), key)
	if !errors.Is(err, models.ErrInternal) {
		t.Errorf("Expected ErrInternal, got %v", err)
	}
	if models.CategoryOf(err) != models.CategoryServer {
		t.Errorf("Expected server category, got %s", models.CategoryOf(err))
	}

	corrupt := models.NewSpectrogram(2, 2)
	corrupt.Set(0, 0, -1)
	r = NewResolver("corrupt", &failingStore{spec: corrupt})
	if _, err := r.Resolve(context.Background(), key); !errors.Is(err, models.ErrInternal) {
		t.Errorf("Expected ErrInternal for corrupt reference, got %v", err)
	}

	wide := models.NewSpectrogram(features.MaxBands+1, 1)
	r = NewResolver("wide", &failingStore{spec: wide})
	_, err = r.Resolve(context.Background(), key)
	if !errors.Is(err, models.ErrInternal) || errors.Is(err, models.ErrShapeMismatch) {
		t.Errorf("Expected ErrInternal for %d-band reference, got %v", features.MaxBands+1, err)
	}
}

func TestResolverSwap(t *testing.T) {
	key := mustKey(t)(models.WordKey(1, 1, 1))
	first := NewMemoryStore()
	if err := first.Put(context.Background(), key, testSpec(t, 4, 4)); err != nil {
		t.Fatal(err)
	}
	r := NewResolver("first", first)

	if _, err := r.Resolve(context.Background(), key); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	old := r.Swap("second", NewMemoryStore())
	if old != first {
		t.Error("Swap should return the previous store")
	}
	if r.Name() != "second" {
		t.Errorf("Expected name second, got %s", r.Name())
	}
	if _, err := r.Resolve(context.Background(), key); !errors.Is(err, models.ErrReferenceNotFound) {
		t.Errorf("Expected not found after swap, got %v", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	keys := []models.ReferenceKey{
		mustKey(t)(models.WordKey(1, 1, 2)),
		mustKey(t)(models.WordKey(1, 1, 1)),
		mustKey(t)(models.AyahKey(1, 1)),
	}
	for _, k := range keys {
		if err := m.Put(ctx, k, testSpec(t, 2, 2)); err != nil {
			t.Fatal(err)
		}
	}

	words, _ := m.List(ctx, models.LevelWord)
	if len(words) != 2 || words[0].String() != "word 1:1:1" {
		t.Errorf("Unexpected word listing: %v", words)
	}
	all, _ := m.List(ctx, "")
	if len(all) != 3 {
		t.Errorf("Expected 3 keys, got %d", len(all))
	}
}

func TestCodecRoundTrip(t *testing.T) {
	want := testSpec(t, 40, 17)
	data, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	equalSpec(t, want, got)

	if _, err := Decode([]byte("not msgpack")); err == nil {
		t.Error("Expected error decoding garbage")
	}
}

func TestFileStoreLocal(t *testing.T) {
	ctx := context.Background()
	objects, err := NewLocalObjects(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fs := NewFileStore(objects)

	if err := fs.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	key := mustKey(t)(models.WordKey(1, 2, 3))
	want := testSpec(t, 8, 12)
	if err := fs.Put(ctx, key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := fs.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	equalSpec(t, want, got)

	if _, err := os.Stat(filepath.Join(objects.Root(), "word", "001", "002", "003.msgpack")); err != nil {
		t.Errorf("Unexpected object layout: %v", err)
	}

	missing := mustKey(t)(models.WordKey(1, 2, 4))
	if _, err := fs.Get(ctx, missing); !errors.Is(err, models.ErrReferenceNotFound) {
		t.Errorf("Expected ErrReferenceNotFound, got %v", err)
	}

	keys, err := fs.List(ctx, models.LevelWord)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Unexpected listing: %v", keys)
	}
	if keys, _ := fs.List(ctx, models.LevelSurah); len(keys) != 0 {
		t.Errorf("Expected no surah keys, got %v", keys)
	}
}

func TestLocalObjectsPingMissingRoot(t *testing.T) {
	objects, err := NewLocalObjects(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatal(err)
	}
	if err := objects.Ping(context.Background()); err == nil {
		t.Error("Expected Ping to fail for missing root")
	}
}

// apiError implements smithy.APIError for test assertions.
type apiError struct {
	code string
}

func (e *apiError) Error() string                 { return e.code }
func (e *apiError) ErrorCode() string             { return e.code }
func (e *apiError) ErrorMessage() string          { return e.code }
func (e *apiError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

// mockS3 is a thread-safe in-memory S3 backend.
type mockS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	headErr error
}

func newMockS3() *mockS3 {
	return &mockS3{objects: make(map[string][]byte)}
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*in.Key]
	if !ok {
		return nil, &apiError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *mockS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if m.headErr != nil {
		return nil, m.headErr
	}
	return &s3.HeadBucketOutput{}, nil
}

func (m *mockS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{}
	for _, k := range keys {
		out.Contents = append(out.Contents, s3types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func TestFileStoreS3(t *testing.T) {
	ctx := context.Background()
	mock := newMockS3()
	fs := NewFileStore(NewS3Objects(mock, "corpus", "refs/"))

	key := mustKey(t)(models.AyahKey(112, 4))
	want := testSpec(t, 40, 9)
	if err := fs.Put(ctx, key, want); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := mock.objects["refs/ayah/112/004.msgpack"]; !ok {
		t.Fatalf("Object not stored under prefix: %v", mock.objects)
	}

	got, err := fs.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	equalSpec(t, want, got)

	missing := mustKey(t)(models.AyahKey(112, 5))
	if _, err := fs.Get(ctx, missing); !errors.Is(err, models.ErrReferenceNotFound) {
		t.Errorf("Expected ErrReferenceNotFound, got %v", err)
	}

	keys, err := fs.List(ctx, models.LevelAyah)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != key {
		t.Errorf("Unexpected listing: %v", keys)
	}

	if err := fs.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	mock.headErr = &apiError{code: "AccessDenied"}
	if err := fs.Ping(ctx); err == nil {
		t.Error("Expected Ping to surface HeadBucket failure")
	}
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	db, err := NewSQLiteStore(filepath.Join(t.TempDir(), "refs.sqlite3"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	word := mustKey(t)(models.WordKey(1, 1, 1))
	ayah := mustKey(t)(models.AyahKey(1, 1))
	surah := mustKey(t)(models.SurahKey(1))
	for i, k := range []models.ReferenceKey{word, ayah, surah} {
		if err := db.Put(ctx, k, testSpec(t, 40, 10*(i+1))); err != nil {
			t.Fatalf("Put %s failed: %v", k, err)
		}
	}

	got, err := db.Get(ctx, ayah)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	equalSpec(t, testSpec(t, 40, 20), got)

	// Replacing keeps one row per key.
	if err := db.Put(ctx, ayah, testSpec(t, 40, 5)); err != nil {
		t.Fatalf("Replace failed: %v", err)
	}
	got, err = db.Get(ctx, ayah)
	if err != nil {
		t.Fatal(err)
	}
	if got.Frames() != 5 {
		t.Errorf("Expected replaced reference with 5 frames, got %d", got.Frames())
	}

	counts, err := db.Count(ctx)
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	for _, lvl := range models.Levels {
		if counts[lvl] != 1 {
			t.Errorf("Expected 1 %s reference, got %d", lvl, counts[lvl])
		}
	}

	keys, err := db.List(ctx, models.LevelWord)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 1 || keys[0] != word {
		t.Errorf("Unexpected listing: %v", keys)
	}

	if _, err := db.Get(ctx, mustKey(t)(models.AyahKey(1, 2))); !errors.Is(err, models.ErrReferenceNotFound) {
		t.Errorf("Expected ErrReferenceNotFound, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		opts OpenOptions
		want string
	}{
		{OpenOptions{Kind: KindDir, DataRoot: "/data"}, "dir:/data"},
		{OpenOptions{Kind: KindS3, Bucket: "b", Prefix: "p"}, "s3://b/p"},
		{OpenOptions{}, "sqlite:" + DefaultDBFile},
	}
	for _, tt := range tests {
		if got := Describe(tt.opts); got != tt.want {
			t.Errorf("Describe(%+v) = %s, want %s", tt.opts, got, tt.want)
		}
	}
	if _, err := Open(context.Background(), OpenOptions{Kind: "tape"}); err == nil {
		t.Error("Expected error for unknown store kind")
	}
}
