// Package storagetest provides an in-memory storage.Provider with failure
// injection for tests.
package storagetest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"mysql-porter/internal/storage"
)

// Object is one stored object.
type Object struct {
	Data       []byte
	Attributes storage.Attributes
}

type upload struct {
	key   string
	attrs storage.Attributes
	parts map[int][]byte
}

// MemoryStore is a thread-safe in-memory bucket.
type MemoryStore struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]Object
	uploads map[string]*upload
	nextID  int

	// MinPart is returned by MinPartSize.
	MinPart int
	// PutFailures makes the next N Put calls for a key fail.
	PutFailures map[string]int
	// ExistsErrors makes Exists fail for a key.
	ExistsErrors map[string]error
	// AttributesErrors makes Attributes fail for a key.
	AttributesErrors map[string]error
	// PartFailures makes UploadPart fail for a part number.
	PartFailures map[int]error
	// CompleteError makes CompleteUpload fail.
	CompleteError error
	// ListError makes List fail.
	ListError error
	// HealthError makes HealthCheck fail.
	HealthError error

	puts       map[string]int
	existCalls int
	aborted    []string
	completed  []string
}

// NewMemoryStore creates an empty store named bucket.
func NewMemoryStore(bucket string) *MemoryStore {
	return &MemoryStore{
		bucket:           bucket,
		objects:          make(map[string]Object),
		uploads:          make(map[string]*upload),
		PutFailures:      make(map[string]int),
		ExistsErrors:     make(map[string]error),
		AttributesErrors: make(map[string]error),
		PartFailures:     make(map[int]error),
		puts:             make(map[string]int),
	}
}

// Seed stores an object without counting it as a Put.
func (m *MemoryStore) Seed(key string, data []byte, attrs storage.Attributes) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = Object{Data: bytes.Clone(data), Attributes: withSize(attrs, len(data))}
}

// Object returns a stored object.
func (m *MemoryStore) Object(key string) (Object, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	return obj, ok
}

// Keys returns every stored key in sorted order.
func (m *MemoryStore) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sortedKeys()
}

// Puts returns how many times Put was called for key, failures included.
func (m *MemoryStore) Puts(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts[key]
}

// TotalPuts returns the number of Put calls across all keys.
func (m *MemoryStore) TotalPuts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.puts {
		total += n
	}
	return total
}

// ExistsCalls returns the number of Exists calls.
func (m *MemoryStore) ExistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existCalls
}

// Aborted lists the upload ids that were aborted.
func (m *MemoryStore) Aborted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.aborted...)
}

// Completed lists the keys of completed multipart uploads.
func (m *MemoryStore) Completed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.completed...)
}

// OpenUploads returns the number of uploads neither completed nor aborted.
func (m *MemoryStore) OpenUploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

func (m *MemoryStore) Bucket() string { return m.bucket }

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.sortedKeys(), nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existCalls++
	if err := m.ExistsErrors[key]; err != nil {
		return false, err
	}
	_, ok := m.objects[key]
	return ok, nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", m.bucket, key, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(obj.Data)), nil
}

func (m *MemoryStore) Attributes(ctx context.Context, key string) (storage.Attributes, error) {
	if err := ctx.Err(); err != nil {
		return storage.Attributes{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.AttributesErrors[key]; err != nil {
		return storage.Attributes{}, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return storage.Attributes{}, fmt.Errorf("%s/%s: %w", m.bucket, key, storage.ErrNotFound)
	}
	return obj.Attributes, nil
}

func (m *MemoryStore) Put(ctx context.Context, key string, body io.Reader, attrs storage.Attributes) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts[key]++
	if m.PutFailures[key] > 0 {
		m.PutFailures[key]--
		return fmt.Errorf("injected put failure for %s", key)
	}
	m.objects[key] = Object{Data: data, Attributes: withSize(attrs, len(data))}
	return nil
}

func (m *MemoryStore) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.HealthError
}

func (m *MemoryStore) CreateUpload(ctx context.Context, key string, attrs storage.Attributes) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("upload-%d", m.nextID)
	m.uploads[id] = &upload{key: key, attrs: attrs, parts: make(map[int][]byte)}
	return id, nil
}

func (m *MemoryStore) UploadPart(ctx context.Context, key, uploadID string, number int, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.PartFailures[number]; err != nil {
		return "", err
	}
	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return "", fmt.Errorf("unknown upload %s", uploadID)
	}
	if m.MinPart > 0 && len(data) == 0 {
		return "", errors.New("empty part")
	}
	u.parts[number] = bytes.Clone(data)
	return fmt.Sprintf("\"etag-%d\"", number), nil
}

func (m *MemoryStore) CompleteUpload(ctx context.Context, key, uploadID string, parts []storage.Part) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CompleteError != nil {
		return m.CompleteError
	}
	u, ok := m.uploads[uploadID]
	if !ok || u.key != key {
		return fmt.Errorf("unknown upload %s", uploadID)
	}

	var buf bytes.Buffer
	for i, p := range parts {
		data, ok := u.parts[p.Number]
		if !ok {
			return fmt.Errorf("part %d was never uploaded", p.Number)
		}
		if i < len(parts)-1 && len(data) < m.MinPart {
			return fmt.Errorf("part %d is %d bytes, below the %d byte minimum", p.Number, len(data), m.MinPart)
		}
		buf.Write(data)
	}
	delete(m.uploads, uploadID)
	m.objects[key] = Object{Data: buf.Bytes(), Attributes: withSize(u.attrs, buf.Len())}
	m.completed = append(m.completed, key)
	return nil
}

func (m *MemoryStore) AbortUpload(_ context.Context, _ string, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.uploads, uploadID)
	m.aborted = append(m.aborted, uploadID)
	return nil
}

func (m *MemoryStore) MinPartSize() int { return m.MinPart }

func (m *MemoryStore) PresignGet(_ context.Context, key string, expiration time.Duration) (string, error) {
	return fmt.Sprintf("memory://%s/%s?expires=%d", m.bucket, key, int64(expiration/time.Second)), nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return fmt.Sprintf("memory://%s/%s", m.bucket, strings.TrimLeft(key, "/"))
}

func (m *MemoryStore) sortedKeys() []string {
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func withSize(attrs storage.Attributes, n int) storage.Attributes {
	attrs.Size = int64(n)
	return attrs
}

var _ storage.Provider = (*MemoryStore)(nil)
