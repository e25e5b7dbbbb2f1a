package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

// Memory keeps uploads in process. References point at BaseURL so they pass
// the same absolute-URL checks as real uploads.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string][]byte
	failErr error
}

func NewMemory(baseURL string) *Memory {
	if baseURL == "" {
		baseURL = "https://objects.local"
	}
	return &Memory{baseURL: strings.TrimRight(baseURL, "/"), objects: make(map[string][]byte)}
}

// FailWith makes every later Put fail with err wrapped in ErrStorage.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

func (m *Memory) Put(_ context.Context, obj Object) (Reference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrStorage, m.failErr)
	}

	data, err := io.ReadAll(obj.Body)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: read body: %v", ErrStorage, err)
	}
	key := path.Join(obj.Folder, uuid.NewString()+strings.ToLower(filepath.Ext(obj.Name)))
	m.objects[key] = data
	return Reference{URL: m.baseURL + "/" + key, Key: key}, nil
}

// Get returns the stored bytes for key.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false
	}
	return bytes.Clone(data), true
}

// Len reports how many objects are stored.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

// ServeHTTP serves a stored object by key, the request path relative to the
// mount point.
func (m *Memory) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, ok := m.Get(strings.TrimPrefix(r.URL.Path, "/"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", mimetype.Detect(data).String())
	w.Header().Set("Cache-Control", "private, max-age=300")
	_, _ = w.Write(data)
}
