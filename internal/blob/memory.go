package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process archive used in tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

type memoryBlob struct {
	data     []byte
	modified time.Time
}

// NewMemory returns an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(ctx context.Context, key string, r io.Reader) (Info, error) {
	if _, err := sanitizeKey(key); err != nil {
		return Info{}, err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	b := memoryBlob{data: data, modified: time.Now().UTC()}
	m.blobs[key] = b
	return Info{Key: key, Size: int64(len(data)), LastModified: b.modified}, nil
}

func (m *Memory) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return Info{}, nil, fmt.Errorf("blob %s not found", key)
	}
	info := Info{Key: key, Size: int64(len(b.data)), LastModified: b.modified}
	return info, io.NopCloser(bytes.NewReader(b.data)), nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[key]; !ok {
		return false, nil
	}
	delete(m.blobs, key)
	return true, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var infos []Info
	for key, b := range m.blobs {
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, Info{Key: key, Size: int64(len(b.data)), LastModified: b.modified})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}
