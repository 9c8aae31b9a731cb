package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
)

// Memory is an in-process backend used for tests and local development.
// A single RWMutex makes PutBatch trivially atomic with respect to readers.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *Memory) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *Memory) ScanPrefix(_ context.Context, prefix string) ([]KV, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []KV
	for k, v := range m.data {
		if strings.HasPrefix(k, prefix) {
			cp := make([]byte, len(v))
			copy(cp, v)
			out = append(out, KV{Key: k, Value: cp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PutBatch(_ context.Context, puts []KV, deletes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range puts {
		cp := make([]byte, len(kv.Value))
		copy(cp, kv.Value)
		m.data[kv.Key] = cp
	}
	for _, k := range deletes {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Close() error { return nil }
