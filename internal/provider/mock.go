package provider

import (
	"context"
	"sort"
	"sync"

	"github.com/cloudflux/orchestrator/pkg/types"
)

// MockAdapter is an in-memory Adapter used by tests and by the Control
// API's demo mode. All methods take the same lock; it is not meant to
// simulate real provider latency, only the operation contract.
type MockAdapter struct {
	provider types.Provider
	tiers    TierClasses

	mu      sync.Mutex
	objects map[string]types.ObjectRef // "container/key" -> ref

	// FailStat, when set, is returned verbatim by Stat for the given key.
	FailStat map[string]error
}

// NewMockAdapter constructs an empty in-memory adapter for the given
// provider tag.
func NewMockAdapter(p types.Provider, tiers TierClasses) *MockAdapter {
	return &MockAdapter{
		provider: p,
		tiers:    tiers,
		objects:  make(map[string]types.ObjectRef),
		FailStat: make(map[string]error),
	}
}

func mockKey(container, key string) string { return container + "/" + key }

// Seed inserts an object directly, bypassing enumerate/copy semantics;
// used by tests to set up fixtures.
func (m *MockAdapter) Seed(ref types.ObjectRef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[mockKey(ref.Container, ref.Key)] = ref
}

func (m *MockAdapter) Provider() types.Provider { return m.provider }

type mockIterator struct {
	items []types.ObjectRef
	idx   int
}

func (it *mockIterator) Next(ctx context.Context) bool {
	if it.idx >= len(it.items) {
		return false
	}
	it.idx++
	return true
}
func (it *mockIterator) Current() types.ObjectRef { return it.items[it.idx-1] }
func (it *mockIterator) Err() error                { return nil }

// Enumerate returns a snapshot of every seeded object under
// container/prefix, sorted by key so tests get deterministic order.
func (m *MockAdapter) Enumerate(ctx context.Context, container, prefix string) (ObjectIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []types.ObjectRef
	for _, ref := range m.objects {
		if ref.Container != container {
			continue
		}
		if prefix != "" && !hasPrefix(ref.Key, prefix) {
			continue
		}
		items = append(items, ref)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return &mockIterator{items: items}, nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func (m *MockAdapter) Stat(ctx context.Context, container, key string) (types.ObjectRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.FailStat[mockKey(container, key)]; ok {
		return types.ObjectRef{}, err
	}
	ref, ok := m.objects[mockKey(container, key)]
	if !ok {
		return types.ObjectRef{}, notFoundErr("provider.mock", "Stat", key)
	}
	return ref, nil
}

func (m *MockAdapter) CopyObject(ctx context.Context, src types.ObjectRef, destContainer, destKey string, noOverwrite bool) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if noOverwrite {
		if _, ok := m.objects[mockKey(destContainer, destKey)]; ok {
			return 0, conflictErr("provider.mock", "CopyObject", destKey)
		}
	}

	dest := src
	dest.Provider = m.provider
	dest.Container = destContainer
	dest.Key = destKey
	m.objects[mockKey(destContainer, destKey)] = dest
	return src.SizeBytes, nil
}

func (m *MockAdapter) Delete(ctx context.Context, container, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, mockKey(container, key))
	return nil
}

func (m *MockAdapter) SetStorageClass(ctx context.Context, container, key string, class string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := mockKey(container, key)
	ref, ok := m.objects[k]
	if !ok {
		return notFoundErr("provider.mock", "SetStorageClass", key)
	}
	ref.ProviderStorageClass = class
	m.objects[k] = ref
	return nil
}
