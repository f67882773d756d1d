package store

import (
	"context"
	"iter"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/goliatone/go-shop-cache/domain"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Memory is a thread-safe in-process Gateway. Records are held encoded so
// callers never share memory with the store, the same way a networked store
// behaves. Call counters are exposed for cache-aside assertions.
type Memory[T domain.Aggregate] struct {
	mu      sync.RWMutex
	entity  string
	records map[domain.Ref][]byte

	gets    atomic.Int64
	puts    atomic.Int64
	scans   atomic.Int64
	deletes atomic.Int64
	failGet error
	failPut error
	failIDs map[string]error
}

var (
	_ Gateway[*domain.Shop]         = (*Memory[*domain.Shop])(nil)
	_ VersionedPutter[*domain.Shop] = (*Memory[*domain.Shop])(nil)
)

// NewMemory creates an empty store for entity (one of the domain.Type* names).
func NewMemory[T domain.Aggregate](entity string) *Memory[T] {
	return &Memory[T]{
		entity:  entity,
		records: make(map[domain.Ref][]byte),
	}
}

func (m *Memory[T]) Get(ctx context.Context, id, secondary string) (T, error) {
	m.gets.Add(1)
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, domain.Unavailable("store.Get", m.entity, err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failGet != nil {
		return zero, domain.Unavailable("store.Get", m.entity, m.failGet)
	}
	if err := m.failIDs[id]; err != nil {
		return zero, domain.Unavailable("store.Get", m.entity, err)
	}

	if secondary != "" {
		data, ok := m.records[domain.Ref{ID: id, Secondary: secondary}]
		if !ok {
			return zero, domain.NotFound("store.Get", m.entity, id)
		}
		return decode[T](data)
	}

	for _, ref := range m.sortedRefs() {
		if ref.ID == id {
			return decode[T](m.records[ref])
		}
	}
	return zero, domain.NotFound("store.Get", m.entity, id)
}

func (m *Memory[T]) Scan(ctx context.Context) iter.Seq2[T, error] {
	m.scans.Add(1)
	return func(yield func(T, error) bool) {
		m.mu.RLock()
		refs := m.sortedRefs()
		snapshot := make([][]byte, len(refs))
		for i, ref := range refs {
			snapshot[i] = m.records[ref]
		}
		m.mu.RUnlock()

		for _, data := range snapshot {
			if err := ctx.Err(); err != nil {
				var zero T
				yield(zero, domain.Unavailable("store.Scan", m.entity, err))
				return
			}
			if !yield(decode[T](data)) {
				return
			}
		}
	}
}

func (m *Memory[T]) Put(ctx context.Context, item T) error {
	m.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("store.Put", m.entity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(item)
}

func (m *Memory[T]) PutIfVersion(ctx context.Context, item T, expected int64) error {
	m.puts.Add(1)
	if err := ctx.Err(); err != nil {
		return domain.Unavailable("store.PutIfVersion", m.entity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current := int64(0)
	if data, ok := m.records[domain.RefOf(item)]; ok {
		stored, err := decode[T](data)
		if err != nil {
			return err
		}
		if v, ok := any(stored).(domain.Versioned); ok {
			current = v.CurrentVersion()
		}
	}
	if current != expected {
		return ErrVersionConflict
	}

	v, ok := any(item).(domain.Versioned)
	if ok {
		v.SetVersion(expected + 1)
	}
	if err := m.putLocked(item); err != nil {
		if ok {
			v.SetVersion(expected)
		}
		return err
	}
	return nil
}

func (m *Memory[T]) Delete(ctx context.Context, id, secondary string) (T, error) {
	m.deletes.Add(1)
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, domain.Unavailable("store.Delete", m.entity, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ref := domain.Ref{ID: id, Secondary: secondary}
	data, ok := m.records[ref]
	if !ok {
		return zero, domain.NotFound("store.Delete", m.entity, id)
	}
	delete(m.records, ref)
	return decode[T](data)
}

// Gets returns how many Get calls the store served.
func (m *Memory[T]) Gets() int64 { return m.gets.Load() }

// Puts returns how many Put and PutIfVersion calls the store served.
func (m *Memory[T]) Puts() int64 { return m.puts.Load() }

// Scans returns how many Scan iterators were created.
func (m *Memory[T]) Scans() int64 { return m.scans.Load() }

// Len returns the number of stored records.
func (m *Memory[T]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// FailGets makes every subsequent Get fail with err. Pass nil to recover.
func (m *Memory[T]) FailGets(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = err
}

// FailGetsFor makes Get of the record with id fail with err. Pass nil to
// recover.
func (m *Memory[T]) FailGetsFor(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIDs == nil {
		m.failIDs = make(map[string]error)
	}
	if err == nil {
		delete(m.failIDs, id)
		return
	}
	m.failIDs[id] = err
}

// FailPuts makes every subsequent Put fail with err. Pass nil to recover.
func (m *Memory[T]) FailPuts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPut = err
}

func (m *Memory[T]) putLocked(item T) error {
	if m.failPut != nil {
		return domain.Unavailable("store.Put", m.entity, m.failPut)
	}
	data, err := json.Marshal(item)
	if err != nil {
		return domain.Unavailable("store.Put", m.entity, err)
	}
	m.records[domain.RefOf(item)] = data
	return nil
}

func (m *Memory[T]) sortedRefs() []domain.Ref {
	refs := make([]domain.Ref, 0, len(m.records))
	for ref := range m.records {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].ID != refs[j].ID {
			return refs[i].ID < refs[j].ID
		}
		return refs[i].Secondary < refs[j].Secondary
	})
	return refs
}

func decode[T domain.Aggregate](data []byte) (T, error) {
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		var zero T
		return zero, domain.Unavailable("store.decode", "", err)
	}
	return item, nil
}
