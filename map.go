package txnmap

// map.go implements Map, the public façade: for each operation it
// resolves the ambient transaction and dispatches either directly to the
// BackingStore (no transaction) or to that transaction's shadow, created
// lazily on first touch and enlisted with the Coordinator.
//
// Grounded on the teacher's transaction_db.go (owning database + active
// transaction bookkeeping), adapted from a byte-oriented single BeginTransaction
// entry point to a generic, ambient-context-resolved one per transaction.

import (
	"context"
	"fmt"
	"sync"

	"github.com/pellucid-io/txnmap/internal/logging"
)

// Options configures a Map.
type Options[V any] struct {
	// Logger receives component-tagged log lines from the gate, the
	// shadow, and the façade's registry. A nil Logger discards.
	Logger logging.Logger

	// ValueEqual compares two values for Contains/RemoveValue. Required
	// when constructing with New; NewComparable derives it from == for
	// comparable V.
	ValueEqual func(a, b V) bool
}

// Map is a transaction-aware associative container from K to V.
type Map[K comparable, V any] struct {
	store BackingStore[K, V]
	coord Coordinator
	gate  *TransactionGate
	log   logging.Logger
	equal func(a, b V) bool

	mu      sync.Mutex
	shadows map[TxnHandle]*shadow[K, V]
}

// New constructs a Map over store, driven by coord, using opts.ValueEqual
// for value comparisons. opts.ValueEqual must be non-nil; use
// NewComparable when V's == operator already defines equality.
func New[K comparable, V any](store BackingStore[K, V], coord Coordinator, opts Options[V]) *Map[K, V] {
	if opts.ValueEqual == nil {
		panic("txnmap: Options.ValueEqual must be set; use NewComparable for a comparable V")
	}
	return &Map[K, V]{
		store:   store,
		coord:   coord,
		gate:    NewTransactionGate(opts.Logger),
		log:     logging.OrDefault(opts.Logger),
		equal:   opts.ValueEqual,
		shadows: make(map[TxnHandle]*shadow[K, V]),
	}
}

// NewComparable constructs a Map whose value equality is Go's ==,
// for a comparable V.
func NewComparable[K comparable, V comparable](store BackingStore[K, V], coord Coordinator, logger logging.Logger) *Map[K, V] {
	return New[K, V](store, coord, Options[V]{
		Logger:     logger,
		ValueEqual: func(a, b V) bool { return a == b },
	})
}

// shadowFor resolves the shadow for ctx's ambient transaction, or returns
// (nil, nil) when there is none — the caller should then dispatch to the
// BackingStore directly.
func (m *Map[K, V]) shadowFor(ctx context.Context) (*shadow[K, V], error) {
	txn, ok := m.coord.Current(ctx)
	if !ok || txn == nil {
		return nil, nil
	}

	m.mu.Lock()
	if s, ok := m.shadows[txn]; ok {
		m.mu.Unlock()
		return s, nil
	}

	s, err := newShadow[K, V](txn, m.store, m.gate, func() { m.removeShadow(txn) }, m.log)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.coord.EnlistVolatile(txn, s); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("txnmap: enlisting shadow: %w", err)
	}
	m.coord.OnCompleted(txn, s.onAbandoned)
	m.shadows[txn] = s
	m.mu.Unlock()

	m.log.Debugf("%sshadow created txn=%s", logging.NSMap, logging.TxnTag(txn))
	return s, nil
}

func (m *Map[K, V]) removeShadow(txn TxnHandle) {
	m.mu.Lock()
	delete(m.shadows, txn)
	m.mu.Unlock()
	m.log.Debugf("%sshadow removed txn=%s", logging.NSMap, logging.TxnTag(txn))
}

// Get is the lookup-or-fail operation: it returns ErrKeyNotFound if k is
// absent from the effective view.
func (m *Map[K, V]) Get(ctx context.Context, k K) (V, error) {
	var zero V
	s, err := m.shadowFor(ctx)
	if err != nil {
		return zero, err
	}
	if s == nil {
		v, ok := m.store.TryGet(k)
		if !ok {
			return zero, fmt.Errorf("%w: %v", ErrKeyNotFound, k)
		}
		return v, nil
	}
	v, ok := s.get(k)
	if !ok {
		return zero, fmt.Errorf("%w: %v", ErrKeyNotFound, k)
	}
	return v, nil
}

// TryGet is the lookup-default operation.
func (m *Map[K, V]) TryGet(ctx context.Context, k K) (V, bool, error) {
	var zero V
	s, err := m.shadowFor(ctx)
	if err != nil {
		return zero, false, err
	}
	if s == nil {
		v, ok := m.store.TryGet(k)
		return v, ok, nil
	}
	v, ok := s.get(k)
	return v, ok, nil
}

// ContainsKey reports whether k is present in the effective view.
func (m *Map[K, V]) ContainsKey(ctx context.Context, k K) (bool, error) {
	_, ok, err := m.TryGet(ctx, k)
	return ok, err
}

// Contains reports whether k is present and its effective value equals v.
func (m *Map[K, V]) Contains(ctx context.Context, k K, v V) (bool, error) {
	existing, ok, err := m.TryGet(ctx, k)
	if err != nil || !ok {
		return false, err
	}
	return m.equal(existing, v), nil
}

// Set inserts or updates k.
func (m *Map[K, V]) Set(ctx context.Context, k K, v V) error {
	s, err := m.shadowFor(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		m.store.Set(k, v)
		return nil
	}
	s.set(k, v)
	return nil
}

// Remove removes k, reporting whether it was present beforehand.
func (m *Map[K, V]) Remove(ctx context.Context, k K) (bool, error) {
	s, err := m.shadowFor(ctx)
	if err != nil {
		return false, err
	}
	if s == nil {
		existed := m.store.ContainsKey(k)
		m.store.Remove(k)
		return existed, nil
	}
	return s.remove(k), nil
}

// RemoveValue removes k and reports whether its effective value equalled
// v. A Tombstone is written even when it did not — see spec.md §9.
func (m *Map[K, V]) RemoveValue(ctx context.Context, k K, v V) (bool, error) {
	s, err := m.shadowFor(ctx)
	if err != nil {
		return false, err
	}
	if s == nil {
		existing, ok := m.store.TryGet(k)
		m.store.Remove(k)
		return ok && m.equal(existing, v), nil
	}
	return s.removeValue(k, v, m.equal), nil
}

// Clear removes every key in the effective view.
func (m *Map[K, V]) Clear(ctx context.Context) error {
	s, err := m.shadowFor(ctx)
	if err != nil {
		return err
	}
	if s == nil {
		for _, k := range m.store.Keys() {
			m.store.Remove(k)
		}
		return nil
	}
	s.clear()
	return nil
}

// Count returns the number of keys in the effective view.
func (m *Map[K, V]) Count(ctx context.Context) (int, error) {
	entries, err := m.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// Keys returns the keys in the effective view. Order is unspecified.
func (m *Map[K, V]) Keys(ctx context.Context) ([]K, error) {
	entries, err := m.Entries(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]K, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	return keys, nil
}

// Values returns the values in the effective view. Order is unspecified.
func (m *Map[K, V]) Values(ctx context.Context) ([]V, error) {
	entries, err := m.Entries(ctx)
	if err != nil {
		return nil, err
	}
	values := make([]V, 0, len(entries))
	for _, v := range entries {
		values = append(values, v)
	}
	return values, nil
}

// Entries copies the effective view into a freshly allocated map, per
// spec.md §4.2's materialized-view algorithm: a copy of the BackingStore
// with the overlay folded over it.
func (m *Map[K, V]) Entries(ctx context.Context) (map[K]V, error) {
	s, err := m.shadowFor(ctx)
	if err != nil {
		return nil, err
	}
	if s == nil {
		view := make(map[K]V, len(m.store.Keys()))
		for _, k := range m.store.Keys() {
			if v, ok := m.store.TryGet(k); ok {
				view[k] = v
			}
		}
		return view, nil
	}
	return s.materialized(), nil
}

// IsReadOnly always reports false: Map is always a mutable mapping,
// irrespective of whether the underlying BackingStore happens to be
// read-only (which instead surfaces as ErrInvalidArgument the first time
// a transactional operation tries to enlist a shadow over it).
func (m *Map[K, V]) IsReadOnly() bool {
	return false
}
