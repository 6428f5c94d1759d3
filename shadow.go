package txnmap

// shadow.go implements the unexported TransactionShadow: a per-transaction
// overlay over a BackingStore plus the four 2PC participant callbacks.
//
// Grounded on the teacher's pessimistic_transaction.go (per-transaction
// state, Commit/Rollback shape, checkState-style guard pattern) with the
// lock-manager's critical section discipline substituted for 2PL: instead
// of per-key locks acquired up front, this design defers all exclusion to
// a single TransactionGate acquired at Prepare.

import (
	"fmt"
	"sync"

	"github.com/pellucid-io/txnmap/internal/logging"
)

// shadow is the per-transaction overlay and 2PC participant. It is kept
// unexported: callers reach it only through Map's registry, matching the
// final revision's "internal shadow" design.
type shadow[K comparable, V any] struct {
	txn   TxnHandle
	store BackingStore[K, V]
	gate  *TransactionGate
	log   logging.Logger

	mu      sync.Mutex
	overlay map[K]overlayEntry[V]
	undo    []undoEntry[K, V]
	prepared bool

	acquiredGate bool
	onRemove     func()
	finishOnce   sync.Once
}

// newShadow constructs a shadow for txn over store. Construction fails
// with ErrInvalidState if txn is nil (no ambient transaction) and with
// ErrInvalidArgument if store is read-only.
func newShadow[K comparable, V any](txn TxnHandle, store BackingStore[K, V], gate *TransactionGate, onRemove func(), log logging.Logger) (*shadow[K, V], error) {
	if txn == nil {
		return nil, fmt.Errorf("%w: shadow requires an ambient transaction", ErrInvalidState)
	}
	if store.IsReadOnly() {
		return nil, fmt.Errorf("%w: cannot enlist a transaction over a read-only store", ErrInvalidArgument)
	}
	return &shadow[K, V]{
		txn:      txn,
		store:    store,
		gate:     gate,
		log:      logging.OrDefault(log),
		overlay:  make(map[K]overlayEntry[V]),
		onRemove: onRemove,
	}, nil
}

// --- read path ---

// get implements spec.md §4.2's read path: overlay Set wins, overlay
// Tombstone means absent, otherwise defer to the BackingStore.
func (s *shadow[K, V]) get(k K) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.overlay[k]; ok {
		if entry.kind == entryTombstone {
			var zero V
			return zero, false
		}
		return entry.value, true
	}
	return s.store.TryGet(k)
}

func (s *shadow[K, V]) containsKey(k K) bool {
	_, ok := s.get(k)
	return ok
}

// materialized copies the BackingStore and folds the overlay over it, per
// spec.md §4.2's specified enumeration algorithm. Ordering is unspecified.
func (s *shadow[K, V]) materialized() map[K]V {
	s.mu.Lock()
	defer s.mu.Unlock()
	view := make(map[K]V, len(s.overlay))
	for _, k := range s.store.Keys() {
		if v, ok := s.store.TryGet(k); ok {
			view[k] = v
		}
	}
	for k, entry := range s.overlay {
		switch entry.kind {
		case entrySet:
			view[k] = entry.value
		case entryTombstone:
			delete(view, k)
		}
	}
	return view
}

// --- write path ---

func (s *shadow[K, V]) set(k K, v V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overlay[k] = overlayEntry[V]{kind: entrySet, value: v}
}

// remove reports whether k had an effective value before the removal.
func (s *shadow[K, V]) remove(k K) bool {
	_, existed := s.get(k)
	s.mu.Lock()
	s.overlay[k] = overlayEntry[V]{kind: entryTombstone}
	s.mu.Unlock()
	return existed
}

// removeValue reports true only when the effective value equalled v. A
// Tombstone is written regardless of the comparison's outcome — this
// mirrors the reference behavior described in spec.md §9 and is not a
// bug to be fixed silently.
func (s *shadow[K, V]) removeValue(k K, v V, equal func(a, b V) bool) bool {
	existing, existed := s.get(k)
	s.mu.Lock()
	s.overlay[k] = overlayEntry[V]{kind: entryTombstone}
	s.mu.Unlock()
	return existed && equal(existing, v)
}

func (s *shadow[K, V]) clear() {
	view := s.materialized()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range view {
		s.overlay[k] = overlayEntry[V]{kind: entryTombstone}
	}
}

// --- 2PC participant ---

// lockStore acquires the gate for this transaction and records whether
// it actually took ownership (false means the wait was cancelled because
// the transaction was abandoned out from under it).
func (s *shadow[K, V]) lockStore() bool {
	granted := s.gate.Lock(s.txn)
	if granted {
		s.mu.Lock()
		s.acquiredGate = true
		s.mu.Unlock()
	}
	return granted
}

// applyOverlay performs the Prepare body: acquire the gate, push every
// overlay entry into the BackingStore, and record the prior state of
// each touched key in the undo log before moving to the next one, so the
// undo log is always consistent with what has actually been applied.
func (s *shadow[K, V]) applyOverlay() (err error) {
	if !s.lockStore() {
		return fmt.Errorf("%w: transaction abandoned while waiting for the gate", ErrPrepareFailed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPrepareFailed, r)
		}
	}()

	for k, entry := range s.overlay {
		old, existed := s.store.TryGet(k)

		switch entry.kind {
		case entrySet:
			s.store.Set(k, entry.value)
		case entryTombstone:
			s.store.Remove(k)
		}

		if existed {
			s.undo = append(s.undo, undoEntry[K, V]{key: k, prior: priorState[V]{present: true, value: old}})
		} else {
			s.undo = append(s.undo, undoEntry[K, V]{key: k, prior: priorState[V]{present: false}})
		}
	}
	s.prepared = true
	return nil
}

// Prepare implements the Participant callback.
func (s *shadow[K, V]) Prepare(e Enlistment) {
	s.log.Debugf("%sprepare txn=%s", logging.NSShadow, logging.TxnTag(s.txn))
	if err := s.applyOverlay(); err != nil {
		s.log.Warnf("%sprepare failed txn=%s err=%v", logging.NSShadow, logging.TxnTag(s.txn), err)
		e.ForceRollback(err)
		return
	}
	e.Prepared()
}

// Commit implements the Participant callback. If Prepare was never
// delivered (single-phase commit), it runs the Prepare body first.
func (s *shadow[K, V]) Commit(e Enlistment) {
	s.mu.Lock()
	prepared := s.prepared
	s.mu.Unlock()

	if !prepared {
		if err := s.applyOverlay(); err != nil {
			s.log.Warnf("%ssingle-phase commit failed txn=%s err=%v", logging.NSShadow, logging.TxnTag(s.txn), err)
			e.ForceRollback(err)
			return
		}
	}
	s.log.Debugf("%scommit txn=%s", logging.NSShadow, logging.TxnTag(s.txn))
	s.finish()
	e.Done()
}

// Rollback implements the Participant callback: replay the undo log in
// the order it was recorded, then release the gate and deregister.
func (s *shadow[K, V]) Rollback(e Enlistment) {
	s.mu.Lock()
	undo := s.undo
	s.undo = nil
	for _, u := range undo {
		if u.prior.present {
			s.store.Set(u.key, u.prior.value)
		} else {
			s.store.Remove(u.key)
		}
	}
	s.mu.Unlock()

	s.log.Debugf("%srollback txn=%s undone=%d", logging.NSShadow, logging.TxnTag(s.txn), len(undo))
	s.finish()
	e.Done()
}

// InDoubt implements the Participant callback: accepted silently, no
// recovery attempted, per spec.md §7.
func (s *shadow[K, V]) InDoubt(e Enlistment) {
	s.log.Infof("%sindoubt txn=%s, no recovery attempted", logging.NSShadow, logging.TxnTag(s.txn))
	e.Done()
}

// finish releases the gate (if acquired) and deregisters the shadow,
// exactly once, gate-release-before-registry-removal, regardless of how
// many of Commit/Rollback/the abandonment hook race to call it.
func (s *shadow[K, V]) finish() {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		acquired := s.acquiredGate
		s.mu.Unlock()
		if acquired {
			s.gate.Unlock()
		}
		if s.onRemove != nil {
			s.onRemove()
		}
	})
}

// onAbandoned is registered with the coordinator's completed event at
// construction time. It guarantees invariant 6 (no leaked registry
// entries) regardless of whether the coordinator ever delivers Commit,
// Rollback, or InDoubt to this shadow — e.g. a read-only enlistment the
// coordinator elides from the vote, or a transaction aborted out of band
// while this shadow was still waiting on the gate inside Prepare.
func (s *shadow[K, V]) onAbandoned() {
	s.gate.Cancel(s.txn)
	s.finish()
}
