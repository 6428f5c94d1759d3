package txnmap

// gate.go implements TransactionGate, the fair transaction-scoped mutual
// exclusion primitive that serializes the Prepare-to-finished critical
// section of shadows sharing a BackingStore.
//
// Grounded on the teacher's lock_manager.go FIFO wait-queue design,
// collapsed from per-key locking to a single whole-store gate keyed by
// transaction identity: ownership plus a strict-arrival-order pending
// queue, one mutex protecting both.

import (
	"sync"

	"github.com/pellucid-io/txnmap/internal/logging"
)

// gateWaiter is one pending request to own the gate.
type gateWaiter struct {
	txn     TxnHandle
	ready   chan struct{}
	granted bool
}

// TransactionGate is a fair mutual-exclusion primitive keyed by
// transaction identity. Lock is reentrant for the current owner; waiters
// are granted in strict FIFO arrival order.
type TransactionGate struct {
	mu      sync.Mutex
	locked  bool
	owner   TxnHandle
	pending []*gateWaiter
	log     logging.Logger
}

// NewTransactionGate creates an unowned gate. A nil logger discards.
func NewTransactionGate(log logging.Logger) *TransactionGate {
	return &TransactionGate{log: logging.OrDefault(log)}
}

// Lock requests ownership on behalf of txn, blocking until it is granted.
// It returns true once txn owns the gate, or false if the wait was
// cancelled out from under it by Cancel (see Cancel's doc comment) —
// in that case the caller does not own the gate and must not touch the
// BackingStore.
func (g *TransactionGate) Lock(txn TxnHandle) bool {
	g.mu.Lock()
	if !g.locked {
		g.locked = true
		g.owner = txn
		g.mu.Unlock()
		g.log.Debugf("%slock granted immediately txn=%s", logging.NSGate, logging.TxnTag(txn))
		return true
	}
	if g.owner == txn {
		g.mu.Unlock()
		return true
	}

	w := &gateWaiter{txn: txn, ready: make(chan struct{})}
	g.pending = append(g.pending, w)
	g.mu.Unlock()
	g.log.Debugf("%swaiting txn=%s", logging.NSGate, logging.TxnTag(txn))

	<-w.ready
	if w.granted {
		g.log.Debugf("%slock granted after wait txn=%s", logging.NSGate, logging.TxnTag(txn))
	} else {
		g.log.Debugf("%swait cancelled txn=%s", logging.NSGate, logging.TxnTag(txn))
	}
	return w.granted
}

// Unlock releases ownership. If the pending queue is non-empty, the head
// waiter is dequeued and granted ownership inside the same critical
// section that drops the current owner, so no thread can ever observe an
// unowned gate with waiters still queued.
func (g *TransactionGate) Unlock() {
	g.mu.Lock()
	if len(g.pending) > 0 {
		w := g.pending[0]
		g.pending = g.pending[1:]
		g.owner = w.txn
		w.granted = true
		g.mu.Unlock()
		g.log.Debugf("%sownership transferred txn=%s", logging.NSGate, logging.TxnTag(w.txn))
		close(w.ready)
		return
	}
	g.locked = false
	g.owner = nil
	g.mu.Unlock()
	g.log.Debugf("%sunlocked, no waiters", logging.NSGate)
}

// Cancel removes txn's waiter record from the pending queue, if present,
// and wakes the blocked Lock call without granting ownership. This
// handles a transaction being aborted by the coordinator while its
// shadow is still waiting to Prepare: the blocked goroutine must not be
// left stranded forever just because the transaction it was acting for
// no longer exists. Cancel is a no-op if txn is not currently enqueued
// (including when it already owns the gate).
func (g *TransactionGate) Cancel(txn TxnHandle) {
	g.mu.Lock()
	for i, w := range g.pending {
		if w.txn == txn {
			g.pending = append(g.pending[:i], g.pending[i+1:]...)
			g.mu.Unlock()
			close(w.ready)
			return
		}
	}
	g.mu.Unlock()
}

// IsLocked reports whether the gate is currently owned.
func (g *TransactionGate) IsLocked() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.locked
}
