package txnmap

// fake_coordinator_test.go implements a minimal stand-in for the external
// TxnManager the core is never responsible for implementing (spec.md §1).
// Its commit/rollback/indoubt helpers deliver one of Commit/Rollback/InDoubt,
// optionally preceded by Prepare, plus a one-shot completed event. abandon
// fires the completed event alone, a case outside the Coordinator
// contract's exactly-one guarantee, to exercise the completed-event cleanup.

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// newTxn mints a distinct transaction handle, grounded on the pack's use
// of google/uuid (launix-de-memcp) for identity generation.
func newTxn() TxnHandle {
	return uuid.New()
}

type fakeEnlistment struct {
	mu       sync.Mutex
	done     bool
	prepared bool
	forceErr error
	doneCh   chan struct{}
}

func newFakeEnlistment() *fakeEnlistment {
	return &fakeEnlistment{doneCh: make(chan struct{})}
}

func (e *fakeEnlistment) Done() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		e.done = true
		close(e.doneCh)
	}
}

func (e *fakeEnlistment) Prepared() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.prepared = true
}

func (e *fakeEnlistment) ForceRollback(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.forceErr = err
	if !e.done {
		e.done = true
		close(e.doneCh)
	}
}

func (e *fakeEnlistment) wasPrepared() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prepared
}

func (e *fakeEnlistment) forceRollbackErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.forceErr
}

// fakeCoordinator is a hand-written test double, matching the teacher's
// convention of testing against real collaborators or small hand-rolled
// fakes rather than a mocking library.
type fakeCoordinator struct {
	mu           sync.Mutex
	participants map[TxnHandle]Participant
	completedFns map[TxnHandle][]func()
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		participants: make(map[TxnHandle]Participant),
		completedFns: make(map[TxnHandle][]func()),
	}
}

func (c *fakeCoordinator) Current(ctx context.Context) (TxnHandle, bool) {
	return TxnFromContext(ctx)
}

func (c *fakeCoordinator) EnlistVolatile(txn TxnHandle, p Participant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants[txn] = p
	return nil
}

func (c *fakeCoordinator) OnCompleted(txn TxnHandle, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completedFns[txn] = append(c.completedFns[txn], fn)
}

func (c *fakeCoordinator) participant(txn TxnHandle) (Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.participants[txn]
	return p, ok
}

// prepare drives a standalone Prepare call (two-phase path).
func (c *fakeCoordinator) prepare(txn TxnHandle) *fakeEnlistment {
	e := newFakeEnlistment()
	if p, ok := c.participant(txn); ok {
		p.Prepare(e)
	} else {
		e.Done()
	}
	<-e.doneCh
	return e
}

// commit drives Commit (single-phase if Prepare was never called) and
// fires the completed event.
func (c *fakeCoordinator) commit(txn TxnHandle) *fakeEnlistment {
	e := newFakeEnlistment()
	if p, ok := c.participant(txn); ok {
		p.Commit(e)
	} else {
		e.Done()
	}
	<-e.doneCh
	c.complete(txn)
	return e
}

// rollback drives Rollback and fires the completed event.
func (c *fakeCoordinator) rollback(txn TxnHandle) *fakeEnlistment {
	e := newFakeEnlistment()
	if p, ok := c.participant(txn); ok {
		p.Rollback(e)
	} else {
		e.Done()
	}
	<-e.doneCh
	c.complete(txn)
	return e
}

// indoubt drives InDoubt and fires the completed event.
func (c *fakeCoordinator) indoubt(txn TxnHandle) *fakeEnlistment {
	e := newFakeEnlistment()
	if p, ok := c.participant(txn); ok {
		p.InDoubt(e)
	} else {
		e.Done()
	}
	<-e.doneCh
	c.complete(txn)
	return e
}

// abandon fires the completed event without ever delivering Prepare,
// Commit, Rollback, or InDoubt — simulating a coordinator optimization
// that elides the vote for an enlistment with no pending work, or an
// out-of-band abort of a transaction whose shadow is still mid-Prepare.
func (c *fakeCoordinator) abandon(txn TxnHandle) {
	c.complete(txn)
}

func (c *fakeCoordinator) complete(txn TxnHandle) {
	c.mu.Lock()
	fns := c.completedFns[txn]
	delete(c.completedFns, txn)
	delete(c.participants, txn)
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
