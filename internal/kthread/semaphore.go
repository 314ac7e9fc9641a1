package kthread

import "github.com/joeycumines/go-tinykernel/internal/rqueue"

// Semaphore is the plain (non-donating) semaphore of: a
// value plus a priority-ordered waiter list. internal/ksync.Lock is built on
// top of one of these; Thread's fork/wait/free handshake semaphores are
// plain Semaphores with no donation semantics at all.
//
// A Semaphore needs a Scheduler to block/unblock/preempt with, but must not
// import internal/sched (which imports kthread for Thread) — so the
// scheduler is injected, the same dependency-inversion logiface's own
// front-end uses to stay decoupled from any one backend (see
// logiface.Writer).
type Semaphore struct {
	sched Scheduler
	value int
	waiters *rqueue.Ordered[*Thread]
}

func byCurrentPriorityDesc(a, b *Thread) bool { return a.Priority > b.Priority }

// NewSemaphore returns a semaphore with the given initial value.
func NewSemaphore(sched Scheduler, value int) *Semaphore {
	return &Semaphore{
		sched: sched,
		value: value,
		waiters: rqueue.NewOrdered(byCurrentPriorityDesc),
	}
}

// Down is sema_down: disables interrupts itself (self-contained, like the
// original's sema_down), and restores the observed level before returning.
// While value == 0, inserts the calling thread into waiters ordered by
// current priority and blocks; decrements on resume.
func (s *Semaphore) Down() {
	prev := s.sched.GateDisable()
	for s.value == 0 {
		s.waiters.Insert(s.sched.Current())
		s.sched.Block()
	}
	s.value--
	s.sched.GateRestore(prev)
}

// Up is sema_up: disables interrupts itself. Re-sorts waiters (their
// priorities may have changed via donation while they waited), pops the
// highest-priority one if any, unblocks it, increments value, restores the
// gate, then yields if the unblocked thread now outranks the running
// thread.
func (s *Semaphore) Up() {
	prev := s.sched.GateDisable()
	s.waiters.Resort()
	if w, ok := s.waiters.PopFront(); ok {
		s.sched.Unblock(w)
	}
	s.value++
	s.sched.GateRestore(prev)
	s.sched.PreemptIfOutranked(bool(prev))
}

// Value reports the current count, for tests and diagnostics.
func (s *Semaphore) Value() int { return s.value }

// Waiting reports the number of threads queued on this semaphore.
func (s *Semaphore) Waiting() int { return s.waiters.Len() }
