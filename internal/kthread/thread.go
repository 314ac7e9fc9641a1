// Package kthread defines the per-thread record and the low-level baton
// handoff that stands in for switch_threads. It owns the
// parts of a thread that every higher layer needs to see (status, priority,
// the donation-adjacent fields, the fork/wait handshake semaphores) without
// owning scheduling policy, which belongs to internal/sched.
//
// There is no stack or page to protect here: Go already gives every
// goroutine its own stack, so the "one page, thread record at the bottom,
// stack growing down from the top" picture in has no analogue
// worth building. What survives is the part that actually matters for
// correctness: at most one thread's logic runs at a time, and a switch is a
// handoff from one blocked goroutine to another.
package kthread

import (
	"fmt"
	"sync/atomic"

	"github.com/joeycumines/go-tinykernel/internal/intr"
	"github.com/joeycumines/go-tinykernel/internal/trapframe"
)

// Status mirrors enum thread_status.
type Status int32

const (
	Running Status = iota
	Ready
	Blocked
	Dying
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Ready:
		return "ready"
	case Blocked:
		return "blocked"
	case Dying:
		return "dying"
	default:
		return fmt.Sprintf("kthread.Status(%d)", int32(s))
	}
}

// Priority bounds, / original_source/include/threads/thread.h.
const (
	PriMin = 0
	PriDefault = 31
	PriMax = 63
)

// DonationDepthLimit caps the lock-holder chain walk acquire() performs
//.
const DonationDepthLimit = 8

// LockRef is the minimal view of a held lock that a Thread's wait_lock field
// needs. Satisfied by *ksync.Lock; kept as an interface here so this package
// does not import ksync (which imports kthread, for Thread and Semaphore).
type LockRef interface {
	// LockHolder returns the thread currently holding the lock, or nil.
	LockHolder() *Thread
}

// AddressSpace is the minimal view kthread needs of a process's page table
// handle, satisfied by *vm.Space. Declared here, rather than imported
// from vm, only to keep the dependency arrow pointing one way; vm itself
// has no need to know about Thread.
type AddressSpace interface {
	// Destroy tears the address space down; called from exit cleanup.
	Destroy()
}

// FileTable is the minimal view of a file-descriptor table, satisfied by
// *fdtable.Table.
type FileTable interface {
	CloseAll()
}

// File is the minimal view of an open file handle kept open for the
// duration of a loaded executable.
type File interface {
	Close() error
}

// Scheduler is the set of operations a Semaphore needs from whatever owns
// the ready/sleep queues, so that kthread need not import internal/sched
// (which imports kthread, for Thread). Implemented by *sched.Kernel.
//
// Gate discipline: GateDisable/GateRestore bracket every Semaphore.Down/Up
// call (mirroring the original's sema_down/sema_up each doing their own
// intr_disable/intr_set_level). Block and Unblock assume the gate is
// already held by the caller and never touch it themselves — matching
// thread_block, which performs no interrupt-flag manipulation of its own.
type Scheduler interface {
	// GateDisable disables interrupts, blocking until available, and
	// returns the prior level (see internal/intr.Gate.Disable).
	GateDisable() intr.Level
	// GateRestore restores a previously observed level.
	GateRestore(intr.Level)
	// Block marks the calling thread (already placed on some wait set by
	// the caller) as Blocked and switches away from it. Must be called
	// with the gate held; returns once resumed, gate still held.
	Block()
	// Unblock moves t from Blocked to Ready, ordered insertion. Does not
	// preempt. Must be called with the gate held.
	Unblock(t *Thread)
	// PreemptIfOutranked yields the running thread if the ready head now
	// outranks it. Called after the gate has been restored to whatever it
	// was before the caller's own operation; a no-op if that level was Off
	// (the caller is itself nested inside a still-disabled section, so
	// preemption is deferred to that section's own eventual restore).
	PreemptIfOutranked(gateWasOn bool)
	// Current returns the thread presently running.
	Current() *Thread
}

// Thread is the kernel's per-thread record.
type Thread struct {
	ID uint64
	Name string

	status int32 // Status, accessed via atomic so Snap() can read it without the gate.

	// Priority is the thread's current (possibly donated) priority.
	// BasePriority is the last value set by set_priority, pre-donation.
	// Both fields are owned by the gate; readers must hold it, except via
	// Snapshot.
	Priority int
	BasePriority int

	// WakeTick is meaningful only while the thread sits on the sleep queue.
	WakeTick int64

	// QuantumTicks counts ticks consumed since this thread was last
	// dispatched. Reset by the
	// scheduler on dispatch, incremented by Tick.
	QuantumTicks int

	// WaitingLock is the lock this thread is blocked acquiring, or nil.
	WaitingLock LockRef

	// Donors is the set of threads that have donated priority to this
	// thread, ordered by donor priority descending.
	Donors []*Thread

	// ParentIntrFrame is stashed at fork, to be installed as the child's
	// trap frame once __do_fork completes.
	ParentIntrFrame trapframe.Frame

	ExitStatus int32

	// ChildSet is the set of threads forked from this one, still unreaped.
	ChildSet []*Thread

	// WaitSema, FreeSema and ForkSema implement the fork/wait handshake
	//: the parent blocks on ForkSema until the child has
	// copied its address space; a waiting parent blocks on WaitSema until
	// the child exits; the exiting child then blocks on FreeSema, which the
	// parent signals only after it has read exit_status, so the child's
	// struct is not torn down before then.
	ForkSema *Semaphore
	WaitSema *Semaphore
	FreeSema *Semaphore

	Files FileTable
	Running File
	Space AddressSpace

	// Frame is the saved register state resumed into on dispatch, and the
	// frame syscalls read arguments from / write results to.
	Frame trapframe.Frame

	// resume is the baton: exactly one value is sent per dispatch, and the
	// thread's own goroutine is the only receiver. Buffered 1 so the
	// dispatching thread's send never blocks on the dispatched thread
	// having reached its receive yet.
	resume chan struct{}

	// entry and arg are invoked once, the first time this thread is
	// resumed, by the trampoline goroutine started in New.
	entry func(arg any)
	arg any

	// started is closed on the thread's own goroutine after New's onStart
	// hook (if any) has run and just before entry is called. onStart runs
	// with the gate held coming in, exactly as a real trampoline would
	// return from switch_threads with interrupts still off; it is the
	// scheduler's hook for doing "enables interrupts and calls entry(arg)"
	// without kthread knowing what "enable interrupts" means.
	started chan struct{}
}

// New allocates a thread record and starts its goroutine parked waiting for
// its first Resume. entry is invoked on that goroutine exactly once, the
// first time the thread is dispatched; onStart (if non-nil) runs
// immediately before it, on the same goroutine.
func New(id uint64, name string, priority int, entry func(arg any), arg any, onStart func()) *Thread {
	t := &Thread{
		ID: id,
		Name: name,
		status: int32(Blocked),
		Priority: priority,
		BasePriority: priority,
		resume: make(chan struct{}, 1),
		started: make(chan struct{}),
		entry: entry,
		arg: arg,
	}
	go func() {
		<-t.resume
		if onStart != nil {
			onStart()
		}
		close(t.started)
		if entry != nil {
			entry(arg)
		}
	}()
	return t
}

// Bootstrap constructs the thread record for a goroutine that is already
// running kernel code — the boot thread that called sched.Kernel.Start,
// mirroring thread_init's special-cased construction of the very first
// thread (running main()), which goes through init_thread directly rather
// than thread_create's page allocation and trampoline dance. There is no
// separate goroutine to start: the caller's own goroutine simply continues
// as this Thread's logical owner from here on, exactly as if it had already
// consumed one Resume.
func Bootstrap(id uint64, name string, priority int) *Thread {
	t := &Thread{
		ID: id,
		Name: name,
		status: int32(Running),
		Priority: priority,
		BasePriority: priority,
		resume: make(chan struct{}, 1),
		started: make(chan struct{}),
	}
	close(t.started)
	return t
}

// Status reads the thread's lifecycle state. Safe without the gate (it is
// read by debug/log code concurrently with the tick goroutine); writers
// must still hold the gate, to keep status changes ordered with queue
// membership changes.
func (t *Thread) Status() Status { return Status(atomic.LoadInt32(&t.status)) }

// SetStatus transitions the thread's lifecycle state. Caller must hold the
// gate.
func (t *Thread) SetStatus(s Status) { atomic.StoreInt32(&t.status, int32(s)) }

// Resume sends the baton to this thread's goroutine, allowing it to run.
// Must be called with the gate held, and only for a thread that is not
// already the one running.
func (t *Thread) Resume() {
	select {
	case t.resume <- struct{}{}:
	default:
		panic("kthread: Resume called on a thread already holding the baton")
	}
}

// ParkSelf blocks the calling goroutine (which must be t's own) until the
// next Resume. Called by the scheduler's switch path on behalf of the
// outgoing thread, after it has updated its own queue membership and
// status, and immediately before/while releasing the gate to the incoming
// thread.
func (t *Thread) ParkSelf() {
	<-t.resume
}

// AwaitStart blocks until this thread's trampoline has run onStart and is
// about to invoke entry. Tests use it to wait for a thread they dispatched;
// sched.Kernel.CreateWithInit does not call it and returns the new thread
// without waiting for it to start.
func (t *Thread) AwaitStart() {
	<-t.started
}

// Donate lifts this thread's current priority to at least p, as one step of
// a donation chain walk. Caller holds the gate.
func (t *Thread) Donate(p int) {
	if p > t.Priority {
		t.Priority = p
	}
}

// Refresh recomputes current priority from base plus the highest donor,
// ("reset to base; if donors non-empty, lift to max(base,
// highest-priority donor)"). Caller holds the gate and has already pruned
// Donors for the lock being released.
func (t *Thread) Refresh() {
	p := t.BasePriority
	for _, d := range t.Donors {
		if d.Priority > p {
			p = d.Priority
		}
	}
	t.Priority = p
}

// Snapshot is a cheap, lock-free read of fields safe to observe without the
// gate, for logging and tests. Priority/Status may be stale by the time the
// caller reads them if the gate is not held; that is acceptable for
// diagnostics, never for scheduling decisions.
type Snapshot struct {
	ID uint64
	Name string
	Status Status
	Priority int
}

func (t *Thread) Snap() Snapshot {
	return Snapshot{ID: t.ID, Name: t.Name, Status: t.Status(), Priority: t.Priority}
}
