// Package sched implements the scheduler and the tick/sleep
// glue that sits on top of it: ready/sleep queues, the idle
// thread, dispatch, and the create/yield/block/unblock/exit/tick/sleep
// operation set. Kernel is the *kthread.Scheduler implementation every
// lower layer (internal/kthread.Semaphore, internal/ksync.Lock) is built
// against.
package sched

import (
	"errors"

	"github.com/joeycumines/go-tinykernel/internal/intr"
	"github.com/joeycumines/go-tinykernel/internal/klog"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/rqueue"
)

// TimeSlice is the default quantum length in ticks.
const TimeSlice = 4

// ErrOutOfMemory is returned by Create when a new thread cannot be
// allocated — create() contract. This simulation never
// actually runs out of memory for a thread record, but the error exists so
// callers (internal/process's fork/exec path) have the contract to handle.
var ErrOutOfMemory = errors.New("sched: out of memory")

// Kernel owns the ready/sleep queues, the interrupt gate, and the idle
// thread, and is the concrete type behind kthread.Scheduler.
//
// Every exported method that mutates queues or thread status documents
// whether it manages the gate itself or requires the caller to already hold
// it, following the same self-contained-vs-assumes-held split as
// kthread.Semaphore/ksync.Lock (see thread.go's Scheduler doc).
type Kernel struct {
	gate *intr.Gate
	log *klog.Logger

	ready *rqueue.Ordered[*kthread.Thread]
	sleeping *rqueue.Sleep[*kthread.Thread]

	current *kthread.Thread
	idle *kthread.Thread

	// idleWake is what stands in for "sti; hlt" pausing the CPU until the
	// next interrupt: there is no halt instruction to fall back on, and
	// idle is the one thread schedule() can hand the baton straight back to
	// itself (pickNext's empty-ready-queue fallback), which would otherwise
	// busy-spin Block's loop. Signaled by wakeIdle whenever a thread joins
	// the ready queue.
	idleWake chan struct{}

	nextID uint64
	ticks int64
	timeSlice int

	// loopsPerTick is the calibration result from internal/devices'
	// CalibrateBusyWait, used by RealTimeSleep for sub-tick delays. Defaults
	// to 1 until SetLoopsPerTick is called once at boot.
	loopsPerTick int64

	// resched is set by Tick when the running thread's quantum has expired.
	// There is no hardware interrupt to force a switch out from under a
	// goroutine that never calls back into the kernel, so — as documented
	// in DESIGN.md — quantum preemption is checked (and, if due, acted on)
	// at the next point the running thread itself re-enables the gate via
	// Semaphore.Up/Lock.Release/Yield, the same checkpoint already used for
	// priority-preemption.
	resched bool
}

// Option configures a Kernel at construction.
type Option func(*Kernel)

// WithLogger injects a structured logger scoped to one Kernel instance
// rather than a package global (see internal/klog).
func WithLogger(l *klog.Logger) Option {
	return func(k *Kernel) { k.log = l }
}

// WithTimeSlice overrides the default 4-tick quantum, for tests that want
// to exercise preemption without waiting out a full default slice.
func WithTimeSlice(ticks int) Option {
	return func(k *Kernel) { k.timeSlice = ticks }
}

func byPriorityDesc(a, b *kthread.Thread) bool { return a.Priority > b.Priority }

func wakeTickOf(t *kthread.Thread) int64 { return t.WakeTick }

// New constructs a Kernel. The idle thread and the calling goroutine's own
// thread record are not created until Start.
func New(opts ...Option) *Kernel {
	k := &Kernel{
		gate: intr.New(),
		log: klog.NewNoop(),
		ready: rqueue.NewOrdered(byPriorityDesc),
		sleeping: rqueue.NewSleep(wakeTickOf),
		timeSlice: TimeSlice,
		loopsPerTick: 1,
		idleWake: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

func (k *Kernel) allocID() uint64 {
	k.nextID++
	return k.nextID
}

// Start bootstraps the scheduler: it builds the idle thread and enqueues it
// exactly the way create() would for any other thread, then constructs a
// thread record for the calling goroutine itself (mirroring thread_init's
// special-cased construction of the thread running main, see
// kthread.Bootstrap) and marks it Running. Must be called exactly once,
// before any other Kernel method, by the goroutine that will act as the
// kernel's initial thread.
func (k *Kernel) Start(mainName string, mainPriority int) *kthread.Thread {
	main := kthread.Bootstrap(k.allocID(), mainName, mainPriority)
	k.current = main

	idleStarted := kthread.NewSemaphore(k, 0)
	idle, err := k.Create("idle", kthread.PriMin, func(*kthread.Thread) {
		idleStarted.Up()
		k.idleLoop()
	})
	if err != nil {
		panic("sched: failed to create idle thread: " + err.Error())
	}
	k.idle = idle

	idleStarted.Down()
	return main
}

// idleLoop is idle()'s body: loop
// disabling, blocking, and re-enabling. There is no asm "hlt" to pair with
// the "sti": the loop simply returns to the top and disables again next
// time it is dispatched, which is all "hlt" would have bought us anyway —
// a place to sit until the next tick or wake.
func (k *Kernel) idleLoop() {
	for {
		prev := k.gate.Disable()
		k.Block()
		k.gate.SetLevel(prev)
	}
}

// pickNext implements the pick-next rule: the ready head, or idle if the
// ready queue is empty. Must be called with the gate held.
func (k *Kernel) pickNext() *kthread.Thread {
	if t, ok := k.ready.PopFront(); ok {
		return t
	}
	return k.idle
}

// switchTo hands the baton to next and parks the outgoing thread, the
// bottom of every Block/Unblock-driven reschedule. Must be called with the
// gate held, by the outgoing thread's own goroutine (k.current, which the
// caller has already transitioned out of Running). A no-op if next is
// already the calling thread (e.g. idle re-picked with nothing else ready):
// there is nothing to hand off.
func (k *Kernel) switchTo(next *kthread.Thread) {
	outgoing := k.current
	if next == outgoing {
		next.SetStatus(kthread.Running)
		return
	}
	next.QuantumTicks = 0
	next.SetStatus(kthread.Running)
	k.current = next
	next.Resume()
	outgoing.ParkSelf()
}

// Current implements kthread.Scheduler.
func (k *Kernel) Current() *kthread.Thread { return k.current }

// GateDisable implements kthread.Scheduler.
func (k *Kernel) GateDisable() intr.Level { return k.gate.Disable() }

// GateRestore implements kthread.Scheduler.
func (k *Kernel) GateRestore(prev intr.Level) { k.gate.SetLevel(prev) }

// Block implements kthread.Scheduler: must be called with the gate held and
// the calling thread already placed on whatever wait set it is blocking on.
func (k *Kernel) Block() {
	cur := k.current
	cur.SetStatus(kthread.Blocked)
	next := k.pickNext()
	if next == cur {
		// Only idle can be handed back to itself (pickNext's fallback,
		// reached only when nothing else is blocked and ready is empty).
		// Model "sti; hlt" by actually waiting for wakeIdle's signal
		// instead of busy-spinning idle's loop.
		cur.SetStatus(kthread.Running)
		k.gate.Enable()
		<-k.idleWake
		k.gate.Disable()
		return
	}
	k.switchTo(next)
}

// wakeIdle signals idle's Block-special-case wait, if it is currently
// parked there. Non-blocking: a signal already pending is as good as two.
func (k *Kernel) wakeIdle() {
	select {
	case k.idleWake <- struct{}{}:
	default:
	}
}

// Unblock implements kthread.Scheduler: moves t onto the ready queue by
// priority. Must be called with the gate held; never preempts (see
// PreemptIfOutranked).
func (k *Kernel) Unblock(t *kthread.Thread) {
	t.SetStatus(kthread.Ready)
	k.ready.Insert(t)
	k.wakeIdle()
}

// PreemptIfOutranked implements kthread.Scheduler: yields if the ready head
// now outranks the running thread, or if the running thread's quantum has
// expired. A no-op if gateWasOn is false (the caller is nested inside a
// still-disabled outer section; that section's own eventual restore is
// where preemption will be checked).
func (k *Kernel) PreemptIfOutranked(gateWasOn bool) {
	if !gateWasOn {
		return
	}
	head, ok := k.ready.Front()
	outranked := ok && head.Priority > k.current.Priority
	if outranked || k.resched {
		k.Yield()
	}
}

// Yield implements yield(): places the current thread at its
// priority's FIFO slot in the ready queue (skipped for idle, which is never
// enqueued) and switches to pick-next. Self-contained: disables the gate,
// does the reschedule, restores it.
func (k *Kernel) Yield() {
	prev := k.gate.Disable()
	cur := k.current
	k.resched = false
	if cur != k.idle {
		cur.SetStatus(kthread.Ready)
		k.ready.Insert(cur)
	}
	k.switchTo(k.pickNext())
	k.gate.SetLevel(prev)
}

// Create implements create(): allocates a thread, starts its
// goroutine parked at its trampoline, inserts it into the ready queue, and
// preempts if it outranks the running thread.
func (k *Kernel) Create(name string, priority int, entry func(t *kthread.Thread)) (*kthread.Thread, error) {
	return k.CreateWithInit(name, priority, entry, nil)
}

// CreateWithInit is Create plus an init hook run on the new Thread before it
// is ever inserted into the ready queue — i.e. before its goroutine can
// possibly be dispatched. internal/process uses this to attach the
// fork/wait/free semaphores a user thread needs with no
// window for the thread to observe them unset: init's field writes and the
// eventual reads by a parent or by the thread's own entry happen under the
// same gate-held section that created the thread, mirroring how
// thread_create's real init_thread populates every field synchronously
// before the new thread ever runs.
//
// entry receives the new Thread itself rather than closing over a variable
// from the caller's own stack frame: CreateWithInit's PreemptIfOutranked
// call below can dispatch the new thread — running entry — before this
// function has returned to its caller, so any value the caller still needs
// to assign from the return value is not yet available to a closure at that
// point. t is fully built by the time entry can possibly run.
func (k *Kernel) CreateWithInit(name string, priority int, entry func(t *kthread.Thread), init func(t *kthread.Thread)) (*kthread.Thread, error) {
	prev := k.gate.Disable()
	var t *kthread.Thread
	t = kthread.New(k.allocID(), name, priority, func(any) {
		if entry != nil {
			entry(t)
		}
	}, nil, func() {
		k.gate.Enable()
	})
	if init != nil {
		init(t)
	}
	k.ready.Insert(t)
	k.wakeIdle()
	k.log.Debug().Tid(t.ID).Str("name", name).Int("priority", priority).Log("thread created")
	k.gate.SetLevel(prev)
	k.PreemptIfOutranked(bool(prev))
	return t, nil
}

// Exit implements exit(): marks the current thread dying and
// reschedules; never returns. Disables the gate itself and never restores
// it, mirroring thread_exit's own unpaired intr_disable — there is no
// "after" for a dying thread to resume into; whichever thread schedule()
// switches to next will complete its own disable/restore pairing as usual.
// Caller (internal/process's exit path) is responsible for freeing
// Space/Files/Running before calling this.
func (k *Kernel) Exit() {
	k.gate.Disable()
	cur := k.current
	cur.SetStatus(kthread.Dying)
	k.log.Debug().Tid(cur.ID).Log("thread exiting")
	k.switchTo(k.pickNext())
	panic("sched: Exit: dying thread resumed")
}

// Ticks returns the monotonic tick count.
func (k *Kernel) Ticks() int64 {
	prev := k.gate.Disable()
	defer k.gate.SetLevel(prev)
	return k.ticks
}

// Sleep implements sleep(Δticks): Δ <= 0 returns immediately,
// otherwise blocks the calling thread until at least Δ ticks have passed.
func (k *Kernel) Sleep(delta int64) {
	if delta <= 0 {
		return
	}
	prev := k.gate.Disable()
	cur := k.current
	cur.WakeTick = k.ticks + delta
	k.sleeping.Insert(cur)
	k.Block()
	k.gate.SetLevel(prev)
}

// Tick is called from the PIT driver goroutine: self-contained, since it runs on a different goroutine
// than whichever thread is current. Increments the tick count and the
// running thread's quantum counter, wakes every sleeper whose wake tick has
// arrived (queue order), and — if the running thread has consumed a full
// quantum — sets the flag PreemptIfOutranked checks at the running thread's
// own next checkpoint.
func (k *Kernel) Tick() {
	prev := k.gate.Disable()
	k.ticks++
	due := k.sleeping.Wake(k.ticks)
	for _, t := range due {
		k.Unblock(t)
	}
	if k.current != k.idle {
		k.current.QuantumTicks++
		if k.current.QuantumTicks >= k.timeSlice {
			k.resched = true
		}
	}
	k.gate.SetLevel(prev)
}

// RealTimeSleep implements real_time_sleep(num, denom):
// converts num/denom seconds to ticks; if that is >= 1 tick, sleeps,
// otherwise busy-waits loops calibrated to approximate the sub-tick delay.
// freq is the configured PIT frequency (ticks per simulated second).
func (k *Kernel) RealTimeSleep(num, denom int64, freq int64, busyWait func(loops int64)) {
	ticksF := num * freq / denom
	if ticksF >= 1 {
		k.Sleep(ticksF)
		return
	}
	// Round the loop count the same way the original scales a calibrated
	// per-tick loop count by the requested fraction of a tick.
	loops := (num * freq * k.loopsPerTick) / denom
	busyWait(loops)
}

// SetLoopsPerTick records the result of internal/devices' CalibrateBusyWait,
// mirroring timer_calibrate's doubling-then-refining search for the largest
// loop count that completes within one tick. Called once at boot by
// cmd/tinykerneld.
func (k *Kernel) SetLoopsPerTick(loops int64) { k.loopsPerTick = loops }

// SetPriority implements Thread.set_priority(p): sets base
// priority, recomputes current priority via Refresh (preserving an active
// donation higher than p), and preempts if the recomputed priority now
// falls below the ready head.
func (k *Kernel) SetPriority(t *kthread.Thread, p int) {
	prev := k.gate.Disable()
	t.BasePriority = p
	t.Refresh()
	k.gate.SetLevel(prev)
	if t == k.current {
		k.PreemptIfOutranked(bool(prev))
	}
}
