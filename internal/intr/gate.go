// Package intr models the interrupt-enable flag of a single-CPU kernel.
//
// There is no real hardware here: a [Gate] is the thing that gives the rest
// of the kernel a critical section in which neither another thread nor the
// timer tick can observe or mutate shared scheduler state. Exactly one
// goroutine is ever inside a disabled section at a time; the Gate is what
// makes that true for the one genuinely concurrent actor in this system, the
// PIT tick delivery goroutine (see internal/devices).
package intr

// Level mirrors intr_level: whether interrupts were enabled at the point a
// Disable call observed them.
type Level bool

const (
	// Off means interrupts were already disabled.
	Off Level = false
	// On means interrupts were enabled.
	On Level = true
)

// Gate is the kernel's single big lock, exposed as disable/enable/set-level
// rather than Lock/Unlock so call sites read the way spec describes them.
//
// Real hardware's IF flag is a single idempotent bit: switch_threads never
// touches it, so a thread that blocks mid-critical-section and is later
// resumed continues running with interrupts exactly as it left them, and a
// brand-new thread's trampoline can unconditionally turn them on without
// first knowing whether "off" was even true. A plain sync.Mutex cannot
// reproduce that: Unlock from a goroutine that never called Lock, or a
// redundant Unlock, both panic. Gate is instead backed by a channel of
// capacity 1 holding a single token — "present" means enabled. Disable is a
// blocking receive (real mutual exclusion: a second thread's Disable call
// waits for the first's matching Enable, exactly like a lock). Enable is a
// non-blocking send that is a no-op if the token is already there, giving
// the idempotence the trampoline and the idle loop's "sti" both rely on,
// even though the goroutine enabling is never the one that disabled.
type Gate struct {
	token chan struct{}
}

// New returns a Gate starting in the enabled state. Real hardware boots with
// interrupts off until thread_start runs; here there is no concurrent
// ticker goroutine until the caller starts a devices.PIT, so there is
// nothing for an initially-disabled gate to protect against, and starting
// enabled lets the very first Disable/Enable pair behave like any other.
func New() *Gate {
	g := &Gate{token: make(chan struct{}, 1)}
	g.token <- struct{}{}
	return g
}

// Disable takes the gate, blocking until it is available, and returns the
// level observed beforehand — always On, since taking the token is itself
// the observation that it was there. Must not be called while the calling
// goroutine already holds the gate (there is no nested form; internal
// helpers documented as requiring the gate held must not call Disable
// again — see the *Locked-style convention in internal/sched and
// internal/ksync).
func (g *Gate) Disable() Level {
	<-g.token
	return On
}

// Enable releases the gate, equivalent to SetLevel(On). Idempotent: calling
// it when the gate is already enabled is a no-op, not an error — this is
// what lets a newly dispatched thread's trampoline, or the idle loop's
// post-wake "sti", unconditionally enable without knowing which goroutine
// last disabled.
func (g *Gate) Enable() {
	select {
	case g.token <- struct{}{}:
	default:
	}
}

// SetLevel restores a previously observed level. Passing On releases the
// gate; passing Off is a (rare) no-op that keeps the gate held, matching
// intr_set_level(INTR_OFF) after a nested intr_disable.
func (g *Gate) SetLevel(prev Level) {
	if prev {
		g.Enable()
	}
}

// AssertDisabled panics if the gate is not currently held. Used at the top
// of functions documented as "requires interrupts disabled". Never blocks:
// it peeks the token non-destructively, immediately returning it if found.
func (g *Gate) AssertDisabled() {
	select {
	case <-g.token:
		g.token <- struct{}{}
		panic("intr: operation requires interrupts disabled")
	default:
	}
}
