// Package ksync implements locks with priority donation on
// top of internal/kthread's plain Semaphore. Donation is the one piece of
// kernel logic that genuinely needs both Thread and Semaphore in scope at
// once, which is why it lives one layer up rather than inside kthread
// itself.
package ksync

import "github.com/joeycumines/go-tinykernel/internal/kthread"

// Lock is Lock: a holder, an inner binary semaphore, and
// (implicitly, via Thread.Donors) a position in the holder's donation set.
type Lock struct {
	sched kthread.Scheduler
	sema *kthread.Semaphore
	holder *kthread.Thread
}

// NewLock returns an unheld lock.
func NewLock(sched kthread.Scheduler) *Lock {
	return &Lock{sched: sched, sema: kthread.NewSemaphore(sched, 1)}
}

// LockHolder implements kthread.LockRef.
func (l *Lock) LockHolder() *kthread.Thread { return l.holder }

// IsHeld reports whether the lock currently has a holder.
func (l *Lock) IsHeld() bool { return l.holder != nil }

// Acquire implements acquire(L) protocol, called by the
// thread that wants the lock (not already its holder). Acquire disables the
// gate itself only around the donation bookkeeping, then restores it before
// calling sema.Down — which disables again on its own — rather than holding
// it across the whole call: Down may block, and Disable has no nested form
// (see internal/intr.Gate.Disable).
func (l *Lock) Acquire() {
	cur := l.sched.Current()
	prev := l.sched.GateDisable()
	if l.holder != nil && l.holder != cur {
		cur.WaitingLock = l
		donors := l.holder.Donors
		i := 0
		for i < len(donors) && donors[i].Priority >= cur.Priority {
			i++
		}
		donors = append(donors, nil)
		copy(donors[i+1:], donors[i:])
		donors[i] = cur
		l.holder.Donors = donors
		l.donate(cur)
	}
	l.sched.GateRestore(prev)

	l.sema.Down()
	cur.WaitingLock = nil
	l.holder = cur
}

// donate walks the chain cur -> cur.WaitingLock.Holder ->... up to
// DonationDepthLimit steps, lifting each walked thread's current priority
// to at least donor's, per step 1. donor is the thread newly
// entering the wait set (cur, at the call site above); every step lifts the
// walked holder to donor's own priority.
func (l *Lock) donate(donor *kthread.Thread) {
	holder := l.holder
	for depth := 0; depth < kthread.DonationDepthLimit && holder != nil; depth++ {
		holder.Donate(donor.Priority)
		ref := holder.WaitingLock
		if ref == nil {
			break
		}
		holder = ref.LockHolder()
	}
}

// Release implements release(L) protocol, called by the
// current holder. As in Acquire, the gate is held only around the donor-set
// bookkeeping; sema.Up manages its own disable/restore around the wake and
// the resulting PreemptIfOutranked check.
func (l *Lock) Release() {
	cur := l.holder
	prev := l.sched.GateDisable()
	pruned := cur.Donors[:0]
	for _, d := range cur.Donors {
		if d.WaitingLock != l {
			pruned = append(pruned, d)
		}
	}
	cur.Donors = pruned
	cur.Refresh()
	l.sched.GateRestore(prev)

	l.holder = nil
	l.sema.Up()
}
