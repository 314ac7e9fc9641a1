// Package devices implements the external collaborators leaves
// as contracts only: the PIT timer device, the page allocator, and the
// filesystem. Each gets one concrete, in-process implementation — there is
// no real chip or disk to program, so the "hardware" here is whatever
// reproduces the contract's observable behavior.
package devices

import (
	"sync"
	"time"

	"github.com/joeycumines/go-tinykernel/internal/klog"
)

// DefaultFreq is the PIT's default interrupt frequency.
const DefaultFreq = 100

// MinFreq and MaxFreq bound the configurable frequency, // "19 ≤ FREQ ≤ 1000".
const (
	MinFreq = 19
	MaxFreq = 1000
)

// TickSink is the consumer a PIT drives. *sched.Kernel satisfies this with
// its Tick method; kept as a narrow interface so this package does not
// import internal/sched.
type TickSink interface {
	Tick()
}

// PIT simulates the 8254 chip (original_source/devices/timer.c): rather
// than programming a count register and waiting for interrupt vector 0x20,
// a goroutine calls sink.Tick() on a time.Ticker scaled so FREQ fires per
// simulated second. There is no I/O port to write; the ticker's period is
// the entire "hardware" configuration surface.
type PIT struct {
	freq int
	sink TickSink
	log *klog.Logger

	stopOnce sync.Once
	done chan struct{}
	stopped chan struct{}
}

// Option configures a PIT at construction.
type Option func(*PIT)

// WithLogger injects a structured logger (see internal/klog).
func WithLogger(l *klog.Logger) Option {
	return func(p *PIT) { p.log = l }
}

// New returns a PIT that will call sink.Tick() freq times per simulated
// second once Run is started. freq is clamped to [MinFreq, MaxFreq]; <= 0
// selects DefaultFreq.
func New(freq int, sink TickSink, opts ...Option) *PIT {
	switch {
	case freq <= 0:
		freq = DefaultFreq
	case freq < MinFreq:
		freq = MinFreq
	case freq > MaxFreq:
		freq = MaxFreq
	}
	p := &PIT{
		freq: freq,
		sink: sink,
		log: klog.NewNoop(),
		done: make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Freq reports the configured tick frequency.
func (p *PIT) Freq() int { return p.freq }

// TickInterval is the real-time duration one simulated tick spans.
func (p *PIT) TickInterval() time.Duration {
	return time.Second / time.Duration(p.freq)
}

// Run delivers ticks until Stop is called. Meant to run on its own
// goroutine (go pit.Run()) for the lifetime of the kernel, the same way a
// dedicated event loop goroutine blocks in its own Run(ctx).
func (p *PIT) Run() {
	defer close(p.stopped)
	t := time.NewTicker(p.TickInterval())
	defer t.Stop()
	p.log.Info().Int("freq", p.freq).Log("PIT started")
	for {
		select {
		case <-t.C:
			p.sink.Tick()
		case <-p.done:
			p.log.Info().Log("PIT stopped")
			return
		}
	}
}

// Stop halts tick delivery and waits for Run to return. Safe to call more
// than once. Must not be called until Run has been started (on its own
// goroutine), or it blocks forever waiting for a Run that will never close
// stopped.
func (p *PIT) Stop() {
	p.stopOnce.Do(func() { close(p.done) })
	<-p.stopped
}
