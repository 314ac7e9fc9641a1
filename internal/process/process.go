// Package process implements the fork/exec/wait/exit lifecycle
// assigns to C8: the parent/child semaphore handshake, address-space and
// fd-table duplication on fork, ELF replacement on exec, and reaping on
// wait — built on internal/sched, internal/vm, internal/fdtable and
// internal/devices.
//
// There is no real instruction stream for a loaded executable to run: a
// Program is the hosted stand-in for "whatever the entry point does",
// supplied by the caller (cmd/tinykerneld or a test) rather than
// interpreted from the loaded bytes. Everything upstream of that —
// validating and mapping the ELF, setting up the stack and argv, the
// fork/wait handshake, fd duplication — is the real kernel-side mechanism
// specifies, and is exercised in full regardless of what a given
// Program chooses to do.
package process

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/fdtable"
	"github.com/joeycumines/go-tinykernel/internal/klog"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/sched"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

// ErrForkFailed wraps a failure to duplicate a forking thread's resources
// (resource-exhaustion case: fork reports failure to the
// parent rather than panicking, and the child still runs exit(-1)).
var ErrForkFailed = errors.New("process: fork duplication failed")

// Program is the hosted stand-in for a loaded executable's entry point: it
// receives the Manager and its own thread, and is expected to conclude by
// calling Manager.Exit (which never returns) — the same discipline
// process_exec's NOT_REACHED() documents for the real kernel.
type Program func(m *Manager, t *kthread.Thread)

// Manager owns the collaborators process lifecycle operations need: the
// scheduler, the filesystem, and the page allocator backing every address
// space it creates.
type Manager struct {
	Kernel *sched.Kernel
	FS devices.FileSystem
	Pages devices.Pages
	log *klog.Logger
}

// Option configures a Manager at construction.
type Option func(*Manager)

// WithLogger injects a structured logger (see internal/klog).
func WithLogger(l *klog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// NewManager returns a process lifecycle manager over the given kernel,
// filesystem and page allocator.
func NewManager(k *sched.Kernel, fs devices.FileSystem, pages devices.Pages, opts ...Option) *Manager {
	m := &Manager{Kernel: k, FS: fs, Pages: pages, log: klog.NewNoop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// initProcessFields attaches the fork/wait/free handshake semaphores and an
// empty fd table to a newly created process thread, run via
// sched.Kernel.CreateWithInit so every field is populated before the thread
// can possibly be dispatched.
func (m *Manager) initProcessFields(t *kthread.Thread) {
	t.ForkSema = kthread.NewSemaphore(m.Kernel, 0)
	t.WaitSema = kthread.NewSemaphore(m.Kernel, 0)
	t.FreeSema = kthread.NewSemaphore(m.Kernel, 0)
	t.Files = fdtable.New()
}

// Spawn creates a fresh process thread that runs main from a clean address
// space loaded from path, with the given command-line arguments appended
// after path itself. parent, if non-nil, has the new thread appended to its ChildSet so
// it can later Wait on it; pass nil for a thread with no reaper (the boot
// thread should always pass itself, so -q has something to wait on before
// halting).
func (m *Manager) Spawn(parent *kthread.Thread, name, path, cmdline string, main Program) (*kthread.Thread, error) {
	child, err := m.Kernel.CreateWithInit(name, kthread.PriDefault, func(t *kthread.Thread) {
		m.runEntry(t, path, cmdline, main)
	}, func(t *kthread.Thread) {
		m.initProcessFields(t)
		if parent != nil {
			parent.ChildSet = append(parent.ChildSet, t)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("process: spawn %s: %w", name, err)
	}
	return child, nil
}

// runEntry is every process thread's trampoline body: load path, marshal
// cmdline's tokens onto the stack, then hand off to main. A load failure
// exits the thread with status -1 without ever invoking main, mirroring
// initd's `if (process_exec(f_name) < 0) PANIC(...)` — except a failed
// spawn here is a normal (if unusual) process exit, not a kernel panic,
// since nothing downstream depends on this specific thread surviving.
func (m *Manager) runEntry(t *kthread.Thread, path, cmdline string, main Program) {
	space := vm.NewSpace(m.Pages)
	t.Space = space
	if err := m.loadInto(t, space, path, cmdline); err != nil {
		m.log.Err().Err(err).Str("path", path).Log("load failed")
		m.Exit(t, -1)
		return
	}
	if main != nil {
		main(m, t)
	}
	m.Exit(t, 0)
}

// loadInto performs the load(path, frame_out) contract plus
// argument marshalling, installing the result onto t.
func (m *Manager) loadInto(t *kthread.Thread, space *vm.Space, path, cmdline string) error {
	file, err := vm.LoadExecutable(m.FS, path, space, &t.Frame)
	if err != nil {
		return err
	}
	t.Running = file

	argv := append([]string{path}, vm.Tokenize(cmdline)...)
	if len(argv) > vm.MaxArgs {
		argv = argv[:vm.MaxArgs]
	}
	return vm.ArgumentStack(&t.Frame, space, argv)
}
