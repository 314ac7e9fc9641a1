// Package ksyscall implements syscall dispatch: selects
// by the numeric code carried in rax, validates every pointer argument
// against the calling thread's address space, serializes filesystem calls
// behind one global lock, and fast-paths console I/O around it.
package ksyscall

import (
	"sync"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/fdtable"
	"github.com/joeycumines/go-tinykernel/internal/ksync"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/process"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

// Syscall numbers, table.
const (
	Halt = iota
	Exit
	Fork
	Exec
	Wait
	Create
	Remove
	Open
	Filesize
	Read
	Write
	Seek
	Tell
	Close
)

// MaxConsoleChunk bounds a single console write fast-path, matching putbuf's page-at-a-time behavior.
const MaxConsoleChunk = vm.PageSize

// Dispatcher owns the collaborators syscall handling needs: the process
// manager (for exit/fork/exec/wait), the filesystem (guarded by fsLock for
// every library call except the fd=1 console fast-path), and a halt hook
// standing in for the real pio_write-based power-off sequence.
type Dispatcher struct {
	Manager *process.Manager
	FS devices.FileSystem
	Halt func()

	// Programs maps an executable path to the hosted stand-in for what
	// running it does (process.Program's doc comment explains why this
	// exists at all: there is no instruction stream to interpret). Set by
	// the caller (cmd/tinykerneld or a test) before any EXEC/FORK syscall
	// needs to resolve a path.
	Programs map[string]process.Program

	fsLock *ksync.Lock

	mu sync.Mutex
	running map[uint64]process.Program // thread ID -> the Program it's executing, for fork's continuation
}

// NewDispatcher returns a dispatcher serializing filesystem operations
// behind one lock owned by sched.
func NewDispatcher(m *process.Manager, fs devices.FileSystem, sched kthread.Scheduler, halt func()) *Dispatcher {
	return &Dispatcher{
		Manager: m,
		FS: fs,
		Halt: halt,
		Programs: make(map[string]process.Program),
		fsLock: ksync.NewLock(sched),
		running: make(map[uint64]process.Program),
	}
}

// SpawnInitial loads path from Programs and spawns it as a fresh process
//, tracking it as parent's child.
func (d *Dispatcher) SpawnInitial(parent *kthread.Thread, name, path, cmdline string) (*kthread.Thread, error) {
	body := d.Programs[path]
	t, err := d.Manager.Spawn(parent, name, path, cmdline, body)
	if err != nil {
		return nil, err
	}
	d.setRunning(t.ID, body)
	return t, nil
}

func (d *Dispatcher) setRunning(tid uint64, p process.Program) {
	d.mu.Lock()
	d.running[tid] = p
	d.mu.Unlock()
}

func (d *Dispatcher) getRunning(tid uint64) process.Program {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running[tid]
}

// ErrBadPointer is returned by argument validation helpers when a user
// pointer is null, in kernel space, or unmapped.
var ErrBadPointer = errBadPointer{}

type errBadPointer struct{}

func (errBadPointer) Error() string { return "ksyscall: invalid user pointer" }

// Handle dispatches one syscall for t, reading arguments and the selector
// from t.Frame and writing the result back to t.Frame.RAX. A bad pointer
// argument terminates the calling process with exit status -1 rather than
// returning to its caller — Handle
// itself never returns in that case, since Manager.Exit doesn't return.
func (d *Dispatcher) Handle(t *kthread.Thread) {
	f := &t.Frame
	switch f.SyscallNumber() {
	case Halt:
		if d.Halt != nil {
			d.Halt()
		}
	case Exit:
		status := int32(f.Arg(0))
		d.Manager.Exit(t, status)
	case Fork:
		d.sysFork(t, f)
	case Exec:
		d.sysExec(t, f)
	case Wait:
		d.sysWait(t, f)
	case Create:
		d.sysCreate(t, f)
	case Remove:
		d.sysRemove(t, f)
	case Open:
		d.sysOpen(t, f)
	case Filesize:
		d.sysFilesize(t, f)
	case Read:
		d.sysRead(t, f)
	case Write:
		d.sysWrite(t, f)
	case Seek:
		d.sysSeek(t, f)
	case Tell:
		d.sysTell(t, f)
	case Close:
		d.sysClose(t, f)
	default:
		f.SetReturn(^uint64(0)) // -1: unknown syscall number
	}
}

// readUserString copies a NUL-terminated string starting at a user virtual
// address out of t's address space, validating every byte's address as it
// goes. Bounded to one page, matching the original's PGSIZE-limited
// strlcpy-style argument copies.
func readUserString(space *vm.Space, addr uint64) (string, bool) {
	if addr == 0 || !vm.IsUserAddr(addr) {
		return "", false
	}
	buf := make([]byte, 0, 64)
	var b [1]byte
	for i := 0; i < vm.PageSize; i++ {
		if err := space.ReadAt(addr+uint64(i), b[:]); err != nil {
			return "", false
		}
		if b[0] == 0 {
			return string(buf), true
		}
		buf = append(buf, b[0])
	}
	return "", false
}

// validateBuf checks that a user buffer is non-null, starts in user space,
// and has its first and last byte mapped, without requiring it be entirely
// within one page.
func validateBuf(space *vm.Space, addr uint64, length uint64) bool {
	if length == 0 {
		return addr != 0 && vm.IsUserAddr(addr)
	}
	if addr == 0 || !vm.IsUserAddr(addr) {
		return false
	}
	var b [1]byte
	// Spot-check the first and last byte of the range; full per-byte
	// validation is done by ReadAt/WriteAt themselves during the actual
	// transfer, which fail closed on any unmapped page in between.
	if err := space.ReadAt(addr, b[:]); err != nil {
		return false
	}
	if err := space.ReadAt(addr+length-1, b[:]); err != nil {
		return false
	}
	return true
}

func (d *Dispatcher) fault(t *kthread.Thread) {
	d.Manager.Exit(t, -1)
}

func currentSpace(t *kthread.Thread) (*vm.Space, bool) {
	s, ok := t.Space.(*vm.Space)
	return s, ok
}

func currentFiles(t *kthread.Thread) (*fdtable.Table, bool) {
	tbl, ok := t.Files.(*fdtable.Table)
	return tbl, ok
}
