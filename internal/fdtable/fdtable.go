// Package fdtable implements the per-process file descriptor table
// §3/§4.9 assigns to C9: a dense mapping from small non-negative integers to
// open file handles, with fds 0/1/2 reserved for stdin/stdout/stderr and
// allocation returning the smallest free index ≥ 3.
package fdtable

import (
	"errors"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

// Reserved standard descriptors.
const (
	Stdin = 0
	Stdout = 1
	Stderr = 2
)

// Limit caps the number of entries a table may hold, the Go analogue of
// Pintos's FD_NUM_LIMIT / FDT_PAGES-sized array (process.c's __do_fork
// checks "fd_idx >= FD_NUM_LIMIT").
const Limit = 512

// ErrLimit is returned by Open/Install when the table is full.
var ErrLimit = errors.New("fdtable: descriptor limit reached")

// Console is the sentinel handle installed at Stdin/Stdout/Stderr: fd 1's
// write fast-paths the console without the filesystem lock,
// so the table needs to recognize these entries rather than treat them as
// ordinary devices.File values.
type Console struct{}

func (Console) Close() error { return nil }
func (Console) Read(buf []byte) (int, error) { return 0, errors.New("fdtable: console is not readable") }
func (Console) Write(buf []byte) (int, error) { return len(buf), nil }
func (Console) Length() int64 { return 0 }
func (Console) Seek(pos int64) {}
func (Console) Tell() int64 { return 0 }
func (Console) Duplicate() devices.File { return Console{} }
func (Console) DenyWrite() {}
func (Console) AllowWrite() {}

var _ devices.File = Console{}

// Table is one process's fd table.
type Table struct {
	entries map[int]devices.File
	next int // smallest candidate index for the next Open, advanced lazily
}

// New returns a table with the standard streams pre-populated.
func New() *Table {
	t := &Table{
		entries: make(map[int]devices.File),
		next: 3,
	}
	t.entries[Stdin] = Console{}
	t.entries[Stdout] = Console{}
	t.entries[Stderr] = Console{}
	return t
}

// Open installs f at the smallest free index ≥ 3 and returns it, or
// ErrLimit if the table is full.
func (t *Table) Open(f devices.File) (int, error) {
	for fd := t.next; fd < Limit; fd++ {
		if _, ok := t.entries[fd]; !ok {
			t.entries[fd] = f
			t.next = fd + 1
			return fd, nil
		}
	}
	// Close lowers next to any fd it frees, so every index in [3, next) is
	// in use and this full scan from 3 finds nothing the loop above missed;
	// it is a defensive fallback only.
	for fd := 3; fd < Limit; fd++ {
		if _, ok := t.entries[fd]; !ok {
			t.entries[fd] = f
			t.next = fd + 1
			return fd, nil
		}
	}
	return -1, ErrLimit
}

// Get returns the handle at fd, or nil if unopened.
func (t *Table) Get(fd int) devices.File {
	return t.entries[fd]
}

// Close clears fd's entry, closing its handle; a no-op if fd was not open
//.
func (t *Table) Close(fd int) {
	f, ok := t.entries[fd]
	if !ok {
		return
	}
	delete(t.entries, fd)
	if fd >= 3 && fd < t.next {
		t.next = fd
	}
	if fd != Stdin && fd != Stdout && fd != Stderr {
		_ = f.Close()
	}
}

// CloseAll closes every open descriptor; called from process exit. Implements kthread.FileTable.
func (t *Table) CloseAll() {
	for fd, f := range t.entries {
		delete(t.entries, fd)
		if fd != Stdin && fd != Stdout && fd != Stderr {
			_ = f.Close()
		}
	}
	t.next = 3
}

// Duplicate builds a child table sharing this table's open files via each
// handle's own Duplicate, for fork's fd-table duplication.
// Fails if this table holds more entries than Limit allows to be copied.
func (t *Table) Duplicate() (*Table, error) {
	if len(t.entries) > Limit {
		return nil, ErrLimit
	}
	child := &Table{entries: make(map[int]devices.File, len(t.entries)), next: t.next}
	for fd, f := range t.entries {
		if fd == Stdin || fd == Stdout || fd == Stderr {
			child.entries[fd] = f
			continue
		}
		child.entries[fd] = f.Duplicate()
	}
	return child, nil
}
