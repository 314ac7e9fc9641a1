package process

import (
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

// Exec implements process_exec: tears down t's current
// address space and running-image handle unconditionally, then loads path
// into a fresh one. process_cleanup runs before load in the original for
// the same reason it does here — exec replaces the process image in place,
// so the old image's resources are released regardless of whether the new
// one can be loaded.
//
// On success, newMain replaces whatever Program was driving t — the
// caller's goroutine frame that called Exec is expected to never resume
// past this point in spirit (NOT_REACHED, in the original), since Exec
// itself calls newMain and then Exit before returning to its own caller.
// On failure, t is left with no valid address space and an error is
// returned; the caller must Exit(t, -1) itself, matching syscall_handler's
// own "process_exec failed, so call exit(-1)" fallback for SYS_EXEC.
func (m *Manager) Exec(t *kthread.Thread, path, cmdline string, newMain Program) error {
	if t.Running != nil {
		if f, ok := t.Running.(devices.File); ok {
			f.AllowWrite()
		}
		_ = t.Running.Close()
		t.Running = nil
	}
	if t.Space != nil {
		t.Space.Destroy()
		t.Space = nil
	}

	space := vm.NewSpace(m.Pages)
	t.Space = space
	if err := m.loadInto(t, space, path, cmdline); err != nil {
		return fmt.Errorf("process: exec %s: %w", path, err)
	}

	if newMain != nil {
		newMain(m, t)
	}
	m.Exit(t, 0)
	return nil
}
