package process

import (
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
)

// Exit implements process_exit: records status, prints the
// termination line, releases the running-image handle and every open fd,
// then signals WaitSema (unblocking a parent parked in Wait) and blocks on
// FreeSema until that parent (or anyone else) reaps it by calling Wait.
// Finally hands off to the scheduler's own Exit, which never returns.
//
// A thread with no parent waiting yet still must go through FreeSema:
// real Pintos leaves a never-waited child as a permanent zombie consuming
// its thread_current()-sized page; the same is true here, deliberately — it
// is the accepted cost of exactly mirroring the handshake rather than
// inventing a GC-only lifetime this kernel's model doesn't have.
func (m *Manager) Exit(t *kthread.Thread, status int32) {
	t.ExitStatus = status
	m.log.Info().Tid(t.ID).Int("status", int(status)).Str("name", t.Name).Log(fmt.Sprintf("%s: exit(%d)", t.Name, status))

	if t.Running != nil {
		if f, ok := t.Running.(devices.File); ok {
			f.AllowWrite()
		}
		_ = t.Running.Close()
		t.Running = nil
	}
	if t.Files != nil {
		t.Files.CloseAll()
	}
	if t.Space != nil {
		t.Space.Destroy()
		t.Space = nil
	}

	t.WaitSema.Up()
	t.FreeSema.Down()

	m.Kernel.Exit()
}
