package process

import (
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

// Fork implements process_fork/__do_fork: it creates a child
// thread that duplicates parent's address space, fd table and running-image
// handle, then resumes parent's own trap frame with RAX forced to 0. The
// parent blocks on the child's ForkSema until duplication has either
// succeeded or definitively failed, exactly as __do_fork's final
// sema_up(&parent->fork_sema) pairs with process_fork's
// sema_down(&child->fork_sema) — the parent never observes a half-built
// child.
//
// Fork returns the child's thread ID on success. On duplication failure it
// returns an error and the child still runs to completion as a normal exit
// with status -1: a failed fork still ups fork_sema (unblocking the
// parent), and the now-doomed child still must be waited on — and its
// FreeSema still downed — before it is reclaimed, matching the real
// kernel's behavior rather than silently discarding the child record.
func (m *Manager) Fork(parent *kthread.Thread, name string, childBody Program) (uint64, error) {
	parent.ParentIntrFrame = parent.Frame

	var dupErr error
	child, err := m.Kernel.CreateWithInit(name, parent.Priority, func(t *kthread.Thread) {
		m.runForked(t, parent, childBody, &dupErr)
	}, func(t *kthread.Thread) {
		m.initProcessFields(t)
		parent.ChildSet = append(parent.ChildSet, t)
	})
	if err != nil {
		return 0, fmt.Errorf("process: fork %s: %w", name, err)
	}

	child.ForkSema.Down()
	if dupErr != nil {
		return 0, fmt.Errorf("process: fork %s: %w: %w", name, ErrForkFailed, dupErr)
	}
	return child.ID, nil
}

// runForked is a forked child's trampoline: duplicate the parent's address
// space, fd table and running image, install the parent's frame with
// RAX=0, then hand off to childBody. Any duplication failure is recorded
// into dupErr and ForkSema is still raised (so the parent is never left
// blocked) before the child exits with status -1.
func (m *Manager) runForked(t, parent *kthread.Thread, childBody Program, dupErr *error) {
	if err := m.duplicateInto(t, parent); err != nil {
		m.log.Err().Err(err).Str("name", t.Name).Log("fork duplication failed")
		*dupErr = err
		t.ForkSema.Up()
		m.Exit(t, -1)
		return
	}
	t.ForkSema.Up()

	if childBody != nil {
		childBody(m, t)
	}
	m.Exit(t, 0)
}

// duplicateInto performs __do_fork's copy step: address space, fd table and
// running-image handle, plus installing parent's saved frame with the
// child's return value (RAX) forced to 0.
func (m *Manager) duplicateInto(t, parent *kthread.Thread) error {
	parentSpace, ok := parent.Space.(*vm.Space)
	if !ok {
		return fmt.Errorf("process: parent has no address space to fork from")
	}
	space, err := parentSpace.Duplicate(m.Pages)
	if err != nil {
		return fmt.Errorf("duplicate space: %w", err)
	}
	t.Space = space

	files, err := duplicateFiles(parent)
	if err != nil {
		space.Destroy()
		return fmt.Errorf("duplicate files: %w", err)
	}
	t.Files = files

	if parent.Running != nil {
		t.Running = duplicateRunning(parent.Running)
	}

	t.Frame = parent.ParentIntrFrame
	t.Frame.RAX = 0
	return nil
}
