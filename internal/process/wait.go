package process

import "github.com/joeycumines/go-tinykernel/internal/kthread"

// Wait implements process_wait/get_child: blocks parent
// until the child identified by childID exits, returns its exit status, and
// unlinks it from ChildSet so it cannot be waited on twice. Returns -1
// without blocking if childID names no thread in parent's ChildSet —
// either because it never was a child, or because an earlier Wait already
// reaped it.
func (m *Manager) Wait(parent *kthread.Thread, childID uint64) int32 {
	idx := -1
	for i, c := range parent.ChildSet {
		if c.ID == childID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return -1
	}
	child := parent.ChildSet[idx]

	parent.ChildSet = append(parent.ChildSet[:idx], parent.ChildSet[idx+1:]...)

	child.WaitSema.Down()
	status := child.ExitStatus
	child.FreeSema.Up()
	return status
}
