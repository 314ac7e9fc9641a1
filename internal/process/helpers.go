package process

import (
	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/fdtable"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
)

// fdTableDuplicator is the minimal view of internal/fdtable.Table's
// Duplicate method, declared here rather than imported as a concrete type
// dependency so this file reads as "what process needs from a file table",
// matching kthread.FileTable's own minimal-interface style.
type fdTableDuplicator interface {
	Duplicate() (*fdtable.Table, error)
	CloseAll()
}

func duplicateFiles(parent *kthread.Thread) (*fdtable.Table, error) {
	src, ok := parent.Files.(fdTableDuplicator)
	if !ok || src == nil {
		return fdtable.New(), nil
	}
	return src.Duplicate()
}

// duplicateRunning returns an independent handle onto running's underlying
// bytes, deny-write held a second time on the child's behalf — the same
// file may be the running image of more than one process once forked
//.
func duplicateRunning(running kthread.File) kthread.File {
	f, ok := running.(devices.File)
	if !ok {
		return running
	}
	dup := f.Duplicate()
	dup.DenyWrite()
	return dup
}
