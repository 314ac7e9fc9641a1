package ksyscall

import (
	"github.com/joeycumines/go-tinykernel/internal/fdtable"
	"github.com/joeycumines/go-tinykernel/internal/kthread"
	"github.com/joeycumines/go-tinykernel/internal/trapframe"
)

// sysFork implements SYS_FORK: name is a user string, the new child
// continues running the same Program the parent is (there is no separate
// instruction stream to fork; process.Fork's childBody parameter is this
// continuation, "child tid (parent) / 0 (child)").
func (d *Dispatcher) sysFork(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	name, ok := readUserString(space, f.Arg(0))
	if !ok {
		d.fault(t)
		return
	}

	body := d.getRunning(t.ID)
	childID, err := d.Manager.Fork(t, name, body)
	if err != nil {
		f.SetReturn(^uint64(0))
		return
	}
	d.setRunning(childID, body)
	f.SetReturn(childID)
}

// sysExec implements SYS_EXEC: path names both the file to load and (per
// the original's convention) the full command line, tokenized by
// internal/vm.Tokenize. Neither outcome returns to the caller: on success
// Manager.Exec runs the resolved Program and then exits the process, and a
// failed load exits the process with status -1.
func (d *Dispatcher) sysExec(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	cmdline, ok := readUserString(space, f.Arg(0))
	if !ok {
		d.fault(t)
		return
	}
	path := cmdline
	if i := indexByte(cmdline, ' '); i >= 0 {
		path = cmdline[:i]
	}

	body := d.Programs[path]
	err := d.Manager.Exec(t, path, cmdline, body)
	if err != nil {
		d.fault(t)
		return
	}
	d.setRunning(t.ID, body)
}

func indexByte(s string, c byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			return i
		}
	}
	return -1
}

// sysWait implements SYS_WAIT.
func (d *Dispatcher) sysWait(t *kthread.Thread, f *trapframe.Frame) {
	status := d.Manager.Wait(t, f.Arg(0))
	f.SetReturn(uint64(uint32(status)))
}

// sysCreate implements SYS_CREATE: path, initial_size -> bool.
func (d *Dispatcher) sysCreate(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	path, ok := readUserString(space, f.Arg(0))
	if !ok {
		d.fault(t)
		return
	}
	size := int64(f.Arg(1))

	d.fsLock.Acquire()
	ok = d.FS.Create(path, size)
	d.fsLock.Release()

	f.SetReturn(boolToU64(ok))
}

// sysRemove implements SYS_REMOVE: path -> bool.
func (d *Dispatcher) sysRemove(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	path, ok := readUserString(space, f.Arg(0))
	if !ok {
		d.fault(t)
		return
	}

	d.fsLock.Acquire()
	ok = d.FS.Remove(path)
	d.fsLock.Release()

	f.SetReturn(boolToU64(ok))
}

// sysOpen implements SYS_OPEN: path -> fd >= 3 or -1.
func (d *Dispatcher) sysOpen(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	path, ok := readUserString(space, f.Arg(0))
	if !ok {
		d.fault(t)
		return
	}

	d.fsLock.Acquire()
	file, err := d.FS.Open(path)
	d.fsLock.Release()
	if err != nil {
		f.SetReturn(^uint64(0))
		return
	}

	fd, err := files.Open(file)
	if err != nil {
		_ = file.Close()
		f.SetReturn(^uint64(0))
		return
	}
	f.SetReturn(uint64(fd))
}

// sysFilesize implements SYS_FILESIZE: fd -> bytes or -1.
func (d *Dispatcher) sysFilesize(t *kthread.Thread, f *trapframe.Frame) {
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	file := files.Get(int(f.Arg(0)))
	if file == nil {
		f.SetReturn(^uint64(0))
		return
	}

	d.fsLock.Acquire()
	n := file.Length()
	d.fsLock.Release()
	f.SetReturn(uint64(n))
}

// sysRead implements SYS_READ: fd, buf, length -> bytes read or -1. fd=0
// (stdin) and any ordinary file go through the filesystem lock; there is no
// console-read fast-path.
func (d *Dispatcher) sysRead(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	addr, length := f.Arg(1), f.Arg(2)
	if !validateBuf(space, addr, length) {
		d.fault(t)
		return
	}
	file := files.Get(int(f.Arg(0)))
	if file == nil {
		f.SetReturn(^uint64(0))
		return
	}

	buf := make([]byte, length)
	d.fsLock.Acquire()
	n, err := file.Read(buf)
	d.fsLock.Release()
	if err != nil && n == 0 {
		f.SetReturn(^uint64(0))
		return
	}
	if err := space.WriteAt(addr, buf[:n]); err != nil {
		d.fault(t)
		return
	}
	f.SetReturn(uint64(n))
}

// sysWrite implements SYS_WRITE: fd, buf, length -> bytes written or -1.
// fd=1 (console) fast-paths around the filesystem lock, in
// MaxConsoleChunk-sized pieces.
func (d *Dispatcher) sysWrite(t *kthread.Thread, f *trapframe.Frame) {
	space, ok := currentSpace(t)
	if !ok {
		d.fault(t)
		return
	}
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	addr, length := f.Arg(1), f.Arg(2)
	if !validateBuf(space, addr, length) {
		d.fault(t)
		return
	}

	buf := make([]byte, length)
	if err := space.ReadAt(addr, buf); err != nil {
		d.fault(t)
		return
	}

	fd := int(f.Arg(0))
	if fd == fdtable.Stdout {
		var written int
		for len(buf) > 0 {
			chunk := buf
			if len(chunk) > MaxConsoleChunk {
				chunk = chunk[:MaxConsoleChunk]
			}
			n, _ := (fdtable.Console{}).Write(chunk)
			written += n
			buf = buf[n:]
		}
		f.SetReturn(uint64(written))
		return
	}

	file := files.Get(fd)
	if file == nil {
		f.SetReturn(^uint64(0))
		return
	}
	d.fsLock.Acquire()
	n, err := file.Write(buf)
	d.fsLock.Release()
	if err != nil && n == 0 {
		f.SetReturn(^uint64(0))
		return
	}
	f.SetReturn(uint64(n))
}

// sysSeek implements SYS_SEEK: fd, position -> void.
func (d *Dispatcher) sysSeek(t *kthread.Thread, f *trapframe.Frame) {
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	if file := files.Get(int(f.Arg(0))); file != nil {
		d.fsLock.Acquire()
		file.Seek(int64(f.Arg(1)))
		d.fsLock.Release()
	}
}

// sysTell implements SYS_TELL: fd -> position.
func (d *Dispatcher) sysTell(t *kthread.Thread, f *trapframe.Frame) {
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	file := files.Get(int(f.Arg(0)))
	if file == nil {
		f.SetReturn(^uint64(0))
		return
	}
	d.fsLock.Acquire()
	pos := file.Tell()
	d.fsLock.Release()
	f.SetReturn(uint64(pos))
}

// sysClose implements SYS_CLOSE: fd -> void. Closing an unopened fd is a
// no-op, handled by fdtable.Table.Close
// itself.
func (d *Dispatcher) sysClose(t *kthread.Thread, f *trapframe.Frame) {
	files, ok := currentFiles(t)
	if !ok {
		d.fault(t)
		return
	}
	d.fsLock.Acquire()
	files.Close(int(f.Arg(0)))
	d.fsLock.Release()
}

func boolToU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
