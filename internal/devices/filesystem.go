package devices

import (
	"errors"
	"io"
	"sync"
)

// Filesystem error sentinels.
var (
	ErrNotExist = errors.New("devices: no such file")
	ErrExist = errors.New("devices: file already exists")
	ErrDenyWrite = errors.New("devices: file is open for execution")
)

// File is the opaque handle filesystem external collaborator
// exposes: open/read/write/close/length/seek/tell/duplicate/deny-write.
type File interface {
	io.Closer
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Length() int64
	Seek(pos int64)
	Tell() int64
	// Duplicate returns an independent handle onto the same bytes with its
	// own seek position, for fork's fd-table duplication.
	Duplicate() File
	// DenyWrite/AllowWrite implement the currently-executing-image
	// protection: nested, since nothing stops the same
	// file being the running image of more than one process via fork.
	DenyWrite()
	AllowWrite()
}

// FileSystem is filesystem external collaborator.
type FileSystem interface {
	Create(name string, size int64) bool
	Remove(name string) bool
	Open(name string) (File, error)
}

// MemFS is an in-memory FileSystem. A real disk-backed implementation is
// out of scope; this is enough to exercise every operation
// internal/ksyscall and internal/vm's loader drive it through.
type MemFS struct {
	mu sync.Mutex
	files map[string]*memInode
}

// NewMemFS returns an empty filesystem.
func NewMemFS() *MemFS {
	return &MemFS{files: make(map[string]*memInode)}
}

type memInode struct {
	mu sync.Mutex
	data []byte
	denyCount int
}

// Create implements FileSystem.Create: fails if name already exists.
func (fs *MemFS) Create(name string, size int64) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; ok {
		return false
	}
	if size < 0 {
		size = 0
	}
	fs.files[name] = &memInode{data: make([]byte, size)}
	return true
}

// Remove implements FileSystem.Remove.
func (fs *MemFS) Remove(name string) bool {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files[name]; !ok {
		return false
	}
	delete(fs.files, name)
	return true
}

// Open implements FileSystem.Open: returns a fresh handle at position 0.
// Removing a file while handles remain open does not invalidate them — the
// inode they reference is only unreachable from fs.files, not freed —
// matching a Unix filesystem's unlink-while-open semantics, which the
// fork/exec "deny write to running image" contract depends
// on continuing to work after a concurrent Remove.
func (fs *MemFS) Open(name string) (File, error) {
	fs.mu.Lock()
	inode, ok := fs.files[name]
	fs.mu.Unlock()
	if !ok {
		return nil, ErrNotExist
	}
	return &memFile{inode: inode}, nil
}

// memFile is one open handle onto a memInode. pos is private per handle,
// so Duplicate gives fork's child its own seek position sharing the
// parent's bytes.
type memFile struct {
	inode *memInode
	pos int64
}

func (f *memFile) Read(buf []byte) (int, error) {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.pos >= int64(len(f.inode.data)) {
		return 0, io.EOF
	}
	n := copy(buf, f.inode.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Write(buf []byte) (int, error) {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if f.inode.denyCount > 0 {
		return 0, ErrDenyWrite
	}
	end := f.pos + int64(len(buf))
	if end > int64(len(f.inode.data)) {
		grown := make([]byte, end)
		copy(grown, f.inode.data)
		f.inode.data = grown
	}
	n := copy(f.inode.data[f.pos:end], buf)
	f.pos += int64(n)
	return n, nil
}

func (f *memFile) Length() int64 {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	return int64(len(f.inode.data))
}

func (f *memFile) Seek(pos int64) { f.pos = pos }
func (f *memFile) Tell() int64 { return f.pos }

func (f *memFile) Duplicate() File {
	return &memFile{inode: f.inode, pos: f.pos}
}

func (f *memFile) DenyWrite() {
	f.inode.mu.Lock()
	f.inode.denyCount++
	f.inode.mu.Unlock()
}

func (f *memFile) AllowWrite() {
	f.inode.mu.Lock()
	if f.inode.denyCount > 0 {
		f.inode.denyCount--
	}
	f.inode.mu.Unlock()
}

func (f *memFile) Close() error { return nil }
