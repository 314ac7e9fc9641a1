package vm

import (
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/trapframe"
)

// LoadExecutable implements the load(path, frame_out) contract of
// §4.7: opens path, denies it write access for as long as it remains the
// running image, validates and maps its ELF segments into space, sets up the
// initial user stack, and points frame at the entry point and stack top.
// The caller (internal/process) is responsible for tokenizing the command
// line and calling ArgumentStack, and for calling AllowWrite+Close on the
// returned handle when the process releases its running image
// (process_exit, per process.c).
func LoadExecutable(fs devices.FileSystem, path string, space *Space, frame *trapframe.Frame) (devices.File, error) {
	file, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vm: load %s: %w", path, err)
	}
	file.DenyWrite()

	entry, err := Load(file, space)
	if err != nil {
		file.AllowWrite()
		_ = file.Close()
		return nil, fmt.Errorf("vm: load %s: %w", path, err)
	}

	rsp, err := SetupStack(space)
	if err != nil {
		file.AllowWrite()
		_ = file.Close()
		return nil, fmt.Errorf("vm: load %s: setup stack: %w", path, err)
	}

	frame.RIP = entry
	frame.RSP = rsp
	return file, nil
}
