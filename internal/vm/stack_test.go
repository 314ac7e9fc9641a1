package vm_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/trapframe"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

func TestTokenize_SplitsOnSpacesAndCapsAtMaxArgs(t *testing.T) {
	assert.Equal(t, []string{"echo", "hello", "world"}, vm.Tokenize("echo hello world"))
	assert.Equal(t, []string{"a", "b"}, vm.Tokenize("  a   b  "), "repeated/leading/trailing spaces produce no empty tokens")

	long := ""
	for i := 0; i < vm.MaxArgs+10; i++ {
		long += "x "
	}
	assert.Len(t, vm.Tokenize(long), vm.MaxArgs)
}

func TestSetupStack_MapsStackPageAndReturnsUserStack(t *testing.T) {
	s := vm.NewSpace(devices.NewPages())

	rsp, err := vm.SetupStack(s)
	require.NoError(t, err)
	assert.Equal(t, uint64(vm.UserStack), rsp)

	assert.NoError(t, s.WriteAt(vm.UserStack-1, []byte{0xAB}))
}

func TestArgumentStack_LaysOutArgvPerAlgorithm(t *testing.T) {
	s := vm.NewSpace(devices.NewPages())
	rsp, err := vm.SetupStack(s)
	require.NoError(t, err)

	frame := &trapframe.Frame{RSP: rsp}
	argv := []string{"prog", "a", "bb"}

	require.NoError(t, vm.ArgumentStack(frame, s, argv))

	assert.Equal(t, uint64(len(argv)), frame.RDI, "rdi must carry argc")
	assert.Zero(t, frame.RSP%8, "final rsp must be 8-byte aligned (argv pointer array + fake return address)")
	assert.Less(t, frame.RSP, rsp, "pushing data must move rsp downward")

	// The fake return address occupies the 8 bytes directly below rsp's
	// aligned base; frame.RSI must point just above it, at argv[0].
	assert.Equal(t, frame.RSP+8, frame.RSI)

	readU64 := func(addr uint64) uint64 {
		buf := make([]byte, 8)
		require.NoError(t, s.ReadAt(addr, buf))
		return binary.LittleEndian.Uint64(buf)
	}

	// argv[n] sentinel must be NULL.
	argvN := readU64(frame.RSI + uint64(len(argv))*8)
	assert.Zero(t, argvN)

	// Each argv[i] address must point at the matching NUL-terminated token.
	for i, want := range argv {
		addr := readU64(frame.RSI + uint64(i)*8)
		buf := make([]byte, len(want)+1)
		require.NoError(t, s.ReadAt(addr, buf))
		assert.Equal(t, want, string(buf[:len(want)]))
		assert.Zero(t, buf[len(want)], "token must be NUL-terminated")
	}
}

func TestArgumentStack_NoArgsStillProducesValidFrame(t *testing.T) {
	s := vm.NewSpace(devices.NewPages())
	rsp, err := vm.SetupStack(s)
	require.NoError(t, err)

	frame := &trapframe.Frame{RSP: rsp}
	require.NoError(t, vm.ArgumentStack(frame, s, nil))

	assert.Zero(t, frame.RDI)
	assert.Zero(t, frame.RSP%8)
}
