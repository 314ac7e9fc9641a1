package devices_test

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

func TestMemFS_CreateRejectsDuplicateName(t *testing.T) {
	fs := devices.NewMemFS()

	assert.True(t, fs.Create("a.txt", 4))
	assert.False(t, fs.Create("a.txt", 8))
}

func TestMemFS_OpenNonexistentReturnsErrNotExist(t *testing.T) {
	fs := devices.NewMemFS()

	_, err := fs.Open("missing.txt")
	assert.ErrorIs(t, err, devices.ErrNotExist)
}

func TestMemFS_RemoveNonexistentReturnsFalse(t *testing.T) {
	fs := devices.NewMemFS()
	assert.False(t, fs.Remove("missing.txt"))
}

func TestMemFS_RemoveWhileOpenLeavesExistingHandleUsable(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	f, err := fs.Open("a.txt")
	require.NoError(t, err)

	assert.True(t, fs.Remove("a.txt"))

	n, err := f.Write([]byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestMemFile_WriteThenReadRoundTrip(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	f, err := fs.Open("a.txt")
	require.NoError(t, err)

	n, err := f.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, int64(5), f.Length())

	f.Seek(0)
	assert.Equal(t, int64(0), f.Tell())

	buf := make([]byte, 5)
	n, err = f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
	assert.Equal(t, int64(5), f.Tell())
}

func TestMemFile_ReadPastEndReturnsEOF(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 4))

	f, err := fs.Open("a.txt")
	require.NoError(t, err)

	f.Seek(4)
	buf := make([]byte, 1)
	n, err := f.Read(buf)
	assert.Equal(t, 0, n)
	assert.ErrorIs(t, err, io.EOF)
}

func TestMemFile_WriteDeniedWhileExecuting(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	f, err := fs.Open("a.txt")
	require.NoError(t, err)

	f.DenyWrite()
	_, err = f.Write([]byte("x"))
	assert.ErrorIs(t, err, devices.ErrDenyWrite)

	f.AllowWrite()
	n, err := f.Write([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemFile_DenyWriteNestsAcrossDuplicates(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	parent, err := fs.Open("a.txt")
	require.NoError(t, err)
	child := parent.Duplicate()

	parent.DenyWrite()
	child.DenyWrite()

	parent.AllowWrite()
	_, err = child.Write([]byte("x"))
	assert.ErrorIs(t, err, devices.ErrDenyWrite, "still denied until the child's own AllowWrite")

	child.AllowWrite()
	_, err = child.Write([]byte("x"))
	assert.NoError(t, err)
}

func TestMemFile_DuplicateSharesBytesButHasIndependentSeek(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	parent, err := fs.Open("a.txt")
	require.NoError(t, err)

	_, err = parent.Write([]byte("hello"))
	require.NoError(t, err)

	child := parent.Duplicate()
	assert.Equal(t, int64(5), child.Tell(), "duplicate inherits the parent's seek position at the time of the call")

	child.Seek(0)
	assert.Equal(t, int64(0), child.Tell())
	assert.Equal(t, int64(5), parent.Tell(), "seeking one handle must not move the other")

	buf := make([]byte, 5)
	n, err := child.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]), "duplicate reads the same underlying bytes the parent wrote")
}

func TestMemFile_CloseIsANoop(t *testing.T) {
	fs := devices.NewMemFS()
	require.True(t, fs.Create("a.txt", 0))

	f, err := fs.Open("a.txt")
	require.NoError(t, err)

	assert.NoError(t, f.Close())
}
