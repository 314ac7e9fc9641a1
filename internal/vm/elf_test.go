package vm_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-tinykernel/internal/devices"
	"github.com/joeycumines/go-tinykernel/internal/vm"
)

const (
	testEhSize = 64
	testPhSize = 56
)

// phdrSpec is one program header to bake into a synthetic ELF64 image.
type phdrSpec struct {
	typ    uint32
	flags  uint32
	offset uint64
	vaddr  uint64
	filesz uint64
	memsz  uint64
}

// buildELF assembles a minimal, valid-by-default ELF64 executable image:
// one header, the given program headers, and segData placed at the file
// offset each LOAD phdrSpec names. The image is sized to the highest
// referenced file offset, rounded up.
func buildELF(t *testing.T, entry uint64, phdrs []phdrSpec, segData map[uint64][]byte) []byte {
	t.Helper()

	phOff := uint64(testEhSize)
	size := phOff + uint64(len(phdrs))*testPhSize
	for off, data := range segData {
		if end := off + uint64(len(data)); end > size {
			size = end
		}
	}
	buf := make([]byte, size)
	le := binary.LittleEndian

	copy(buf[0:7], []byte{0x7f, 'E', 'L', 'F', 2, 1, 1})
	le.PutUint16(buf[16:], 2)    // e_type = ET_EXEC
	le.PutUint16(buf[18:], 0x3e) // e_machine = AMD64
	le.PutUint32(buf[20:], 1)    // e_version
	le.PutUint64(buf[24:], entry)
	le.PutUint64(buf[32:], phOff)
	le.PutUint16(buf[54:], testPhSize)
	le.PutUint16(buf[56:], uint16(len(phdrs)))

	for i, ph := range phdrs {
		base := phOff + uint64(i)*testPhSize
		le.PutUint32(buf[base+0:], ph.typ)
		le.PutUint32(buf[base+4:], ph.flags)
		le.PutUint64(buf[base+8:], ph.offset)
		le.PutUint64(buf[base+16:], ph.vaddr)
		le.PutUint64(buf[base+32:], ph.filesz)
		le.PutUint64(buf[base+40:], ph.memsz)
	}

	for off, data := range segData {
		copy(buf[off:], data)
	}
	return buf
}

func openFixture(t *testing.T, name string, data []byte) devices.File {
	t.Helper()
	fs := devices.NewMemFS()
	require.True(t, fs.Create(name, int64(len(data))))
	f, err := fs.Open(name)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	f.Seek(0)
	return f
}

func TestLoad_ValidExecutableMapsSegmentAndReturnsEntry(t *testing.T) {
	const vaddr = uint64(0x500000)
	raw := buildELF(t, vaddr,
		[]phdrSpec{{typ: 1 /* LOAD */, flags: 4 /* PF_R */, offset: 0x1000, vaddr: vaddr, filesz: 5, memsz: vm.PageSize}},
		map[uint64][]byte{0x1000: []byte("hello")},
	)
	f := openFixture(t, "prog", raw)

	s := vm.NewSpace(devices.NewPages())
	entry, err := vm.Load(f, s)
	require.NoError(t, err)
	assert.Equal(t, vaddr, entry)

	got := make([]byte, 5)
	require.NoError(t, s.ReadAt(vaddr, got))
	assert.Equal(t, "hello", string(got))

	require.Len(t, s.Segments, 1)
	assert.Equal(t, vaddr, s.Segments[0].Vaddr)
}

func TestLoad_WritableSegmentHonorsWriteFlag(t *testing.T) {
	const vaddr = uint64(0x500000)
	raw := buildELF(t, vaddr,
		[]phdrSpec{{typ: 1, flags: 4 | 2 /* PF_R|PF_W */, offset: 0x1000, vaddr: vaddr, filesz: 4, memsz: vm.PageSize}},
		map[uint64][]byte{0x1000: []byte("data")},
	)
	f := openFixture(t, "prog", raw)

	s := vm.NewSpace(devices.NewPages())
	_, err := vm.Load(f, s)
	require.NoError(t, err)

	assert.NoError(t, s.WriteAt(vaddr, []byte("XXXX")))
}

func TestLoad_RejectsBadMagic(t *testing.T) {
	raw := buildELF(t, 0x500000, nil, nil)
	raw[0] = 0 // corrupt magic
	f := openFixture(t, "prog", raw)

	_, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	assert.ErrorIs(t, err, vm.ErrBadExecutable)
}

func TestLoad_RejectsDynamicSegment(t *testing.T) {
	raw := buildELF(t, 0x500000,
		[]phdrSpec{{typ: 2 /* PT_DYNAMIC */, offset: 0x1000, vaddr: 0x500000, filesz: 0, memsz: 0}},
		nil,
	)
	f := openFixture(t, "prog", raw)

	_, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	assert.ErrorIs(t, err, vm.ErrBadExecutable)
}

func TestLoad_IgnoresNullNoteStackSegments(t *testing.T) {
	const vaddr = uint64(0x500000)
	raw := buildELF(t, vaddr, []phdrSpec{
		{typ: 0 /* NULL */, offset: 0, vaddr: 0, filesz: 0, memsz: 0},
		{typ: 4 /* NOTE */, offset: 0, vaddr: 0, filesz: 0, memsz: 0},
		{typ: 0x6474e551 /* STACK */, offset: 0, vaddr: 0, filesz: 0, memsz: 0},
		{typ: 1, flags: 4, offset: 0x1000, vaddr: vaddr, filesz: 3, memsz: vm.PageSize},
	}, map[uint64][]byte{0x1000: []byte("hey")})
	f := openFixture(t, "prog", raw)

	entry, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	require.NoError(t, err)
	assert.Equal(t, vaddr, entry)
}

func TestLoad_RejectsMismatchedPageOffset(t *testing.T) {
	raw := buildELF(t, 0x500000,
		[]phdrSpec{{typ: 1, flags: 4, offset: 0x1001 /* offset page-offset != vaddr page-offset */, vaddr: 0x500000, filesz: 3, memsz: vm.PageSize}},
		map[uint64][]byte{0x1001: []byte("hey")},
	)
	f := openFixture(t, "prog", raw)

	_, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	assert.ErrorIs(t, err, vm.ErrBadExecutable)
}

func TestLoad_RejectsSegmentCoveringPageZero(t *testing.T) {
	raw := buildELF(t, 0x1000,
		[]phdrSpec{{typ: 1, flags: 4, offset: 0x1000, vaddr: 0, filesz: 3, memsz: vm.PageSize}},
		map[uint64][]byte{0x1000: []byte("hey")},
	)
	f := openFixture(t, "prog", raw)

	_, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	assert.ErrorIs(t, err, vm.ErrBadExecutable)
}

func TestLoad_RejectsMemszSmallerThanFilesz(t *testing.T) {
	raw := buildELF(t, 0x500000,
		[]phdrSpec{{typ: 1, flags: 4, offset: 0x1000, vaddr: 0x500000, filesz: 100, memsz: 10}},
		map[uint64][]byte{0x1000: make([]byte, 100)},
	)
	f := openFixture(t, "prog", raw)

	_, err := vm.Load(f, vm.NewSpace(devices.NewPages()))
	assert.ErrorIs(t, err, vm.ErrBadExecutable)
}
