package vm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

// ELF64 constants, ported from process.c's ELF64_hdr/Phdr
// definitions — "more-or-less verbatim", per the original's own comment.
const (
	elfIdentSize = 16
	elfHdrSize = 64
	phdrSize = 56

	elfTypeExec = 2
	elfMachineAMD64 = 0x3e
	elfVersion = 1
	maxProgHeaders = 1024

	ptNULL = 0
	ptLOAD = 1
	ptDYNAMIC = 2
	ptINTERP = 3
	ptNOTE = 4
	ptSHLIB = 5
	ptPHDR = 6
	ptSTACK = 0x6474e551

	pfX = 1
	pfW = 2
	pfR = 4
)

var elfMagic = [7]byte{0x7f, 'E', 'L', 'F', 2, 1, 1}

// ErrBadExecutable covers every ELF header/program-header validation
// failure.
var ErrBadExecutable = errors.New("vm: error loading executable")

type elfHeader struct {
	Ident [elfIdentSize]byte
	Type uint16
	Machine uint16
	Version uint32
	Entry uint64
	Phoff uint64
	Shoff uint64
	Flags uint32
	Ehsize uint16
	Phentsize uint16
	Phnum uint16
	Shentsize uint16
	Shnum uint16
	Shstrndx uint16
}

type progHeader struct {
	Type uint32
	Flags uint32
	Offset uint64
	Vaddr uint64
	Paddr uint64
	Filesz uint64
	Memsz uint64
	Align uint64
}

// Load validates file as an ELF64 executable and maps its LOAD segments into
// space, following process.c's load(): header checks, then one pass over
// the program header table ignoring NULL/NOTE/PHDR/STACK, failing on
// DYNAMIC/INTERP/SHLIB, and loading LOAD segments page by page. Returns the
// entry point for the trap frame's instruction pointer.
func Load(file devices.File, space *Space) (entry uint64, err error) {
	file.Seek(0)
	hdr, err := readHeader(file)
	if err != nil {
		return 0, err
	}

	length := file.Length()
	for i := 0; i < int(hdr.Phnum); i++ {
		off := int64(hdr.Phoff) + int64(i)*phdrSize
		if off < 0 || off > length {
			return 0, ErrBadExecutable
		}
		file.Seek(off)
		ph, err := readProgHeader(file)
		if err != nil {
			return 0, err
		}

		switch ph.Type {
		case ptNULL, ptNOTE, ptPHDR, ptSTACK:
			// ignored
		case ptDYNAMIC, ptINTERP, ptSHLIB:
			return 0, ErrBadExecutable
		case ptLOAD:
			if err := loadSegment(file, space, ph, length); err != nil {
				return 0, err
			}
		}
	}

	return hdr.Entry, nil
}

func readHeader(file devices.File) (elfHeader, error) {
	var raw [elfHdrSize]byte
	n, err := io.ReadFull(readerFunc(file.Read), raw[:])
	if err != nil || n != elfHdrSize {
		return elfHeader{}, ErrBadExecutable
	}

	var h elfHeader
	copy(h.Ident[:], raw[:elfIdentSize])
	le := binary.LittleEndian
	h.Type = le.Uint16(raw[16:])
	h.Machine = le.Uint16(raw[18:])
	h.Version = le.Uint32(raw[20:])
	h.Entry = le.Uint64(raw[24:])
	h.Phoff = le.Uint64(raw[32:])
	h.Shoff = le.Uint64(raw[40:])
	h.Flags = le.Uint32(raw[48:])
	h.Ehsize = le.Uint16(raw[52:])
	h.Phentsize = le.Uint16(raw[54:])
	h.Phnum = le.Uint16(raw[56:])
	h.Shentsize = le.Uint16(raw[58:])
	h.Shnum = le.Uint16(raw[60:])
	h.Shstrndx = le.Uint16(raw[62:])

	if [7]byte(h.Ident[:7]) != elfMagic ||
		h.Type != elfTypeExec ||
		h.Machine != elfMachineAMD64 ||
		h.Version != elfVersion ||
		h.Phentsize != phdrSize ||
		h.Phnum > maxProgHeaders {
		return elfHeader{}, fmt.Errorf("%w: header validation failed", ErrBadExecutable)
	}
	return h, nil
}

func readProgHeader(file devices.File) (progHeader, error) {
	var raw [phdrSize]byte
	n, err := io.ReadFull(readerFunc(file.Read), raw[:])
	if err != nil || n != phdrSize {
		return progHeader{}, ErrBadExecutable
	}
	le := binary.LittleEndian
	return progHeader{
		Type: le.Uint32(raw[0:]),
		Flags: le.Uint32(raw[4:]),
		Offset: le.Uint64(raw[8:]),
		Vaddr: le.Uint64(raw[16:]),
		Paddr: le.Uint64(raw[24:]),
		Filesz: le.Uint64(raw[32:]),
		Memsz: le.Uint64(raw[40:]),
		Align: le.Uint64(raw[48:]),
	}, nil
}

// validateSegment implements process.c's validate_segment: offset/vaddr
// share a page offset, the segment lies within the file and within user
// space without wrapping, is non-empty, and does not cover page 0.
func validateSegment(ph progHeader, fileLength int64) error {
	if (ph.Offset & PageMask) != (ph.Vaddr & PageMask) {
		return ErrBadExecutable
	}
	if ph.Offset > uint64(fileLength) {
		return ErrBadExecutable
	}
	if ph.Memsz < ph.Filesz {
		return ErrBadExecutable
	}
	if ph.Memsz == 0 {
		return ErrBadExecutable
	}
	if !IsUserAddr(ph.Vaddr) || !IsUserAddr(ph.Vaddr+ph.Memsz) {
		return ErrBadExecutable
	}
	if ph.Vaddr+ph.Memsz < ph.Vaddr {
		return ErrBadExecutable
	}
	if ph.Vaddr < PageSize {
		return ErrBadExecutable
	}
	return nil
}

// loadSegment maps one validated LOAD segment: reads p_filesz bytes from
// file into consecutive user pages starting at the page containing p_vaddr,
// zero-fills the remainder up to p_memsz rounded to the page size, and sets
// the writable bit from PF_W.
func loadSegment(file devices.File, space *Space, ph progHeader, fileLength int64) error {
	if err := validateSegment(ph, fileLength); err != nil {
		return err
	}

	writable := ph.Flags&pfW != 0
	memPage := pageAlign(ph.Vaddr)
	pageOfs := ph.Vaddr & PageMask

	var readBytes, totalBytes uint64
	if ph.Filesz > 0 {
		readBytes = pageOfs + ph.Filesz
		totalBytes = roundUp(pageOfs + ph.Memsz)
	} else {
		readBytes = 0
		totalBytes = roundUp(pageOfs + ph.Memsz)
	}

	file.Seek(int64(pageAlign(ph.Offset)))
	remainingRead := readBytes
	for written := uint64(0); written < totalBytes; written += PageSize {
		buf, err := space.MapPage(memPage+written, writable)
		if err != nil {
			return err
		}
		n := remainingRead
		if n > PageSize {
			n = PageSize
		}
		if n > 0 {
			got, err := io.ReadFull(readerFunc(file.Read), buf[:n])
			if err != nil || uint64(got) != n {
				return fmt.Errorf("%w: short read loading segment", ErrBadExecutable)
			}
			remainingRead -= n
		}
		// buf[n:] is already zero from devices.Pages.Alloc's contract.
	}
	space.Segments = append(space.Segments, Segment{
		Vaddr: ph.Vaddr,
		Filesz: ph.Filesz,
		Memsz: ph.Memsz,
		Writable: writable,
	})
	return nil
}

// readerFunc adapts devices.File.Read's (int, error) signature to io.Reader.
type readerFunc func(buf []byte) (int, error)

func (f readerFunc) Read(buf []byte) (int, error) { return f(buf) }
