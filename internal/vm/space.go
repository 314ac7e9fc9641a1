// Package vm implements the address-space and ELF-loading contract
// §4.7 assigns to C7: create an address space backed by the page allocator,
// validate and map an ELF64 executable's loadable segments into it, and lay
// out the initial user stack with marshalled argv.
//
// There are no real page tables here — no MMU to program, just as
// internal/devices has no real disk or PIT chip. A Space is
// a sparse map from page-aligned virtual address to a backing page obtained
// from a devices.Pages allocator, which is enough to exercise every
// validation rule and byte-layout invariant the loader and argument-stack
// algorithms are specified against.
package vm

import (
	"errors"
	"fmt"

	"github.com/joeycumines/go-tinykernel/internal/devices"
)

// Layout constants, matching the x86-64 Pintos vaddr.h defaults: user
// addresses lie below KernBase, and the user stack grows down from
// UserStack, which sits well below KernBase.
const (
	PageSize = devices.PageSize
	PageMask = PageSize - 1
	KernBase = 0x8004000000
	UserStack = 0x47480000
)

var (
	// ErrAlreadyMapped is returned by MapPage when a page already exists at
	// the requested virtual address.
	ErrAlreadyMapped = errors.New("vm: page already mapped")
	// ErrNotMapped is returned when reading or writing through an
	// unmapped virtual address.
	ErrNotMapped = errors.New("vm: page not mapped")
	// ErrKernelAddress is returned when a requested mapping or access
	// falls in or above the kernel half of the address space.
	ErrKernelAddress = errors.New("vm: address is not a user address")
)

// pageAlign rounds addr down to the start of its containing page.
func pageAlign(addr uint64) uint64 { return addr &^ PageMask }

// pageOffset returns addr's offset within its page.
func pageOffset(addr uint64) uint64 { return addr & PageMask }

// roundUp rounds n up to the next multiple of PageSize.
func roundUp(n uint64) uint64 { return (n + PageMask) &^ PageMask }

// IsUserAddr reports whether addr falls below the kernel region.
func IsUserAddr(addr uint64) bool { return addr < KernBase }

// mappedPage is one page-aligned entry in a Space.
type mappedPage struct {
	bytes []byte
	writable bool
}

// Space is one process's address space: an allocator-backed page map plus
// the segment descriptors loaded from its executable.
type Space struct {
	alloc devices.Pages
	pages map[uint64]*mappedPage
	Segments []Segment
}

// NewSpace returns an address space with no pages mapped, backed by alloc.
func NewSpace(alloc devices.Pages) *Space {
	return &Space{
		alloc: alloc,
		pages: make(map[uint64]*mappedPage),
	}
}

// MapPage allocates a fresh zeroed page at the page-aligned address
// containing vaddr and returns its backing bytes for the caller to fill.
// Fails if vaddr is already mapped, is the null page, or is not a user
// address — install_page's "must not already be mapped" plus
// validate_segment's page-0 and user-space rules.
func (s *Space) MapPage(vaddr uint64, writable bool) ([]byte, error) {
	base := pageAlign(vaddr)
	if base == 0 {
		return nil, fmt.Errorf("vm: refusing to map page 0: %w", ErrKernelAddress)
	}
	if !IsUserAddr(base) {
		return nil, ErrKernelAddress
	}
	if _, ok := s.pages[base]; ok {
		return nil, ErrAlreadyMapped
	}
	buf, err := s.alloc.Alloc(1)
	if err != nil {
		return nil, err
	}
	s.pages[base] = &mappedPage{bytes: buf, writable: writable}
	return buf, nil
}

// page returns the backing page for the page-aligned address containing
// addr, or nil if unmapped.
func (s *Space) page(addr uint64) *mappedPage { return s.pages[pageAlign(addr)] }

// WriteAt writes data starting at vaddr, which may span multiple mapped
// pages. Every touched page must already be mapped and writable.
func (s *Space) WriteAt(vaddr uint64, data []byte) error {
	for len(data) > 0 {
		p := s.page(vaddr)
		if p == nil {
			return fmt.Errorf("%w: 0x%x", ErrNotMapped, vaddr)
		}
		if !p.writable {
			return fmt.Errorf("vm: page at 0x%x is read-only", pageAlign(vaddr))
		}
		off := pageOffset(vaddr)
		n := copy(p.bytes[off:], data)
		data = data[n:]
		vaddr += uint64(n)
	}
	return nil
}

// ReadAt reads len(buf) bytes starting at vaddr, which may span multiple
// mapped pages.
func (s *Space) ReadAt(vaddr uint64, buf []byte) error {
	for len(buf) > 0 {
		p := s.page(vaddr)
		if p == nil {
			return fmt.Errorf("%w: 0x%x", ErrNotMapped, vaddr)
		}
		off := pageOffset(vaddr)
		n := copy(buf, p.bytes[off:])
		buf = buf[n:]
		vaddr += uint64(n)
	}
	return nil
}

// Destroy releases every mapped page back to the allocator, the Go
// analogue of pml4_destroy (process.c's process_cleanup).
func (s *Space) Destroy() {
	for addr, p := range s.pages {
		_ = s.alloc.Free(p.bytes)
		delete(s.pages, addr)
	}
}

// Duplicate copies every mapped page into a fresh Space backed by alloc,
// preserving each page's writable bit — process.c's duplicate_pte, minus
// the kernel-page skip (there is no kernel half mapped in a Space to begin
// with; every entry here is already a user page).
func (s *Space) Duplicate(alloc devices.Pages) (*Space, error) {
	child := NewSpace(alloc)
	for base, p := range s.pages {
		buf, err := alloc.Alloc(1)
		if err != nil {
			child.Destroy()
			return nil, err
		}
		copy(buf, p.bytes)
		child.pages[base] = &mappedPage{bytes: buf, writable: p.writable}
	}
	child.Segments = append(child.Segments, s.Segments...)
	return child, nil
}

// Segment records one loaded LOAD program header, retained for debugging
// and for a future demand-paging extension that the current loader does not
// implement.
type Segment struct {
	Vaddr uint64
	Filesz uint64
	Memsz uint64
	Writable bool
}
