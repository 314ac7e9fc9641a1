package devices

// PageSize is the allocation granularity page allocator
// external collaborator deals in.
const PageSize = 4096

// Pages is the page allocator contract: allocate and free
// zero-initialized pages and contiguous runs. internal/vm calls this to
// back an address space's segments and user stack.
type Pages interface {
	// Alloc returns count zero-initialized, contiguous pages.
	Alloc(count int) ([]byte, error)
	// Free releases a slice previously returned by Alloc.
	Free(b []byte) error
}
