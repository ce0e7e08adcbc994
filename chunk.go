package spiprog

// MaxChunk is the largest transfer issued in a single bus transaction; it is
// also the page size of every supported chip.
const MaxChunk = 256

// ChunkFunc handles one chunk of n bytes starting at addr.
type ChunkFunc func(addr uint32, n int) error

// ForEachChunk splits [addr, addr+length) into chunks of at most size bytes
// and calls fn for each in order. With page > 0 a chunk never crosses a page
// boundary. It stops at the first error.
func ForEachChunk(addr, length uint32, size, page int, fn ChunkFunc) error {
	if size <= 0 {
		size = MaxChunk
	}
	for remaining := length; remaining > 0; {
		chunk := min(remaining, uint32(size))
		if page > 0 {
			chunk = min(chunk, uint32(page)-addr%uint32(page))
		}
		if err := fn(addr, int(chunk)); err != nil {
			return err
		}
		addr += chunk
		remaining -= chunk
	}
	return nil
}
