// Package rangeplan maps an object size and chunk size to an ordered
// set of byte ranges ("parts") covering the object with no gaps or
// overlaps.
package rangeplan

import "fmt"

// Part is a single contiguous byte range of an object, addressed by an
// HTTP Range request.
type Part struct {
	ID     uint32
	Start  uint64
	Length uint32
}

// Plan computes the ordered list of parts covering [0, size) in chunks
// of at most chunkSize bytes. The last part's length is size%chunkSize,
// or chunkSize if that remainder is zero.
func Plan(size uint64, chunkSize uint32) ([]Part, error) {
	if chunkSize == 0 {
		return nil, fmt.Errorf("rangeplan: chunk size must be >= 1")
	}
	n := numParts(size, chunkSize)
	parts := make([]Part, 0, n)
	for i := uint32(0); i < n; i++ {
		start := uint64(i) * uint64(chunkSize)
		parts = append(parts, Part{ID: i, Start: start, Length: partLength(size, chunkSize, i, n)})
	}
	return parts, nil
}

func numParts(size uint64, chunkSize uint32) uint32 {
	if size == 0 {
		return 0
	}
	n := size / uint64(chunkSize)
	if size%uint64(chunkSize) != 0 {
		n++
	}
	return uint32(n)
}

func partLength(size uint64, chunkSize uint32, id, n uint32) uint32 {
	if id != n-1 {
		return chunkSize
	}
	rem := size % uint64(chunkSize)
	if rem == 0 {
		return chunkSize
	}
	return uint32(rem)
}
