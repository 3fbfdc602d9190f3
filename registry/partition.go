package registry

import (
	"fmt"

	"github.com/getpup/pupsourcing-migrator"
)

// Partition splits a fleet of total tenants into parts contiguous range
// selectors, one per migrator host. Assignment is deterministic: part i always
// covers the same indexes of the sorted fleet, and the first total%parts
// ranges are one tenant longer. Parts beyond total receive empty ranges.
func Partition(total, parts int) ([]Selector, error) {
	if parts < 1 {
		return nil, fmt.Errorf("%w: parts must be at least 1, got %d", migrator.ErrInvalidSelector, parts)
	}
	if total < 0 {
		return nil, fmt.Errorf("%w: fleet size must not be negative, got %d", migrator.ErrInvalidSelector, total)
	}

	size, extra := total/parts, total%parts
	out := make([]Selector, parts)
	start := 0
	for i := range out {
		end := start + size
		if i < extra {
			end++
		}
		out[i] = Range(start, end)
		start = end
	}
	return out, nil
}
