// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

// Chunk splits items into consecutive slices of at most size elements.
// The last chunk may be shorter. A size <= 0 yields a single chunk with
// all items (callers always pass a positive bound in practice).
//
// Example:
//
//	utils.Chunk([]int{1, 2, 3, 4, 5}, 2) // [[1 2] [3 4] [5]]
func Chunk[T any](items []T, size int) [][]T {
	if len(items) == 0 {
		return nil
	}
	if size <= 0 {
		return [][]T{items}
	}
	out := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}

// JoinNonEmpty concatenates the non-empty values with sep, skipping blanks.
func JoinNonEmpty(sep string, vals ...string) string {
	var out string
	for _, v := range vals {
		if v == "" {
			continue
		}
		if out == "" {
			out = v
			continue
		}
		out += sep + v
	}
	return out
}
