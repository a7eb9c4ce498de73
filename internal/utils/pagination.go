// Package utils provides small, generic helper functions used across
// different layers of the application. These utilities are independent
// of domain or business logic.
package utils

// PageWindow normalizes a pagination request into a usable (offset, limit)
// pair. Negative offsets are clamped to zero; a limit <= 0 falls back to
// def; def <= 0 leaves the window unbounded.
//
// Example:
//
//	off, lim := utils.PageWindow(-1, 0, 20) // returns (0, 20)
//	off, lim = utils.PageWindow(40, 10, 20) // returns (40, 10)
func PageWindow(offset, limit, def int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = def
	}
	return offset, limit
}
