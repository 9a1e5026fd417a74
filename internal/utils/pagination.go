// Package utils provides small, generic helpers shared by the HTTP and
// service layers. They carry no domain knowledge.
package utils

import (
	"cmp"
	"strconv"
)

// DefaultPageSize applies when a caller passes no usable page size.
const DefaultPageSize = 20

// AtoiDefault converts s with strconv.Atoi, returning def when s is empty or
// not an integer.
//
//	utils.AtoiDefault("42", 0) // 42
//	utils.AtoiDefault("x", 5)  // 5
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// Clamp bounds v to [lo, hi].
func Clamp[T cmp.Ordered](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

// PageBounds turns a 1-based page and a page size into a SQL offset and
// limit. Pages below 1 become 1; non-positive sizes become DefaultPageSize.
func PageBounds(page, pageSize int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return (page - 1) * pageSize, pageSize
}
