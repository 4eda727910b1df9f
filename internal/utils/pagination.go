// Package utils holds small helpers shared by the ops API layers.
package utils

import "strconv"

// AtoiDefault parses s as an int and returns def when s is empty or invalid.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// PageBounds describes how raw page/page_size query values are interpreted.
type PageBounds struct {
	DefaultSize int
	MaxSize     int
}

// Page parses raw page and page_size values. page is at least 1 and size is
// kept in [1, MaxSize]; missing or malformed values take the defaults.
func (b PageBounds) Page(rawPage, rawSize string) (page, size int) {
	page = AtoiDefault(rawPage, 1)
	if page < 1 {
		page = 1
	}
	size = AtoiDefault(rawSize, b.DefaultSize)
	if size < 1 {
		size = 1
	}
	if b.MaxSize > 0 && size > b.MaxSize {
		size = b.MaxSize
	}
	return page, size
}

// Offset is the number of rows skipped before page.
func Offset(page, size int) int {
	if page < 1 {
		return 0
	}
	return (page - 1) * size
}
