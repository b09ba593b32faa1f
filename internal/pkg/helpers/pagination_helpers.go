package helpers

import "math"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	DefaultPage     = 1 // Default page is 1-based
)

// PaginationInfo describes one page of a listing
type PaginationInfo struct {
	CurrentPage int   `json:"currentPage" yaml:"currentPage"`
	TotalPages  int   `json:"totalPages" yaml:"totalPages"`
	PageSize    int   `json:"pageSize" yaml:"pageSize"`
	TotalItems  int64 `json:"totalItems" yaml:"totalItems"`
}

// CalculateOffsetLimit calculates the offset and limit based on 1-based page index.
func CalculateOffsetLimit(page, size int) (offset uint64, limit int) {
	if size <= 0 || size > MaxPageSize {
		limit = DefaultPageSize
	} else {
		limit = size
	}

	if page < 1 {
		page = DefaultPage
	}

	offset = uint64((page - 1) * limit)
	return offset, limit
}

// NewPaginationInfo creates a PaginationInfo. page should be the 1-based page number.
func NewPaginationInfo(totalItems int64, page, size int) PaginationInfo {
	if size <= 0 || size > MaxPageSize {
		size = DefaultPageSize
	}
	if page < 1 {
		page = DefaultPage
	}

	totalPages := 0
	if totalItems > 0 {
		totalPages = int(math.Ceil(float64(totalItems) / float64(size)))
	} else if page == 1 {
		// an empty listing still has its first page
		totalPages = 1
	}

	currentPage := page
	if totalPages > 0 && currentPage > totalPages {
		currentPage = totalPages
	}

	return PaginationInfo{
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		PageSize:    size,
		TotalItems:  totalItems,
	}
}

// Paginate returns the items of the requested page. Pages past the end are empty.
func Paginate[T any](items []T, page, size int) ([]T, PaginationInfo) {
	info := NewPaginationInfo(int64(len(items)), page, size)
	offset, limit := CalculateOffsetLimit(page, size)
	if offset >= uint64(len(items)) {
		return []T{}, info
	}
	end := min(int(offset)+limit, len(items))
	return items[offset:end], info
}
