package shared

import "math"

// Pagination contains metadata for paginated listings.
type Pagination struct {
	Page       int
	PerPage    int
	Total      int
	TotalPages int
}

// NewPagination computes pagination metadata.
func NewPagination(page, perPage, total int) Pagination {
	perPage = clampPerPage(perPage)
	if page <= 0 {
		page = 1
	}
	totalPages := int(math.Ceil(float64(total) / float64(perPage)))
	return Pagination{Page: page, PerPage: perPage, Total: total, TotalPages: totalPages}
}

// PageRequest is the page/per-page pair accepted by list reads.
type PageRequest struct {
	Page    int
	PerPage int
}

// Limit returns the clamped page size.
func (p PageRequest) Limit() int {
	return clampPerPage(p.PerPage)
}

// Offset returns the row offset for the page.
func (p PageRequest) Offset() int {
	page := p.Page
	if page <= 0 {
		page = 1
	}
	return (page - 1) * p.Limit()
}

func clampPerPage(perPage int) int {
	if perPage <= 0 {
		return 20
	}
	if perPage > 200 {
		return 200
	}
	return perPage
}
