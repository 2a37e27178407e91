package common

import (
	"math"
	"net/http"
)

// Pagination holds pagination metadata for list responses.
type Pagination struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// NewPagination computes the metadata for a page of total items.
func NewPagination(page, perPage int, total int64) Pagination {
	pages := 0
	if perPage > 0 {
		pages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return Pagination{Page: page, PerPage: perPage, TotalItems: int(total), TotalPages: pages}
}

// ParsePagination extracts page and per-page parameters from query values.
// perPage is capped at maxPerPage when maxPerPage is positive, and page is
// capped so that its offset fits an int32 query parameter.
func ParsePagination(r *http.Request, defaultPerPage, maxPerPage int) (page, perPage int) {
	page = QueryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	perPage = QueryInt(r, "limit", defaultPerPage)
	if perPage < 1 {
		perPage = defaultPerPage
	}
	if maxPerPage > 0 && perPage > maxPerPage {
		perPage = maxPerPage
	}
	if perPage > math.MaxInt32 {
		perPage = math.MaxInt32
	}
	if perPage > 0 && page-1 > math.MaxInt32/perPage {
		page = math.MaxInt32/perPage + 1
	}
	return page, perPage
}

// Offset returns the row offset of page, saturating at math.MaxInt32.
func Offset(page, perPage int) int {
	if page < 1 || perPage < 1 {
		return 0
	}
	if page-1 > math.MaxInt32/perPage {
		return math.MaxInt32
	}
	return (page - 1) * perPage
}
