package pagination

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
	// MaxPage keeps Offset and NewMeta within a signed 32-bit range for any
	// page size up to MaxPageSize.
	MaxPage = math.MaxInt32 / MaxPageSize
)

// Params holds page-based pagination parameters extracted from a request.
// Pages are 1-based.
type Params struct {
	Page     int
	PageSize int
}

// FromContext extracts pagination parameters from the echo context. The
// page_size query parameter is honoured when present; otherwise defaultSize
// applies (DefaultPageSize when defaultSize is not positive).
func FromContext(c echo.Context, defaultSize int) Params {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("page_size"))
	if size <= 0 {
		size = defaultSize
	}
	return New(page, size)
}

// New normalises page and size into valid Params. Pages beyond MaxPage are
// clamped to it and come back empty.
func New(page, size int) Params {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Params{Page: page, PageSize: size}
}

// Offset returns the number of rows to skip for the current page.
func (p Params) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Limit returns the number of rows to take for the current page.
func (p Params) Limit() int {
	return p.PageSize
}

// Meta describes where a page sits within the full result set.
type Meta struct {
	Total       int  `json:"total"`
	HasMore     bool `json:"hasMore"`
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
}

// NewMeta computes page metadata. HasMore is true when rows exist beyond the
// current page.
func NewMeta(total int, p Params) Meta {
	return Meta{
		Total:       total,
		HasMore:     total > p.Page*p.PageSize,
		CurrentPage: p.Page,
		TotalPages:  TotalPages(total, p.PageSize),
	}
}

// TotalPages returns ceil(total/size), or 0 for an empty result.
func TotalPages(total, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return (total + size - 1) / size
}
