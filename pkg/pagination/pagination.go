// Package pagination provides the page/pageSize request shape and the
// result envelope shared by every listing endpoint.
package pagination

import (
	"net/url"
	"strconv"
)

const (
	// DefaultPageSize applies when the caller omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size regardless of what the caller asks for.
	MaxPageSize = 100
)

// Page is a normalized pagination request. Construct via New or FromQuery so
// the bounds invariants hold.
type Page struct {
	Number int
	Size   int
}

// New normalizes raw page inputs: page floors at 1, size defaults and caps.
func New(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return Page{Number: number, Size: size}
}

// FromQuery reads page and page_size query parameters, applying defaults for
// missing or malformed values.
func FromQuery(q url.Values) Page {
	number, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return New(number, size)
}

// Offset returns the row offset for SQL LIMIT/OFFSET queries.
func (p Page) Offset() int {
	return (p.Number - 1) * p.Size
}

// Result is the listing envelope returned by every paginated query.
type Result[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// NewResult wraps items with the totals derived from page and total count.
func NewResult[T any](items []T, total int, page Page) Result[T] {
	if items == nil {
		items = []T{}
	}
	totalPages := 0
	if total > 0 {
		totalPages = (total + page.Size - 1) / page.Size
	}
	return Result[T]{
		Items:      items,
		Total:      total,
		TotalPages: totalPages,
		HasMore:    page.Number < totalPages,
	}
}

// Slice applies in-memory pagination; memory stores use it so their listing
// semantics match the SQL stores.
func Slice[T any](items []T, page Page) ([]T, int) {
	total := len(items)
	start := page.Offset()
	if start >= total {
		return []T{}, total
	}
	end := start + page.Size
	if end > total {
		end = total
	}
	return items[start:end], total
}
