package pagination

import (
	"net/http"
	"strconv"
	"strings"
)

// MaxPerPage caps per_page regardless of what the client asks for.
const MaxPerPage = 100

// Params holds pagination and search parameters extracted from query strings.
type Params struct {
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
	Query   string `json:"q,omitempty"`
	Offset  int    `json:"-"`
}

// DefaultParams returns sensible pagination defaults.
func DefaultParams() Params {
	return Params{
		Page:    1,
		PerPage: 20,
	}
}

// FromRequest extracts page, per_page and q from an HTTP request. Invalid
// values fall back to the defaults.
func FromRequest(r *http.Request) Params {
	p := DefaultParams()
	q := r.URL.Query()

	if page := q.Get("page"); page != "" {
		if v, err := strconv.Atoi(page); err == nil && v > 0 {
			p.Page = v
		}
	}

	if perPage := q.Get("per_page"); perPage != "" {
		if v, err := strconv.Atoi(perPage); err == nil && v > 0 && v <= MaxPerPage {
			p.PerPage = v
		}
	}

	p.Query = strings.TrimSpace(q.Get("q"))
	p.Offset = (p.Page - 1) * p.PerPage
	return p
}

// Window returns the [start, end) slice bounds of this page over n items.
func (p Params) Window(n int) (int, int) {
	start := p.Offset
	if start > n {
		start = n
	}
	end := start + p.PerPage
	if end > n {
		end = n
	}
	return start, end
}

// Result wraps a paginated response.
type Result[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Page       int  `json:"page"`
	PerPage    int  `json:"per_page"`
	TotalPages int  `json:"total_pages"`
	HasNext    bool `json:"has_next"`
	HasPrev    bool `json:"has_prev"`
}

// NewResult creates a paginated result. A nil slice is returned as [].
func NewResult[T any](items []T, total int, params Params) Result[T] {
	totalPages := 0
	if params.PerPage > 0 {
		totalPages = total / params.PerPage
		if total%params.PerPage > 0 {
			totalPages++
		}
	}
	if items == nil {
		items = []T{}
	}

	return Result[T]{
		Items:      items,
		Total:      total,
		Page:       params.Page,
		PerPage:    params.PerPage,
		TotalPages: totalPages,
		HasNext:    params.Page < totalPages,
		HasPrev:    params.Page > 1,
	}
}
