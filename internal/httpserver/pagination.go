package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
)

const (
	// DefaultPageSize is the default number of items per page.
	DefaultPageSize = 25
	// MaxPageSize is the maximum allowed page size.
	MaxPageSize = 100
)

// PageParams holds parsed offset-based pagination parameters.
type PageParams struct {
	Page    int
	PerPage int
}

// Offset returns the SQL OFFSET for the page.
func (p PageParams) Offset() int {
	return (p.Page - 1) * p.PerPage
}

// ParsePageParams extracts page/per_page query parameters from the request.
func ParsePageParams(r *http.Request) (PageParams, error) {
	p := PageParams{Page: 1, PerPage: DefaultPageSize}

	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("page must be a positive integer")
		}
		p.Page = n
	}

	if v := r.URL.Query().Get("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("per_page must be a positive integer")
		}
		if n > MaxPageSize {
			n = MaxPageSize
		}
		p.PerPage = n
	}

	return p, nil
}

// PageResponse is the standard envelope for paginated list responses.
type PageResponse struct {
	Items   any `json:"items"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
	Total   int `json:"total"`
}
