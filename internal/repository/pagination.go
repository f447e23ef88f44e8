// Package repository provides the data access layer for portfolio sync.
// Every repository takes a database.Queryer, so the same code runs against
// the database handle or inside a transaction.
package repository

import "time"

// Pagination holds pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// Page wraps one page of results with the total count.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// DefaultLimit is the default number of items per page.
const DefaultLimit = 50

// MaxLimit is the maximum allowed items per page.
const MaxLimit = 500

// NewPagination creates pagination with validated limits.
func NewPagination(limit, offset int) Pagination {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Pagination{Limit: limit, Offset: offset}
}

// NewPage creates a page from a result slice.
func NewPage[T any](items []T, total int64, p Pagination) Page[T] {
	return Page[T]{
		Items:   items,
		Total:   total,
		Limit:   p.Limit,
		Offset:  p.Offset,
		HasMore: p.Offset+len(items) < int(total),
	}
}

// utcPtr normalizes an optional timestamp before it is written.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
