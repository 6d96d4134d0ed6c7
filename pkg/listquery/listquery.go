// Package listquery derives the query parameters of the remote license list
// from table state. Everything here is a pure function of its inputs: the same
// state always yields the same parameters and the same cache key.
package listquery

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
)

// Direction is a sort direction as understood by the license server.
type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Filter keys accepted by GET /licenses.
const (
	FilterStatus      = "status"
	FilterEmail       = "email"
	FilterProductName = "product_name"
	FilterType        = "type"
)

// FilterKeys lists the accepted filter keys.
var FilterKeys = []string{FilterStatus, FilterEmail, FilterProductName, FilterType}

// SortColumns lists the columns the server can sort by.
var SortColumns = []string{
	"license_key", "status", "type", "product_name",
	"customer_email", "expires_at", "created_at",
}

const (
	// DefaultPageSize is the page size of a fresh table.
	DefaultPageSize = 10
	// UnknownPageCount is reported until the server has answered once.
	UnknownPageCount = -1
)

// State is the table state owned by the list controller.
type State struct {
	PageIndex     int
	PageSize      int
	SortColumn    string
	SortDirection Direction
	Filters       map[string]string
}

// NewState returns the state of a fresh table.
func NewState(pageSize int) State {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return State{PageSize: pageSize, Filters: map[string]string{}}
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	c := s
	c.Filters = make(map[string]string, len(s.Filters))
	for k, v := range s.Filters {
		c.Filters[k] = v
	}
	return c
}

// Validate checks the invariants of the state.
func (s State) Validate() error {
	if s.PageIndex < 0 {
		return fmt.Errorf("page index must be non-negative, got %d", s.PageIndex)
	}
	if s.PageSize <= 0 {
		return fmt.Errorf("page size must be positive, got %d", s.PageSize)
	}
	if s.SortColumn != "" && !IsSortColumn(s.SortColumn) {
		return fmt.Errorf("unsupported sort column %q", s.SortColumn)
	}
	if s.SortDirection != "" && s.SortDirection != Ascending && s.SortDirection != Descending {
		return fmt.Errorf("unsupported sort direction %q", s.SortDirection)
	}
	if s.SortDirection != "" && s.SortColumn == "" {
		return fmt.Errorf("sort direction %s needs a sort column", s.SortDirection)
	}
	for k := range s.Filters {
		if !IsFilterKey(k) {
			return fmt.Errorf("unsupported filter %q", k)
		}
	}
	return nil
}

// IsSortColumn reports whether col can be sorted on.
func IsSortColumn(col string) bool {
	for _, c := range SortColumns {
		if c == col {
			return true
		}
	}
	return false
}

// IsFilterKey reports whether key is an accepted filter.
func IsFilterKey(key string) bool {
	for _, k := range FilterKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Params is the derived parameter set of one list request.
type Params struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder Direction
	Filters   map[string]string
}

// Build derives the request parameters from s. Empty filters are dropped;
// sort fields are omitted when unset, and a direction without a column is
// ignored.
func Build(s State) Params {
	p := Params{
		Limit:   s.PageSize,
		Offset:  s.PageIndex * s.PageSize,
		SortBy:  s.SortColumn,
		Filters: map[string]string{},
	}
	if s.SortColumn != "" {
		p.SortOrder = s.SortDirection
	}
	for k, v := range s.Filters {
		if v != "" {
			p.Filters[k] = v
		}
	}
	return p
}

// Values encodes p as URL query values.
func (p Params) Values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(p.Limit))
	v.Set("offset", strconv.Itoa(p.Offset))
	if p.SortBy != "" {
		v.Set("sort_by", p.SortBy)
	}
	if p.SortOrder != "" {
		v.Set("sort_order", string(p.SortOrder))
	}
	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.Set(k, p.Filters[k])
	}
	return v
}

// Key returns the canonical encoding of p. Equal params have equal keys.
func (p Params) Key() string {
	return p.Values().Encode()
}

// Equal reports whether p and o derive the same request.
func (p Params) Equal(o Params) bool {
	return p.Key() == o.Key()
}

// PageCount returns the number of pages for total rows. Before any response
// has been received the count is UnknownPageCount.
func PageCount(total, pageSize int, received bool) int {
	if !received || pageSize <= 0 {
		return UnknownPageCount
	}
	if total <= 0 {
		return 0
	}
	return (total + pageSize - 1) / pageSize
}
