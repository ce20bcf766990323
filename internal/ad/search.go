package ad

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// catchAllFilter matches every entry. It stands in whenever a query
// renders an empty filter.
const catchAllFilter = "(objectClass=*)"

// Search drives one query: it owns a filter Builder, snapshots the
// builder at execution time, issues the search through the connection
// collaborator in the selected traversal mode, and maps raw rows into
// typed objects. The chained mutators delegate to the builder, so a
// Search reads like one fluent expression ending in a terminal call.
type Search struct {
	dir     *Directory
	builder *Builder
	log     ldapclient.Logger
}

// Select adds attributes to request from the server.
func (s *Search) Select(attributes ...string) *Search {
	s.builder.Select(attributes...)
	return s
}

// Where appends an AND-joined predicate.
func (s *Search) Where(field string, op Operator, value string) *Search {
	s.builder.Where(field, op, value)
	return s
}

// OrWhere appends an OR-joined predicate.
func (s *Search) OrWhere(field string, op Operator, value string) *Search {
	s.builder.OrWhere(field, op, value)
	return s
}

// WhereHas appends a presence predicate.
func (s *Search) WhereHas(field string) *Search {
	s.builder.WhereHas(field)
	return s
}

// OrWhereHas appends an OR-joined presence predicate.
func (s *Search) OrWhereHas(field string) *Search {
	s.builder.OrWhereHas(field)
	return s
}

// RawFilter appends a pre-rendered filter clause verbatim.
func (s *Search) RawFilter(filter string) *Search {
	s.builder.RawFilter(filter)
	return s
}

// AddWildcard appends the catch-all presence predicate.
func (s *Search) AddWildcard() *Search {
	s.builder.AddWildcard()
	return s
}

// In scopes the search to dn; an empty dn targets the root DSE.
func (s *Search) In(dn string) *Search {
	s.builder.In(dn)
	return s
}

// Read switches to a base-object read of the target DN.
func (s *Search) Read() *Search {
	s.builder.Read()
	return s
}

// Recursive restores the default whole-subtree search.
func (s *Search) Recursive() *Search {
	s.builder.Recursive()
	return s
}

// Listing narrows the search to immediate children of the target DN.
func (s *Search) Listing() *Search {
	s.builder.Listing()
	return s
}

// Raw disables category mapping for this search.
func (s *Search) Raw() *Search {
	s.builder.Raw()
	return s
}

// SortBy orders mapped results in memory by the named field.
func (s *Search) SortBy(field string, dir SortDirection) *Search {
	s.builder.SortBy(field, dir)
	return s
}

// Render returns the filter the search would execute with right now.
func (s *Search) Render() string {
	return s.builder.Render()
}

// Snapshot freezes the current builder state.
func (s *Search) Snapshot() Query {
	return s.builder.Snapshot()
}

// Get executes the query and returns mapped results. A connection or
// server failure returns a non-nil error; a search that matched
// nothing returns an empty, non-nil slice. The two outcomes never
// collapse into one another.
func (s *Search) Get(ctx context.Context) ([]Object, error) {
	return s.run(ctx, s.builder.Snapshot())
}

// First executes the query and returns the first result in server
// order, or (nil, nil) when nothing matched. Absence is not an error
// here.
func (s *Search) First(ctx context.Context) (Object, error) {
	objects, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	if len(objects) == 0 {
		return nil, nil
	}
	return objects[0], nil
}

// FindOrFail is First with absence promoted to an error that wraps
// the not-found sentinel, for callers that treat a missing entry as
// exceptional.
func (s *Search) FindOrFail(ctx context.Context) (Object, error) {
	obj, err := s.First(ctx)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		filter := s.builder.Render()
		if filter == "" {
			filter = catchAllFilter
		}
		return nil, fmt.Errorf("no entry matched %s: %w", filter, ldapclient.ErrNotFound)
	}
	return obj, nil
}

func (s *Search) run(ctx context.Context, q Query) ([]Object, error) {
	dn, err := s.targetDN(ctx, q)
	if err != nil {
		return nil, err
	}

	filter := q.Filter()
	if filter == "" {
		filter = catchAllFilter
	}
	attributes := q.Attributes()

	s.log.Debug("executing search", map[string]any{
		"base_dn": dn,
		"mode":    q.Mode().String(),
		"filter":  filter,
	})

	var result *ldapclient.SearchResult
	switch q.Mode() {
	case ModeRead:
		result, err = s.dir.client.Read(ctx, dn, filter, attributes)
	case ModeListing:
		result, err = s.dir.client.List(ctx, dn, filter, attributes)
	default:
		result, err = s.dir.client.Search(ctx, &ldapclient.SearchRequest{
			BaseDN:     dn,
			Scope:      ldapclient.ScopeWholeSubtree,
			Filter:     filter,
			Attributes: attributes,
		})
	}
	if err != nil {
		return nil, err
	}

	objects := mapResults(result.Entries, q.Raw())
	if field, dir := q.Sort(); field != "" {
		objects = sortObjects(objects, field, dir)
	}
	return objects, nil
}

// targetDN resolves the DN the query runs against: the explicit scope
// when one was set, the directory's base DN otherwise.
func (s *Search) targetDN(ctx context.Context, q Query) (string, error) {
	if dn, ok := q.BaseDN(); ok {
		return dn, nil
	}
	return s.dir.BaseDN(ctx)
}

// mapResults converts raw rows: in raw mode every row becomes a
// generic *Entry, otherwise rows dispatch through the category mapper.
// The result is always non-nil.
func mapResults(entries []*ldap.Entry, raw bool) []Object {
	objects := make([]Object, 0, len(entries))
	for _, entry := range entries {
		if raw {
			objects = append(objects, NewEntry(entry))
		} else {
			objects = append(objects, Map(entry))
		}
	}
	return objects
}

// sortObjects stable-sorts by the named attribute's first value,
// case-insensitively. Entries without the field drop out of the result
// entirely: the sort keys on the field value, so a row that has none
// never enters the sorted set.
func sortObjects(objects []Object, field string, dir SortDirection) []Object {
	keyed := make([]Object, 0, len(objects))
	for _, obj := range objects {
		if obj.Entry().Has(field) {
			keyed = append(keyed, obj)
		}
	}

	sort.SliceStable(keyed, func(i, j int) bool {
		a := strings.ToLower(keyed[i].Entry().Attribute(field))
		b := strings.ToLower(keyed[j].Entry().Attribute(field))
		if dir == Descending {
			return a > b
		}
		return a < b
	})
	return keyed
}
