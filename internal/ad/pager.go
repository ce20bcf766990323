package ad

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// Pager walks a paged search one server page at a time, threading the
// opaque paging cookie from each response into the next request. It is
// a finite, forward-only iterator: once the server hands back an empty
// cookie the sequence is exhausted and cannot be restarted.
type Pager struct {
	client  ldapclient.Client
	req     *ldapclient.SearchRequest
	page    ldapclient.PageRequest
	entries []*ldap.Entry
	pages   int
	done    bool
	err     error
}

// Pager snapshots the search and returns a page iterator. critical
// propagates untouched into the paged-results control's criticality
// flag: when set, a server that cannot honor paging fails the search
// instead of silently returning everything at once.
func (s *Search) Pager(ctx context.Context, pageSize uint32, critical bool) (*Pager, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("page size must be positive")
	}

	q := s.builder.Snapshot()
	dn, err := s.targetDN(ctx, q)
	if err != nil {
		return nil, err
	}

	filter := q.Filter()
	if filter == "" {
		filter = catchAllFilter
	}

	scope := ldapclient.ScopeWholeSubtree
	switch q.Mode() {
	case ModeRead:
		scope = ldapclient.ScopeBaseObject
	case ModeListing:
		scope = ldapclient.ScopeSingleLevel
	}

	return &Pager{
		client: s.dir.client,
		req: &ldapclient.SearchRequest{
			BaseDN:     dn,
			Scope:      scope,
			Filter:     filter,
			Attributes: q.Attributes(),
		},
		page: ldapclient.PageRequest{Size: pageSize, Critical: critical},
	}, nil
}

// Next fetches the next page. It returns true when a page was
// retrieved, a final empty one included, and false once the sequence
// is exhausted or a fetch failed; see Err.
func (p *Pager) Next(ctx context.Context) bool {
	if p.done || p.err != nil {
		return false
	}

	result, cookie, err := p.client.SearchPage(ctx, p.req, p.page)
	if err != nil {
		p.err = err
		p.done = true
		p.entries = nil
		return false
	}

	p.entries = result.Entries
	p.pages++

	if len(cookie) == 0 {
		// Current page stays readable; the next call ends iteration.
		p.done = true
	} else {
		p.page.Cookie = cookie
	}
	return true
}

// Entries returns the raw rows of the current page.
func (p *Pager) Entries() []*ldap.Entry {
	return p.entries
}

// Pages returns how many pages have been fetched so far.
func (p *Pager) Pages() int {
	return p.pages
}

// Err returns the error that stopped iteration, if any.
func (p *Pager) Err() error {
	return p.err
}

// Paginator carries the flattened result of a fully drained paged
// search together with its page accounting.
type Paginator struct {
	entries     []Object
	pageSize    int
	currentPage int
	pages       int
}

// Paginate drains the paged search, mapping and flattening every page
// in server order. currentPage is a cursor for Page-oriented
// consumers; it does not change what is fetched.
func (s *Search) Paginate(ctx context.Context, pageSize uint32, currentPage int, critical bool) (*Paginator, error) {
	pager, err := s.Pager(ctx, pageSize, critical)
	if err != nil {
		return nil, err
	}

	var raw []*ldap.Entry
	for pager.Next(ctx) {
		raw = append(raw, pager.Entries()...)
	}
	if err := pager.Err(); err != nil {
		return nil, err
	}

	q := s.builder.Snapshot()
	objects := mapResults(raw, q.Raw())
	if field, dir := q.Sort(); field != "" {
		objects = sortObjects(objects, field, dir)
	}

	return &Paginator{
		entries:     objects,
		pageSize:    int(pageSize),
		currentPage: currentPage,
		pages:       pager.Pages(),
	}, nil
}

// Entries returns every mapped result across all fetched pages.
func (p *Paginator) Entries() []Object {
	return p.entries
}

// Total returns the flattened result count.
func (p *Paginator) Total() int {
	return len(p.entries)
}

// Pages returns the number of server pages the search produced.
func (p *Paginator) Pages() int {
	return p.pages
}

// PageSize returns the page size the search ran with.
func (p *Paginator) PageSize() int {
	return p.pageSize
}

// CurrentPage returns the cursor supplied to Paginate.
func (p *Paginator) CurrentPage() int {
	return p.currentPage
}

// Page returns the mapped entries of the zero-based page n, sliced out
// of the flattened set.
func (p *Paginator) Page(n int) []Object {
	if p.pageSize <= 0 || n < 0 {
		return nil
	}
	start := n * p.pageSize
	if start >= len(p.entries) {
		return nil
	}
	end := min(start+p.pageSize, len(p.entries))
	return p.entries[start:end]
}
