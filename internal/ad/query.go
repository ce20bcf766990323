package ad

// SearchMode selects how the target DN is traversed.
type SearchMode int

const (
	// ModeRecursive searches the whole subtree under the target DN.
	// This is the default mode.
	ModeRecursive SearchMode = iota
	// ModeRead reads the target entry itself.
	ModeRead
	// ModeListing searches the immediate children of the target DN only.
	ModeListing
)

// String returns the string representation of the search mode.
func (m SearchMode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeListing:
		return "listing"
	default:
		return "recursive"
	}
}

// Query is an immutable snapshot of builder state, consumed by the
// search executor. Nothing is cached between executions: the filter is
// re-rendered on every call and each run sees exactly the state that
// was frozen by Snapshot.
type Query struct {
	attributes []string
	predicates []Predicate
	baseDN     string
	baseDNSet  bool
	mode       SearchMode
	raw        bool
	sortField  string
	sortDir    SortDirection
}

// Filter renders the predicate list into an LDAP filter string. An
// empty query renders the empty string.
func (q Query) Filter() string {
	return renderFilter(q.predicates)
}

// Attributes returns the selected attribute names in first-seen order.
func (q Query) Attributes() []string {
	return append([]string(nil), q.attributes...)
}

// Predicates returns a copy of the accumulated predicates.
func (q Query) Predicates() []Predicate {
	return append([]Predicate(nil), q.predicates...)
}

// BaseDN returns the explicit target DN and whether one was set. An
// explicitly empty DN addresses the root DSE; unset defers to the
// directory's base DN.
func (q Query) BaseDN() (string, bool) {
	return q.baseDN, q.baseDNSet
}

// Mode returns the traversal mode the query runs in.
func (q Query) Mode() SearchMode {
	return q.mode
}

// Raw reports whether category mapping is disabled for this query.
func (q Query) Raw() bool {
	return q.raw
}

// Sort returns the in-memory sort field and direction. An empty field
// means results keep server order.
func (q Query) Sort() (string, SortDirection) {
	return q.sortField, q.sortDir
}
