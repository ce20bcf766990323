package ad

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Operator identifies how a predicate matches its value.
type Operator int

const (
	Equals     Operator = iota // (field=value)
	Contains                   // (field=*value*)
	StartsWith                 // (field=value*)
	EndsWith                   // (field=*value)
	Wildcard                   // (field=*)
	Has                        // presence synonym for Wildcard
)

// operatorRaw marks a predicate whose Value is a pre-rendered filter
// clause inserted verbatim. Only RawFilter produces it.
const operatorRaw Operator = -1

// String returns the string representation of the operator.
func (o Operator) String() string {
	switch o {
	case Equals:
		return "equals"
	case Contains:
		return "contains"
	case StartsWith:
		return "starts-with"
	case EndsWith:
		return "ends-with"
	case Wildcard:
		return "wildcard"
	case Has:
		return "has"
	case operatorRaw:
		return "raw"
	default:
		return "unknown"
	}
}

// Conjunction joins a predicate to the expression accumulated before it.
type Conjunction int

const (
	And Conjunction = iota
	Or
)

// String returns the string representation of the conjunction.
func (c Conjunction) String() string {
	if c == Or {
		return "or"
	}
	return "and"
}

// SortDirection orders in-memory sorting of mapped results.
type SortDirection int

const (
	Ascending SortDirection = iota
	Descending
)

// String returns the string representation of the sort direction.
func (d SortDirection) String() string {
	if d == Descending {
		return "desc"
	}
	return "asc"
}

// ParseSortDirection parses "asc" or "desc", case-insensitively.
func ParseSortDirection(s string) (SortDirection, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "asc", "ascending":
		return Ascending, true
	case "desc", "descending":
		return Descending, true
	default:
		return Ascending, false
	}
}

// Predicate is one unit of search criteria. Join relates the predicate
// to the expression accumulated before it; the first predicate's Join
// is irrelevant.
type Predicate struct {
	Field string
	Op    Operator
	Value string
	Join  Conjunction
}

// clause renders the predicate as a single LDAP filter clause. Field
// and value are escaped per RFC 4515, so metacharacters in user input
// always match literally; the structural wildcards added by Contains,
// StartsWith, EndsWith, and Wildcard are appended after escaping.
func (p Predicate) clause() string {
	if p.Op == operatorRaw {
		return p.Value
	}

	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(ldap.EscapeFilter(p.Field))
	b.WriteByte('=')

	switch p.Op {
	case Contains:
		b.WriteByte('*')
		b.WriteString(ldap.EscapeFilter(p.Value))
		b.WriteByte('*')
	case StartsWith:
		b.WriteString(ldap.EscapeFilter(p.Value))
		b.WriteByte('*')
	case EndsWith:
		b.WriteByte('*')
		b.WriteString(ldap.EscapeFilter(p.Value))
	case Wildcard, Has:
		b.WriteByte('*')
	default:
		b.WriteString(ldap.EscapeFilter(p.Value))
	}

	b.WriteByte(')')
	return b.String()
}

// Builder accumulates query state through chained calls and freezes it
// into an immutable Query with Snapshot. Builders are cheap; create one
// per operation rather than sharing across goroutines.
type Builder struct {
	attributes []string
	predicates []Predicate
	baseDN     string
	baseDNSet  bool
	read       bool
	recursive  bool
	raw        bool
	sortField  string
	sortDir    SortDirection
}

// NewBuilder returns a Builder in its default state: a whole-subtree
// search scoped to the directory base DN with no attribute projection.
func NewBuilder() *Builder {
	return &Builder{recursive: true}
}

// Select adds attributes to request from the server, preserving
// first-seen order and dropping case-insensitive duplicates. An empty
// selection requests all attributes.
func (b *Builder) Select(attributes ...string) *Builder {
	for _, attr := range attributes {
		if attr == "" {
			continue
		}
		duplicate := false
		for _, existing := range b.attributes {
			if strings.EqualFold(existing, attr) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			b.attributes = append(b.attributes, attr)
		}
	}
	return b
}

// Where appends a predicate joined to the preceding expression with AND.
func (b *Builder) Where(field string, op Operator, value string) *Builder {
	b.predicates = append(b.predicates, Predicate{Field: field, Op: op, Value: value, Join: And})
	return b
}

// OrWhere appends a predicate joined to the preceding expression with OR.
func (b *Builder) OrWhere(field string, op Operator, value string) *Builder {
	b.predicates = append(b.predicates, Predicate{Field: field, Op: op, Value: value, Join: Or})
	return b
}

// WhereHas appends a presence predicate: the field must exist.
func (b *Builder) WhereHas(field string) *Builder {
	return b.Where(field, Has, "")
}

// OrWhereHas appends a presence predicate joined with OR.
func (b *Builder) OrWhereHas(field string) *Builder {
	return b.OrWhere(field, Has, "")
}

// RawFilter appends a pre-rendered filter clause verbatim, joined with
// AND. The caller is responsible for escaping. This is the escape
// hatch for expressions the predicate operators cannot build:
// matching-rule filters such as bitwise groupType tests or IN_CHAIN
// membership, and binary-valued assertions like objectGUID.
func (b *Builder) RawFilter(filter string) *Builder {
	if filter == "" {
		return b
	}
	b.predicates = append(b.predicates, Predicate{Op: operatorRaw, Value: filter, Join: And})
	return b
}

// AddWildcard appends the catch-all presence predicate, matching every
// entry in scope.
func (b *Builder) AddWildcard() *Builder {
	return b.Where("objectClass", Wildcard, "")
}

// In scopes the search to dn. An explicitly empty dn targets the root
// DSE; leaving the scope unset targets the directory's base DN.
func (b *Builder) In(dn string) *Builder {
	b.baseDN = dn
	b.baseDNSet = true
	return b
}

// Read switches the query to a base-object read of the target DN.
// Read wins over every other mode when several are requested.
func (b *Builder) Read() *Builder {
	b.read = true
	return b
}

// Recursive restores the default whole-subtree search.
func (b *Builder) Recursive() *Builder {
	b.recursive = true
	return b
}

// Listing narrows the search to the immediate children of the target DN.
func (b *Builder) Listing() *Builder {
	b.recursive = false
	return b
}

// Raw disables category mapping: results come back as generic entries
// wrapping the unmodified attribute maps.
func (b *Builder) Raw() *Builder {
	b.raw = true
	return b
}

// SortBy orders mapped results in memory by the named field. Entries
// without the field drop out of the sorted result; see Query.Sort.
func (b *Builder) SortBy(field string, dir SortDirection) *Builder {
	b.sortField = field
	b.sortDir = dir
	return b
}

// Render assembles the accumulated predicates into an LDAP filter
// string. It is side-effect-free: repeated calls without intervening
// mutation yield identical output. An empty builder renders the empty
// string, which executors replace with a catch-all.
func (b *Builder) Render() string {
	return renderFilter(b.predicates)
}

// Snapshot freezes the current state into an immutable Query. Later
// mutations of the builder do not affect the snapshot.
func (b *Builder) Snapshot() Query {
	q := Query{
		attributes: append([]string(nil), b.attributes...),
		predicates: append([]Predicate(nil), b.predicates...),
		baseDN:     b.baseDN,
		baseDNSet:  b.baseDNSet,
		raw:        b.raw,
		sortField:  b.sortField,
		sortDir:    b.sortDir,
	}

	switch {
	case b.read:
		q.mode = ModeRead
	case b.recursive:
		q.mode = ModeRecursive
	default:
		q.mode = ModeListing
	}

	return q
}

// renderFilter combines clauses strictly left to right: consecutive
// predicates sharing a conjunction batch into one (&...) or (|...)
// group, and a conjunction change closes the accumulated expression,
// nesting it as the first member of the next group. There is no
// re-association by operator precedence; grouping reflects append
// order alone.
func renderFilter(predicates []Predicate) string {
	if len(predicates) == 0 {
		return ""
	}

	group := []string{predicates[0].clause()}
	join := And
	joinSet := false

	for _, p := range predicates[1:] {
		switch {
		case !joinSet:
			join = p.Join
			joinSet = true
		case p.Join != join:
			group = []string{wrapGroup(join, group)}
			join = p.Join
		}
		group = append(group, p.clause())
	}

	if len(group) == 1 {
		return group[0]
	}
	return wrapGroup(join, group)
}

// wrapGroup wraps clauses in a conjunction group.
func wrapGroup(join Conjunction, clauses []string) string {
	var b strings.Builder
	b.WriteByte('(')
	if join == Or {
		b.WriteByte('|')
	} else {
		b.WriteByte('&')
	}
	for _, clause := range clauses {
		b.WriteString(clause)
	}
	b.WriteByte(')')
	return b.String()
}
