package ad

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	ldapclient "github.com/isometry/adquery/internal/ldap"
)

// categoryTable maps the first RDN value of objectCategory onto a
// variant tag. Matching is case-insensitive; anything absent from the
// table falls through to the generic entry.
var categoryTable = map[string]Category{
	"computer":                CategoryComputer,
	"person":                  CategoryUser,
	"group":                   CategoryGroup,
	"container":               CategoryContainer,
	"printer":                 CategoryPrinter,
	"print-queue":             CategoryPrinter,
	"ms-exch-exchange-server": CategoryExchangeServer,
}

// Map wraps a raw directory entry in its typed variant, chosen by the
// first RDN of its objectCategory. Whatever variant is chosen, every
// raw attribute stays reachable through the embedded generic entry.
func Map(raw *ldap.Entry) Object {
	return mapEntry(NewEntry(raw))
}

func mapEntry(e *Entry) Object {
	switch categoryOf(e) {
	case CategoryComputer:
		return &Computer{entry: e}
	case CategoryUser:
		return &User{entry: e}
	case CategoryGroup:
		return &Group{entry: e}
	case CategoryContainer:
		return &Container{entry: e}
	case CategoryPrinter:
		return &Printer{entry: e}
	case CategoryExchangeServer:
		return &ExchangeServer{entry: e}
	default:
		return e
	}
}

// categoryOf extracts the dispatch key from the entry's objectCategory
// attribute. The attribute normally holds a schema DN such as
// "CN=Person,CN=Schema,CN=Configuration,..."; only the first RDN value
// participates in dispatch. Some directories publish a bare category
// name instead of the full DN, so an unparseable value is used as-is.
func categoryOf(e *Entry) Category {
	value := e.Attribute("objectCategory")
	if value == "" {
		return CategoryGeneric
	}

	key := value
	if _, first, err := ldapclient.FirstRDN(value); err == nil {
		key = first
	}
	return categoryTable[strings.ToLower(key)]
}
