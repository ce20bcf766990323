package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/isometry/adquery/internal/ad"
)

type searchOptions struct {
	where    []string
	contains []string
	has      []string
	raw      string
	or       bool
	attrs    []string
	in       string
	listing  bool
	sortBy   string
	pageSize uint32
}

func newSearchCommand(rt *runtime) *cobra.Command {
	opts := &searchOptions{}

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the directory with composable filter predicates",
		Example: `  adquery search --where objectClass=user --contains cn=smith
  adquery search --where objectClass=user --where objectClass=computer --or
  adquery search --where department=Engineering --attrs cn,mail --page-size 500`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), rt, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.where, "where", nil, "equality predicate as field=value, repeatable")
	flags.StringArrayVar(&opts.contains, "contains", nil, "substring predicate as field=value, repeatable")
	flags.StringArrayVar(&opts.has, "has", nil, "presence predicate naming an attribute, repeatable")
	flags.StringVar(&opts.raw, "raw-filter", "", "verbatim LDAP filter clause combined with the other predicates")
	flags.BoolVar(&opts.or, "or", false, "join predicates with OR instead of AND")
	flags.StringSliceVar(&opts.attrs, "attrs", nil, "attributes to request, comma separated or repeatable")
	flags.StringVar(&opts.in, "in", "", "base DN to search under, defaults to the directory base")
	flags.BoolVar(&opts.listing, "listing", false, "list immediate children only instead of the whole subtree")
	flags.StringVar(&opts.sortBy, "sort", "", "sort results by attribute, as field or field:desc")
	flags.Uint32Var(&opts.pageSize, "page-size", 0, "fetch results in pages of this size, 0 fetches in one search")

	return cmd
}

func runSearch(ctx context.Context, rt *runtime, opts *searchOptions) error {
	dir, err := rt.directory(ctx)
	if err != nil {
		return err
	}

	search := dir.Search()
	if err := opts.apply(search); err != nil {
		return err
	}

	if opts.pageSize > 0 {
		result, err := search.Paginate(ctx, opts.pageSize, 0, false)
		if err != nil {
			return err
		}
		return rt.printObjects(result.Entries())
	}

	objects, err := search.Get(ctx)
	if err != nil {
		return err
	}
	return rt.printObjects(objects)
}

// apply wires the parsed flag values into the search.
func (opts *searchOptions) apply(search *ad.Search) error {
	if len(opts.attrs) > 0 {
		search.Select(opts.attrs...)
	}
	if opts.in != "" {
		search.In(opts.in)
	}
	if opts.listing {
		search.Listing()
	}

	for _, spec := range opts.where {
		field, value, err := splitPredicate(spec)
		if err != nil {
			return err
		}
		if opts.or {
			search.OrWhere(field, ad.Equals, value)
		} else {
			search.Where(field, ad.Equals, value)
		}
	}
	for _, spec := range opts.contains {
		field, value, err := splitPredicate(spec)
		if err != nil {
			return err
		}
		if opts.or {
			search.OrWhere(field, ad.Contains, value)
		} else {
			search.Where(field, ad.Contains, value)
		}
	}
	for _, field := range opts.has {
		if opts.or {
			search.OrWhereHas(field)
		} else {
			search.WhereHas(field)
		}
	}
	if opts.raw != "" {
		search.RawFilter(opts.raw)
	}

	if opts.sortBy != "" {
		field, direction, err := splitSort(opts.sortBy)
		if err != nil {
			return err
		}
		search.SortBy(field, direction)
	}
	return nil
}

// splitPredicate splits a field=value flag argument. The value may
// itself contain '='; only the first one separates.
func splitPredicate(spec string) (field, value string, err error) {
	field, value, ok := strings.Cut(spec, "=")
	if !ok || field == "" {
		return "", "", fmt.Errorf("invalid predicate %q: expected field=value", spec)
	}
	return field, value, nil
}

// splitSort splits a sort flag argument of the form field or
// field:direction.
func splitSort(spec string) (string, ad.SortDirection, error) {
	field, dir, _ := strings.Cut(spec, ":")
	if field == "" {
		return "", ad.Ascending, fmt.Errorf("invalid sort %q: expected field or field:desc", spec)
	}
	direction, ok := ad.ParseSortDirection(dir)
	if !ok {
		return "", ad.Ascending, fmt.Errorf("invalid sort direction %q: expected asc or desc", dir)
	}
	return field, direction, nil
}
