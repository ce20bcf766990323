package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"unicode/utf8"

	"github.com/isometry/adquery/internal/ad"
)

// entryJSON is the JSON shape of one directory entry.
type entryJSON struct {
	DN         string              `json:"dn"`
	Category   string              `json:"category"`
	Attributes map[string][]string `json:"attributes"`
}

// printObjects writes mapped entries in the requested format. Text
// output is an LDIF-like block per entry; JSON output is one array.
func (rt *runtime) printObjects(objects []ad.Object) error {
	if rt.format == "json" {
		out := make([]entryJSON, 0, len(objects))
		for _, obj := range objects {
			out = append(out, entryJSON{
				DN:         obj.DN(),
				Category:   obj.Category().String(),
				Attributes: renderAttributes(obj.Entry()),
			})
		}
		return writeJSON(rt.out, out)
	}

	for i, obj := range objects {
		if i > 0 {
			fmt.Fprintln(rt.out)
		}
		writeEntry(rt.out, obj)
	}
	return nil
}

// printObject writes a single mapped entry.
func (rt *runtime) printObject(obj ad.Object) error {
	if rt.format == "json" {
		return writeJSON(rt.out, entryJSON{
			DN:         obj.DN(),
			Category:   obj.Category().String(),
			Attributes: renderAttributes(obj.Entry()),
		})
	}
	writeEntry(rt.out, obj)
	return nil
}

// printList writes strings one per line, or as a JSON array.
func (rt *runtime) printList(values []string) error {
	if rt.format == "json" {
		return writeJSON(rt.out, values)
	}
	for _, v := range values {
		fmt.Fprintln(rt.out, v)
	}
	return nil
}

// writeEntry renders one entry as an LDIF-like block: the DN first,
// then every attribute in sorted order, one value per line.
func writeEntry(w io.Writer, obj ad.Object) {
	attrs := renderAttributes(obj.Entry())
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "dn: %s\n", obj.DN())
	for _, name := range names {
		for _, value := range attrs[name] {
			fmt.Fprintf(w, "%s: %s\n", name, value)
		}
	}
}

// renderAttributes returns the entry's attributes in printable form:
// objectGUID and objectSid are decoded to their text representations,
// and any other binary value is base64 encoded. The entry's own value
// slices are never mutated.
func renderAttributes(e *ad.Entry) map[string][]string {
	attrs := e.Raw()
	if guid := e.GUID(); guid != "" {
		attrs["objectguid"] = []string{guid}
	}
	if sid := e.SID(); sid != "" {
		attrs["objectsid"] = []string{sid}
	}

	for name, values := range attrs {
		var cleaned []string
		for i, v := range values {
			if utf8.ValidString(v) {
				continue
			}
			if cleaned == nil {
				cleaned = append([]string(nil), values...)
			}
			cleaned[i] = base64.StdEncoding.EncodeToString([]byte(v))
		}
		if cleaned != nil {
			attrs[name] = cleaned
		}
	}
	return attrs
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
