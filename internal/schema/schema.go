// Package schema publishes JSON Schema documents for the result types other
// tools consume: validation reports, export plans, search results, fix
// summaries and history records.
package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/quirelabs/quire/internal/export"
	"github.com/quirelabs/quire/internal/history"
	"github.com/quirelabs/quire/internal/search"
	"github.com/quirelabs/quire/internal/validate"
)

// registry maps a public name to the Go type reflected for it.
var registry = map[string]any{
	"validation": &validate.Result{},
	"fix":        &validate.FixAllResult{},
	"export":     &export.Plan{},
	"search":     &search.Result{},
	"history":    &history.Record{},
}

// Names returns the known schema names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// For reflects the named type into an indented JSON Schema document with
// inline properties (no $ref indirection).
func For(name string) ([]byte, error) {
	v, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q (have %s)", name, strings.Join(Names(), ", "))
	}
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	s := r.Reflect(v)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	return data, nil
}
