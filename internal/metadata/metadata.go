// Package metadata implements the Properties Metadata registry (spec
// §4.4): a declarative mapping from CEL dotted property paths to one
// or more schema Field Mappings, used by the SQL provider to emit
// column/JSON-path expressions. The in-memory evaluator does not use
// it; it resolves dotted paths directly against the alert document.
package metadata

import (
	"fmt"
	"strings"
)

// FieldMapping is implemented by SimpleFieldMapping and JsonFieldMapping.
type FieldMapping interface {
	fieldMapping()
}

// SimpleFieldMapping maps a CEL property directly to a flat column.
type SimpleFieldMapping struct {
	MapTo string
}

func (SimpleFieldMapping) fieldMapping() {}

// JsonFieldMapping maps a CEL property to a path inside a JSON column.
type JsonFieldMapping struct {
	JsonProp   string
	PropInJSON []string
}

func (JsonFieldMapping) fieldMapping() {}

// PropertyMetadata is the registered entry for one CEL property: its
// field mapping fallback chain (combined via COALESCE when there is
// more than one) and its declared data type, used by the SQL provider
// for casts.
type PropertyMetadata struct {
	CELField     string
	FieldMappings []FieldMapping
	DataType     string // mirrors cel.DataType; kept as string to avoid an import cycle with internal/cel
}

type entry struct {
	pattern    string
	isWildcard bool
	meta       *PropertyMetadata
	order      int
}

// Registry is a read-mostly property metadata store, filled by
// Register/RegisterWildcard/Alias calls at process start and only read
// afterwards. Those calls mutate it in place without locking, and it
// has no swap or reload operation.
type Registry struct {
	exact     map[string]*entry
	wildcards []*entry
	aliases   map[string]string // alias CEL path -> canonical CEL path
	nextOrder int
}

// NewRegistry creates an empty registry ready for Register calls.
func NewRegistry() *Registry {
	return &Registry{
		exact:   make(map[string]*entry),
		aliases: make(map[string]string),
	}
}

// Register adds an exact-path mapping, e.g. "labels.host".
func (r *Registry) Register(celField string, dataType string, mappings ...FieldMapping) {
	e := &entry{
		pattern: celField,
		meta: &PropertyMetadata{
			CELField:      celField,
			FieldMappings: mappings,
			DataType:      dataType,
		},
		order: r.nextOrder,
	}
	r.nextOrder++
	r.exact[celField] = e
}

// RegisterWildcard adds a suffix-wildcard mapping such as "labels.*":
// any CEL path with that prefix resolves against this entry, with the
// remainder of the path (after the prefix) treated as the JSON
// sub-path appended to the registered JsonFieldMapping's PropInJSON.
func (r *Registry) RegisterWildcard(prefix string, dataType string, mappings ...FieldMapping) {
	e := &entry{
		pattern:    strings.TrimSuffix(prefix, "*"),
		isWildcard: true,
		meta: &PropertyMetadata{
			CELField:      prefix,
			FieldMappings: mappings,
			DataType:      dataType,
		},
		order: r.nextOrder,
	}
	r.nextOrder++
	r.wildcards = append(r.wildcards, e)
}

// Alias registers celField as another name for canonical.
func (r *Registry) Alias(celField, canonical string) {
	r.aliases[celField] = canonical
}

// ErrUnmappedProperty is returned by Lookup when no mapping applies.
type ErrUnmappedProperty struct {
	Path string
}

func (e *ErrUnmappedProperty) Error() string {
	return fmt.Sprintf("unmapped property: %s", e.Path)
}

// Lookup resolves a dotted CEL path into its PropertyMetadata.
// Precedence (spec §4.4): exact match, then longest wildcard prefix,
// ties broken by registration order; aliases resolve to their
// canonical path before lookup.
func (r *Registry) Lookup(celField string) (*PropertyMetadata, []string, error) {
	if canonical, ok := r.aliases[celField]; ok {
		celField = canonical
	}

	if e, ok := r.exact[celField]; ok {
		return e.meta, nil, nil
	}

	var best *entry
	var bestSuffix []string
	for _, e := range r.wildcards {
		if !strings.HasPrefix(celField, e.pattern) {
			continue
		}
		remainder := strings.TrimPrefix(celField, e.pattern)
		remainder = strings.TrimPrefix(remainder, ".")
		var suffix []string
		if remainder != "" {
			suffix = strings.Split(remainder, ".")
		}
		if best == nil || len(e.pattern) > len(best.pattern) ||
			(len(e.pattern) == len(best.pattern) && e.order < best.order) {
			best = e
			bestSuffix = suffix
		}
	}
	if best != nil {
		return resolveWildcard(best.meta, bestSuffix), bestSuffix, nil
	}

	return nil, nil, &ErrUnmappedProperty{Path: celField}
}

// resolveWildcard appends the matched suffix to each JsonFieldMapping
// in the wildcard entry's fallback chain, producing a concrete
// PropertyMetadata for this specific lookup.
func resolveWildcard(base *PropertyMetadata, suffix []string) *PropertyMetadata {
	resolved := &PropertyMetadata{
		CELField: base.CELField,
		DataType: base.DataType,
	}
	for _, m := range base.FieldMappings {
		switch fm := m.(type) {
		case JsonFieldMapping:
			path := append(append([]string{}, fm.PropInJSON...), suffix...)
			resolved.FieldMappings = append(resolved.FieldMappings, JsonFieldMapping{
				JsonProp:   fm.JsonProp,
				PropInJSON: path,
			})
		case SimpleFieldMapping:
			resolved.FieldMappings = append(resolved.FieldMappings, fm)
		}
	}
	return resolved
}
