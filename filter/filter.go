// Package filter implements the declarative include/exclude of types and
// fields applied during snapshot ingestion, so unwanted bytes are
// parsed-and-discarded rather than retained (spec.md §4.6).
package filter

import "github.com/lakshaybadak/rodb/schema"

// Config is a nested include/exclude table: a per-type-name bool, and for
// object types, a per-field-name bool. It has no parsing or I/O of its
// own, matching the plain option-struct style of internal/base/options.go
// for this kind of lookup table.
type Config struct {
	defaultInclude bool
	types          map[string]bool
	fields         map[string]map[string]bool // typeName -> fieldName -> include
}

// NewConfig returns a Config whose types (and their fields) are included
// or excluded by default according to defaultInclude, until overridden by
// Include/Exclude/IncludeField/ExcludeField. NewConfig(true) is spec.md's
// HollowFilterConfig(true): "includes everything" by default.
func NewConfig(defaultInclude bool) *Config {
	return &Config{
		defaultInclude: defaultInclude,
		types:          make(map[string]bool),
		fields:         make(map[string]map[string]bool),
	}
}

// Include marks typeName (and, implicitly, all its fields unless
// overridden) as included.
func (c *Config) Include(typeName string) { c.types[typeName] = true }

// Exclude marks typeName as excluded entirely.
func (c *Config) Exclude(typeName string) { c.types[typeName] = false }

// IncludeField marks a single field of an object type as included,
// without otherwise changing whether the type itself is included.
func (c *Config) IncludeField(typeName, fieldName string) {
	c.fieldMap(typeName)[fieldName] = true
}

// ExcludeField marks a single field of an object type as excluded.
func (c *Config) ExcludeField(typeName, fieldName string) {
	c.fieldMap(typeName)[fieldName] = false
}

func (c *Config) fieldMap(typeName string) map[string]bool {
	m, ok := c.fields[typeName]
	if !ok {
		m = make(map[string]bool)
		c.fields[typeName] = m
	}
	return m
}

// DoesIncludeType reports whether typeName should be populated at all.
func (c *Config) DoesIncludeType(typeName string) bool {
	if v, ok := c.types[typeName]; ok {
		return v
	}
	return c.defaultInclude
}

// DoesIncludeField reports whether fieldName of typeName should be
// populated. A field of an excluded type is never included, regardless of
// a per-field override; a field of an included type is included unless
// overridden by ExcludeField.
func (c *Config) DoesIncludeField(typeName, fieldName string) bool {
	if !c.DoesIncludeType(typeName) {
		return false
	}
	if fm, ok := c.fields[typeName]; ok {
		if v, ok := fm[fieldName]; ok {
			return v
		}
	}
	return true
}

// FilterObjectSchema derives a new ObjectSchema containing only the
// fields this Config includes for s.Name(), preserving their original
// field positions. The returned schema's Fields slice has the same
// length as s.Fields, with excluded entries zeroed to a sentinel Field
// (empty Name) so downstream gap-skipping during population (spec.md
// §4.7) can tell "stored but excluded" apart from "not in the stream".
func (c *Config) FilterObjectSchema(s *schema.ObjectSchema) *schema.ObjectSchema {
	filtered := &schema.ObjectSchema{
		SchemaName:     s.SchemaName,
		Fields:         make([]schema.Field, len(s.Fields)),
		PrimaryKeyPath: s.PrimaryKeyPath,
	}
	for i, f := range s.Fields {
		if c.DoesIncludeField(s.SchemaName, f.Name) {
			filtered.Fields[i] = f
		}
		// else: zero-value Field left in place, marking the gap.
	}
	return filtered
}
