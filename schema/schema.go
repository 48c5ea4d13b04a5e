// Package schema implements the typed schema model (spec.md §3, §4.4):
// tagged Object/List/Set/Map variants, their wire codec, and the
// FieldType enumeration the distilled spec names only informally.
package schema

import (
	"io"

	"github.com/lakshaybadak/rodb/rodberrors"
	"github.com/lakshaybadak/rodb/varint"
)

// Kind is the schema's tagged-variant discriminant (spec.md §9: "the kind
// enumeration is {Object, List, Set, Map}").
type Kind uint8

const (
	KindObject Kind = 0
	KindList   Kind = 1
	KindSet    Kind = 2
	KindMap    Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindObject:
		return "object"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// FieldType enumerates the primitive and reference field kinds an object
// field can carry. Supplemental to spec.md §4.4 per SPEC_FULL.md §5,
// grounded on original_source/hollow's schema field-type enumeration.
type FieldType uint8

const (
	FieldBoolean FieldType = iota
	FieldInt
	FieldLong
	FieldFloat
	FieldDouble
	FieldString
	FieldBytes
	FieldReference
)

// Field is one ordered field of an ObjectSchema.
type Field struct {
	Name          string
	Type          FieldType
	ReferencedType string // set iff Type == FieldReference
}

// Schema is the common tagged-variant interface implemented by
// ObjectSchema, ListSchema, SetSchema, and MapSchema.
type Schema interface {
	Kind() Kind
	Name() string
}

// ObjectSchema describes a record type: an ordered list of fields and an
// optional primary-key field path.
type ObjectSchema struct {
	SchemaName    string
	Fields        []Field
	PrimaryKeyPath []string // nil if no primary key declared
}

func (s *ObjectSchema) Kind() Kind    { return KindObject }
func (s *ObjectSchema) Name() string  { return s.SchemaName }

// FieldIndex returns the position of a named field, or -1.
func (s *ObjectSchema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// ListSchema describes an ordered collection type.
type ListSchema struct {
	SchemaName  string
	ElementType string
}

func (s *ListSchema) Kind() Kind   { return KindList }
func (s *ListSchema) Name() string { return s.SchemaName }

// SetSchema describes an unordered, deduplicated collection type.
type SetSchema struct {
	SchemaName   string
	ElementType  string
	HashKeyPaths []string
}

func (s *SetSchema) Kind() Kind   { return KindSet }
func (s *SetSchema) Name() string { return s.SchemaName }

// MapSchema describes a key/value collection type.
type MapSchema struct {
	SchemaName   string
	KeyType      string
	ValueType    string
	HashKeyPaths []string
}

func (s *MapSchema) Kind() Kind   { return KindMap }
func (s *MapSchema) Name() string { return s.SchemaName }

// byteReader is the minimal interface Decode needs.
type byteReader interface {
	io.Reader
	io.ByteReader
}

// Decode reads one SchemaRecord off r, per spec.md §6:
//
//	kind : u8
//	name : vstring
//	body : kind-specific
//
// The decode loop dispatches on kind the way version-edit-style decoders
// dispatch on a tag byte.
func Decode(r byteReader) (Schema, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, rodberrors.Malformedf("schema: reading kind: %v", err)
	}
	name, err := readVString(r)
	if err != nil {
		return nil, rodberrors.Malformedf("schema: reading name: %v", err)
	}

	switch Kind(kindByte) {
	case KindObject:
		return decodeObjectBody(r, name)
	case KindList:
		elemType, err := readVString(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: list %q: reading element type: %v", name, err)
		}
		return &ListSchema{SchemaName: name, ElementType: elemType}, nil
	case KindSet:
		elemType, err := readVString(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: set %q: reading element type: %v", name, err)
		}
		keys, err := readStringSlice(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: set %q: reading hash keys: %v", name, err)
		}
		return &SetSchema{SchemaName: name, ElementType: elemType, HashKeyPaths: keys}, nil
	case KindMap:
		keyType, err := readVString(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: map %q: reading key type: %v", name, err)
		}
		valType, err := readVString(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: map %q: reading value type: %v", name, err)
		}
		keys, err := readStringSlice(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: map %q: reading hash keys: %v", name, err)
		}
		return &MapSchema{SchemaName: name, KeyType: keyType, ValueType: valType, HashKeyPaths: keys}, nil
	default:
		return nil, rodberrors.Malformedf("schema: unknown kind byte %d for %q", kindByte, name)
	}
}

func decodeObjectBody(r byteReader, name string) (*ObjectSchema, error) {
	fieldCount, err := varint.ReadVarint(r)
	if err != nil {
		return nil, rodberrors.Malformedf("schema: object %q: reading field count: %v", name, err)
	}
	fields := make([]Field, fieldCount)
	for i := range fields {
		fname, err := readVString(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: object %q field %d: reading name: %v", name, i, err)
		}
		ftByte, err := r.ReadByte()
		if err != nil {
			return nil, rodberrors.Malformedf("schema: object %q field %d: reading type: %v", name, i, err)
		}
		f := Field{Name: fname, Type: FieldType(ftByte)}
		if f.Type == FieldReference {
			ref, err := readVString(r)
			if err != nil {
				return nil, rodberrors.Malformedf("schema: object %q field %d: reading referenced type: %v", name, i, err)
			}
			f.ReferencedType = ref
		}
		fields[i] = f
	}

	hasPK, err := r.ReadByte()
	if err != nil {
		return nil, rodberrors.Malformedf("schema: object %q: reading primary-key flag: %v", name, err)
	}
	var pk []string
	if hasPK != 0 {
		pk, err = readStringSlice(r)
		if err != nil {
			return nil, rodberrors.Malformedf("schema: object %q: reading primary-key path: %v", name, err)
		}
	}
	return &ObjectSchema{SchemaName: name, Fields: fields, PrimaryKeyPath: pk}, nil
}

// Equal reports whether two schemas have matching structure. Used to
// verify a delta's schema matches the registered snapshot schema for the
// same name (spec.md §3 invariant).
func Equal(a, b Schema) bool {
	if a.Kind() != b.Kind() || a.Name() != b.Name() {
		return false
	}
	switch av := a.(type) {
	case *ObjectSchema:
		bv := b.(*ObjectSchema)
		if len(av.Fields) != len(bv.Fields) {
			return false
		}
		for i := range av.Fields {
			if av.Fields[i] != bv.Fields[i] {
				return false
			}
		}
		return true
	case *ListSchema:
		bv := b.(*ListSchema)
		return av.ElementType == bv.ElementType
	case *SetSchema:
		bv := b.(*SetSchema)
		return av.ElementType == bv.ElementType && equalStrings(av.HashKeyPaths, bv.HashKeyPaths)
	case *MapSchema:
		bv := b.(*MapSchema)
		return av.KeyType == bv.KeyType && av.ValueType == bv.ValueType && equalStrings(av.HashKeyPaths, bv.HashKeyPaths)
	default:
		return false
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Encode appends the wire encoding of s to dst, the inverse of Decode.
// Used by tests to build in-process blob fixtures.
func Encode(dst []byte, s Schema) []byte {
	dst = append(dst, byte(s.Kind()))
	dst = writeVString(dst, s.Name())
	switch v := s.(type) {
	case *ObjectSchema:
		dst = varint.WriteVarint(dst, uint64(len(v.Fields)))
		for _, f := range v.Fields {
			dst = writeVString(dst, f.Name)
			dst = append(dst, byte(f.Type))
			if f.Type == FieldReference {
				dst = writeVString(dst, f.ReferencedType)
			}
		}
		if v.PrimaryKeyPath == nil {
			dst = append(dst, 0)
		} else {
			dst = append(dst, 1)
			dst = writeStringSlice(dst, v.PrimaryKeyPath)
		}
	case *ListSchema:
		dst = writeVString(dst, v.ElementType)
	case *SetSchema:
		dst = writeVString(dst, v.ElementType)
		dst = writeStringSlice(dst, v.HashKeyPaths)
	case *MapSchema:
		dst = writeVString(dst, v.KeyType)
		dst = writeVString(dst, v.ValueType)
		dst = writeStringSlice(dst, v.HashKeyPaths)
	}
	return dst
}

func writeVString(dst []byte, s string) []byte {
	dst = varint.WriteVarint(dst, uint64(len(s)))
	return append(dst, s...)
}

func writeStringSlice(dst []byte, ss []string) []byte {
	dst = varint.WriteVarint(dst, uint64(len(ss)))
	for _, s := range ss {
		dst = writeVString(dst, s)
	}
	return dst
}

func readVString(r byteReader) (string, error) {
	n, err := varint.ReadVarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func readStringSlice(r byteReader) ([]string, error) {
	n, err := varint.ReadVarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i := range out {
		s, err := readVString(r)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}
