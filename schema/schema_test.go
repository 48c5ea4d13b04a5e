package schema

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func decodeFixture(t *testing.T, s Schema) Schema {
	t.Helper()
	buf := Encode(nil, s)
	got, err := Decode(bufio.NewReader(bytes.NewReader(buf)))
	require.NoError(t, err)
	return got
}

func TestObjectSchemaRoundTrip(t *testing.T) {
	s := &ObjectSchema{
		SchemaName: "Movie",
		Fields: []Field{
			{Name: "id", Type: FieldInt},
			{Name: "title", Type: FieldString},
			{Name: "director", Type: FieldReference, ReferencedType: "Person"},
		},
		PrimaryKeyPath: []string{"id"},
	}
	got := decodeFixture(t, s)
	require.True(t, Equal(s, got))
}

func TestListSchemaRoundTrip(t *testing.T) {
	s := &ListSchema{SchemaName: "MovieList", ElementType: "Movie"}
	got := decodeFixture(t, s)
	require.True(t, Equal(s, got))
}

func TestSetSchemaRoundTrip(t *testing.T) {
	s := &SetSchema{SchemaName: "MovieSet", ElementType: "Movie", HashKeyPaths: []string{"id"}}
	got := decodeFixture(t, s)
	require.True(t, Equal(s, got))
}

func TestMapSchemaRoundTrip(t *testing.T) {
	s := &MapSchema{SchemaName: "MovieById", KeyType: "int", ValueType: "Movie", HashKeyPaths: []string{"id"}}
	got := decodeFixture(t, s)
	require.True(t, Equal(s, got))
}

func TestDecodeUnknownKind(t *testing.T) {
	buf := []byte{99, 1, 'x'}
	_, err := Decode(bufio.NewReader(bytes.NewReader(buf)))
	require.Error(t, err)
}

func TestEqualDetectsMismatch(t *testing.T) {
	a := &ObjectSchema{SchemaName: "Movie", Fields: []Field{{Name: "id", Type: FieldInt}}}
	b := &ObjectSchema{SchemaName: "Movie", Fields: []Field{{Name: "id", Type: FieldLong}}}
	require.False(t, Equal(a, b))
}
