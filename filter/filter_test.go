package filter

import (
	"testing"

	"github.com/lakshaybadak/rodb/schema"
	"github.com/stretchr/testify/require"
)

func TestDefaultIncludeEverything(t *testing.T) {
	c := NewConfig(true)
	require.True(t, c.DoesIncludeType("Movie"))
	require.True(t, c.DoesIncludeField("Movie", "title"))
}

func TestExcludeType(t *testing.T) {
	c := NewConfig(true)
	c.Exclude("Junk")
	require.False(t, c.DoesIncludeType("Junk"))
	require.False(t, c.DoesIncludeField("Junk", "anything"))
}

func TestExcludeField(t *testing.T) {
	c := NewConfig(true)
	c.ExcludeField("Movie", "synopsis")
	require.True(t, c.DoesIncludeType("Movie"))
	require.True(t, c.DoesIncludeField("Movie", "title"))
	require.False(t, c.DoesIncludeField("Movie", "synopsis"))
}

func TestFilterObjectSchemaPreservesPositions(t *testing.T) {
	s := &schema.ObjectSchema{
		SchemaName: "Movie",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldInt},
			{Name: "synopsis", Type: schema.FieldString},
			{Name: "title", Type: schema.FieldString},
		},
	}
	c := NewConfig(true)
	c.ExcludeField("Movie", "synopsis")

	filtered := c.FilterObjectSchema(s)
	require.Len(t, filtered.Fields, 3)
	require.Equal(t, "id", filtered.Fields[0].Name)
	require.Equal(t, "", filtered.Fields[1].Name) // gap
	require.Equal(t, "title", filtered.Fields[2].Name)
}

func TestDefaultExcludeEverythingUntilIncluded(t *testing.T) {
	c := NewConfig(false)
	require.False(t, c.DoesIncludeType("Movie"))
	c.Include("Movie")
	require.True(t, c.DoesIncludeType("Movie"))
}
