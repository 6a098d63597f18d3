package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestRegistry() *Registry {
	r := NewRegistry()
	r.Register("source", "STRING", SimpleFieldMapping{MapTo: "source"})
	r.Register("severity", "STRING", SimpleFieldMapping{MapTo: "severity"})
	r.Register("labels.host", "STRING",
		JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"labels", "host"}},
		JsonFieldMapping{JsonProp: "legacy_event", PropInJSON: []string{"host"}},
	)
	r.RegisterWildcard("labels.*", "STRING", JsonFieldMapping{JsonProp: "event", PropInJSON: []string{"labels"}})
	r.Alias("host", "labels.host")
	return r
}

func TestLookup_ExactBeatsWildcard(t *testing.T) {
	r := buildTestRegistry()
	meta, suffix, err := r.Lookup("labels.host")
	require.NoError(t, err)
	assert.Nil(t, suffix)
	require.Len(t, meta.FieldMappings, 2)
}

func TestLookup_WildcardResolvesSuffix(t *testing.T) {
	r := buildTestRegistry()
	meta, suffix, err := r.Lookup("labels.environment")
	require.NoError(t, err)
	assert.Equal(t, []string{"environment"}, suffix)
	jm := meta.FieldMappings[0].(JsonFieldMapping)
	assert.Equal(t, []string{"labels", "environment"}, jm.PropInJSON)
}

func TestLookup_Alias(t *testing.T) {
	r := buildTestRegistry()
	meta, _, err := r.Lookup("host")
	require.NoError(t, err)
	assert.Equal(t, "labels.host", meta.CELField)
}

func TestLookup_Unmapped(t *testing.T) {
	r := buildTestRegistry()
	_, _, err := r.Lookup("nonexistent.path")
	require.Error(t, err)
	var unmapped *ErrUnmappedProperty
	assert.ErrorAs(t, err, &unmapped)
}
