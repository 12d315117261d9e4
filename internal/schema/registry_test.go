package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeterName(t *testing.T) {
	assert.Equal(t, "llm.tokens", MeterName("llm.tokens.v1"))
	assert.Equal(t, "compute.seconds", MeterName("compute.seconds.v2"))
	assert.Equal(t, "calls", MeterName("calls.v1"))
	// single-segment types have no version suffix to strip
	assert.Equal(t, "calls", MeterName("calls"))
}

func TestRegistryOrderAndLookup(t *testing.T) {
	r := DefaultRegistry()

	all := r.All()
	require.NotEmpty(t, all)
	assert.Equal(t, "llm.tokens.v1", all[0].EventType)

	entry, err := r.Get("llm.tokens.v1")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, entry.Status)

	_, err = r.Get("does.not.exist.v1")
	assert.ErrorIs(t, err, ErrSchemaNotFound)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(EventSchema{EventType: "a.b.v1", Version: 1}))
	assert.ErrorIs(t, r.Register(EventSchema{EventType: "a.b.v1", Version: 1}), ErrSchemaExists)
}

func TestValidate(t *testing.T) {
	r := DefaultRegistry()

	issues, err := r.Validate("llm.tokens.v1", map[string]any{
		"quantity": float64(120),
		"provider": "anthropic",
	})
	require.NoError(t, err)
	assert.Empty(t, issues)

	issues, err = r.Validate("llm.tokens.v1", map[string]any{
		"provider":  42,
		"costMinor": 1.5,
	})
	require.NoError(t, err)
	require.Len(t, issues, 3)
	codes := map[string]string{}
	for _, issue := range issues {
		codes[issue.Field] = issue.Code
	}
	assert.Equal(t, "required", codes["quantity"])
	assert.Equal(t, "type", codes["provider"])
	assert.Equal(t, "type", codes["costMinor"])
}

func TestDeprecatedValidatesButRejectsWrites(t *testing.T) {
	r := DefaultRegistry()

	issues, err := r.Validate("compute.seconds.v1", map[string]any{"quantity": float64(1)})
	require.NoError(t, err)
	assert.Empty(t, issues)

	assert.ErrorIs(t, r.AcceptsWrites("compute.seconds.v1"), ErrSchemaDeprecated)
	assert.NoError(t, r.AcceptsWrites("compute.seconds.v2"))
}

func TestRenderShape(t *testing.T) {
	r := DefaultRegistry()
	entry, err := r.Get("llm.tokens.v1")
	require.NoError(t, err)

	desc := Render(entry)
	assert.Equal(t, "object", desc.Type)
	assert.True(t, desc.AdditionalProperties)
	assert.Equal(t, []string{"quantity"}, desc.Required)
	assert.Equal(t, "number", desc.Properties["quantity"].Type)
	assert.Equal(t, "string", desc.Properties["provider"].Type)
	assert.Equal(t, "integer", desc.Properties["costMinor"].Type)
	// unknown fields render without a concrete type
	assert.Equal(t, "", desc.Properties["metadata"].Type)
}

func TestMeterNamesDistinct(t *testing.T) {
	r := DefaultRegistry()
	names := r.MeterNames()
	seen := map[string]bool{}
	for _, name := range names {
		assert.False(t, seen[name], "duplicate meter %s", name)
		seen[name] = true
	}
	assert.Contains(t, names, "llm.tokens")
	assert.Contains(t, names, "compute.seconds")
}
