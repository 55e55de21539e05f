package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatForCLI_IncludesDetailsHintAndCode(t *testing.T) {
	// Given: a facet error with detail and suggestion
	err := New(ErrCodeInvalidFacet, "unknown facet", nil).
		WithDetail("facet", "Colour").
		WithSuggestion("use one of: Brand, Category")

	// When: formatting for CLI
	out := FormatForCLI(err)

	// Then: every piece of context is present
	assert.Contains(t, out, "Error: unknown facet")
	assert.Contains(t, out, "facet: Colour")
	assert.Contains(t, out, "Hint: use one of: Brand, Category")
	assert.Contains(t, out, "Code: ERR_407_INVALID_FACET")
}

func TestFormatForCLI_WrapsStandardError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs_FlattensDetails(t *testing.T) {
	// Given: an error with details
	err := New(ErrCodeNotFound, "document not found", nil).WithDetail("key", "sku-9")

	// When: converting to slog attributes
	attrs := LogAttrs(err)

	// Then: code and details are present
	keys := make(map[string]string)
	for _, a := range attrs {
		keys[a.Key] = a.Value.String()
	}
	assert.Equal(t, ErrCodeNotFound, keys["error_code"])
	assert.Equal(t, "sku-9", keys["detail_key"])
	assert.Equal(t, "STATE", keys["category"])
}
