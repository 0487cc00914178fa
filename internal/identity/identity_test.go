package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAllowlist(t *testing.T) {
	t.Parallel()

	a, err := ParseAllowlist(" 42, 7 ,,1001")
	require.NoError(t, err)
	assert.False(t, a.Open())
	assert.Equal(t, []int64{7, 42, 1001}, a.IDs())
	assert.True(t, a.Allowed(42))
	assert.False(t, a.Allowed(8))
}

func TestParseAllowlistEmptyIsOpen(t *testing.T) {
	t.Parallel()

	a, err := ParseAllowlist("  ")
	require.NoError(t, err)
	assert.True(t, a.Open())
	assert.True(t, a.Allowed(12345))

	var nilList *Allowlist
	assert.True(t, nilList.Allowed(1))
}

func TestParseAllowlistRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseAllowlist("42,bob")
	require.Error(t, err)
}

func TestNewAllowlist(t *testing.T) {
	t.Parallel()

	a := NewAllowlist(5)
	assert.True(t, a.Allowed(5))
	assert.False(t, a.Allowed(6))
}
