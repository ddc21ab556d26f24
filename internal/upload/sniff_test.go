package upload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustRule(t *testing.T, ext string) FormatRule {
	t.Helper()
	rule, ok := ImageRegistry().Lookup(ext)
	require.True(t, ok, "expected %s to be registered", ext)
	return rule
}

func TestMatchesFormat(t *testing.T) {
	jpeg := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F'}
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}
	gif87 := []byte("GIF87a;trailer")
	gif89 := []byte("GIF89a;trailer")

	assert.True(t, MatchesFormat(jpeg, mustRule(t, ".jpg")))
	assert.True(t, MatchesFormat(jpeg, mustRule(t, ".jpeg")))
	assert.True(t, MatchesFormat(png, mustRule(t, ".png")))
	assert.True(t, MatchesFormat(gif87, mustRule(t, ".gif")))
	assert.True(t, MatchesFormat(gif89, mustRule(t, ".gif")))

	// Content/extension cross-matches must fail.
	assert.False(t, MatchesFormat(png, mustRule(t, ".jpg")))
	assert.False(t, MatchesFormat(jpeg, mustRule(t, ".png")))
	assert.False(t, MatchesFormat(gif89, mustRule(t, ".jpeg")))
}

func TestMatchesFormatShortPrefix(t *testing.T) {
	// A prefix shorter than the signature never matches, even when the
	// available bytes agree with it.
	assert.False(t, MatchesFormat([]byte{0x89, 0x50, 0x4E}, mustRule(t, ".png")))
	assert.False(t, MatchesFormat([]byte("GIF89"), mustRule(t, ".gif")))
	assert.False(t, MatchesFormat(nil, mustRule(t, ".jpg")))
	assert.False(t, MatchesFormat([]byte{}, mustRule(t, ".png")))

	// Exactly signature-length prefixes are sufficient.
	assert.True(t, MatchesFormat([]byte{0xFF, 0xD8, 0xFF}, mustRule(t, ".jpg")))
	assert.True(t, MatchesFormat([]byte("GIF87a"), mustRule(t, ".gif")))
}
