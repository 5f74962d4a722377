package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `
unknown_section = "value"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_Typo(t *testing.T) {
	path := writeTestConfig(t, `
base_url = "https://admin.example.com"
rows_per_pgae = 50
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `did you mean "rows_per_page"?`)
}

func TestLoad_UnknownKey_KnownKeyInsideTable(t *testing.T) {
	path := writeTestConfig(t, `
[server]
base_url = "https://admin.example.com"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is a top-level key")
}

func TestLoad_UnknownKey_ReportsAll(t *testing.T) {
	path := writeTestConfig(t, `
log_levle = "debug"
stale_tiem = "1m"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "stale_time")
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b     string
		expected int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"base_url", "base_url", 0},
		{"base_uri", "base_url", 1},
		{"rows_per_pgae", "rows_per_page", 2},
		{"kitten", "sitting", 3},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.expected, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "session_path", closestMatch("sesion_path", knownGlobalKeysList))
	assert.Equal(t, "max_retries", closestMatch("max_retry", knownGlobalKeysList))
	assert.Empty(t, closestMatch("completely_unrelated", knownGlobalKeysList))
}
