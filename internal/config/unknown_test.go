package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_UnknownSection(t *testing.T) {
	path := writeTestConfig(t, `
[apliance]
base_url = "https://gw.example.net"
username = "admin"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config section "apliance"`)
	assert.Contains(t, err.Error(), `did you mean "appliance"?`)
	assert.Equal(t, 1, strings.Count(err.Error(), "apliance"), "section reported once")
}

func TestLoad_UnknownKey_InSection(t *testing.T) {
	path := writeTestConfig(t, "[retry]\nmax_retires = 4\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown config key "max_retires" in [retry]`)
	assert.Contains(t, err.Error(), "max_retries")
}

func TestLoad_UnknownKey_TopLevel(t *testing.T) {
	path := writeTestConfig(t, `verbose = true`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config section")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKey_NoSuggestion(t *testing.T) {
	path := writeTestConfig(t, `
[transport]
completely_unrelated_key = true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown config key")
	assert.NotContains(t, err.Error(), "did you mean")
}

func TestLoad_UnknownKeys_AllReported(t *testing.T) {
	path := writeTestConfig(t, `
[appliance]
usrname = "admin"

[logging]
log_levl = "debug"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"username"`)
	assert.Contains(t, err.Error(), `"log_level"`)
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"", "abc", 3},
		{"kitten", "sitting", 3},
		{"max_retries", "max_retires", 2},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_"+tt.b, func(t *testing.T) {
			assert.Equal(t, tt.want, levenshtein(tt.a, tt.b))
		})
	}
}

func TestClosestMatch(t *testing.T) {
	keys := sortedKeys("transport")
	assert.Equal(t, "user_agent", closestMatch("useragent", keys))
	assert.Empty(t, closestMatch("zzzzzzzz", keys))
}
