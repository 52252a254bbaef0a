package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, BlockSize, cfg.PageSize)
	assert.Equal(t, 1024, cfg.CachePages)
	assert.False(t, cfg.AllowEmptyPages)
	assert.EqualValues(t, 10000, cfg.ViewCostCacheMaxAgeMs)
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse(strings.NewReader(`
page_size = 8192
cache_pages = 64
read_only = true
allow_empty_pages = true
case_insensitive = true
`))
	require.NoError(t, err)
	assert.Equal(t, 8192, cfg.PageSize)
	assert.Equal(t, 64, cfg.CachePages)
	assert.True(t, cfg.ReadOnly)
	assert.True(t, cfg.AllowEmptyPages)
	assert.True(t, cfg.CaseInsensitive)
}

func TestParseRejectsUnknownKey(t *testing.T) {
	_, err := Parse(strings.NewReader("page_sise = 4096\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown key")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"page size not a block multiple", func(c *Config) { c.PageSize = 5000 }},
		{"page size not a power of two", func(c *Config) { c.PageSize = 12288 }},
		{"cache too small", func(c *Config) { c.CachePages = 1 }},
		{"negative cache age", func(c *Config) { c.ViewCostCacheMaxAgeMs = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
