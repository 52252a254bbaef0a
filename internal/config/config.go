// Package config loads the engine configuration from a TOML file and
// applies defaults and validation before the store is opened.
package config

import (
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// BlockSize is the unit of file allocation; pages are multiples of it.
const BlockSize = 4096

// Config is the engine configuration.
type Config struct {
	// PageSize is the page size in bytes: a power of two and a
	// multiple of the 4096-byte block.
	PageSize int `toml:"page_size"`
	// CachePages bounds the LRU page cache.
	CachePages int `toml:"cache_pages"`
	ReadOnly   bool `toml:"read_only"`
	// PanicOnCorruption selects between aborting the process and
	// marking the store read-only when an internal invariant breaks.
	PanicOnCorruption bool `toml:"panic_on_corruption"`
	// AllowEmptyPages is a compatibility toggle: when false, an empty
	// non-root b-tree page is a hard error.
	AllowEmptyPages bool `toml:"allow_empty_pages"`
	// ViewCostCacheMaxAgeMs bounds how long a view index reuses a
	// cached cost for the same predicate mask.
	ViewCostCacheMaxAgeMs int64 `toml:"view_cost_cache_max_age_ms"`
	// CaseInsensitive selects the database compare mode for strings.
	CaseInsensitive bool `toml:"case_insensitive"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		PageSize:              BlockSize,
		CachePages:            1024,
		ViewCostCacheMaxAgeMs: 10000,
	}
}

// ParseFile opens path and parses it as an engine configuration.
func ParseFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open file %q: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a TOML configuration, applying defaults for absent keys.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	meta, err := toml.NewDecoder(r).Decode(cfg)
	if err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if undec := meta.Undecoded(); len(undec) > 0 {
		return nil, fmt.Errorf("config: unknown key %q", undec[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the invariants the store relies on.
func (c *Config) Validate() error {
	if c.PageSize < BlockSize || c.PageSize%BlockSize != 0 {
		return fmt.Errorf("config: page_size %d: must be a multiple of %d", c.PageSize, BlockSize)
	}
	if c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("config: page_size %d: must be a power of two", c.PageSize)
	}
	if c.CachePages < 16 {
		return fmt.Errorf("config: cache_pages %d: minimum is 16", c.CachePages)
	}
	if c.ViewCostCacheMaxAgeMs < 0 {
		return fmt.Errorf("config: view_cost_cache_max_age_ms must not be negative")
	}
	return nil
}
