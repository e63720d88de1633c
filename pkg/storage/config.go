package storage

import "fmt"

// Config holds the recognized construction options for a BufferPoolManager.
// Mirrors the settings table in §6 of the design: pool size and young/old
// split are the only policy knobs; everything else about the replacer is
// fixed behavior.
type Config struct {
	// PoolSize is N_FRAMES: the number of page-sized frames the pool
	// manages. Required, must be > 0.
	PoolSize int

	// YoungRatio sets the young segment's capacity as a fraction of
	// PoolSize (Y = round(PoolSize * YoungRatio)). Must be in (0, 1).
	// Default: 0.5.
	YoungRatio float64

	// BackingPath is the path to the single backing file. Required.
	BackingPath string

	// CreateIfMissing creates BackingPath when it doesn't exist. Default:
	// true, matching pkg/storage/disk_manager.go's O_CREATE open flag.
	CreateIfMissing bool
}

// DefaultConfig returns a Config with PoolSize and BackingPath left for the
// caller to fill in and every other field at its documented default.
func DefaultConfig() Config {
	return Config{
		YoungRatio:      0.5,
		CreateIfMissing: true,
	}
}

// validate checks the recognized options and fills in the YoungRatio default
// when it is left at zero (a zero CreateIfMissing stays false), the way pkg/server/config.go's DefaultConfig
// establishes sensible defaults rather than erroring on an empty Config.
func (c Config) validate() (Config, error) {
	if c.PoolSize <= 0 {
		return c, fmt.Errorf("storage: pool_size must be > 0, got %d", c.PoolSize)
	}
	if c.BackingPath == "" {
		return c, fmt.Errorf("storage: backing_path is required")
	}
	if c.YoungRatio == 0 {
		c.YoungRatio = 0.5
	}
	if c.YoungRatio <= 0 || c.YoungRatio >= 1 {
		return c, fmt.Errorf("storage: young_ratio must be in (0,1), got %f", c.YoungRatio)
	}
	return c, nil
}
