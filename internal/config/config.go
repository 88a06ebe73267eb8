// Package config builds the Options a tree is opened with, either
// programmatically via functional options or by loading a YAML file
// through viper.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/tuannm99/bptreekv/internal/bufferpool"
)

// WalOptions configures the write-ahead log's durability/cadence knobs.
type WalOptions struct {
	GroupCommit           bool
	CheckpointIntervalOps int
	CheckpointIntervalMs  int
}

// Limits holds advisory alert thresholds. The store accepts and stores
// them but neither enforces nor reports against them.
type Limits struct {
	RSSBytes    int64
	BufferPages int
}

// Options is the full set of knobs a tree is opened with, per the
// configuration table in the external interfaces.
type Options struct {
	FilePath       string
	WalPath        string
	PageSize       int
	SegmentPages   int
	ReadAheadPages int
	BufferPages    int
	EvictionPolicy bufferpool.EvictionPolicy
	WalOptions     WalOptions
	Limits         Limits
}

// Default returns the baseline Options before any With* overrides.
func Default(filePath string) Options {
	return Options{
		FilePath:       filePath,
		PageSize:       4096,
		BufferPages:    256,
		EvictionPolicy: bufferpool.LRU,
	}
}

// Option mutates an Options value; With* constructors below build them.
type Option func(*Options)

// Apply folds a list of Option onto a base Options value.
func Apply(base Options, opts ...Option) Options {
	for _, opt := range opts {
		opt(&base)
	}
	return base
}

func WithWalPath(path string) Option {
	return func(o *Options) { o.WalPath = path }
}

func WithPageSize(n int) Option {
	return func(o *Options) { o.PageSize = n }
}

func WithSegmentPages(n int) Option {
	return func(o *Options) { o.SegmentPages = n }
}

func WithReadAheadPages(n int) Option {
	return func(o *Options) { o.ReadAheadPages = n }
}

func WithBufferPages(n int) Option {
	return func(o *Options) { o.BufferPages = n }
}

func WithEvictionPolicy(p bufferpool.EvictionPolicy) Option {
	return func(o *Options) { o.EvictionPolicy = p }
}

func WithGroupCommit(enabled bool) Option {
	return func(o *Options) { o.WalOptions.GroupCommit = enabled }
}

func WithCheckpointIntervalOps(n int) Option {
	return func(o *Options) { o.WalOptions.CheckpointIntervalOps = n }
}

func WithCheckpointIntervalMs(n int) Option {
	return func(o *Options) { o.WalOptions.CheckpointIntervalMs = n }
}

func WithLimits(rssBytes int64, bufferPages int) Option {
	return func(o *Options) { o.Limits = Limits{RSSBytes: rssBytes, BufferPages: bufferPages} }
}

// fileConfig mirrors the YAML schema Load accepts; unset fields keep the
// base Options' values.
type fileConfig struct {
	FilePath       string `mapstructure:"file_path"`
	WalPath        string `mapstructure:"wal_path"`
	PageSize       int    `mapstructure:"page_size"`
	SegmentPages   int    `mapstructure:"segment_pages"`
	ReadAheadPages int    `mapstructure:"read_ahead_pages"`
	BufferPages    int    `mapstructure:"buffer_pages"`
	EvictionPolicy string `mapstructure:"eviction_policy"`
	WalOptions     struct {
		GroupCommit           bool `mapstructure:"group_commit"`
		CheckpointIntervalOps int  `mapstructure:"checkpoint_interval_ops"`
		CheckpointIntervalMs  int  `mapstructure:"checkpoint_interval_ms"`
	} `mapstructure:"wal_options"`
	Limits struct {
		RSSBytes    int64 `mapstructure:"rss_bytes"`
		BufferPages int   `mapstructure:"buffer_pages"`
	} `mapstructure:"limits"`
}

// Load reads a YAML config file at path and merges it onto Default,
// leaving any field the file omits at its zero/default value.
func Load(path string) (Options, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return Options{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return Options{}, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	opts := Default(fc.FilePath)
	if fc.WalPath != "" {
		opts.WalPath = fc.WalPath
	}
	if fc.PageSize != 0 {
		opts.PageSize = fc.PageSize
	}
	opts.SegmentPages = fc.SegmentPages
	opts.ReadAheadPages = fc.ReadAheadPages
	if fc.BufferPages != 0 {
		opts.BufferPages = fc.BufferPages
	}
	if fc.EvictionPolicy == string(bufferpool.Clock) {
		opts.EvictionPolicy = bufferpool.Clock
	}
	opts.WalOptions = WalOptions{
		GroupCommit:           fc.WalOptions.GroupCommit,
		CheckpointIntervalOps: fc.WalOptions.CheckpointIntervalOps,
		CheckpointIntervalMs:  fc.WalOptions.CheckpointIntervalMs,
	}
	opts.Limits = Limits{RSSBytes: fc.Limits.RSSBytes, BufferPages: fc.Limits.BufferPages}
	return opts, nil
}

// Validate checks the invariants the coordinator relies on at open time.
func Validate(o Options) error {
	if o.FilePath == "" {
		return fmt.Errorf("config: filePath is required")
	}
	if o.PageSize <= 0 || o.PageSize%512 != 0 {
		return fmt.Errorf("config: pageSize %d must be a positive multiple of 512", o.PageSize)
	}
	if o.SegmentPages < 0 {
		return fmt.Errorf("config: segmentPages must be >= 0")
	}
	if o.BufferPages <= 0 {
		return fmt.Errorf("config: bufferPages must be positive")
	}
	return nil
}
