package sedonadb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"

	"github.com/sedonadb/go-sedonadb/objectstore"
)

// OverflowPolicy selects the behavior of integer arithmetic that overflows.
type OverflowPolicy string

const (
	// OverflowError fails the query with ErrExecution.
	OverflowError OverflowPolicy = "error"
	// OverflowWrap wraps around in two's complement.
	OverflowWrap OverflowPolicy = "wrap"
)

// Config configures a Context.
type Config struct {
	// BatchSize is the target number of rows per record batch.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
	// TargetPartitions bounds the number of files decoded concurrently.
	TargetPartitions int `mapstructure:"target_partitions" yaml:"target_partitions"`
	// Overflow is the integer overflow policy.
	Overflow OverflowPolicy `mapstructure:"overflow" yaml:"overflow"`
	// CRSDefinitions is an optional JSON file mapping "AUTHORITY:CODE" to PROJJSON.
	CRSDefinitions string `mapstructure:"crs_definitions" yaml:"crs_definitions"`
	// IORetries bounds the retries of transient object store failures.
	IORetries int `mapstructure:"io_retries" yaml:"io_retries"`
	// TempDir is used for spill files of ToParquet with SortBy on remote targets.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir"`

	ObjectStore objectstore.Config `mapstructure:",squash" yaml:",inline"`

	Logger    *slog.Logger     `mapstructure:"-" yaml:"-"`
	Allocator memory.Allocator `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the configuration used for unset options.
func DefaultConfig() Config {
	return Config{
		BatchSize:        8192,
		TargetPartitions: 4,
		Overflow:         OverflowError,
		IORetries:        3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.TargetPartitions == 0 {
		c.TargetPartitions = def.TargetPartitions
	}
	if c.Overflow == "" {
		c.Overflow = def.Overflow
	}
	if c.TempDir == "" {
		c.TempDir = os.TempDir()
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Allocator == nil {
		c.Allocator = memory.DefaultAllocator
	}
	return c
}

func (c Config) validate() error {
	if c.BatchSize < 0 {
		return getError(ErrInvalidConfig, fmt.Errorf("batch_size must be positive, got %d", c.BatchSize))
	}
	if c.TargetPartitions < 0 {
		return getError(ErrInvalidConfig, fmt.Errorf("target_partitions must be positive, got %d", c.TargetPartitions))
	}
	if c.IORetries < 0 {
		return getError(ErrInvalidConfig, fmt.Errorf("io_retries must not be negative, got %d", c.IORetries))
	}
	switch c.Overflow {
	case "", OverflowError, OverflowWrap:
	default:
		return getError(ErrInvalidConfig, fmt.Errorf("overflow must be %q or %q, got %q", OverflowError, OverflowWrap, c.Overflow))
	}
	return nil
}

// ParseDSN parses configuration options from the query string of a DSN,
// e.g. "?batch_size=4096&overflow=wrap". Unknown options are an ErrInvalidConfig.
func ParseDSN(dsn string) (Config, error) {
	cfg := DefaultConfig()
	parsed, err := url.Parse(dsn)
	if err != nil {
		return cfg, getError(ErrInvalidConfig, fmt.Errorf("%w: %s", errParseDSN, err.Error()))
	}

	// Early-out, if the DSN does not contain configuration options.
	if len(parsed.RawQuery) == 0 {
		return cfg, nil
	}

	options := make(map[string]any)
	for k, v := range parsed.Query() {
		if len(v) == 0 {
			continue
		}
		options[strings.ToLower(k)] = v[0]
	}
	if err = decodeOptions(options, &cfg); err != nil {
		return cfg, err
	}
	return cfg, cfg.validate()
}

func decodeOptions(options map[string]any, cfg *Config) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           cfg,
		TagName:          "mapstructure",
	})
	if err != nil {
		return getError(ErrInvalidConfig, err)
	}
	if err = decoder.Decode(options); err != nil {
		return getError(ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfigFile reads a YAML configuration file. Options missing from the file
// keep their defaults.
func LoadConfigFile(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, getError(ErrInvalidConfig, err)
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err = dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, getError(ErrInvalidConfig, fmt.Errorf("%s: %w", path, err))
	}
	return cfg, cfg.validate()
}
