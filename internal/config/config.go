// =============================================================================
// FatturaPA Extractor - Configuration Module
// =============================================================================
//
// Configuration is resolved in three layers, lowest precedence first:
//
//   1. Built-in defaults (applyDefaults)
//   2. YAML file, config.yaml unless --config says otherwise
//   3. Environment (FATTURA_<SECTION>_<KEY>, .env honoured) and CLI flags
//
// The merged result is validated once, before any work starts. A bad value
// is a hard failure for the whole run.
//
// =============================================================================

package config

import (
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
	"github.com/ginjaninja78/fatturapa-extractor/internal/schema"
	"github.com/ginjaninja78/fatturapa-extractor/internal/validation"
)

// DefaultPath is the configuration file read when --config is not given.
const DefaultPath = "config.yaml"

// Output formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config is the complete application configuration.
type Config struct {
	Processing    ProcessingConfig    `yaml:"processing"`
	Normalization NormalizationConfig `yaml:"normalization"`
	Output        OutputConfig        `yaml:"output"`
	Logging       LoggingConfig       `yaml:"logging"`
	Server        ServerConfig        `yaml:"server"`
}

// ProcessingConfig bounds the batch and each item.
type ProcessingConfig struct {
	// Parallelism is the number of workers. 0 uses one per CPU, 1 runs
	// strictly sequentially.
	Parallelism int `yaml:"parallelism"`

	// ItemTimeout caps the wall time spent on a single item.
	ItemTimeout time.Duration `yaml:"item_timeout"`

	// MaxItemBytes is the largest decompressed document accepted.
	MaxItemBytes int64 `yaml:"max_item_bytes"`

	MaxDepth    int `yaml:"max_depth"`
	MaxElements int `yaml:"max_elements"`

	// FallbackEncodings are tried for documents that are not UTF-8 and
	// declare no encoding.
	FallbackEncodings []string `yaml:"fallback_encodings"`
}

// NormalizationConfig holds the values substituted for missing data.
type NormalizationConfig struct {
	DefaultCurrency string `yaml:"default_currency"`
	DefaultVATRate  string `yaml:"default_vat_rate"`
	Tolerance       string `yaml:"tolerance"`
}

// OutputConfig controls the files written by the CLI.
type OutputConfig struct {
	Format string `yaml:"format"`
	// Prefix is the output path without extension.
	Prefix string `yaml:"prefix"`
	// Single emits one JSON object instead of an array for one record.
	Single bool `yaml:"single"`
	Indent bool `yaml:"indent"`
	// Metrics writes <prefix>_metrics.csv next to the main output.
	Metrics bool `yaml:"metrics"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	JSON  bool   `yaml:"json"`
}

// ServerConfig configures the web interface.
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`

	// ExtractsPerMinute caps extraction requests across all clients.
	// 0 disables the limit.
	ExtractsPerMinute int `yaml:"extracts_per_minute"`
}

// =============================================================================
// LOADING
// =============================================================================

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{Output: OutputConfig{Indent: true, Metrics: true}}
	applyDefaults(cfg)
	return cfg
}

// Load reads and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Parse decodes and validates YAML configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills every unset option.
func applyDefaults(cfg *Config) {
	p := &cfg.Processing
	if p.ItemTimeout == 0 {
		p.ItemTimeout = 30 * time.Second
	}
	if p.MaxItemBytes == 0 {
		p.MaxItemBytes = loader.DefaultMaxItemBytes
	}
	if p.MaxDepth == 0 {
		p.MaxDepth = loader.DefaultMaxDepth
	}
	if p.MaxElements == 0 {
		p.MaxElements = loader.DefaultMaxElements
	}
	if p.FallbackEncodings == nil {
		p.FallbackEncodings = append([]string(nil), loader.DefaultFallbackEncodings...)
	}

	n := &cfg.Normalization
	if n.DefaultCurrency == "" {
		n.DefaultCurrency = "EUR"
	}
	if n.DefaultVATRate == "" {
		n.DefaultVATRate = "22.0"
	}
	if n.Tolerance == "" {
		n.Tolerance = "0.01"
	}

	o := &cfg.Output
	if o.Format == "" {
		o.Format = FormatJSON
	}
	if o.Prefix == "" {
		o.Prefix = "fatture"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.MaxUploadBytes == 0 {
		s.MaxUploadBytes = 64 << 20
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 5 * time.Minute
	}
}

// Validate checks every option. The first problem found is returned.
func (c *Config) Validate() error {
	p := c.Processing
	switch {
	case p.Parallelism < 0:
		return errors.Newf("processing.parallelism must be >= 0, got %d", p.Parallelism)
	case p.ItemTimeout < 0:
		return errors.Newf("processing.item_timeout must be positive, got %s", p.ItemTimeout)
	case p.MaxItemBytes < 0:
		return errors.Newf("processing.max_item_bytes must be positive, got %d", p.MaxItemBytes)
	case p.MaxDepth < 0 || p.MaxElements < 0:
		return errors.New("processing.max_depth and processing.max_elements must be positive")
	}
	if _, err := loader.New(c.LoaderOptions()); err != nil {
		return errors.Wrap(err, "processing.fallback_encodings")
	}

	n := c.Normalization
	if !currencyRe.MatchString(n.DefaultCurrency) {
		return errors.Newf("normalization.default_currency must be an ISO 4217 code, got %q", n.DefaultCurrency)
	}
	rate, err := decimal.NewFromString(n.DefaultVATRate)
	if err != nil || rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100)) {
		return errors.Newf("normalization.default_vat_rate must be a percentage, got %q", n.DefaultVATRate)
	}
	tol, err := decimal.NewFromString(n.Tolerance)
	if err != nil || tol.IsNegative() {
		return errors.Newf("normalization.tolerance must be a non-negative decimal, got %q", n.Tolerance)
	}

	switch c.Output.Format {
	case FormatJSON, FormatCSV, FormatXLSX:
	default:
		return errors.WithHint(
			errors.Newf("output.format %q is not supported", c.Output.Format),
			"use one of: json, csv, xlsx")
	}
	if strings.TrimSpace(c.Output.Prefix) == "" {
		return errors.New("output.prefix must not be empty")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return errors.Wrap(err, "logging.level")
	}

	if c.Server.Addr == "" {
		return errors.New("server.addr must not be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Newf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.ExtractsPerMinute < 0 {
		return errors.Newf("server.extracts_per_minute must be >= 0, got %d", c.Server.ExtractsPerMinute)
	}
	return nil
}

// YAML renders the configuration as it would appear in a config file.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// =============================================================================
// DERIVED OPTIONS
// =============================================================================

// LoaderOptions returns the loader limits.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{
		MaxItemBytes:      c.Processing.MaxItemBytes,
		MaxDepth:          c.Processing.MaxDepth,
		MaxElements:       c.Processing.MaxElements,
		FallbackEncodings: c.Processing.FallbackEncodings,
	}
}

// MapperOptions returns the normalization defaults. It assumes Validate
// has passed.
func (c *Config) MapperOptions() schema.Options {
	return schema.Options{
		DefaultCurrency: c.Normalization.DefaultCurrency,
		DefaultVATRate:  decimal.RequireFromString(c.Normalization.DefaultVATRate),
	}
}

// Tolerance returns the consistency-check tolerance. It assumes Validate
// has passed.
func (c *Config) Tolerance() decimal.Decimal {
	return decimal.RequireFromString(c.Normalization.Tolerance)
}

// LoggingOptions returns the logger settings.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Logging.Level, JSON: c.Logging.JSON, File: c.Logging.File}
}

// BatchOptions assembles the extraction pipeline described by the
// configuration.
func (c *Config) BatchOptions() (batch.Options, error) {
	l, err := loader.New(c.LoaderOptions())
	if err != nil {
		return batch.Options{}, err
	}
	return batch.Options{
		Parallelism: c.Processing.Parallelism,
		ItemTimeout: c.Processing.ItemTimeout,
		Loader:      l,
		Mapper:      schema.NewMapper(c.MapperOptions()),
		Validator:   validation.New(c.Tolerance()),
	}, nil
}
