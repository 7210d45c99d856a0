package config

import (
	"io/fs"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g.
// FATTURA_PROCESSING_PARALLELISM=4.
const EnvPrefix = "FATTURA"

// Keys accepted as overrides. CLI flags are bound to the same keys.
const (
	KeyParallelism       = "processing.parallelism"
	KeyItemTimeout       = "processing.item_timeout"
	KeyMaxItemBytes      = "processing.max_item_bytes"
	KeyFallbackEncodings = "processing.fallback_encodings"
	KeyDefaultCurrency   = "normalization.default_currency"
	KeyDefaultVATRate    = "normalization.default_vat_rate"
	KeyTolerance         = "normalization.tolerance"
	KeyFormat            = "output.format"
	KeyPrefix            = "output.prefix"
	KeySingle            = "output.single"
	KeyIndent            = "output.indent"
	KeyMetrics           = "output.metrics"
	KeyLogLevel          = "logging.level"
	KeyLogFile           = "logging.file"
	KeyLogJSON           = "logging.json"
	KeyServerAddr        = "server.addr"
	KeyMaxUploadBytes    = "server.max_upload_bytes"
	KeyReadTimeout       = "server.read_timeout"
	KeyWriteTimeout      = "server.write_timeout"
	KeyExtractsPerMinute = "server.extracts_per_minute"
)

var overrideKeys = []string{
	KeyParallelism, KeyItemTimeout, KeyMaxItemBytes, KeyFallbackEncodings,
	KeyDefaultCurrency, KeyDefaultVATRate, KeyTolerance,
	KeyFormat, KeyPrefix, KeySingle, KeyIndent, KeyMetrics,
	KeyLogLevel, KeyLogFile, KeyLogJSON,
	KeyServerAddr, KeyMaxUploadBytes, KeyReadTimeout, KeyWriteTimeout, KeyExtractsPerMinute,
}

// LoadDotEnv loads .env files into the process environment. Missing files
// are ignored; variables already set are kept.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errors.Wrapf(err, "load %s", p)
		}
	}
	return nil
}

// NewViper returns a viper instance reading FATTURA_* environment
// variables. Callers bind their flags to it before calling Overlay.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range overrideKeys {
		// AutomaticEnv only answers Get for keys viper knows about.
		_ = v.BindEnv(key)
	}
	return v
}

// Overlay copies every key set in v (environment or changed flag) onto cfg
// and validates the result.
func Overlay(cfg *Config, v *viper.Viper) error {
	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}

	p, n, o, l, s := &cfg.Processing, &cfg.Normalization, &cfg.Output, &cfg.Logging, &cfg.Server
	set(KeyParallelism, func() { p.Parallelism = v.GetInt(KeyParallelism) })
	set(KeyItemTimeout, func() { p.ItemTimeout = v.GetDuration(KeyItemTimeout) })
	set(KeyMaxItemBytes, func() { p.MaxItemBytes = v.GetInt64(KeyMaxItemBytes) })
	set(KeyFallbackEncodings, func() { p.FallbackEncodings = splitList(v.GetStringSlice(KeyFallbackEncodings)) })
	set(KeyDefaultCurrency, func() { n.DefaultCurrency = v.GetString(KeyDefaultCurrency) })
	set(KeyDefaultVATRate, func() { n.DefaultVATRate = v.GetString(KeyDefaultVATRate) })
	set(KeyTolerance, func() { n.Tolerance = v.GetString(KeyTolerance) })
	set(KeyFormat, func() { o.Format = strings.ToLower(v.GetString(KeyFormat)) })
	set(KeyPrefix, func() { o.Prefix = v.GetString(KeyPrefix) })
	set(KeySingle, func() { o.Single = v.GetBool(KeySingle) })
	set(KeyIndent, func() { o.Indent = v.GetBool(KeyIndent) })
	set(KeyMetrics, func() { o.Metrics = v.GetBool(KeyMetrics) })
	set(KeyLogLevel, func() { l.Level = v.GetString(KeyLogLevel) })
	set(KeyLogFile, func() { l.File = v.GetString(KeyLogFile) })
	set(KeyLogJSON, func() { l.JSON = v.GetBool(KeyLogJSON) })
	set(KeyServerAddr, func() { s.Addr = v.GetString(KeyServerAddr) })
	set(KeyMaxUploadBytes, func() { s.MaxUploadBytes = v.GetInt64(KeyMaxUploadBytes) })
	set(KeyReadTimeout, func() { s.ReadTimeout = v.GetDuration(KeyReadTimeout) })
	set(KeyWriteTimeout, func() { s.WriteTimeout = v.GetDuration(KeyWriteTimeout) })
	set(KeyExtractsPerMinute, func() { s.ExtractsPerMinute = v.GetInt(KeyExtractsPerMinute) })

	return cfg.Validate()
}

// splitList accepts both repeated values and comma-separated strings, as
// environment variables only carry the latter.
func splitList(values []string) []string {
	out := []string{}
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
