package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0, cfg.Processing.Parallelism)
	assert.Equal(t, 30*time.Second, cfg.Processing.ItemTimeout)
	assert.Equal(t, []string{"ISO-8859-15", "Windows-1252"}, cfg.Processing.FallbackEncodings)
	assert.Equal(t, "EUR", cfg.Normalization.DefaultCurrency)
	assert.Equal(t, "22", cfg.MapperOptions().DefaultVATRate.String())
	assert.Equal(t, "0.01", cfg.Tolerance().String())
	assert.Equal(t, FormatJSON, cfg.Output.Format)
	assert.True(t, cfg.Output.Indent)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
processing:
  parallelism: 4
  item_timeout: 5s
normalization:
  default_vat_rate: 10.0
  tolerance: "0.05"
output:
  format: csv
  prefix: out/fatture
  indent: false
logging:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Processing.Parallelism)
	assert.Equal(t, 5*time.Second, cfg.Processing.ItemTimeout)
	assert.Equal(t, "10", cfg.MapperOptions().DefaultVATRate.String())
	assert.Equal(t, "0.05", cfg.Tolerance().String())
	assert.Equal(t, FormatCSV, cfg.Output.Format)
	assert.Equal(t, "out/fatture", cfg.Output.Prefix)
	assert.False(t, cfg.Output.Indent)
	assert.True(t, cfg.Output.Metrics, "unset keys keep their defaults")
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "EUR", cfg.Normalization.DefaultCurrency)
}

func TestLoadMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	_, err := Load(missing)
	assert.Error(t, err)

	cfg, err := LoadOrDefault(missing)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"negative parallelism": "processing:\n  parallelism: -1\n",
		"unknown encoding":     "processing:\n  fallback_encodings: [klingon-8]\n",
		"bad currency":         "normalization:\n  default_currency: euro\n",
		"bad vat rate":         "normalization:\n  default_vat_rate: 150\n",
		"bad tolerance":        "normalization:\n  tolerance: abc\n",
		"bad format":           "output:\n  format: pdf\n",
		"bad log level":        "logging:\n  level: chatty\n",
		"not yaml":             "processing: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestYAMLRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Processing.Parallelism = 3
	data, err := cfg.YAML()
	require.NoError(t, err)
	assert.Contains(t, string(data), "item_timeout: 30s")

	back, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestOverlayEnvironment(t *testing.T) {
	t.Setenv("FATTURA_PROCESSING_PARALLELISM", "8")
	t.Setenv("FATTURA_OUTPUT_FORMAT", "XLSX")
	t.Setenv("FATTURA_PROCESSING_FALLBACK_ENCODINGS", "Windows-1252, ISO-8859-1")

	cfg := Default()
	require.NoError(t, Overlay(cfg, NewViper()))
	assert.Equal(t, 8, cfg.Processing.Parallelism)
	assert.Equal(t, FormatXLSX, cfg.Output.Format)
	assert.Equal(t, []string{"Windows-1252", "ISO-8859-1"}, cfg.Processing.FallbackEncodings)
	assert.Equal(t, "EUR", cfg.Normalization.DefaultCurrency)
}

func TestOverlayFlagsOnlyWhenChanged(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("parallel", 0, "")
	flags.String("format", "json", "")

	v := NewViper()
	require.NoError(t, v.BindPFlag(KeyParallelism, flags.Lookup("parallel")))
	require.NoError(t, v.BindPFlag(KeyFormat, flags.Lookup("format")))
	require.NoError(t, flags.Parse([]string{"--parallel", "2"}))

	cfg := Default()
	cfg.Output.Format = FormatCSV
	require.NoError(t, Overlay(cfg, v))
	assert.Equal(t, 2, cfg.Processing.Parallelism)
	assert.Equal(t, FormatCSV, cfg.Output.Format)
}

func TestOverlayValidates(t *testing.T) {
	t.Setenv("FATTURA_NORMALIZATION_TOLERANCE", "-1")
	assert.Error(t, Overlay(Default(), NewViper()))
}

func TestOverlayServerLimit(t *testing.T) {
	t.Setenv("FATTURA_SERVER_EXTRACTS_PER_MINUTE", "30")
	cfg := Default()
	require.NoError(t, Overlay(cfg, NewViper()))
	assert.Equal(t, 30, cfg.Server.ExtractsPerMinute)

	cfg.Server.ExtractsPerMinute = -1
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FATTURA_TEST_DOTENV=yes\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("FATTURA_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "yes", os.Getenv("FATTURA_TEST_DOTENV"))
}

func TestBatchOptions(t *testing.T) {
	cfg := Default()
	cfg.Processing.Parallelism = 2
	cfg.Normalization.Tolerance = "0.5"

	opts, err := cfg.BatchOptions()
	require.NoError(t, err)
	assert.Equal(t, 2, opts.Parallelism)
	assert.Equal(t, 30*time.Second, opts.ItemTimeout)
	require.NotNil(t, opts.Loader)
	require.NotNil(t, opts.Mapper)
	assert.Equal(t, "0.5", opts.Validator.Tolerance().String())
}
