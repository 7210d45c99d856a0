// =============================================================================
// FatturaPA Extractor - Root Command
// =============================================================================
//
// The root command runs an extraction; the subcommands expose the same
// pipeline in other shapes.
//
// COBRA CLI STRUCTURE:
//   rootCmd (fattura <input>...)
//   ├── serveCmd   (fattura serve)
//   ├── watchCmd   (fattura watch <dir>)
//   ├── checkCmd   (fattura check <file.json>)
//   ├── configCmd  (fattura config)
//   └── versionCmd (fattura version)
//
// CONFIGURATION:
//   Every command starts from initConfig:
//   1. .env is loaded into the environment
//   2. The YAML file is read (missing config.yaml means defaults)
//   3. FATTURA_* variables and changed flags are overlaid
//   4. Logging is initialized from the result
//
// =============================================================================

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ginjaninja78/fatturapa-extractor/internal/config"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile holds the path to the configuration file.
var cfgFile string

// verbose lowers the log level to debug.
var verbose bool

// v collects environment overrides and the flags bound to config keys.
var v = config.NewViper()

// appConfig is the effective configuration, set by initConfig.
var appConfig *config.Config

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "fattura <input>...",
	Short: "FatturaPA Extractor - Extract structured data from Italian e-invoices",
	Long: `FatturaPA Extractor reads Italian electronic invoices (FatturaPA XML),
individually or bundled in ZIP archives, and writes the extracted supplier,
customer, document and line-item data as JSON, CSV or XLSX.

Inputs may be .xml files, .zip archives or directories, which are searched
recursively. A document that cannot be read never stops the batch: it is
reported in <prefix>_errors.log and the other documents are still written.

Example Usage:
  fattura fatture/                          # Extract every invoice under fatture/
  fattura lotto.zip -f csv -o out/marzo     # Write out/marzo.csv
  fattura a.xml --single                    # One JSON object instead of an array
  fattura serve                             # Start the web interface`,

	Args:              cobra.ArbitraryArgs,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initConfig,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.WithHint(errors.New("no input given"), "pass one or more .xml files, .zip archives or directories")
		}
		return runExtract(cmd.Context(), args)
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI and exits non-zero on failure. This is called by
// main.main().
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logging.Close()

	if err != nil {
		pterm.Error.Println(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}

// =============================================================================
// INITIALIZATION
// =============================================================================

func init() {
	// ==========================================================================
	// PERSISTENT FLAGS
	// ==========================================================================

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		config.DefaultPath,
		"Path to the configuration file",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
	rootCmd.PersistentFlags().Bool(
		"log-json",
		false,
		"Log in JSON instead of the console format",
	)

	// ==========================================================================
	// EXTRACTION FLAGS
	// ==========================================================================

	rootCmd.Flags().StringP("output", "o", "fatture", "Output path prefix; the extension is added")
	rootCmd.Flags().StringP("format", "f", config.FormatJSON, "Output format: json, csv or xlsx")
	rootCmd.Flags().Int("parallel", 0, "Worker count; 0 uses one per CPU, 1 is sequential")
	rootCmd.Flags().Bool("single", false, "Write a lone invoice as a JSON object instead of an array")
	rootCmd.Flags().Duration("item-timeout", 0, "Time limit per document, e.g. 10s")

	mustBind(v, config.KeyLogJSON, rootCmd.PersistentFlags().Lookup("log-json"))
	mustBind(v, config.KeyPrefix, rootCmd.Flags().Lookup("output"))
	mustBind(v, config.KeyFormat, rootCmd.Flags().Lookup("format"))
	mustBind(v, config.KeyParallelism, rootCmd.Flags().Lookup("parallel"))
	mustBind(v, config.KeySingle, rootCmd.Flags().Lookup("single"))
	mustBind(v, config.KeyItemTimeout, rootCmd.Flags().Lookup("item-timeout"))
}

// initConfig resolves appConfig and initializes logging.
func initConfig(cmd *cobra.Command, _ []string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	var (
		cfg *config.Config
		err error
	)
	if cmd.Flags().Changed("config") {
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadOrDefault(cfgFile)
	}
	if err != nil {
		return errors.WithHint(err, "check the file given with --config")
	}

	if err := config.Overlay(cfg, v); err != nil {
		return err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if err := logging.Initialize(cfg.LoggingOptions()); err != nil {
		return err
	}

	appConfig = cfg
	logging.Component("cli").Debugw("Configuration resolved", logging.FieldPath, cfgFile)
	return nil
}

// mustBind binds a flag to a config key. Only a changed flag overrides the
// configuration file.
func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}
