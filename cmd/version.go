// =============================================================================
// FatturaPA Extractor - Version Command
// =============================================================================
//
// COMMAND USAGE:
//   fattura version
//
// OUTPUT:
//   FatturaPA Extractor
//   Version:    1.0.0
//   Build Date: 2026-01-01
//   Go Version: go1.24.0
//
// =============================================================================

package cmd

import (
	"runtime"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

// =============================================================================
// VERSION INFORMATION
// =============================================================================
// These variables are set at build time using ldflags.
// Example build command:
//   go build -ldflags "-X 'github.com/ginjaninja78/fatturapa-extractor/cmd.Version=1.0.0'"

// Version is the application version.
var Version = "1.0.0"

// BuildDate is the date the application was built.
var BuildDate = "unknown"

// =============================================================================
// VERSION COMMAND DEFINITION
// =============================================================================

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display the application version",
	Long:  `Display the application version, build date, and Go runtime version.`,
	// Skips initConfig: the version must print even with a broken config.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		pterm.DefaultSection.Println("FatturaPA Extractor")
		_ = pterm.DefaultTable.WithData(pterm.TableData{
			{"Version:", Version},
			{"Build Date:", BuildDate},
			{"Go Version:", runtime.Version()},
		}).Render()
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
