// =============================================================================
// FatturaPA Extractor - Check Command
// =============================================================================
//
// COMMAND USAGE:
//   fattura check <file.json>...
//
// Validates JSON produced by the extractor (or by anything claiming to
// produce the same records) against the embedded record schema.
//
// =============================================================================

package cmd

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/fatturapa-extractor/internal/serializer"
)

var checkCmd = &cobra.Command{
	Use:   "check <file.json>...",
	Short: "Validate extracted JSON against the record schema",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		invalid := 0
		for _, path := range args {
			n, err := checkFile(path)
			if err != nil {
				invalid++
				pterm.Error.Printf("%s: %v\n", path, err)
				continue
			}
			pterm.Success.Printf("%s: %d record(s)\n", path, n)
		}
		if invalid > 0 {
			return errors.Newf("%d of %d file(s) failed validation", invalid, len(args))
		}
		return nil
	},
}

// checkFile validates one file and returns its record count.
func checkFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrap(err, "read")
	}
	if err := serializer.ValidateJSON(data); err != nil {
		return 0, err
	}
	records, err := serializer.DecodeJSON(data)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
