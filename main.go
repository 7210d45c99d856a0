// =============================================================================
// FatturaPA Extractor - Main Entry Point
// =============================================================================
//
// USAGE:
//   fattura <input>...     - Extract invoices from files, archives or folders
//   fattura serve          - Start the web interface
//   fattura watch <dir>    - Process invoices dropped into a folder
//   fattura check <json>   - Validate extracted JSON
//   fattura config         - Print the effective configuration
//   fattura version        - Display the application version
//
// ARCHITECTURE:
//   - cmd/       : CLI command definitions (Cobra)
//   - internal/  : loading, mapping, validation, batching, serialization
//   - pkg/       : file and folder utilities
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/fatturapa-extractor/cmd"
)

func main() {
	cmd.Execute()
}
