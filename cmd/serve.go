// =============================================================================
// FatturaPA Extractor - Serve Command
// =============================================================================
//
// COMMAND USAGE:
//   fattura serve [--addr :8080]
//
// Starts the web interface. Uploads go through the same pipeline as the
// root command; the server stops gracefully on SIGINT/SIGTERM.
//
// =============================================================================

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/fatturapa-extractor/internal/config"
	"github.com/ginjaninja78/fatturapa-extractor/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web interface",
	Long: `Start an HTTP server with an upload page and a JSON API.

Endpoints:
  GET  /                          Upload page
  GET  /health                    Liveness check
  POST /api/v1/extract            Multipart "files" -> JSON records and errors
  POST /api/v1/extract/download   Same input, returns a json/csv/xlsx file`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := server.New(appConfig)
		if err != nil {
			return err
		}
		pterm.Info.Printf("Listening on %s\n", appConfig.Server.Addr)
		return srv.Run(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().String("addr", ":8080", "Listen address")
	mustBind(v, config.KeyServerAddr, serveCmd.Flags().Lookup("addr"))

	rootCmd.AddCommand(serveCmd)
}
