// =============================================================================
// FatturaPA Extractor - Watch Command
// =============================================================================
//
// COMMAND USAGE:
//   fattura watch <dir> [--out <dir>] [--dated-archive]
//
// WORKFLOW:
//   1. Create the output, archive and failed directories
//   2. Process what is already in <dir>, then every .xml/.zip dropped
//      into it once the copy has settled
//   3. Each file gets its own outputs: <out>/<name>_<timestamp>.<format>
//   4. The file is moved to <out>/archive, or to <out>/failed when it
//      produced no invoice
//
// =============================================================================

package cmd

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
	"github.com/ginjaninja78/fatturapa-extractor/pkg/utils"
)

// watchPrefixFormat names the outputs of one dropped file.
const watchPrefixFormat = "{original}_{timestamp}"

var (
	watchOut          string
	watchDatedArchive bool
)

var watchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Process invoices dropped into a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in := filepath.Clean(args[0])
		out := watchOut
		if out == "" {
			out = in + "_out"
		}
		fm := utils.NewFileManager(in, out)
		fm.UseTimestampSubdirs = watchDatedArchive
		return runWatch(cmd.Context(), fm)
	},
}

func init() {
	watchCmd.Flags().StringVar(&watchOut, "out", "", "Output directory (default <dir>_out)")
	watchCmd.Flags().BoolVar(&watchDatedArchive, "dated-archive", false, "Archive into YYYY/MM/DD subdirectories")

	rootCmd.AddCommand(watchCmd)
}

func runWatch(ctx context.Context, fm *utils.FileManager) error {
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}
	paths, errs, err := utils.Watch(ctx, utils.WatchConfig{Root: fm.InputDir, InitialScan: true})
	if err != nil {
		return err
	}
	log := logging.Component("watch")
	pterm.Info.Printf("Watching %s, writing to %s (Ctrl+C to stop)\n", fm.InputDir, fm.OutputDir)

	for paths != nil || errs != nil {
		select {
		case path, ok := <-paths:
			if !ok {
				paths = nil
				continue
			}
			if err := processDropped(ctx, fm, path); err != nil {
				pterm.Error.Printf("%s: %v\n", path, err)
				log.Errorw("Dropped file not processed", logging.FieldPath, path, logging.FieldError, err)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Warnw("Watcher error", logging.FieldError, err)
		}
	}
	pterm.Info.Println("Watch stopped")
	return nil
}

// processDropped extracts one dropped file, writes its outputs and moves it
// out of the input directory.
func processDropped(ctx context.Context, fm *utils.FileManager, path string) error {
	if !utils.FileExists(path) {
		return nil
	}
	opts, err := appConfig.BatchOptions()
	if err != nil {
		return err
	}
	opts.OnItem = printEvent

	result, err := batch.Run(ctx, []loader.Source{loader.FileSource(path)}, opts)
	switch {
	case result == nil:
		return err
	case err != nil && ctx.Err() != nil:
		// Interrupted: leave the file where it is for the next run.
		return nil
	}

	name := filepath.Base(path)
	prefix := filepath.Join(fm.OutputDir, utils.GenerateOutputPrefix(watchPrefixFormat, map[string]string{
		"original": strings.TrimSuffix(name, filepath.Ext(name)),
	}))
	files, err := writeOutputs(appConfig, prefix, result)
	if err != nil {
		return err
	}

	moved, err := fm.ArchiveInputFile(path, result.Successes() > 0)
	if err != nil {
		return err
	}
	pterm.Info.Printf("%s -> %s (%d of %d extracted, moved to %s)\n",
		name, files.Data, result.Successes(), result.Len(), moved)
	return nil
}
