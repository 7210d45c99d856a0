// =============================================================================
// FatturaPA Extractor - Extraction
// =============================================================================
//
// PROCESSING PIPELINE:
//   1. Expand the inputs (directories are searched for .xml/.zip)
//   2. Run the batch: every document is parsed, mapped and checked
//      concurrently; each outcome is printed as it is recorded
//   3. Write <prefix>.<format>, <prefix>_metrics.csv and, when any
//      document failed, <prefix>_errors.log
//   4. Print the summary
//
// The run succeeds when at least one invoice was extracted.
//
// =============================================================================

package cmd

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/config"
	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/serializer"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
	"github.com/ginjaninja78/fatturapa-extractor/pkg/utils"
)

// errNoRecords fails a run in which every document failed.
var errNoRecords = errors.New("no invoice could be extracted")

// runExtract is the root command's pipeline.
func runExtract(ctx context.Context, inputs []string) error {
	// =========================================================================
	// STEP 1: EXPAND INPUTS
	// =========================================================================
	paths, err := utils.ExpandSources(inputs)
	if err != nil {
		return errors.WithHint(err, "inputs must be existing files or directories")
	}
	sources := make([]loader.Source, len(paths))
	for i, p := range paths {
		sources[i] = loader.FileSource(p)
	}

	// =========================================================================
	// STEP 2: RUN THE BATCH
	// =========================================================================
	opts, err := appConfig.BatchOptions()
	if err != nil {
		return err
	}
	opts.OnItem = printEvent

	pterm.Info.Printf("Processing %d source(s) with %d worker(s)\n",
		len(sources), batch.EffectiveParallelism(opts.Parallelism, len(sources)))
	result, runErr := batch.Run(ctx, sources, opts)
	if result == nil {
		return runErr
	}
	if errors.Is(runErr, batch.ErrNoInput) {
		return errors.WithHint(runErr, "no .xml document was found in the inputs")
	}

	// =========================================================================
	// STEP 3: WRITE OUTPUTS
	// =========================================================================
	files, err := writeOutputs(appConfig, appConfig.Output.Prefix, result)
	if err != nil {
		return err
	}

	// =========================================================================
	// STEP 4: SUMMARY
	// =========================================================================
	printSummary(result, files)

	if runErr != nil {
		return errors.Wrap(runErr, "extraction interrupted")
	}
	if result.Successes() == 0 {
		return errNoRecords
	}
	return nil
}

// =============================================================================
// OUTPUT FILES
// =============================================================================

// outputFiles lists what writeOutputs produced. Empty fields were skipped.
type outputFiles struct {
	Data    string
	Metrics string
	Errors  string
}

// writeOutputs renders the batch under prefix according to cfg.
func writeOutputs(cfg *config.Config, prefix string, result *types.BatchResult) (outputFiles, error) {
	var files outputFiles

	format, err := serializer.ParseFormat(cfg.Output.Format)
	if err != nil {
		return files, err
	}
	records := result.Records()

	data, err := serializer.Serialize(records, format, serializer.Options{
		Single: cfg.Output.Single,
		Indent: cfg.Output.Indent,
	})
	if err != nil {
		return files, err
	}
	files.Data = utils.OutputPath(prefix, format.Extension())
	if err := utils.WriteFileAtomic(files.Data, data); err != nil {
		return files, errors.WithHint(err, "check that the output directory is writable")
	}

	if cfg.Output.Metrics {
		metrics, err := serializer.SerializeMetrics(records)
		if err != nil {
			return files, err
		}
		files.Metrics = utils.MetricsPath(prefix)
		if err := utils.WriteFileAtomic(files.Metrics, metrics); err != nil {
			return files, err
		}
	}

	report := serializer.ErrorReport(result)
	entries := make([]utils.ErrorLogEntry, len(report))
	for i, e := range report {
		entries[i] = utils.ErrorLogEntry{Item: e.Key, Kind: string(e.Kind), Message: e.Message}
	}
	path := utils.ErrorLogPath(prefix)
	written, err := utils.WriteErrorLog(path, result.ID, entries)
	if err != nil {
		return files, err
	}
	if written {
		files.Errors = path
	}
	return files, nil
}

// =============================================================================
// PRESENTATION
// =============================================================================

// printEvent reports one recorded entry. It runs on the batch collector, so
// lines never interleave.
func printEvent(e batch.Event) {
	if !e.Outcome.OK() {
		pterm.Error.Printf("%s [%s] %v\n", e.Key, types.KindOf(e.Outcome.Err), e.Outcome.Err)
		return
	}
	rec := e.Outcome.Record
	pterm.Success.Printf("%s  %s %s  %d line(s)  %s %s\n",
		e.Key, rec.Document.Type, rec.Document.Number, len(rec.LineItems),
		serializer.FormatAmount(rec.Document.Total), rec.Document.Currency)
	for _, w := range rec.Warnings {
		pterm.Warning.Printf("%s  %s\n", e.Key, w.Message)
	}
}

func printSummary(result *types.BatchResult, files outputFiles) {
	failures := result.Len() - result.Successes()
	rows := pterm.TableData{
		{"Batch", result.ID},
		{"Documents", strconv.Itoa(result.Len())},
		{"Extracted", strconv.Itoa(result.Successes())},
		{"Failed", strconv.Itoa(failures)},
		{"Duration", result.Duration().String()},
		{"Output", files.Data},
	}
	if files.Metrics != "" {
		rows = append(rows, []string{"Metrics", files.Metrics})
	}
	if files.Errors != "" {
		rows = append(rows, []string{"Error log", files.Errors})
	}

	pterm.Println()
	_ = pterm.DefaultTable.WithData(rows).Render()
	if failures > 0 {
		pterm.Warning.Printf("%d document(s) failed; see %s\n", failures, files.Errors)
	}
}
