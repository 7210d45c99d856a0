// =============================================================================
// FatturaPA Extractor - Batch Orchestrator
// =============================================================================
//
// PROCESSING FLOW:
//   1. Discover every source sequentially (source order, archive order)
//   2. Fan out items to a fixed pool of workers
//      worker: Parse -> Map (one record per body) -> Check
//   3. Fan in: a single collector goroutine owns the BatchResult
//   4. Seal the result
//
// Failures are recorded against their item key and never stop the batch.
// Only an empty batch is a hard error.
//
// =============================================================================

package batch

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
	"github.com/ginjaninja78/fatturapa-extractor/internal/schema"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
	"github.com/ginjaninja78/fatturapa-extractor/internal/validation"
)

// ErrNoInput is returned when a batch has no sources or no items could be
// discovered in them.
var ErrNoInput = errors.New("no input documents")

// BodySeparator joins an item key and a 1-based body index for documents
// holding more than one invoice.
const BodySeparator = "#"

// Options configures a batch run. Zero values select defaults.
type Options struct {
	// Parallelism is the worker count: 0 means runtime.NumCPU(), 1 means
	// strictly sequential.
	Parallelism int

	// ItemTimeout caps each item. Zero disables the cap.
	ItemTimeout time.Duration

	Loader    *loader.Loader
	Mapper    *schema.Mapper
	Validator *validation.Validator
	Logger    *zap.SugaredLogger

	// BatchID labels the result. A random UUID is used when empty.
	BatchID string

	// OnItem, when set, is called from the collector goroutine for every
	// entry as it is recorded.
	OnItem func(Event)
}

// Event reports one recorded entry.
type Event struct {
	Key      string
	Outcome  types.Outcome
	Duration time.Duration
}

// EffectiveParallelism resolves the worker count for n items.
func EffectiveParallelism(requested, n int) int {
	p := requested
	if p <= 0 {
		p = runtime.NumCPU()
	}
	if p > n {
		p = n
	}
	if p < 1 {
		p = 1
	}
	return p
}

type job struct {
	key  string
	item loader.Item
}

type entry struct {
	key      string
	outcome  types.Outcome
	duration time.Duration
}

// Run processes every item found in sources.
//
// The returned result always lists every discovered item exactly once.
// When ctx ends early the items that never started carry a
// *types.CancelledError and Run also returns ctx.Err().
func Run(ctx context.Context, sources []loader.Source, opts Options) (*types.BatchResult, error) {
	if err := opts.withDefaults(); err != nil {
		return nil, err
	}
	log := opts.Logger.With(logging.FieldBatchID, opts.BatchID)
	result := types.NewBatchResult(opts.BatchID)

	if len(sources) == 0 {
		result.Seal()
		return result, ErrNoInput
	}

	// =========================================================================
	// STEP 1: Discovery
	// =========================================================================
	var (
		jobs    []job
		bundles []*loader.Bundle
		seen    = make(map[string]int)
	)
	for _, src := range sources {
		bundle, err := opts.Loader.Discover(src)
		if err != nil {
			log.Warnw("Source rejected", logging.FieldSource, src.Name, logging.FieldErrorKind, types.KindOf(err), logging.FieldError, err)
			record(result, opts, entry{key: src.Name, outcome: types.Outcome{Err: err}})
			continue
		}
		bundles = append(bundles, bundle)
		for _, item := range bundle.Items {
			key := item.Name
			if n := seen[key]; n > 0 {
				key = fmt.Sprintf("%s~%d", item.Name, n+1)
			}
			seen[item.Name]++
			jobs = append(jobs, job{key: key, item: item})
		}
	}
	defer func() {
		for _, b := range bundles {
			_ = b.Close()
		}
	}()

	if len(jobs) == 0 {
		result.Seal()
		return result, ErrNoInput
	}

	workers := EffectiveParallelism(opts.Parallelism, len(jobs))
	log.Infow("Batch started", logging.FieldCount, len(jobs), "workers", workers)

	// =========================================================================
	// STEP 2: Fan out
	// =========================================================================
	entries := make(chan entry, workers)
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range entries {
			record(result, opts, e)
		}
	}()

	slots := make(chan int, workers)
	for i := 0; i < workers; i++ {
		slots <- i
	}

	var g errgroup.Group
	g.SetLimit(workers)
	started := 0
	for _, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		started++
		j := j
		g.Go(func() error {
			worker := <-slots
			defer func() { slots <- worker }()
			for _, e := range opts.process(ctx, j, log.With(logging.FieldWorker, worker)) {
				entries <- e
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, j := range jobs[started:] {
		entries <- entry{key: j.key, outcome: types.Outcome{Err: &types.CancelledError{Item: j.key, Err: ctx.Err()}}}
	}

	// =========================================================================
	// STEP 3: Fan in
	// =========================================================================
	close(entries)
	<-collected
	result.Seal()

	log.Infow("Batch finished",
		"successes", result.Successes(),
		"failures", result.Len()-result.Successes(),
		logging.FieldDurationMS, result.Duration().Milliseconds())

	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func record(result *types.BatchResult, opts Options, e entry) {
	key := result.Add(e.key, e.outcome)
	if opts.OnItem != nil {
		opts.OnItem(Event{Key: key, Outcome: e.outcome, Duration: e.duration})
	}
}

// =============================================================================
// WORKER
// =============================================================================

// process handles one item and returns one entry per invoice body, or a
// single failed entry.
func (o Options) process(ctx context.Context, j job, log *zap.SugaredLogger) (out []entry) {
	start := time.Now()
	fail := func(err error) []entry {
		log.Debugw("Item failed", logging.FieldItem, j.key, logging.FieldErrorKind, types.KindOf(err), logging.FieldError, err)
		return []entry{{key: j.key, outcome: types.Outcome{Err: err}, duration: time.Since(start)}}
	}
	defer func() {
		if r := recover(); r != nil {
			out = fail(errors.Newf("panic while processing %s: %v", j.key, r))
		}
	}()

	itemCtx := ctx
	if o.ItemTimeout > 0 {
		var cancel context.CancelFunc
		itemCtx, cancel = context.WithTimeout(ctx, o.ItemTimeout)
		defer cancel()
	}

	root, err := o.Loader.Parse(itemCtx, j.item)
	if err != nil {
		if ctxErr := itemCtx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			if ctx.Err() == nil {
				err = errors.Wrapf(ctxErr, "item timeout %s exceeded", o.ItemTimeout)
			}
			err = &types.CancelledError{Item: j.key, Err: err}
		}
		return fail(err)
	}

	bodies, err := o.Mapper.Bodies(root)
	if err != nil {
		return fail(err)
	}

	for i, body := range bodies {
		key := j.key
		if i > 0 {
			key = fmt.Sprintf("%s%s%d", j.key, BodySeparator, i+1)
		}
		if !body.OK() {
			out = append(out, entry{key: key, outcome: body, duration: time.Since(start)})
			continue
		}
		rec := *body.Record
		rec.Source = key
		checked, err := o.Validator.Check(rec)
		if err != nil {
			out = append(out, entry{key: key, outcome: types.Outcome{Err: err}, duration: time.Since(start)})
			continue
		}
		out = append(out, entry{key: key, outcome: types.Outcome{Record: &checked}, duration: time.Since(start)})
	}
	log.Debugw("Item processed", logging.FieldItem, j.key, "records", len(out), logging.FieldDurationMS, time.Since(start).Milliseconds())
	return out
}

func (o *Options) withDefaults() error {
	if o.Logger == nil {
		o.Logger = logging.Component("batch")
	}
	if o.Loader == nil {
		l, err := loader.New(loader.Options{})
		if err != nil {
			return err
		}
		o.Loader = l
	}
	if o.Mapper == nil {
		o.Mapper = schema.NewMapper(schema.DefaultOptions())
	}
	if o.Validator == nil {
		o.Validator = validation.New(validation.DefaultTolerance)
	}
	if o.BatchID == "" {
		o.BatchID = uuid.NewString()
	}
	return nil
}
