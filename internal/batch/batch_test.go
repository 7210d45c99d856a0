package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/testutil"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

func invoice(number string) string {
	inv := testutil.Sample()
	inv.Number = number
	return inv.XML()
}

func mixedArchive(t *testing.T) loader.Source {
	t.Helper()
	noNumber := testutil.Sample()
	noNumber.Number = ""
	return loader.BytesSource("lotto.zip", testutil.Zip(t,
		testutil.Entry{Name: "01.xml", Body: invoice("A/1")},
		testutil.Entry{Name: "02.xml", Body: testutil.Malformed},
		testutil.Entry{Name: "03.xml", Body: invoice("A/3")},
		testutil.Entry{Name: "04.xml", Body: testutil.XXE},
		testutil.Entry{Name: "05.xml", Body: invoice("A/5")},
		testutil.Entry{Name: "06.xml", Body: noNumber.XML()},
		testutil.Entry{Name: "07.xml", Body: invoice("A/7")},
	))
}

func TestRunArchiveWithOneMalformedEntry(t *testing.T) {
	src := loader.BytesSource("three.zip", testutil.Zip(t,
		testutil.Entry{Name: "a.xml", Body: invoice("FPA/1")},
		testutil.Entry{Name: "b.xml", Body: "<FatturaElettronica><oops></FatturaElettronica>"},
		testutil.Entry{Name: "c.xml", Body: invoice("FPA/3")},
	))

	result, err := Run(context.Background(), []loader.Source{src}, Options{Parallelism: 2})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Len())
	assert.Equal(t, 2, result.Successes())
	fails := result.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, "three.zip!b.xml", fails[0].Key)
	assert.Equal(t, types.KindMalformedXML, fails[0].Kind)
}

func TestRunOutcomeIndependentOfParallelism(t *testing.T) {
	var baseline []types.CanonicalRecord
	var baselineFailures []types.Failure

	for _, p := range []int{1, 0, 3, 16} {
		t.Run(fmt.Sprintf("parallelism=%d", p), func(t *testing.T) {
			result, err := Run(context.Background(), []loader.Source{mixedArchive(t)}, Options{Parallelism: p})
			require.NoError(t, err)

			assert.Equal(t, 7, result.Len())
			assert.Equal(t, 4, result.Successes())

			kinds := map[string]types.ErrorKind{}
			for _, f := range result.Failures() {
				kinds[f.Key] = f.Kind
			}
			assert.Equal(t, map[string]types.ErrorKind{
				"lotto.zip!02.xml": types.KindMalformedXML,
				"lotto.zip!04.xml": types.KindUnsafeXML,
				"lotto.zip!06.xml": types.KindSchema,
			}, kinds)

			records := result.Records()
			if baseline == nil {
				baseline, baselineFailures = records, result.Failures()
				return
			}
			assert.Equal(t, baseline, records)
			require.Len(t, result.Failures(), len(baselineFailures))
			for i, f := range result.Failures() {
				assert.Equal(t, baselineFailures[i].Key, f.Key)
				assert.Equal(t, baselineFailures[i].Err.Error(), f.Err.Error())
			}
		})
	}
}

func TestRunMultiBodyKeys(t *testing.T) {
	first := testutil.Sample()
	second := testutil.Sample()
	second.Number = "FPA/2024/002"
	src := loader.BytesSource("lotto.xml", []byte(testutil.MultiBodyXML(first, second)))

	result, err := Run(context.Background(), []loader.Source{src}, Options{Parallelism: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"lotto.xml", "lotto.xml#2"}, result.Keys())

	out, ok := result.Get("lotto.xml#2")
	require.True(t, ok)
	assert.Equal(t, "FPA/2024/002", out.Record.Document.Number)
	assert.Equal(t, "lotto.xml#2", out.Record.Source)
}

func TestRunSimplifiedInvoice(t *testing.T) {
	src := loader.BytesSource("s.xml", []byte(testutil.Simplified))
	result, err := Run(context.Background(), []loader.Source{src}, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, result.Successes())
	recs := result.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, "S-17", recs[0].Document.Number)
	assert.Len(t, recs[0].LineItems, 2)
}

func TestRunAttachesWarnings(t *testing.T) {
	inv := testutil.Sample()
	inv.Lines = []testutil.Line{{Number: "1", Description: "x", Quantity: "2.00", Price: "10.00", Total: "25.00", VATRate: "22.00"}}
	inv.Summary = [2]string{}

	result, err := Run(context.Background(), []loader.Source{loader.BytesSource("w.xml", []byte(inv.XML()))}, Options{})
	require.NoError(t, err)

	recs := result.Records()
	require.Len(t, recs, 1)
	require.Len(t, recs[0].Warnings, 1)
	assert.Equal(t, types.WarnTotalMismatch, recs[0].Warnings[0].Code)
	assert.Equal(t, 1, recs[0].Warnings[0].LineNumber)
}

func TestRunLineNumberingFailure(t *testing.T) {
	inv := testutil.Sample()
	inv.Lines = []testutil.Line{
		{Number: "2", Description: "x", Price: "1", Total: "1"},
		{Number: "1", Description: "y", Price: "1", Total: "1"},
	}
	result, err := Run(context.Background(), []loader.Source{loader.BytesSource("n.xml", []byte(inv.XML()))}, Options{})
	require.NoError(t, err)
	fails := result.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, types.KindSchema, fails[0].Kind)
}

func TestRunNoInput(t *testing.T) {
	result, err := Run(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Zero(t, result.Len())

	result, err = Run(context.Background(), []loader.Source{loader.BytesSource("notes.txt", []byte("x"))}, Options{})
	assert.ErrorIs(t, err, ErrNoInput)
	require.Len(t, result.Failures(), 1)
	assert.Equal(t, types.KindLoad, result.Failures()[0].Kind)

	empty := loader.BytesSource("empty.zip", testutil.Zip(t, testutil.Entry{Name: "readme.txt", Body: "x"}))
	_, err = Run(context.Background(), []loader.Source{empty}, Options{})
	assert.ErrorIs(t, err, ErrNoInput)
}

func TestRunSourceFailureDoesNotStopBatch(t *testing.T) {
	sources := []loader.Source{
		loader.BytesSource("broken.zip", []byte("PK\x03\x04junk")),
		loader.BytesSource("ok.xml", []byte(testutil.SampleXML())),
	}
	result, err := Run(context.Background(), sources, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Len())
	assert.Equal(t, 1, result.Successes())
}

func TestRunDuplicateSources(t *testing.T) {
	src := loader.BytesSource("same.xml", []byte(testutil.SampleXML()))
	result, err := Run(context.Background(), []loader.Source{src, src}, Options{Parallelism: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"same.xml", "same.xml~2"}, result.Keys())
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, []loader.Source{mixedArchive(t)}, Options{Parallelism: 2})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 7, result.Len(), "every discovered item is listed")
	assert.Zero(t, result.Successes())
	for _, f := range result.Failures() {
		assert.Equal(t, types.KindCancelled, f.Kind, f.Key)
	}
}

func TestRunCancelledMidway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen atomic.Int32
	result, err := Run(ctx, []loader.Source{mixedArchive(t)}, Options{
		Parallelism: 1,
		OnItem: func(Event) {
			if seen.Add(1) == 1 {
				cancel()
			}
		},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 7, result.Len())

	cancelled := 0
	for _, f := range result.Failures() {
		if f.Kind == types.KindCancelled {
			cancelled++
		}
	}
	assert.Positive(t, cancelled)
}

func TestRunItemTimeout(t *testing.T) {
	l, err := loader.New(loader.Options{CheckInterval: 1})
	require.NoError(t, err)
	src := loader.BytesSource("slow.xml", []byte(testutil.SampleXML()))
	result, err := Run(context.Background(), []loader.Source{src}, Options{Loader: l, ItemTimeout: time.Nanosecond})
	require.NoError(t, err, "an item timeout is not a batch failure")

	fails := result.Failures()
	require.Len(t, fails, 1)
	assert.Equal(t, types.KindCancelled, fails[0].Kind)
	assert.True(t, errors.Is(fails[0].Err, context.DeadlineExceeded))
}

func TestRunReportsEveryEntry(t *testing.T) {
	var events []Event
	result, err := Run(context.Background(), []loader.Source{mixedArchive(t)}, Options{
		Parallelism: 4,
		BatchID:     "fixed",
		OnItem:      func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed", result.ID)
	assert.Len(t, events, result.Len())
}

func TestEffectiveParallelism(t *testing.T) {
	assert.Equal(t, 1, EffectiveParallelism(1, 10))
	assert.Equal(t, 3, EffectiveParallelism(8, 3))
	assert.Equal(t, 1, EffectiveParallelism(4, 0))
	assert.GreaterOrEqual(t, EffectiveParallelism(0, 1000), 1)
}
