package utils

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestExpandSources(t *testing.T) {
	dir := t.TempDir()
	touch(t, filepath.Join(dir, "in", "b.xml"), "x")
	touch(t, filepath.Join(dir, "in", "a.ZIP"), "x")
	touch(t, filepath.Join(dir, "in", "notes.txt"), "x")
	touch(t, filepath.Join(dir, "in", "sub", "c.xml"), "x")
	single := filepath.Join(dir, "upload.bin")
	touch(t, single, "x")

	got, err := ExpandSources([]string{single, filepath.Join(dir, "in")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		single,
		filepath.Join(dir, "in", "a.ZIP"),
		filepath.Join(dir, "in", "b.xml"),
		filepath.Join(dir, "in", "sub", "c.xml"),
	}, got)

	_, err = ExpandSources([]string{filepath.Join(dir, "missing.xml")})
	assert.Error(t, err)
}

func TestOutputPaths(t *testing.T) {
	assert.Equal(t, "out/fatture.json", OutputPath("out/fatture", "json"))
	assert.Equal(t, "out/fatture.csv", OutputPath("out/fatture", ".csv"))
	assert.Equal(t, "out/fatture_errors.log", ErrorLogPath("out/fatture"))
	assert.Equal(t, "out/fatture_metrics.csv", MetricsPath("out/fatture"))
}

func TestGenerateOutputPrefix(t *testing.T) {
	got := GenerateOutputPrefix("{original}_{date}", map[string]string{"original": "IT01_FPA01"})
	assert.True(t, strings.HasPrefix(got, "IT01_FPA01_"))
	assert.Len(t, got, len("IT01_FPA01_")+8)
	assert.NotContains(t, GenerateOutputPrefix("{uuid}", nil), "{")
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")

	require.NoError(t, WriteFileAtomic(path, []byte("first")))
	require.NoError(t, WriteFileAtomic(path, []byte("second")))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestWriteFileAtomicUnwritable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	touch(t, blocker, "x")
	assert.Error(t, WriteFileAtomic(filepath.Join(blocker, "out.json"), []byte("x")))
}

func TestWriteErrorLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatture_errors.log")

	written, err := WriteErrorLog(path, "b-1", nil)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, FileExists(path))

	written, err = WriteErrorLog(path, "b-1", []ErrorLogEntry{
		{Item: "lotto.zip!02.xml", Kind: "malformed_xml", Message: "lotto.zip!02.xml:3:1: malformed XML: unexpected EOF"},
		{Item: "x.xml", Kind: "unsafe_xml", Message: "x.xml: unsafe XML: DOCTYPE"},
	})
	require.NoError(t, err)
	assert.True(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Batch:     b-1")
	assert.Contains(t, text, "Total Errors: 2")
	assert.Contains(t, text, "Item:       lotto.zip!02.xml\nError Type: malformed_xml\n")
	assert.Equal(t, 2, strings.Count(text, entryRule+"\n"))
	assert.True(t, strings.HasSuffix(text, "End of Error Log\n"))
}

func TestWriteErrorLogRemovesStaleLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fatture_errors.log")
	touch(t, path, "old run\n")

	written, err := WriteErrorLog(path, "b-2", nil)
	require.NoError(t, err)
	assert.False(t, written)
	assert.False(t, FileExists(path))
}

func TestArchiveInputFile(t *testing.T) {
	root := t.TempDir()
	fm := NewFileManager(filepath.Join(root, "in"), filepath.Join(root, "out"))
	require.NoError(t, fm.EnsureDirectories())

	src := filepath.Join(fm.InputDir, "a.xml")
	touch(t, src, "one")
	dst, err := fm.ArchiveInputFile(src, true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fm.ArchiveDir, "a.xml"), dst)
	assert.False(t, FileExists(src))

	touch(t, src, "two")
	dst2, err := fm.ArchiveInputFile(src, true)
	require.NoError(t, err)
	assert.NotEqual(t, dst, dst2, "an archived file is never overwritten")

	bad := filepath.Join(fm.InputDir, "bad.xml")
	touch(t, bad, "x")
	dst3, err := fm.ArchiveInputFile(bad, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(fm.FailedDir, "bad.xml"), dst3)

	found, err := fm.DiscoverInputFiles()
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestWatchEmitsDroppedFiles(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "old.xml")
	touch(t, existing, "x")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths, _, err := Watch(ctx, WatchConfig{Root: dir, InitialScan: true, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	next := func() string {
		select {
		case p := <-paths:
			return p
		case <-time.After(5 * time.Second):
			t.Fatal("no path emitted")
			return ""
		}
	}
	assert.Equal(t, existing, next())

	touch(t, filepath.Join(dir, "ignored.txt"), "x")
	dropped := filepath.Join(dir, "new.zip")
	touch(t, dropped, "x")
	assert.Equal(t, dropped, next())

	cancel()
	for range paths {
	}
}

func TestWatchPicksUpNewSubdirectories(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	paths, _, err := Watch(ctx, WatchConfig{Root: dir, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	sub := filepath.Join(dir, "lotto")
	require.NoError(t, os.Mkdir(sub, 0o755))
	// The new directory must be watched before the file lands in it.
	time.Sleep(200 * time.Millisecond)
	dropped := filepath.Join(sub, "a.xml")
	touch(t, dropped, "x")

	select {
	case p := <-paths:
		assert.Equal(t, dropped, p)
	case <-time.After(5 * time.Second):
		t.Fatal("no path emitted")
	}

	cancel()
	for range paths {
	}
}

func TestWatchDirSkipsFiles(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.xml")
	touch(t, file, "x")
	sub := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(sub, 0o755))

	w, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, watchDir(w, file))
	require.NoError(t, watchDir(w, sub))
	require.NoError(t, watchDir(w, filepath.Join(dir, "gone")))
	assert.Equal(t, []string{sub}, w.WatchList())
}

func TestWatchRequiresRoot(t *testing.T) {
	_, _, err := Watch(context.Background(), WatchConfig{})
	assert.Error(t, err)
	_, _, err = Watch(context.Background(), WatchConfig{Root: filepath.Join(t.TempDir(), "missing")})
	assert.Error(t, err)
}
