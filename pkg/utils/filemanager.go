// =============================================================================
// FatturaPA Extractor - File Manager Utility
// =============================================================================
//
// This module provides the file handling around a batch run:
//   - Source expansion (files and directories to .xml/.zip inputs)
//   - Output naming (<prefix>.<ext> and companion files)
//   - Atomic writes (temp file + rename)
//   - Error log generation
//   - Drop-folder management for the watch command
//
// DROP-FOLDER STRATEGY:
//   - Documents are dropped into the input directory
//   - Outputs are written to the output directory
//   - Processed inputs are moved to the archive directory
//   - Inputs with no successful record are moved to the failed directory
//
// =============================================================================

package utils

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// SourceExtensions are the input file extensions picked up from directories.
var SourceExtensions = []string{".xml", ".zip"}

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles the drop-folder layout used by the watch command.
type FileManager struct {
	// InputDir is where documents are dropped.
	InputDir string

	// OutputDir receives the rendered outputs and companion files.
	OutputDir string

	// ArchiveDir receives inputs that produced at least one record.
	ArchiveDir string

	// FailedDir receives inputs that produced no record.
	FailedDir string

	// UseTimestampSubdirs creates date-based subdirectories in archives.
	// Example: archive/2024/01/15/fattura.xml
	UseTimestampSubdirs bool
}

// NewFileManager creates a FileManager rooted at inputDir. The archive and
// failed directories live inside the output directory.
func NewFileManager(inputDir, outputDir string) *FileManager {
	return &FileManager{
		InputDir:   inputDir,
		OutputDir:  outputDir,
		ArchiveDir: filepath.Join(outputDir, "archive"),
		FailedDir:  filepath.Join(outputDir, "failed"),
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	for _, dir := range []string{fm.InputDir, fm.OutputDir, fm.ArchiveDir, fm.FailedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create directory %s", dir)
		}
	}
	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// IsSource reports whether path has a supported input extension.
func IsSource(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range SourceExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// ExpandSources resolves command-line inputs to source files. Files are
// kept as given, whatever their extension; directories are walked
// recursively for .xml and .zip files in lexical order.
//
// RETURNS:
//   - The source paths, input order preserved.
//   - An error if an input does not exist or a directory cannot be read.
func ExpandSources(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		info, err := os.Stat(in)
		if err != nil {
			return nil, errors.Wrapf(err, "input %s", in)
		}
		if !info.IsDir() {
			out = append(out, in)
			continue
		}
		found, err := discoverRecursive(in)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// DiscoverInputFiles lists the sources currently in the input directory,
// recursively.
func (fm *FileManager) DiscoverInputFiles() ([]string, error) {
	return discoverRecursive(fm.InputDir)
}

func discoverRecursive(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && IsSource(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "walk %s", root)
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// FILE ARCHIVAL
// =============================================================================

// ArchiveInputFile moves a processed input into the archive directory, or
// into the failed directory when ok is false.
//
// RETURNS:
//   - The new path of the file.
//   - An error if the move fails.
func (fm *FileManager) ArchiveInputFile(filePath string, ok bool) (string, error) {
	dir := fm.ArchiveDir
	if !ok {
		dir = fm.FailedDir
	}
	archivePath := fm.archivePath(dir, filePath)
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return "", errors.Wrap(err, "create archive directory")
	}

	if err := os.Rename(filePath, archivePath); err != nil {
		// Cross-device rename: copy, then delete.
		if err := copyFile(filePath, archivePath); err != nil {
			return "", errors.Wrap(err, "copy file to archive")
		}
		if err := os.Remove(filePath); err != nil {
			return "", errors.Wrap(err, "remove original file")
		}
	}
	return archivePath, nil
}

// archivePath constructs the destination of an archived file. An existing
// file with the same name is never overwritten.
func (fm *FileManager) archivePath(archiveDir, filePath string) string {
	fileName := filepath.Base(filePath)
	if fm.UseTimestampSubdirs {
		now := time.Now()
		archiveDir = filepath.Join(archiveDir,
			fmt.Sprintf("%d", now.Year()),
			fmt.Sprintf("%02d", now.Month()),
			fmt.Sprintf("%02d", now.Day()),
		)
	}
	dst := filepath.Join(archiveDir, fileName)
	if FileExists(dst) {
		ext := filepath.Ext(fileName)
		dst = filepath.Join(archiveDir, strings.TrimSuffix(fileName, ext)+"_"+uuid.NewString()[:8]+ext)
	}
	return dst
}

// =============================================================================
// OUTPUT FILE NAMING
// =============================================================================

// Companion file suffixes appended to the output prefix.
const (
	ErrorsSuffix  = "_errors.log"
	MetricsSuffix = "_metrics.csv"
)

// OutputPath returns <prefix>.<ext>.
func OutputPath(prefix, ext string) string {
	return prefix + "." + strings.TrimPrefix(ext, ".")
}

// ErrorLogPath returns the error log path for prefix.
func ErrorLogPath(prefix string) string { return prefix + ErrorsSuffix }

// MetricsPath returns the metrics file path for prefix.
func MetricsPath(prefix string) string { return prefix + MetricsSuffix }

// GenerateOutputPrefix builds an output prefix from a format string.
//
// PARAMETERS:
//   - format: The format string for the prefix.
//     Placeholders:
//     {uuid}      - A random UUID
//     {timestamp} - Current timestamp (YYYYMMDD_HHMMSS)
//     {date}      - Current date (YYYYMMDD)
//     {time}      - Current time (HHMMSS)
//     {original}  - Original file name (without extension)
//   - params: Extra placeholder values.
//
// EXAMPLE:
//
//	format: "{original}_{timestamp}"
//	params: {"original": "IT01234567890_FPA01"}
//	output: "IT01234567890_FPA01_20240115_143022"
func GenerateOutputPrefix(format string, params map[string]string) string {
	now := time.Now()
	replacements := map[string]string{
		"{uuid}":      uuid.NewString(),
		"{timestamp}": now.Format("20060102_150405"),
		"{date}":      now.Format("20060102"),
		"{time}":      now.Format("150405"),
	}
	for key, value := range params {
		replacements["{"+key+"}"] = value
	}

	result := format
	for placeholder, value := range replacements {
		result = strings.ReplaceAll(result, placeholder, value)
	}
	return result
}

// =============================================================================
// ATOMIC WRITES
// =============================================================================

// WriteFileAtomic writes data to path through a temporary file in the same
// directory, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp file for %s", path)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "sync %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrapf(err, "chmod %s", path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry represents a single error log entry.
type ErrorLogEntry struct {
	Item    string
	Kind    string
	Message string
}

const (
	logRule   = "================================================================================"
	entryRule = "--------------------------------------------------"
)

// WriteErrorLog writes error entries to path. When there are no entries
// nothing is written and a log left at path by an earlier run is removed.
//
// RETURNS:
//   - Whether a file was written.
//   - An error if writing or removing fails.
func WriteErrorLog(path string, batchID string, entries []ErrorLogEntry) (bool, error) {
	if len(entries) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, errors.Wrapf(err, "remove stale error log %s", path)
		}
		return false, nil
	}

	var sb strings.Builder
	w := bufio.NewWriter(&sb)

	fmt.Fprintf(w, "FatturaPA Extractor - Error Log\n"+
		"Generated: %s\n"+
		"Batch:     %s\n"+
		"Total Errors: %d\n"+
		"%s\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		batchID,
		len(entries),
		logRule)

	for _, entry := range entries {
		fmt.Fprintf(w, "Item:       %s\n"+
			"Error Type: %s\n"+
			"Details:    %s\n"+
			"%s\n",
			entry.Item, entry.Kind, entry.Message, entryRule)
	}

	fmt.Fprintf(w, "%s\nEnd of Error Log\n", logRule)
	if err := w.Flush(); err != nil {
		return false, errors.Wrap(err, "flush error log")
	}
	if err := WriteFileAtomic(path, []byte(sb.String())); err != nil {
		return false, err
	}
	return true, nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
