// =============================================================================
// FatturaPA Extractor - Logging
// =============================================================================
//
// A single package-level SugaredLogger, replaced by Initialize. Components
// take a named child through Component so log lines carry their origin:
//
//   loader.Debugw("Archive listed", "source", "lotto.zip", "items", 3)
//   -> 2026-10-15T10:00:00Z  DEBUG  loader  Archive listed  {"source": ...}
//
// =============================================================================

package logging

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger. It is a no-op until Initialize runs.
var Logger *zap.SugaredLogger

// logFile is the file opened by the last Initialize, if any.
var logFile *os.File

func init() {
	Logger = zap.NewNop().Sugar()
}

// Options controls logger construction.
type Options struct {
	// Level is one of debug, info, warn, error.
	Level string
	// JSON selects the JSON encoder instead of the console encoder.
	JSON bool
	// File, when set, receives a copy of every log line in JSON.
	File string
}

// Initialize replaces the global logger. Console output goes to stderr so
// stdout stays free for command output.
func Initialize(opts Options) error {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var consoleEnc zapcore.Encoder
	if opts.JSON {
		consoleEnc = zapcore.NewJSONEncoder(encCfg)
	} else {
		human := encCfg
		human.EncodeLevel = zapcore.CapitalColorLevelEncoder
		human.EncodeCaller = nil
		consoleEnc = zapcore.NewConsoleEncoder(human)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), level),
	}

	var f *os.File
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "create log directory %s", dir)
			}
		}
		f, err = os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrapf(err, "open log file %s", opts.File)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), level))
	}

	Close()
	Logger = zap.New(zapcore.NewTee(cores...)).Sugar()
	logFile = f
	return nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(name string) (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(name))
	if err != nil {
		return zapcore.InfoLevel, errors.Wrapf(err, "log level %q", name)
	}
	return level, nil
}

// Component returns a named child of the global logger.
func Component(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// Sync flushes buffered log entries. Errors from syncing a terminal are
// ignored.
func Sync() {
	_ = Logger.Sync()
}

// Close flushes the global logger and closes its log file. Logging after
// Close is discarded until the next Initialize.
func Close() {
	Sync()
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
		Logger = zap.NewNop().Sugar()
	}
}
