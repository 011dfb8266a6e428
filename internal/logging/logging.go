// Package logging configures the process-wide zerolog logger used by every
// terminalmgr component: console/JSON output selection, an optional rolling
// file sink, and a broadcaster so the CLI can live-tail logs in-process.
package logging

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const defaultTimeFmt = time.RFC3339

// Config controls Init. Format is one of "json", "console", or "auto" (pick
// console when stderr is a terminal, json otherwise). FilePath, when set,
// also writes to a rolling file sink alongside stderr.
type Config struct {
	Format     string
	Level      string
	Component  string
	FilePath   string
	MaxSizeMB  int
	MaxAgeDays int
	Compress   bool
}

var (
	mu            sync.RWMutex
	baseWriter    io.Writer = os.Stderr
	baseComponent string
	baseLogger              = zerolog.New(baseWriter).With().Timestamp().Logger()
	Broadcaster             = NewLogBroadcaster()
	nowFn                   = time.Now
	isTerminalFn            = term.IsTerminal
)

type requestIDKey struct{}

// Init (re)configures the global logger. Safe for concurrent use; callers
// typically invoke it once at startup and again on SIGHUP config reload.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	zerolog.TimeFieldFormat = defaultTimeFmt
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	w := selectWriter(cfg.Format)
	writers := []io.Writer{w, Broadcaster}

	if cfg.FilePath != "" {
		fw, err := newRollingFileWriter(cfg)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.FilePath).Msg("failed to open log file, continuing without it")
		} else if fw != nil {
			writers = append(writers, fw)
		}
	}

	baseWriter = io.MultiWriter(writers...)
	baseComponent = cfg.Component

	ctx := zerolog.New(baseWriter).With().Timestamp()
	if cfg.Component != "" {
		ctx = ctx.Str("component", cfg.Component)
	}
	baseLogger = ctx.Logger()
	log.Logger = baseLogger
}

// WithRequestID attaches a correlation id to ctx, generating one via
// google/uuid when id is empty or whitespace-only. Returns the possibly-nil
// ctx replaced with context.Background() if ctx was nil.
func WithRequestID(ctx context.Context, id string) (context.Context, string) {
	if ctx == nil {
		ctx = context.Background()
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	return context.WithValue(ctx, requestIDKey{}, id), id
}

// RequestIDFromContext returns the correlation id stashed by WithRequestID,
// if any.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}

// IsLevelEnabled reports whether lvl would be emitted at the current global
// level.
func IsLevelEnabled(lvl zerolog.Level) bool {
	return lvl >= zerolog.GlobalLevel()
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func selectWriter(format string) io.Writer {
	switch strings.ToLower(format) {
	case "json":
		return os.Stderr
	case "console":
		return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	case "auto":
		if isTerminal(os.Stderr) {
			return zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		}
		return os.Stderr
	default:
		return os.Stderr
	}
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isTerminalFn(int(f.Fd()))
}

// --- rolling file writer ---

const defaultMaxBytes = 100 * 1024 * 1024

var (
	mkdirAllFn      = os.MkdirAll
	openFileFn      = os.OpenFile
	openFn          = os.Open
	statFn          = os.Stat
	readDirFn       = os.ReadDir
	renameFn        = os.Rename
	removeFn        = os.Remove
	copyFn          = io.Copy
	gzipNewWriterFn = gzip.NewWriter
	statFileFn      = defaultStatFileFn
	closeFileFn     = defaultCloseFileFn
	compressFn      = compressAndRemove
)

func defaultStatFileFn(f *os.File) (os.FileInfo, error) { return f.Stat() }
func defaultCloseFileFn(f *os.File) error                { return f.Close() }

type rollingFileWriter struct {
	mu          sync.Mutex
	path        string
	file        *os.File
	maxBytes    int64
	currentSize int64
	maxAge      time.Duration
	compress    bool
}

func newRollingFileWriter(cfg Config) (io.Writer, error) {
	if cfg.FilePath == "" {
		return nil, nil
	}

	if err := mkdirAllFn(filepath.Dir(cfg.FilePath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	maxBytes := int64(cfg.MaxSizeMB) * 1024 * 1024
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}

	w := &rollingFileWriter{
		path:     cfg.FilePath,
		maxBytes: maxBytes,
		maxAge:   time.Duration(cfg.MaxAgeDays) * 24 * time.Hour,
		compress: cfg.Compress,
	}

	if err := w.openOrCreateLocked(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *rollingFileWriter) openOrCreateLocked() error {
	if w.file != nil {
		return nil
	}

	f, err := openFileFn(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	w.file = f
	w.currentSize = 0
	if info, err := statFileFn(f); err == nil {
		w.currentSize = info.Size()
	}
	return nil
}

func (w *rollingFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.openOrCreateLocked(); err != nil {
		return 0, err
	}

	if w.maxBytes > 0 && w.currentSize+int64(len(p)) > w.maxBytes {
		if err := w.rotateLocked(); err != nil {
			return 0, err
		}
		if err := w.openOrCreateLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.currentSize += int64(n)
	return n, err
}

func (w *rollingFileWriter) rotateLocked() error {
	if w.file != nil {
		if err := closeFileFn(w.file); err != nil {
			return fmt.Errorf("close log file before rotate: %w", err)
		}
		w.file = nil
		w.currentSize = 0
	}

	rotated := fmt.Sprintf("%s.%s", w.path, nowFn().Format("20060102-150405"))
	if err := renameFn(w.path, rotated); err != nil {
		return nil
	}

	if w.compress {
		go compressFn(rotated)
	}

	go w.cleanupOldFiles()

	return nil
}

func (w *rollingFileWriter) closeLocked() error {
	if w.file == nil {
		return nil
	}
	err := closeFileFn(w.file)
	w.file = nil
	w.currentSize = 0
	return err
}

func (w *rollingFileWriter) cleanupOldFiles() {
	if w.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)

	entries, err := readDirFn(dir)
	if err != nil {
		return
	}

	cutoff := nowFn().Add(-w.maxAge)
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = removeFn(filepath.Join(dir, name))
		}
	}
}

func compressAndRemove(path string) {
	src, err := openFn(path)
	if err != nil {
		return
	}
	defer src.Close()

	dst, err := openFileFn(path+".gz", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return
	}

	gz := gzipNewWriterFn(dst)
	if _, err := copyFn(gz, src); err != nil {
		gz.Close()
		dst.Close()
		return
	}
	if err := gz.Close(); err != nil {
		dst.Close()
		return
	}
	if err := dst.Close(); err != nil {
		return
	}
	_ = removeFn(path)
}
