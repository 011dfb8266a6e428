package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 200 * time.Millisecond

// Watcher reloads a YAML catalog file on change, debouncing bursts of
// filesystem events (editors commonly write-then-rename) and calling back
// with the new host collections. A reload that fails to parse, or whose
// catalog fails validation, is logged and discarded: the previously loaded
// configuration keeps running.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func([]HostCollection)

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	current []HostCollection

	done chan struct{}
}

// WatcherOption configures NewWatcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the default 200ms debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// NewWatcher performs an initial Load of path, then starts watching it for
// changes. onReload is called after every successful reload: for the
// initial load synchronously on the caller's goroutine before NewWatcher
// returns, and for later reloads from the watcher's own goroutine.
func NewWatcher(path string, onReload func([]HostCollection), opts ...WatcherOption) (*Watcher, error) {
	initial, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		onReload: onReload,
		fsw:      fsw,
		current:  initial,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if onReload != nil {
		onReload(initial)
	}

	go w.run()
	return w, nil
}

// Current returns the most recently, successfully loaded host collections.
func (w *Watcher) Current() []HostCollection {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]HostCollection, len(w.current))
	copy(out, w.current)
	return out
}

// Stop stops watching and releases the underlying inotify/kqueue handle.
func (w *Watcher) Stop() {
	close(w.done)
	w.fsw.Close()
}

func (w *Watcher) run() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", w.path).Msg("config watcher error")
		case <-timerC:
			w.reload()
			timerC = nil
		}
	}
}

func (w *Watcher) reload() {
	loaded, err := Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("config reload failed, keeping previous configuration")
		return
	}

	w.mu.Lock()
	w.current = loaded
	w.mu.Unlock()

	log.Info().Str("path", w.path).Int("hosts", len(loaded)).Msg("config reloaded")
	if w.onReload != nil {
		w.onReload(loaded)
	}
}
