// Package prompt supplies the system prompt prepended to every completion request.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"relaybot/internal/domain"
)

// debounceDelay coalesces rapid successive writes into a single reload.
var debounceDelay = 100 * time.Millisecond

// newWatcherFunc creates an fsnotify watcher; tests may replace it to inject errors.
type newWatcherFunc func() (*fsnotify.Watcher, error)

// Static is a fixed system prompt.
type Static string

func (s Static) SystemPrompt() string { return strings.TrimSpace(string(s)) }

// FileSource serves the contents of a file as the system prompt and reloads it
// when the file changes. A missing or unreadable file keeps the last good prompt.
type FileSource struct {
	path     string
	fallback string
	logger   zerolog.Logger

	mu      sync.RWMutex
	current string

	newWatcherFn newWatcherFunc // nil means use fsnotify.NewWatcher
	onReload     func(string)   // test hook, nil in production
}

// Option configures a FileSource.
type Option func(*FileSource)

// WithLogger sets the logger for load and reload events. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *FileSource) { f.logger = logger }
}

// WithFallback sets the prompt used until the file has been read successfully.
func WithFallback(prompt string) Option {
	return func(f *FileSource) { f.fallback = strings.TrimSpace(prompt) }
}

// NewFileSource returns a FileSource for path. Call Load for the initial read.
func NewFileSource(path string, opts ...Option) *FileSource {
	f := &FileSource{
		path:   path,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.current = f.fallback
	return f
}

// SystemPrompt returns the most recently loaded prompt.
func (f *FileSource) SystemPrompt() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Load reads the file once. A missing file is not an error; the fallback stays in effect.
// A blank file, as seen mid-save by some editors, also yields the fallback.
func (f *FileSource) Load() error {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		f.logger.Warn().Str("path", f.path).Msg("system prompt file not found, using fallback")
		return nil
	}
	if err != nil {
		return fmt.Errorf("prompt: read %s: %w", f.path, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		f.logger.Warn().Str("path", f.path).Msg("system prompt file is blank, using fallback")
		text = f.fallback
	}
	f.mu.Lock()
	f.current = text
	f.mu.Unlock()
	if f.onReload != nil {
		f.onReload(text)
	}
	return nil
}

// Run watches the file's directory and reloads on writes and creates until ctx is done.
func (f *FileSource) Run(ctx context.Context) error {
	newWatcher := fsnotify.NewWatcher
	if f.newWatcherFn != nil {
		newWatcher = f.newWatcherFn
	}
	watcher, err := newWatcher()
	if err != nil {
		return fmt.Errorf("prompt: watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the parent directory so editors that replace the file are still seen.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("prompt: watch %s: %w", filepath.Dir(f.path), err)
	}

	target := filepath.Base(f.path)
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(debounceDelay, func() {
				if err := f.Load(); err != nil {
					f.logger.Error().Err(err).Msg("system prompt reload failed")
					return
				}
				f.logger.Info().Str("path", f.path).Msg("system prompt reloaded")
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn().Err(err).Msg("system prompt watcher error")
		}
	}
}

var (
	_ domain.PromptSource = Static("")
	_ domain.PromptSource = (*FileSource)(nil)
)
