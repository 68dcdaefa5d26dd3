package prompt

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

func TestStatic_ShouldTrim(t *testing.T) {
	if got := Static("  be brief \n").SystemPrompt(); got != "be brief" {
		t.Errorf("want trimmed prompt, got %q", got)
	}
}

func TestFileSource_Load_ShouldReadAndTrim(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("\nYou are terse.\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFileSource(path)
	if err := f.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.SystemPrompt(); got != "You are terse." {
		t.Errorf("unexpected prompt %q", got)
	}
}

func TestFileSource_Load_WhenMissing_ShouldKeepFallback(t *testing.T) {
	f := NewFileSource(filepath.Join(t.TempDir(), "nope.txt"), WithFallback("default"))
	if err := f.Load(); err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if got := f.SystemPrompt(); got != "default" {
		t.Errorf("want fallback, got %q", got)
	}
}

func TestFileSource_Load_WhenFileBlank_ShouldKeepFallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("Be kind."), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFileSource(path, WithFallback("default"))
	if err := f.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.SystemPrompt(); got != "Be kind." {
		t.Fatalf("want file prompt, got %q", got)
	}

	// Editors that truncate before writing leave a blank file for a moment.
	if err := os.WriteFile(path, []byte(" \n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := f.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := f.SystemPrompt(); got != "default" {
		t.Errorf("want fallback for blank file, got %q", got)
	}
}

func TestFileSource_Load_WhenPathIsDirectory_ShouldReturnError(t *testing.T) {
	f := NewFileSource(t.TempDir())
	if err := f.Load(); err == nil {
		t.Error("expected error reading a directory")
	}
}

func TestFileSource_Run_ShouldReloadOnWrite(t *testing.T) {
	old := debounceDelay
	debounceDelay = 10 * time.Millisecond
	defer func() { debounceDelay = old }()

	path := filepath.Join(t.TempDir(), "prompt.txt")
	if err := os.WriteFile(path, []byte("first"), 0o644); err != nil {
		t.Fatal(err)
	}
	f := NewFileSource(path)
	if err := f.Load(); err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan string, 4)
	f.onReload = func(s string) {
		select {
		case reloaded <- s:
		default:
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	// Give the watcher time to register before writing.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for got := ""; got != "second"; {
		select {
		case got = <-reloaded:
		case <-tick.C:
			_ = os.WriteFile(path, []byte("second"), 0o644)
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
	if f.SystemPrompt() != "second" {
		t.Errorf("want reloaded prompt, got %q", f.SystemPrompt())
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run should return nil on cancel, got %v", err)
	}
}

func TestFileSource_Run_WhenWatcherFails_ShouldReturnError(t *testing.T) {
	f := NewFileSource(filepath.Join(t.TempDir(), "p.txt"))
	f.newWatcherFn = func() (*fsnotify.Watcher, error) { return nil, errors.New("no inotify") }
	if err := f.Run(context.Background()); err == nil {
		t.Error("expected watcher creation error")
	}
}

func TestFileSource_Run_WhenDirectoryMissing_ShouldReturnError(t *testing.T) {
	f := NewFileSource(filepath.Join(t.TempDir(), "missing", "p.txt"))
	if err := f.Run(context.Background()); err == nil {
		t.Error("expected error watching a missing directory")
	}
}
