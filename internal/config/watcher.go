package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pterm/pterm"
)

// LimitsOverride is the hot-reloadable subset of the configuration
type LimitsOverride struct {
	MaxAttempts          int64 `json:"max_attempts"`
	BlockDurationSeconds int64 `json:"block_duration_seconds"`
}

// LimitsWatcher monitors an overrides file with fsnotify and applies
// validated changes through a callback. Editors replace files on save, so
// Create/Rename events re-arm the watch on the parent directory entry.
type LimitsWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	apply   func(LimitsOverride)
	logger  *pterm.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewLimitsWatcher starts watching path. A missing file is not an error;
// the override applies as soon as the file appears.
func NewLimitsWatcher(path string, apply func(LimitsOverride), logger *pterm.Logger) (*LimitsWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.WithCaller().Error("Failed to create limits watcher", logger.Args("error", err))
		return nil, err
	}

	// Watch the directory so rename-style saves keep being observed
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logger.WithCaller().Error("Failed to watch limits directory",
			logger.Args("dir", dir, "error", err))
		return nil, err
	}

	lw := &LimitsWatcher{
		watcher: watcher,
		path:    path,
		apply:   apply,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}

	// Apply any existing file at startup
	if _, err := os.Stat(path); err == nil {
		lw.reload()
	} else {
		logger.Debug("Limits file does not exist yet, waiting for creation",
			logger.Args("path", path))
	}

	lw.wg.Add(1)
	go lw.eventLoop()

	logger.Info("Limits watcher initialized", logger.Args("path", path))
	return lw, nil
}

func (lw *LimitsWatcher) eventLoop() {
	defer lw.wg.Done()

	// Editors fire several events per save; debounce before reloading
	var pending <-chan time.Time

	for {
		select {
		case <-lw.stopCh:
			lw.logger.Debug("Limits watcher stopped")
			return

		case event, ok := <-lw.watcher.Events:
			if !ok {
				lw.logger.Warn("Limits watcher events channel closed")
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(lw.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				lw.logger.Trace("Limits file change detected", lw.logger.Args("op", event.Op.String()))
				pending = time.After(200 * time.Millisecond)
			}

		case <-pending:
			pending = nil
			lw.reload()

		case err, ok := <-lw.watcher.Errors:
			if !ok {
				lw.logger.Warn("Limits watcher errors channel closed")
				return
			}
			lw.logger.WithCaller().Error("Limits watcher error", lw.logger.Args("error", err))
		}
	}
}

func (lw *LimitsWatcher) reload() {
	override, err := readLimitsFile(lw.path)
	if err != nil {
		lw.logger.Warn("Ignoring invalid limits file",
			lw.logger.Args("path", lw.path, "error", err))
		return
	}

	lw.logger.Info("Applying limits override",
		lw.logger.Args(
			"max_attempts", override.MaxAttempts,
			"block_duration_seconds", override.BlockDurationSeconds,
		))
	lw.apply(override)
}

func readLimitsFile(path string) (LimitsOverride, error) {
	var override LimitsOverride

	data, err := os.ReadFile(path)
	if err != nil {
		return override, err
	}
	if err := json.Unmarshal(data, &override); err != nil {
		return override, err
	}

	if override.MaxAttempts < 1 || override.MaxAttempts > 100 {
		return override, fmt.Errorf("max_attempts must be in 1..100, got %d", override.MaxAttempts)
	}
	if override.BlockDurationSeconds < 1 {
		return override, fmt.Errorf("block_duration_seconds must be positive, got %d", override.BlockDurationSeconds)
	}
	return override, nil
}

// Close stops the watcher
func (lw *LimitsWatcher) Close() error {
	close(lw.stopCh)
	lw.wg.Wait()

	if err := lw.watcher.Close(); err != nil {
		lw.logger.WithCaller().Error("Failed to close limits watcher", lw.logger.Args("error", err))
		return err
	}
	lw.logger.Info("Limits watcher closed")
	return nil
}
