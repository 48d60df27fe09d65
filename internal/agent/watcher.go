package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns manifest-file changes into install events: editing the
// precache manifest is this agent's "new version deployed" signal. The
// derived version includes a content hash, so a rewrite with identical
// content installs nothing.
type Watcher struct {
	path    string
	base    string
	agent   *Agent
	logger  *slog.Logger

	mu      sync.Mutex
	current string // last installed version
}

// NewWatcher watches the manifest at path. base is the configured version
// string the content hash is appended to.
func NewWatcher(path, base string, agent *Agent, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{path: path, base: base, agent: agent, logger: logger}
}

// InstallCurrent reads the manifest and signals an install for its current
// content. Called once at startup; the caller gets the version that will
// be installed.
func (w *Watcher) InstallCurrent() (string, error) {
	version, entries, err := w.read()
	if err != nil {
		return "", err
	}

	w.mu.Lock()
	w.current = version
	w.mu.Unlock()

	w.agent.Signal(Event{Kind: EventInstall, Version: version, Entries: entries})
	return version, nil
}

// Run watches for manifest changes until ctx is done. Watches the parent
// directory rather than the file itself so editor rename-and-replace
// writes are not lost.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reinstall()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("manifest watch error", "error", err)
		}
	}
}

func (w *Watcher) reinstall() {
	version, entries, err := w.read()
	if err != nil {
		// Mid-write reads can see a half-written file; the next event
		// retries.
		w.logger.Warn("manifest reload failed", "error", err)
		return
	}

	w.mu.Lock()
	unchanged := version == w.current
	if !unchanged {
		w.current = version
	}
	w.mu.Unlock()
	if unchanged {
		return
	}

	w.logger.Info("manifest changed, installing", "version", version)
	w.agent.Signal(Event{Kind: EventInstall, Version: version, Entries: entries})
}

func (w *Watcher) read() (string, []string, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return "", nil, err
	}
	entries, err := parseManifest(data)
	if err != nil {
		return "", nil, err
	}
	return ManifestVersion(w.base, data), entries, nil
}
