package push

import (
	"context"
	"log/slog"
	"sync"
)

// LogSink renders notifications to the log. It is the headless default for
// a sidecar with no display surface of its own; deployments with a real
// notifier inject their own Sink. Tag replacement is honored: showing a
// notification replaces any displayed one with the same tag.
type LogSink struct {
	logger *slog.Logger

	mu    sync.Mutex
	shown map[string]Notification // by tag
}

// NewLogSink creates a sink that logs renders and closes.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, shown: make(map[string]Notification)}
}

// Show implements Sink.
func (s *LogSink) Show(ctx context.Context, n Notification) error {
	s.mu.Lock()
	_, replaced := s.shown[n.Tag]
	s.shown[n.Tag] = n
	s.mu.Unlock()

	s.logger.Info("notification",
		"tag", n.Tag, "title", n.Title, "body", n.Body, "url", n.Data.URL,
		"replaced", replaced)
	return nil
}

// Close implements Sink.
func (s *LogSink) Close(ctx context.Context, tag string) error {
	s.mu.Lock()
	delete(s.shown, tag)
	s.mu.Unlock()

	s.logger.Debug("notification closed", "tag", tag)
	return nil
}

// Shown returns the currently displayed notification for a tag.
func (s *LogSink) Shown(tag string) (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.shown[tag]
	return n, ok
}

// LogWindows is the headless WindowRegistry: it has no windows to focus,
// so every routed click logs an open.
type LogWindows struct {
	logger *slog.Logger
}

// NewLogWindows creates the headless window registry.
func NewLogWindows(logger *slog.Logger) *LogWindows {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogWindows{logger: logger}
}

// Focus implements WindowRegistry. Always reports no window found.
func (w *LogWindows) Focus(ctx context.Context, url string) (bool, error) {
	return false, nil
}

// Open implements WindowRegistry.
func (w *LogWindows) Open(ctx context.Context, url string) error {
	w.logger.Info("open window", "url", url)
	return nil
}
