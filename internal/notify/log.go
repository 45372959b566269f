package notify

import (
	"context"
	"log/slog"

	"github.com/rickgao/announce-relay/internal/model"
)

// LogNotifier writes announcements to a logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that logs at info level.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs a. It never fails.
func (n *LogNotifier) Notify(ctx context.Context, a model.Announcement) error {
	n.logger.InfoContext(ctx, "new announcement",
		"key", a.Key,
		"title", a.Title,
		"catalog", a.CatalogName,
		"published_at", a.Published().UTC(),
		"source", a.Source,
		"url", a.URL(),
	)
	return nil
}
