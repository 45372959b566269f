package database

import (
	"context"

	"github.com/rickgao/announce-relay/internal/model"
)

// SeenStore records which announcements have been handled.
type SeenStore interface {
	// MarkSeen records the announcement and reports whether it was new.
	MarkSeen(ctx context.Context, a model.Announcement) (bool, error)
}
