package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/feed"
)

// SyncFeedConfigTask upserts one seed file into the feeds table, keyed by URL.
type SyncFeedConfigTask struct {
	Task
	FeedConfig *feed.Config
	feedRepo   database.FeedRepository
}

func NewSyncFeedConfigTask(feedConfig *feed.Config, feedRepo database.FeedRepository) *SyncFeedConfigTask {
	return &SyncFeedConfigTask{
		Task:       NewTask(TaskTypeSyncFeedConfig, feedConfig.Name),
		FeedConfig: feedConfig,
		feedRepo:   feedRepo,
	}
}

func (t *SyncFeedConfigTask) Execute(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f, created, err := t.feedRepo.UpsertFeedByURL(database.FeedInput{
		Name:        t.FeedConfig.Name,
		URL:         t.FeedConfig.URL,
		Category:    t.FeedConfig.Category,
		MaxArticles: t.FeedConfig.MaxArticles,
		Enabled:     t.FeedConfig.IsEnabled(),
	})
	if err != nil {
		return fmt.Errorf("failed to sync feed config to database: %w", err)
	}

	slog.Info("Task completed",
		"type", string(t.Type),
		"feed", t.FeedName,
		"id", f.ID,
		"created", created,
		"duration", t.GetDuration())

	return nil
}

// SyncFeedConfigs upserts every loaded seed file and returns how many succeeded.
// Individual failures are logged and skipped.
func SyncFeedConfigs(ctx context.Context, configCache *feed.ConfigCache, feedRepo database.FeedRepository) int {
	synced := 0
	for _, feedConfig := range configCache.GetConfigs() {
		task := NewSyncFeedConfigTask(feedConfig, feedRepo)
		task.Start()
		if err := task.Execute(ctx); err != nil {
			slog.Error("Task failed", "type", string(task.Type), "feed", task.FeedName, "error", err)
			continue
		}
		synced++
	}
	return synced
}
