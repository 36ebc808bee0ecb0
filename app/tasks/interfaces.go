package tasks

import (
	"context"

	"github.com/lysyi3m/rss-bindery/app/book"
	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/external"
	"github.com/lysyi3m/rss-bindery/app/feed"
)

// SchedulerInterface defines the operations the HTTP layer and the main
// application use to drive book generation.
// Example usage:
//
//	scheduler := NewScheduler(feedRepo, bookRepo, fetcher, generator, Options{Language: "vi"})
//	scheduler.Start(6, 0)
//	defer scheduler.Stop()
//	path, err := scheduler.GenerateFeedByID(ctx, 1)
type SchedulerInterface interface {
	Start(hour, minute int) error
	Stop()
	Running() bool
	GenerateAll(ctx context.Context) ([]string, error)
	GenerateFeedByID(ctx context.Context, feedID int64) (string, error)
	GenerateFeed(ctx context.Context, f *database.Feed) (string, error)
}

type Fetcher interface {
	FetchFeed(ctx context.Context, url string, maxArticles int) []feed.Article
}

type BookGenerator interface {
	Generate(articles []feed.Article, opts book.Options) (string, error)
}

// Converter produces a secondary format of a generated book.
type Converter interface {
	Convert(ctx context.Context, inputPath string) (string, error)
}

// CatalogRegistrar adds a generated book to an external library and returns its id there.
type CatalogRegistrar interface {
	Register(ctx context.Context, path, category string) (int64, error)
}

var (
	_ SchedulerInterface = (*Scheduler)(nil)
	_ Fetcher            = (*feed.Fetcher)(nil)
	_ BookGenerator      = (*book.Generator)(nil)
	_ Converter          = (*external.EbookConvert)(nil)
	_ CatalogRegistrar   = (*external.Calibredb)(nil)
)
