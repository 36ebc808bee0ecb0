package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/lysyi3m/rss-bindery/app/book"
	"github.com/lysyi3m/rss-bindery/app/database"
)

const (
	// DefaultMaxArticles caps a run for feeds without their own limit.
	DefaultMaxArticles = 20

	convertTimeout  = 5 * time.Minute
	registerTimeout = 60 * time.Second

	titleDateLayout = "02/01/2006"
)

// GenerateFeedTask runs the fetch, package, convert, register and record
// pipeline for one feed.
type GenerateFeedTask struct {
	Task
	Feed *database.Feed

	// Path is the generated book, empty when the run produced nothing.
	Path string

	fetcher   Fetcher
	generator BookGenerator
	converter Converter
	registrar CatalogRegistrar
	bookRepo  database.BookRepository
	language  string
	now       func() time.Time
}

func (t *GenerateFeedTask) Execute(ctx context.Context) error {
	maxArticles := t.Feed.MaxArticles
	if maxArticles <= 0 {
		maxArticles = DefaultMaxArticles
	}

	articles := t.fetcher.FetchFeed(ctx, t.Feed.URL, maxArticles)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("fetch of feed %s interrupted after %d articles: %w", t.Feed.Name, len(articles), err)
	}
	if len(articles) == 0 {
		slog.Warn("No articles found for feed", "feed", t.Feed.Name, "url", t.Feed.URL)
		return nil
	}

	today := t.now()
	title := fmt.Sprintf("%s - %s", t.Feed.Name, today.Format(titleDateLayout))

	path, err := t.generator.Generate(articles, book.Options{
		Title:    title,
		Author:   t.Feed.Name,
		Language: t.language,
		Date:     today,
	})
	if err != nil {
		return fmt.Errorf("failed to generate book: %w", err)
	}
	if path == "" {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat generated book: %w", err)
	}

	record := &database.GeneratedBook{
		FeedID:         t.Feed.ID,
		Title:          title,
		Filename:       filepath.Base(path),
		FilePath:       path,
		FileSize:       info.Size(),
		ArticleCount:   len(articles),
		GenerationDate: today,
	}

	if t.converter != nil {
		t.convert(ctx, record)
	}
	if t.registrar != nil {
		t.register(ctx, record)
	}

	if err := t.bookRepo.ReplaceBook(record); err != nil {
		return fmt.Errorf("failed to record generated book: %w", err)
	}

	t.Path = path

	slog.Info("Task completed",
		"type", string(t.Type),
		"feed", t.Feed.Name,
		"file", record.Filename,
		"size", humanize.Bytes(uint64(record.FileSize)),
		"articles", record.ArticleCount,
		"duration", t.GetDuration())

	return nil
}

func (t *GenerateFeedTask) convert(ctx context.Context, record *database.GeneratedBook) {
	convertCtx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()

	secondary, err := t.converter.Convert(convertCtx, record.FilePath)
	if err != nil {
		slog.Error("Conversion failed", "feed", t.Feed.Name, "file", record.Filename, "error", err)
		return
	}

	info, err := os.Stat(secondary)
	if err != nil {
		slog.Error("Converted file missing", "feed", t.Feed.Name, "path", secondary, "error", err)
		return
	}

	filename := filepath.Base(secondary)
	size := info.Size()
	record.SecondaryFilename = &filename
	record.SecondaryPath = &secondary
	record.SecondarySize = &size
}

func (t *GenerateFeedTask) register(ctx context.Context, record *database.GeneratedBook) {
	registerCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	id, err := t.registrar.Register(registerCtx, record.FilePath, t.Feed.Category)
	if err != nil {
		slog.Error("Catalog registration failed", "feed", t.Feed.Name, "file", record.Filename, "error", err)
		return
	}

	slog.Info("Book added to catalog", "feed", t.Feed.Name, "catalog_id", id)
	record.CatalogBookID = &id
}
