package api

import (
	"context"
	"time"

	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/feed"
	"github.com/lysyi3m/rss-bindery/app/tasks"
)

const (
	defaultPreviewArticles = 5
	maxPreviewArticles     = 20
	maxBooksPerPage        = 100
)

type PreviewerInterface interface {
	Preview(ctx context.Context, url string, maxArticles int) []feed.Article
}

var _ PreviewerInterface = (*feed.Fetcher)(nil)

type Handler struct {
	feedRepo    database.FeedRepository
	bookRepo    database.BookRepository
	configCache *feed.ConfigCache
	previewer   PreviewerInterface
	scheduler   tasks.SchedulerInterface // nil when generation is disabled
}

type feedRequest struct {
	Name        string `json:"name" binding:"required"`
	URL         string `json:"url" binding:"required,url"`
	Category    string `json:"category"`
	MaxArticles int    `json:"max_articles" binding:"omitempty,min=1,max=200"`
	Enabled     *bool  `json:"enabled"`
}

// feedUpdateRequest applies only the fields that are present.
type feedUpdateRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1"`
	URL         *string `json:"url" binding:"omitempty,url"`
	Category    *string `json:"category"`
	MaxArticles *int    `json:"max_articles" binding:"omitempty,min=1,max=200"`
	Enabled     *bool   `json:"enabled"`
}

type feedResponse struct {
	ID          int64      `json:"id"`
	Name        string     `json:"name"`
	URL         string     `json:"url"`
	Category    *string    `json:"category"`
	MaxArticles int        `json:"max_articles"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
}

type bookResponse struct {
	ID                int64     `json:"id"`
	FeedID            int64     `json:"feed_id"`
	Title             string    `json:"title"`
	Filename          string    `json:"filename"`
	FileSize          int64     `json:"file_size"`
	ArticleCount      int       `json:"article_count"`
	GenerationDate    string    `json:"generation_date"`
	SecondaryFilename *string   `json:"secondary_filename"`
	SecondarySize     *int64    `json:"secondary_size"`
	CatalogBookID     *int64    `json:"catalog_book_id"`
	CreatedAt         time.Time `json:"created_at"`
}

type previewArticle struct {
	Title     string     `json:"title"`
	URL       string     `json:"url"`
	Author    string     `json:"author,omitempty"`
	Published *time.Time `json:"published,omitempty"`
	Summary   string     `json:"summary"`
}

// configResponse describes one feed seed file and the feed it was synced to.
type configResponse struct {
	File        string `json:"file"`
	Name        string `json:"name"`
	URL         string `json:"url"`
	Category    string `json:"category,omitempty"`
	MaxArticles int    `json:"max_articles"`
	Enabled     bool   `json:"enabled"`
	FeedID      *int64 `json:"feed_id"`
}

func toFeedResponse(f *database.Feed) feedResponse {
	resp := feedResponse{
		ID:          f.ID,
		Name:        f.Name,
		URL:         f.URL,
		MaxArticles: f.MaxArticles,
		Enabled:     f.Enabled,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
	if f.Category != "" {
		category := f.Category
		resp.Category = &category
	}
	return resp
}

func toBookResponse(b *database.GeneratedBook) bookResponse {
	return bookResponse{
		ID:                b.ID,
		FeedID:            b.FeedID,
		Title:             b.Title,
		Filename:          b.Filename,
		FileSize:          b.FileSize,
		ArticleCount:      b.ArticleCount,
		GenerationDate:    b.GenerationDate.Format(time.DateOnly),
		SecondaryFilename: b.SecondaryFilename,
		SecondarySize:     b.SecondarySize,
		CatalogBookID:     b.CatalogBookID,
		CreatedAt:         b.CreatedAt,
	}
}
