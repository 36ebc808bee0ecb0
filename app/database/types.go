package database

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrDuplicateURL = errors.New("feed URL already exists")
)

const DefaultMaxArticles = 50

type Feed struct {
	ID          int64
	Name        string
	URL         string
	Category    string // empty when the feed has no category tag
	MaxArticles int
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   *time.Time
}

// FeedInput holds the user-editable columns of a feed.
type FeedInput struct {
	Name        string
	URL         string
	Category    string
	MaxArticles int
	Enabled     bool
}

// GeneratedBook is a registry row for one produced artifact.
type GeneratedBook struct {
	ID                int64
	FeedID            int64
	Title             string
	Filename          string
	FilePath          string
	FileSize          int64
	ArticleCount      int
	GenerationDate    time.Time // calendar date, time part is zero
	SecondaryFilename *string
	SecondaryPath     *string
	SecondarySize     *int64
	CatalogBookID     *int64
	CreatedAt         time.Time
}

type BookFilter struct {
	FeedID int64 // zero means all feeds
	Limit  int
	Offset int
}
