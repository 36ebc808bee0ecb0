package feed

import (
	"time"
)

// Article is one extracted feed entry, valid only within a single generation run.
type Article struct {
	Title     string
	URL       string
	Author    string     // empty when unknown
	Published *time.Time // nil when the entry carries no usable date
	Content   string     // HTML body with image sources rewritten to images/<filename>
	Summary   string
	Images    map[string][]byte // filename -> recompressed image bytes
}

// Entry is a parsed feed item before content extraction and image download.
type Entry struct {
	Title        string
	Link         string
	Content      string
	Description  string
	Author       string
	Published    *time.Time
	ThumbnailURL string
}

// Configuration types

// Config is a feed seed file from the feeds directory.
type Config struct {
	Name        string `yaml:"name"`
	URL         string `yaml:"url"`
	Category    string `yaml:"category"`
	MaxArticles int    `yaml:"max_articles"`
	Enabled     *bool  `yaml:"enabled"`

	File string `yaml:"-"` // base filename without extension
}

func (c *Config) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}
