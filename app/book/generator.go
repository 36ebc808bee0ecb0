package book

import (
	"archive/zip"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lysyi3m/rss-bindery/app/feed"
)

const (
	DefaultLanguage = "vi"
	DefaultAuthor   = "RSS Feed"

	fallbackName = "book"
)

type Options struct {
	Title    string
	Author   string
	Language string
	Cover    []byte

	// Date stamps the identifier, metadata and filename. Zero means now.
	Date time.Time
}

type Generator struct {
	outputDir string
	now       func() time.Time
}

func NewGenerator(outputDir string) *Generator {
	return &Generator{
		outputDir: outputDir,
		now:       time.Now,
	}
}

// Generate packages the articles into one EPUB and returns its path. An empty
// article list produces no file and an empty path.
func (g *Generator) Generate(articles []feed.Article, opts Options) (string, error) {
	if len(articles) == 0 {
		slog.Warn("No articles provided for EPUB generation", "title", opts.Title)
		return "", nil
	}

	if opts.Author == "" {
		opts.Author = DefaultAuthor
	}
	if opts.Language == "" {
		opts.Language = DefaultLanguage
	}

	now := opts.Date
	if now.IsZero() {
		now = g.now()
	}
	day := now.Format(time.DateOnly)
	name := Sanitize(opts.Title)

	b := &epub{
		identifier: BookIdentifier(opts.Title, now),
		title:      opts.Title,
		author:     opts.Author,
		language:   opts.Language,
		date:       day,
		modified:   now.UTC().Format(time.RFC3339),
		labels:     labelsFor(opts.Language),
	}

	if len(opts.Cover) > 0 {
		b.cover = newResource("cover-image", "images/cover", opts.Cover)
	}

	images := collectImages(articles)
	for i, filename := range sortedKeys(images) {
		b.images = append(b.images, newResource(fmt.Sprintf("image_%03d", i+1), feed.ImageDir+filename, images[filename]))
	}

	for i, article := range articles {
		b.chapters = append(b.chapters, newChapter(i+1, article))
	}

	if err := os.MkdirAll(g.outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if name == "" {
		name = fallbackName
	}
	path := filepath.Join(g.outputDir, fmt.Sprintf("%s_%s.epub", name, now.Format("20060102")))

	size, err := writeAtomically(path, b.write)
	if err != nil {
		return "", fmt.Errorf("failed to write EPUB: %w", err)
	}

	slog.Info("EPUB generated", "path", path, "size", humanize.Bytes(uint64(size)), "articles", len(articles), "images", len(b.images))
	return path, nil
}

// BookIdentifier derives the stable per-day identifier of a book title.
func BookIdentifier(title string, day time.Time) string {
	seed := fmt.Sprintf("rss-%s-%s", Sanitize(title), day.Format(time.DateOnly))
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
}

// collectImages merges every article's images; equal filenames collapse to one entry.
func collectImages(articles []feed.Article) map[string][]byte {
	all := make(map[string][]byte)
	for _, article := range articles {
		for filename, data := range article.Images {
			all[filename] = data
		}
	}
	return all
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// writeAtomically writes the archive to a temp file next to path and renames it
// into place, so readers never observe a partial book.
func writeAtomically(path string, write func(*zip.Writer) error) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*.epub")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	fail := func(err error) (int64, error) {
		tmp.Close()
		os.Remove(tmpPath)
		return 0, err
	}

	zw := zip.NewWriter(tmp)
	if err := write(zw); err != nil {
		return fail(err)
	}
	if err := zw.Close(); err != nil {
		return fail(fmt.Errorf("failed to finalize archive: %w", err))
	}

	if err := tmp.Chmod(0644); err != nil {
		return fail(fmt.Errorf("failed to set file mode: %w", err))
	}

	info, err := tmp.Stat()
	if err != nil {
		return fail(fmt.Errorf("failed to stat temp file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to move file into place: %w", err)
	}

	return info.Size(), nil
}
