package feed

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

const (
	DefaultMaxArticles = 50
	DefaultTimeout     = 30 * time.Second

	// Feed content shorter than this is replaced by the extracted article page.
	minContentLength = 500
)

type FetcherOptions struct {
	UserAgent     string
	Timeout       time.Duration
	ImageTimeout  time.Duration
	ImageMaxWidth int
	ImageQuality  int
	MaxImageBytes int64
}

type Fetcher struct {
	httpClient *http.Client
	parser     *Parser
	extractor  *ContentExtractor
	images     *ImageProcessor
	userAgent  string
	timeout    time.Duration
}

func NewFetcher(httpClient *http.Client, opts FetcherOptions) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Fetcher{
		httpClient: httpClient,
		parser:     NewParser(),
		extractor:  NewContentExtractor(),
		images: NewImageProcessor(httpClient, ImageOptions{
			UserAgent: opts.UserAgent,
			Timeout:   opts.ImageTimeout,
			MaxBytes:  opts.MaxImageBytes,
			MaxWidth:  opts.ImageMaxWidth,
			Quality:   opts.ImageQuality,
		}),
		userAgent: opts.UserAgent,
		timeout:   opts.Timeout,
	}
}

// FetchFeed returns up to maxArticles fully extracted articles with their images
// downloaded. Failures never escape: a broken feed yields an empty slice and a
// broken entry is skipped.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string, maxArticles int) []Article {
	return f.fetch(ctx, feedURL, maxArticles, true)
}

// Preview behaves like FetchFeed without downloading any images.
func (f *Fetcher) Preview(ctx context.Context, feedURL string, maxArticles int) []Article {
	return f.fetch(ctx, feedURL, maxArticles, false)
}

func (f *Fetcher) fetch(ctx context.Context, feedURL string, maxArticles int, withImages bool) []Article {
	if maxArticles <= 0 {
		maxArticles = DefaultMaxArticles
	}

	data, err := f.get(ctx, feedURL, "")
	if err != nil {
		slog.Error("Failed to fetch feed", "url", feedURL, "error", err)
		return []Article{}
	}

	entries, err := f.parser.Run(data)
	if err != nil {
		slog.Error("Failed to parse feed", "url", feedURL, "error", err)
		return []Article{}
	}

	if len(entries) > maxArticles {
		entries = entries[:maxArticles]
	}

	articles := make([]Article, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			slog.Warn("Feed fetch cancelled", "url", feedURL, "processed", len(articles))
			break
		}

		article, err := f.processEntry(ctx, entry, withImages)
		if err != nil {
			slog.Warn("Skipping entry", "feed", feedURL, "title", entry.Title, "error", err)
			continue
		}
		articles = append(articles, *article)
	}

	slog.Info("Feed fetched", "url", feedURL, "entries", len(entries), "articles", len(articles))
	return articles
}

func (f *Fetcher) processEntry(ctx context.Context, entry Entry, withImages bool) (article *Article, err error) {
	defer func() {
		if r := recover(); r != nil {
			article, err = nil, fmt.Errorf("panic while processing entry: %v", r)
		}
	}()

	if entry.Link == "" {
		return nil, fmt.Errorf("entry has no link")
	}

	content := entry.Content
	if content == "" {
		content = entry.Description
	}

	if utf8.RuneCountInString(content) < minContentLength {
		if extracted, err := f.extractPage(ctx, entry.Link); err != nil {
			slog.Debug("Using feed content", "url", entry.Link, "error", err)
		} else {
			content = extracted
		}
	}

	a := &Article{
		Title:     entry.Title,
		URL:       entry.Link,
		Author:    entry.Author,
		Published: entry.Published,
		Content:   content,
		Summary:   summarize(entry.Description),
		Images:    make(map[string][]byte),
	}

	if withImages {
		a.Content = f.images.Rewrite(ctx, a.Content, a.URL, a.Images)
		f.addThumbnail(ctx, a, entry.ThumbnailURL)
	}

	return a, nil
}

func (f *Fetcher) extractPage(ctx context.Context, pageURL string) (string, error) {
	data, err := f.get(ctx, pageURL, "text/html")
	if err != nil {
		return "", err
	}

	return f.extractor.Run(data, pageURL)
}

// addThumbnail prepends the entry thumbnail as a figure unless the content
// already carries the same image.
func (f *Fetcher) addThumbnail(ctx context.Context, a *Article, thumbnailURL string) {
	if thumbnailURL == "" {
		return
	}

	base, _ := url.Parse(a.URL)
	absURL := resolveURL(base, thumbnailURL)
	if absURL == "" {
		return
	}

	if _, ok := StoredImage(absURL, a.Images); ok {
		return
	}
	if strings.Contains(a.Content, absURL) || strings.Contains(a.Content, thumbnailURL) {
		return
	}

	filename, err := f.images.Store(ctx, absURL, a.Images)
	if err != nil {
		slog.Debug("Failed to download thumbnail", "url", absURL, "error", err)
		return
	}

	a.Content = fmt.Sprintf("<figure><img src=\"%s%s\" alt=\"%s\"/></figure>\n%s",
		ImageDir, filename, html.EscapeString(a.Title), a.Content)
}

func (f *Fetcher) get(ctx context.Context, target, expectedType string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if expectedType != "" {
		contentType := resp.Header.Get("Content-Type")
		if contentType != "" && !strings.Contains(contentType, expectedType) {
			return nil, fmt.Errorf("unexpected content type: %s", contentType)
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return data, nil
}

func summarize(description string) string {
	text := description
	if strings.Contains(description, "<") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(description)); err == nil {
			text = doc.Text()
		}
	}

	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxSummaryLen {
		return text
	}

	runes := []rune(text)
	return string(runes[:maxSummaryLen])
}
