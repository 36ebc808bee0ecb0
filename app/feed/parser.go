package feed

import (
	"bytes"
	"cmp"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
)

const (
	untitled        = "Untitled"
	maxSummaryLen   = 500
	imageMIMEPrefix = "image/"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses a feed document and returns its entries in document order.
func (p *Parser) Run(data []byte) ([]Entry, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		entries = append(entries, p.normalizeItem(item))
	}

	return entries, nil
}

func (p *Parser) normalizeItem(item *gofeed.Item) Entry {
	entry := Entry{
		Title:       cmp.Or(strings.TrimSpace(item.Title), untitled),
		Link:        strings.TrimSpace(item.Link),
		Content:     item.Content,
		Description: item.Description,
		Author:      p.extractAuthor(item),
		Published:   p.extractPublished(item),
	}

	entry.ThumbnailURL = p.extractThumbnail(item)

	return entry
}

func (p *Parser) extractAuthor(item *gofeed.Item) string {
	if item.Author != nil {
		if name := strings.TrimSpace(item.Author.Name); name != "" {
			return name
		}
	}

	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return strings.TrimSpace(item.Authors[0].Name)
	}

	return ""
}

func (p *Parser) extractPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed
	}
	if t := parseLooseDate(item.Published); t != nil {
		return t
	}

	if item.UpdatedParsed != nil {
		return item.UpdatedParsed
	}
	return parseLooseDate(item.Updated)
}

func parseLooseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return nil
	}
	return &t
}

// extractThumbnail applies the discovery order: media:thumbnail (widest),
// media:content image, image enclosure, first <img> in the description,
// image link.
func (p *Parser) extractThumbnail(item *gofeed.Item) string {
	media := item.Extensions["media"]

	if u := widestThumbnail(collectMedia(media, "thumbnail")); u != "" {
		return u
	}

	for _, m := range collectMedia(media, "content") {
		if m.Attrs["medium"] == "image" || strings.HasPrefix(m.Attrs["type"], imageMIMEPrefix) {
			if u := strings.TrimSpace(m.Attrs["url"]); u != "" {
				return u
			}
		}
	}

	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, imageMIMEPrefix) && enc.URL != "" {
			return enc.URL
		}
	}

	if u := firstImageSource(item.Description); u != "" {
		return u
	}

	for _, link := range item.Links {
		if isImageURL(link) {
			return link
		}
	}

	return ""
}

// collectMedia returns media:<name> elements, including those nested in media:group.
func collectMedia(media map[string][]ext.Extension, name string) []ext.Extension {
	if media == nil {
		return nil
	}

	found := append([]ext.Extension{}, media[name]...)
	for _, group := range media["group"] {
		found = append(found, group.Children[name]...)
	}
	return found
}

func widestThumbnail(thumbnails []ext.Extension) string {
	best, bestWidth := "", -1
	for _, thumb := range thumbnails {
		u := strings.TrimSpace(thumb.Attrs["url"])
		if u == "" {
			continue
		}
		width, err := strconv.Atoi(thumb.Attrs["width"])
		if err != nil {
			width = 0
		}
		if width > bestWidth {
			best, bestWidth = u, width
		}
	}
	return best
}

func firstImageSource(html string) string {
	if !strings.Contains(html, "<img") {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return ""
	}

	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".svg"}

func isImageURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	suffix := strings.ToLower(path.Ext(u.Path))
	for _, e := range imageExtensions {
		if suffix == e {
			return true
		}
	}
	return false
}
