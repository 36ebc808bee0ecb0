package feed

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
)

const (
	DefaultMaxImageBytes = 5 * 1024 * 1024
	DefaultImageMaxWidth = 800
	DefaultImageQuality  = 75
	DefaultImageTimeout  = 15 * time.Second

	// ImageDir is the path prefix of rewritten image sources inside article content.
	ImageDir = "images/"
)

var (
	ErrImageTooLarge = errors.New("image exceeds size limit")
	ErrNotAnImage    = errors.New("response is not an image")
)

// ImageExtension guesses a file extension from the URL path, defaulting to .jpg.
func ImageExtension(absURL string) string {
	p := absURL
	if u, err := url.Parse(absURL); err == nil {
		p = u.Path
	}

	switch strings.ToLower(path.Ext(p)) {
	case ".png":
		return ".png"
	case ".gif":
		return ".gif"
	case ".webp":
		return ".webp"
	case ".svg":
		return ".svg"
	default:
		return ".jpg"
	}
}

// ImageFilename returns the local filename for an absolute image URL. Equal URLs
// always map to the same name, which is what lets repeated references share one file.
func ImageFilename(absURL, extension string) string {
	sum := md5.Sum([]byte(absURL))
	return "img_" + hex.EncodeToString(sum[:])[:12] + extension
}

type ImageOptions struct {
	UserAgent string
	Timeout   time.Duration
	MaxBytes  int64
	MaxWidth  int
	Quality   int
}

type ImageProcessor struct {
	httpClient *http.Client
	opts       ImageOptions
}

func NewImageProcessor(httpClient *http.Client, opts ImageOptions) *ImageProcessor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImageTimeout
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxImageBytes
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = DefaultImageMaxWidth
	}
	if opts.Quality <= 0 || opts.Quality > 100 {
		opts.Quality = DefaultImageQuality
	}

	return &ImageProcessor{httpClient: httpClient, opts: opts}
}

// Rewrite downloads every <img> in content, stores the recompressed bytes in images
// and points each successfully downloaded tag at its local copy. Images that fail
// keep their original src. Content is returned untouched when nothing changed.
func (p *ImageProcessor) Rewrite(ctx context.Context, content, baseURL string, images map[string][]byte) string {
	if !strings.Contains(content, "<img") {
		return content
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		slog.Debug("Failed to parse content for images", "url", baseURL, "error", err)
		return content
	}

	base, _ := url.Parse(baseURL)
	failed := make(map[string]bool)
	changed := false

	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		src := imageSource(s)
		if src == "" || strings.HasPrefix(src, "data:") || strings.HasPrefix(src, ImageDir) {
			return
		}

		absURL := resolveURL(base, src)
		if absURL == "" || failed[absURL] {
			return
		}

		filename, err := p.Store(ctx, absURL, images)
		if err != nil {
			slog.Debug("Failed to download image", "url", absURL, "error", err)
			failed[absURL] = true
			return
		}

		s.SetAttr("src", ImageDir+filename)
		s.RemoveAttr("srcset")
		s.RemoveAttr("data-src")
		changed = true
	})

	if !changed {
		return content
	}

	rewritten, err := doc.Find("body").Html()
	if err != nil {
		slog.Debug("Failed to render rewritten content", "url", baseURL, "error", err)
		return content
	}

	return rewritten
}

// Store puts the image at absURL into images, reusing an earlier download of the
// same URL, and returns its filename. Recompressed images are named .jpg; bytes
// kept as downloaded keep the extension of the URL.
func (p *ImageProcessor) Store(ctx context.Context, absURL string, images map[string][]byte) (string, error) {
	if filename, ok := StoredImage(absURL, images); ok {
		return filename, nil
	}

	data, err := p.Download(ctx, absURL)
	if err != nil {
		return "", err
	}

	extension := ImageExtension(absURL)
	if mimetype.Detect(data).Is("image/jpeg") {
		extension = ".jpg"
	}
	filename := ImageFilename(absURL, extension)
	images[filename] = data
	return filename, nil
}

// StoredImage reports the filename under which absURL is already in images.
func StoredImage(absURL string, images map[string][]byte) (string, bool) {
	for _, extension := range []string{".jpg", ImageExtension(absURL)} {
		filename := ImageFilename(absURL, extension)
		if _, ok := images[filename]; ok {
			return filename, true
		}
	}
	return "", false
}

// Download fetches one image under the per-image timeout and recompresses it.
func (p *ImageProcessor) Download(ctx context.Context, imageURL string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if p.opts.UserAgent != "" {
		req.Header.Set("User-Agent", p.opts.UserAgent)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d %s", resp.StatusCode, resp.Status)
	}

	if resp.ContentLength > p.opts.MaxBytes {
		return nil, ErrImageTooLarge
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.opts.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if int64(len(data)) > p.opts.MaxBytes {
		return nil, ErrImageTooLarge
	}

	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "image") && !strings.HasPrefix(mimetype.Detect(data).String(), "image/") {
		return nil, ErrNotAnImage
	}

	return p.Compress(data), nil
}

// Compress flattens the image onto white, scales it down to the maximum width and
// re-encodes it as JPEG. Formats the decoder does not know are returned as is.
func (p *ImageProcessor) Compress(data []byte) []byte {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Debug("Keeping original image bytes", "size", len(data), "error", err)
		return data
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Over)

	var out image.Image = canvas
	if bounds.Dx() > p.opts.MaxWidth {
		out = resize.Resize(uint(p.opts.MaxWidth), 0, canvas, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: p.opts.Quality}); err != nil {
		slog.Debug("Failed to encode image", "error", err)
		return data
	}

	slog.Debug("Compressed image", "original", len(data), "compressed", buf.Len())
	return buf.Bytes()
}

func imageSource(s *goquery.Selection) string {
	src := strings.TrimSpace(s.AttrOr("src", ""))
	if src == "" || strings.HasPrefix(src, "data:") {
		if lazy := strings.TrimSpace(s.AttrOr("data-src", "")); lazy != "" {
			return lazy
		}
	}
	return src
}

func resolveURL(base *url.URL, ref string) string {
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !u.IsAbs() {
		return ""
	}
	return u.String()
}
