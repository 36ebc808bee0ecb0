package api

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/rss-bindery/app/cfg"
	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/feed"
	"github.com/lysyi3m/rss-bindery/app/tasks"
)

func NewHandler(feedRepo database.FeedRepository, bookRepo database.BookRepository,
	configCache *feed.ConfigCache, previewer PreviewerInterface,
	scheduler tasks.SchedulerInterface) *Handler {
	return &Handler{
		feedRepo:    feedRepo,
		bookRepo:    bookRepo,
		configCache: configCache,
		previewer:   previewer,
		scheduler:   scheduler,
	}
}

func (h *Handler) GetHealth(c *gin.Context) {
	health := map[string]interface{}{
		"status":    "ok",
		"version":   cfg.GetVersion(),
		"timestamp": time.Now().In(time.Local).Format(time.RFC3339),
	}

	if feedCount, err := h.feedRepo.GetFeedCount(); err == nil {
		health["feeds"] = feedCount
	}
	if bookCount, err := h.bookRepo.GetBookCount(); err == nil {
		health["books"] = bookCount
	}
	if h.configCache != nil {
		health["loaded_configurations"] = h.configCache.GetConfigCount()
	}

	health["generation_enabled"] = h.scheduler != nil
	health["scheduler_running"] = h.scheduler != nil && h.scheduler.Running()

	c.JSON(http.StatusOK, health)
}

func (h *Handler) ListFeeds(c *gin.Context) {
	feeds, err := h.feedRepo.ListFeeds(c.Query("enabled") == "true")
	if err != nil {
		slog.Error("Database error", "operation", "list_feeds", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]feedResponse, 0, len(feeds))
	for i := range feeds {
		resp = append(resp, toFeedResponse(&feeds[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"feeds": resp,
		"total": len(resp),
	})
}

func (h *Handler) GetFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, toFeedResponse(f))
}

func (h *Handler) CreateFeed(c *gin.Context) {
	var req feedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	input := database.FeedInput{
		Name:        req.Name,
		URL:         req.URL,
		Category:    req.Category,
		MaxArticles: req.MaxArticles,
		Enabled:     req.Enabled == nil || *req.Enabled,
	}

	f, err := h.feedRepo.CreateFeed(input)
	if errors.Is(err, database.ErrDuplicateURL) {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed URL already exists"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "create_feed", "url", req.URL, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Feed created", "id", f.ID, "name", f.Name)
	c.JSON(http.StatusCreated, toFeedResponse(f))
}

func (h *Handler) UpdateFeed(c *gin.Context) {
	existing, ok := h.loadFeed(c)
	if !ok {
		return
	}

	var req feedUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	input := database.FeedInput{
		Name:        existing.Name,
		URL:         existing.URL,
		Category:    existing.Category,
		MaxArticles: existing.MaxArticles,
		Enabled:     existing.Enabled,
	}
	if req.Name != nil {
		input.Name = *req.Name
	}
	if req.URL != nil {
		input.URL = *req.URL
	}
	if req.Category != nil {
		input.Category = *req.Category
	}
	if req.MaxArticles != nil {
		input.MaxArticles = *req.MaxArticles
	}
	if req.Enabled != nil {
		input.Enabled = *req.Enabled
	}

	f, err := h.feedRepo.UpdateFeed(existing.ID, input)
	if errors.Is(err, database.ErrDuplicateURL) {
		c.JSON(http.StatusConflict, gin.H{"error": "Feed URL already exists"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "update_feed", "id", existing.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, toFeedResponse(f))
}

func (h *Handler) DeleteFeed(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	err := h.feedRepo.DeleteFeed(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Error("Database error", "operation", "delete_feed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	slog.Info("Feed deleted", "id", id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) GenerateAll(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}

	paths, err := h.scheduler.GenerateAll(c.Request.Context())
	if err != nil {
		slog.Error("Generation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Generation failed", "details": err.Error()})
		return
	}

	files := make([]string, 0, len(paths))
	for _, p := range paths {
		files = append(files, filepath.Base(p))
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"generated": len(files),
		"files":     files,
	})
}

func (h *Handler) GenerateFeed(c *gin.Context) {
	if !h.requireScheduler(c) {
		return
	}

	id, ok := parseID(c)
	if !ok {
		return
	}

	path, err := h.scheduler.GenerateFeedByID(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return
	}
	if err != nil {
		slog.Error("Generation failed", "feed_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Generation failed", "details": err.Error()})
		return
	}

	if path == "" {
		c.JSON(http.StatusOK, gin.H{
			"success": false,
			"message": "No articles found, no book generated",
		})
		return
	}

	resp := gin.H{
		"success":  true,
		"filename": filepath.Base(path),
	}
	if b, err := h.bookRepo.GetBookByFilename(filepath.Base(path)); err == nil {
		resp["book"] = toBookResponse(b)
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) ListBooks(c *gin.Context) {
	var filter database.BookFilter
	var err error

	if v := c.Query("feed_id"); v != "" {
		if filter.FeedID, err = strconv.ParseInt(v, 10, 64); err != nil || filter.FeedID <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid feed_id"})
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 1 || filter.Limit > maxBooksPerPage {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
	}
	if v := c.Query("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil || filter.Offset < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid offset"})
			return
		}
	}

	books, err := h.bookRepo.ListBooks(filter)
	if err != nil {
		slog.Error("Database error", "operation", "list_books", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	resp := make([]bookResponse, 0, len(books))
	for i := range books {
		resp = append(resp, toBookResponse(&books[i]))
	}

	c.JSON(http.StatusOK, gin.H{
		"books": resp,
		"count": len(resp),
	})
}

func (h *Handler) DownloadBook(c *gin.Context) {
	b, ok := h.loadBook(c)
	if !ok {
		return
	}

	path, filename := b.FilePath, b.Filename
	if c.Query("format") == "secondary" {
		if b.SecondaryPath == nil || b.SecondaryFilename == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Secondary format not available"})
			return
		}
		path, filename = *b.SecondaryPath, *b.SecondaryFilename
	}

	if _, err := os.Stat(path); err != nil {
		slog.Warn("Book file missing", "id", b.ID, "path", path, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}

	if mtype, err := mimetype.DetectFile(path); err == nil {
		c.Header("Content-Type", mtype.String())
	}
	c.FileAttachment(path, filename)
}

func (h *Handler) DeleteBook(c *gin.Context) {
	b, ok := h.loadBook(c)
	if !ok {
		return
	}

	if err := h.bookRepo.DeleteBook(b.ID); err != nil {
		slog.Error("Database error", "operation", "delete_book", "id", b.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	if c.DefaultQuery("delete_file", "true") != "false" {
		removeFile(b.FilePath)
		if b.SecondaryPath != nil {
			removeFile(*b.SecondaryPath)
		}
	}

	slog.Info("Book deleted", "id", b.ID, "filename", b.Filename)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *Handler) PreviewFeed(c *gin.Context) {
	f, ok := h.loadFeed(c)
	if !ok {
		return
	}

	maxArticles := defaultPreviewArticles
	if v := c.Query("max_articles"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPreviewArticles {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid max_articles"})
			return
		}
		maxArticles = n
	}

	articles := h.previewer.Preview(c.Request.Context(), f.URL, maxArticles)

	resp := make([]previewArticle, 0, len(articles))
	for _, a := range articles {
		resp = append(resp, previewArticle{
			Title:     a.Title,
			URL:       a.URL,
			Author:    a.Author,
			Published: a.Published,
			Summary:   a.Summary,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"feed":     toFeedResponse(f),
		"articles": resp,
		"count":    len(resp),
	})
}

func (h *Handler) ListConfigs(c *gin.Context) {
	resp := []configResponse{}
	if h.configCache != nil {
		for _, feedConfig := range h.configCache.GetConfigs() {
			resp = append(resp, h.toConfigResponse(feedConfig))
		}
	}

	c.JSON(http.StatusOK, gin.H{"configs": resp, "count": len(resp)})
}

func (h *Handler) GetConfig(c *gin.Context) {
	file := c.Param("file")
	if h.configCache == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	feedConfig, err := h.configCache.GetConfig(file)
	if err != nil {
		slog.Debug("Feed configuration not found", "file", file, "error", err)
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed configuration not found"})
		return
	}

	c.JSON(http.StatusOK, h.toConfigResponse(feedConfig))
}

func (h *Handler) toConfigResponse(feedConfig *feed.Config) configResponse {
	resp := configResponse{
		File:        feedConfig.File,
		Name:        feedConfig.Name,
		URL:         feedConfig.URL,
		Category:    feedConfig.Category,
		MaxArticles: feedConfig.MaxArticles,
		Enabled:     feedConfig.IsEnabled(),
	}

	f, err := h.feedRepo.GetFeedByURL(feedConfig.URL)
	switch {
	case err == nil:
		resp.FeedID = &f.ID
	case !errors.Is(err, database.ErrNotFound):
		slog.Error("Database error", "operation", "get_feed_by_url", "url", feedConfig.URL, "error", err)
	}
	return resp
}

func (h *Handler) requireScheduler(c *gin.Context) bool {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Book generation is disabled"})
		return false
	}
	return true
}

func (h *Handler) loadFeed(c *gin.Context) (*database.Feed, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	f, err := h.feedRepo.GetFeed(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Feed not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_feed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	return f, true
}

func (h *Handler) loadBook(c *gin.Context) (*database.GeneratedBook, bool) {
	id, ok := parseID(c)
	if !ok {
		return nil, false
	}

	b, err := h.bookRepo.GetBook(id)
	if errors.Is(err, database.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Book not found"})
		return nil, false
	}
	if err != nil {
		slog.Error("Database error", "operation", "get_book", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return nil, false
	}
	return b, true
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id parameter"})
		return 0, false
	}
	return id, true
}

func removeFile(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove book file", "path", path, "error", err)
	}
}
