package tasks

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/lysyi3m/rss-bindery/app/book"
	"github.com/lysyi3m/rss-bindery/app/database"
	"github.com/lysyi3m/rss-bindery/app/feed"
)

type fakeFetcher struct {
	articles map[string][]feed.Article
	delay    time.Duration
	panics   bool
	// onFetch runs before articles are returned; a fetch whose context is
	// done by then returns only the first article.
	onFetch func()

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
	lastMax   atomic.Int32
}

func (f *fakeFetcher) FetchFeed(ctx context.Context, url string, maxArticles int) []feed.Article {
	f.calls.Add(1)
	f.lastMax.Store(int32(maxArticles))
	if f.panics {
		panic("fetch exploded")
	}

	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.onFetch != nil {
		f.onFetch()
	}
	articles := f.articles[url]
	if ctx.Err() != nil && len(articles) > 1 {
		return articles[:1]
	}
	return articles
}

type failingGenerator struct{}

func (failingGenerator) Generate([]feed.Article, book.Options) (string, error) {
	return "", errors.New("disk full")
}

type fakeConverter struct {
	err error
}

func (c *fakeConverter) Convert(ctx context.Context, inputPath string) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	out := strings.TrimSuffix(inputPath, ".epub") + ".mobi"
	if err := os.WriteFile(out, []byte("mobi-bytes"), 0644); err != nil {
		return "", err
	}
	return out, nil
}

type fakeRegistrar struct {
	category string
}

func (r *fakeRegistrar) Register(ctx context.Context, path, category string) (int64, error) {
	r.category = category
	return 99, nil
}

func setupTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

func sampleArticles(n int) []feed.Article {
	articles := make([]feed.Article, 0, n)
	for i := 1; i <= n; i++ {
		articles = append(articles, feed.Article{
			Title:   "Bài viết " + string(rune('0'+i)),
			URL:     "https://example.com/" + string(rune('0'+i)),
			Content: "<p>Nội dung</p>",
		})
	}
	return articles
}

type fixture struct {
	scheduler *Scheduler
	feedRepo  *database.SQLFeedRepository
	bookRepo  *database.SQLBookRepository
	fetcher   *fakeFetcher
	outputDir string
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	db := setupTestDB(t)
	outputDir := t.TempDir()

	f := &fixture{
		feedRepo:  database.NewFeedRepository(db),
		bookRepo:  database.NewBookRepository(db),
		fetcher:   &fakeFetcher{articles: make(map[string][]feed.Article)},
		outputDir: outputDir,
	}
	f.scheduler = NewScheduler(f.feedRepo, f.bookRepo, f.fetcher, book.NewGenerator(outputDir), opts)
	return f
}

func (f *fixture) createFeed(t *testing.T, name, url string, enabled bool) *database.Feed {
	t.Helper()
	created, err := f.feedRepo.CreateFeed(database.FeedInput{Name: name, URL: url, Category: "news", Enabled: enabled})
	if err != nil {
		t.Fatalf("Failed to create feed: %v", err)
	}
	return created
}

func TestGenerateFeedNoArticles(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createFeed(t, "Empty", "https://example.com/empty.rss", true)

	path, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path != "" {
		t.Errorf("Expected empty path, got %s", path)
	}

	count, err := f.bookRepo.GetBookCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("Expected no registry rows, got %d", count)
	}
}

func TestGenerateFeedThreeArticles(t *testing.T) {
	f := newFixture(t, Options{Language: "vi"})
	created := f.createFeed(t, "VnExpress", "https://example.com/vne.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(3)

	path, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path == "" {
		t.Fatal("Expected a generated book")
	}

	r, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("Failed to open book: %v", err)
	}
	defer r.Close()

	chapters := 0
	for _, file := range r.File {
		if strings.HasPrefix(file.Name, "OEBPS/chapter_") {
			chapters++
		}
	}
	if chapters != 3 {
		t.Errorf("Expected 3 chapters, got %d", chapters)
	}

	books, err := f.bookRepo.ListBooks(database.BookFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 {
		t.Fatalf("Expected 1 registry row, got %d", len(books))
	}

	got := books[0]
	wantTitle := "VnExpress - " + time.Now().Format("02/01/2006")
	if got.Title != wantTitle {
		t.Errorf("Expected title %q, got %q", wantTitle, got.Title)
	}
	if got.ArticleCount != 3 {
		t.Errorf("Expected article count 3, got %d", got.ArticleCount)
	}
	if got.Filename != filepath.Base(path) || got.FilePath != path {
		t.Errorf("Unexpected file fields: %s %s", got.Filename, got.FilePath)
	}

	info, _ := os.Stat(path)
	if got.FileSize != info.Size() {
		t.Errorf("Expected file size %d, got %d", info.Size(), got.FileSize)
	}
	if got.SecondaryPath != nil || got.CatalogBookID != nil {
		t.Error("Expected optional fields to be unset without converter or registrar")
	}
	if f.fetcher.lastMax.Load() != database.DefaultMaxArticles {
		t.Errorf("Expected feed max articles to be used, got %d", f.fetcher.lastMax.Load())
	}
}

func TestGenerateFeedDefaultMaxArticles(t *testing.T) {
	f := newFixture(t, Options{})
	f.scheduler.GenerateFeed(context.Background(), &database.Feed{ID: 1, Name: "x", URL: "https://example.com/x"})

	if f.fetcher.lastMax.Load() != DefaultMaxArticles {
		t.Errorf("Expected default cap %d, got %d", DefaultMaxArticles, f.fetcher.lastMax.Load())
	}
}

func TestGenerateFeedConversionFailure(t *testing.T) {
	registrar := &fakeRegistrar{}
	f := newFixture(t, Options{
		Converter: &fakeConverter{err: errors.New("ebook-convert crashed")},
		Registrar: registrar,
	})
	created := f.createFeed(t, "Tuổi Trẻ", "https://example.com/tt.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(2)

	path, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatalf("Expected conversion failure to be non-fatal, got %v", err)
	}

	got, err := f.bookRepo.GetBookByFilename(filepath.Base(path))
	if err != nil {
		t.Fatal(err)
	}
	if got.SecondaryFilename != nil || got.SecondaryPath != nil || got.SecondarySize != nil {
		t.Error("Expected secondary fields to stay unset")
	}
	if got.CatalogBookID == nil || *got.CatalogBookID != 99 {
		t.Errorf("Expected catalog id 99, got %v", got.CatalogBookID)
	}
	if registrar.category != "news" {
		t.Errorf("Expected category tag 'news', got %q", registrar.category)
	}
}

func TestGenerateFeedConversionSuccess(t *testing.T) {
	f := newFixture(t, Options{Converter: &fakeConverter{}})
	created := f.createFeed(t, "Daily", "https://example.com/daily.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(1)

	path, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatal(err)
	}

	got, err := f.bookRepo.GetBookByFilename(filepath.Base(path))
	if err != nil {
		t.Fatal(err)
	}
	wantPath := strings.TrimSuffix(path, ".epub") + ".mobi"
	if got.SecondaryPath == nil || *got.SecondaryPath != wantPath {
		t.Fatalf("Expected secondary path %s, got %v", wantPath, got.SecondaryPath)
	}
	if *got.SecondaryFilename != filepath.Base(wantPath) || *got.SecondarySize != int64(len("mobi-bytes")) {
		t.Errorf("Unexpected secondary fields: %s %d", *got.SecondaryFilename, *got.SecondarySize)
	}
}

func TestGenerateFeedSameDayReplaces(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createFeed(t, "Daily", "https://example.com/daily.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(1)

	first, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatal(err)
	}

	f.fetcher.articles[created.URL] = sampleArticles(2)
	second, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatal(err)
	}

	if first != second {
		t.Errorf("Expected same path, got %s and %s", first, second)
	}

	books, err := f.bookRepo.ListBooks(database.BookFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 {
		t.Fatalf("Expected 1 row after same-day rerun, got %d", len(books))
	}
	if books[0].ArticleCount != 2 {
		t.Errorf("Expected replaced row with 2 articles, got %d", books[0].ArticleCount)
	}
}

func TestGenerateFeedCompletesAfterCallerCancels(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createFeed(t, "Daily", "https://example.com/daily.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(3)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fetcher.onFetch = cancel

	path, err := f.scheduler.GenerateFeed(ctx, created)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if path == "" {
		t.Fatal("Expected a generated book")
	}

	books, err := f.bookRepo.ListBooks(database.BookFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].ArticleCount != 3 {
		t.Fatalf("Expected one complete book with 3 articles, got %+v", books)
	}
}

func TestGenerateFeedTaskInterruptedKeepsExistingBook(t *testing.T) {
	f := newFixture(t, Options{})
	created := f.createFeed(t, "Daily", "https://example.com/daily.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(3)

	good, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatal(err)
	}
	before, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.fetcher.onFetch = cancel

	task := &GenerateFeedTask{
		Task:      NewTask(TaskTypeGenerateFeed, created.Name),
		Feed:      created,
		fetcher:   f.fetcher,
		generator: book.NewGenerator(f.outputDir),
		bookRepo:  f.bookRepo,
		now:       time.Now,
	}
	if err := task.Execute(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if task.Path != "" {
		t.Errorf("Expected no path from interrupted run, got %s", task.Path)
	}

	books, err := f.bookRepo.ListBooks(database.BookFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 || books[0].ArticleCount != 3 {
		t.Errorf("Expected the complete book to remain recorded, got %+v", books)
	}

	after, err := os.ReadFile(good)
	if err != nil {
		t.Fatal(err)
	}
	if string(after) != string(before) {
		t.Error("Expected the existing book file to be untouched")
	}
}

func TestGenerateFeedSingleRunDate(t *testing.T) {
	f := newFixture(t, Options{})
	runDate := time.Date(2024, 4, 30, 23, 59, 59, 0, time.Local)
	f.scheduler.now = func() time.Time { return runDate }
	created := f.createFeed(t, "Daily", "https://example.com/daily.rss", true)
	f.fetcher.articles[created.URL] = sampleArticles(1)

	path, err := f.scheduler.GenerateFeed(context.Background(), created)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "Daily_30042024_20240430.epub" {
		t.Errorf("Expected filename dated by the run, got %s", filepath.Base(path))
	}

	books, err := f.bookRepo.ListBooks(database.BookFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(books) != 1 {
		t.Fatalf("Expected 1 row, got %d", len(books))
	}
	if got := books[0].GenerationDate.Format(time.DateOnly); got != "2024-04-30" {
		t.Errorf("Expected generation date 2024-04-30, got %s", got)
	}
	if books[0].Title != "Daily - 30/04/2024" {
		t.Errorf("Unexpected title %s", books[0].Title)
	}
}

func TestGenerateAll(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.createFeed(t, "Alpha", "https://example.com/a.rss", true)
	f.createFeed(t, "Beta", "https://example.com/b.rss", true)
	c := f.createFeed(t, "Gamma", "https://example.com/c.rss", false)
	f.fetcher.articles[a.URL] = sampleArticles(1)
	f.fetcher.articles[c.URL] = sampleArticles(1)

	paths, err := f.scheduler.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	want := []string{filepath.Join(f.outputDir, "Alpha_"+time.Now().Format("02012006")+"_"+time.Now().Format("20060102")+".epub")}
	if diff := cmp.Diff(want, paths); diff != "" {
		t.Errorf("Unexpected paths (-want +got):\n%s", diff)
	}
	if f.fetcher.calls.Load() != 2 {
		t.Errorf("Expected 2 enabled feeds fetched, got %d", f.fetcher.calls.Load())
	}
}

func TestGenerateAllContinuesAfterFailure(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.createFeed(t, "Alpha", "https://example.com/a.rss", true)
	b := f.createFeed(t, "Beta", "https://example.com/b.rss", true)
	f.fetcher.articles[a.URL] = sampleArticles(1)
	f.fetcher.articles[b.URL] = sampleArticles(1)
	f.scheduler.generator = failingGenerator{}

	paths, err := f.scheduler.GenerateAll(context.Background())
	if err != nil {
		t.Fatalf("Expected per-feed failures to be swallowed, got %v", err)
	}
	if len(paths) != 0 {
		t.Errorf("Expected no paths, got %v", paths)
	}
	if f.fetcher.calls.Load() != 2 {
		t.Errorf("Expected both feeds attempted, got %d", f.fetcher.calls.Load())
	}
}

func TestGenerateFeedByIDNotFound(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.scheduler.GenerateFeedByID(context.Background(), 404)
	if !errors.Is(err, database.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestGenerateFeedRecoversPanic(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.panics = true

	_, err := f.scheduler.GenerateFeed(context.Background(), &database.Feed{ID: 1, Name: "boom", URL: "https://example.com/boom"})
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Errorf("Expected panic to be converted to an error, got %v", err)
	}

	f.scheduler.runScheduled(context.Background())
}

func TestGenerateFeedSerializesSameFeed(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.delay = 50 * time.Millisecond
	target := &database.Feed{ID: 7, Name: "locked", URL: "https://example.com/locked"}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.scheduler.GenerateFeed(context.Background(), target)
		}()
	}
	wg.Wait()

	if f.fetcher.maxActive.Load() != 1 {
		t.Errorf("Expected runs for one feed to be serialized, max concurrent %d", f.fetcher.maxActive.Load())
	}
	if f.fetcher.calls.Load() != 3 {
		t.Errorf("Expected 3 runs, got %d", f.fetcher.calls.Load())
	}
}

func TestGenerateFeedLockHonoursContext(t *testing.T) {
	f := newFixture(t, Options{})
	target := &database.Feed{ID: 8, Name: "busy", URL: "https://example.com/busy"}

	lock := f.scheduler.lockFor(target.ID)
	lock.Acquire(context.Background(), 1)
	defer lock.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := f.scheduler.GenerateFeed(ctx, target); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded while waiting for lock, got %v", err)
	}
}

func TestSchedulerStartStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := NewScheduler(nil, nil, &fakeFetcher{}, failingGenerator{}, Options{})

	if s.Running() {
		t.Error("Expected new scheduler to be stopped")
	}
	if err := s.Start(25, 0); err == nil {
		t.Error("Expected invalid hour to be rejected")
	}
	if err := s.Start(DefaultScheduleHour, DefaultScheduleMinute); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !s.Running() {
		t.Error("Expected scheduler to be running")
	}
	if err := s.Start(DefaultScheduleHour, DefaultScheduleMinute); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}

	s.Stop()
	if s.Running() {
		t.Error("Expected scheduler to be stopped")
	}
	s.Stop()

	if err := s.Start(0, 30); err != nil {
		t.Fatalf("Expected restart to succeed, got %v", err)
	}
	s.Stop()
}

func TestNextRun(t *testing.T) {
	loc := time.FixedZone("ICT", 7*60*60)
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"later today", time.Date(2024, 5, 1, 5, 0, 0, 0, loc), time.Date(2024, 5, 1, 6, 0, 0, 0, loc)},
		{"exactly now", time.Date(2024, 5, 1, 6, 0, 0, 0, loc), time.Date(2024, 5, 2, 6, 0, 0, 0, loc)},
		{"after today", time.Date(2024, 5, 1, 23, 59, 0, 0, loc), time.Date(2024, 5, 2, 6, 0, 0, 0, loc)},
		{"month end", time.Date(2024, 4, 30, 7, 0, 0, 0, loc), time.Date(2024, 5, 1, 6, 0, 0, 0, loc)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nextRun(tt.now, 6, 0); !got.Equal(tt.want) {
				t.Errorf("nextRun(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

func TestSyncFeedConfigs(t *testing.T) {
	db := setupTestDB(t)
	feedRepo := database.NewFeedRepository(db)

	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.yml"), []byte("name: A\nurl: https://example.com/a.rss\ncategory: tech\nmax_articles: 10\n"), 0644)
	os.WriteFile(filepath.Join(dir, "b.yml"), []byte("url: https://example.com/b.rss\nenabled: false\n"), 0644)

	configCache := feed.NewConfigCache(dir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if synced := SyncFeedConfigs(context.Background(), configCache, feedRepo); synced != 2 {
		t.Fatalf("Expected 2 synced feeds, got %d", synced)
	}
	if synced := SyncFeedConfigs(context.Background(), configCache, feedRepo); synced != 2 {
		t.Fatalf("Expected resync to succeed, got %d", synced)
	}

	feeds, err := feedRepo.ListFeeds(false)
	if err != nil {
		t.Fatal(err)
	}
	if len(feeds) != 2 {
		t.Fatalf("Expected 2 feeds after two syncs, got %d", len(feeds))
	}

	a, err := feedRepo.GetFeedByURL("https://example.com/a.rss")
	if err != nil {
		t.Fatal(err)
	}
	if a.Name != "A" || a.Category != "tech" || a.MaxArticles != 10 || !a.Enabled {
		t.Errorf("Unexpected feed A: %+v", a)
	}

	b, err := feedRepo.GetFeedByURL("https://example.com/b.rss")
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "b" || b.Enabled {
		t.Errorf("Unexpected feed B: %+v", b)
	}
}
