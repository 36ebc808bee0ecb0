package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/lysyi3m/rss-bindery/app/database"
)

const (
	DefaultScheduleHour   = 6
	DefaultScheduleMinute = 0
)

var ErrAlreadyRunning = errors.New("scheduler is already running")

type Options struct {
	Language  string
	Converter Converter        // nil disables conversion
	Registrar CatalogRegistrar // nil disables catalog registration
}

type Scheduler struct {
	feedRepo  database.FeedRepository
	bookRepo  database.BookRepository
	fetcher   Fetcher
	generator BookGenerator
	converter Converter
	registrar CatalogRegistrar
	language  string
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[int64]*semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(feedRepo database.FeedRepository, bookRepo database.BookRepository,
	fetcher Fetcher, generator BookGenerator, opts Options) *Scheduler {
	return &Scheduler{
		feedRepo:  feedRepo,
		bookRepo:  bookRepo,
		fetcher:   fetcher,
		generator: generator,
		converter: opts.Converter,
		registrar: opts.Registrar,
		language:  opts.Language,
		now:       time.Now,
		locks:     make(map[int64]*semaphore.Weighted),
	}
}

// Start arms the daily run at hour:minute local time.
func (s *Scheduler) Start(hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid schedule time %02d:%02d", hour, minute)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, hour, minute, s.done)

	slog.Info("Scheduler started", "time", fmt.Sprintf("%02d:%02d", hour, minute), "next_run", nextRun(s.now(), hour, minute))
	return nil
}

// Stop cancels future runs and waits for the timer loop to exit. A run already
// in progress is allowed to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	slog.Info("Scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, hour, minute int, done chan struct{}) {
	defer close(done)

	for {
		now := s.now()
		timer := time.NewTimer(nextRun(now, hour, minute).Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runScheduled(context.WithoutCancel(ctx))
		}
	}
}

func (s *Scheduler) runScheduled(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Scheduled generation panicked", "panic", r)
		}
	}()

	slog.Info("Starting daily book generation")

	paths, err := s.GenerateAll(ctx)
	if err != nil {
		slog.Error("Scheduled generation failed", "error", err)
		return
	}

	slog.Info("Daily generation complete", "books", len(paths))
}

// nextRun returns the first hour:minute strictly after now, in now's location.
func nextRun(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, hour, minute, 0, 0, now.Location())
	}
	return next
}

// GenerateAll builds a book for every enabled feed in turn. A failing feed is
// logged and skipped; only a failure to list feeds is returned.
func (s *Scheduler) GenerateAll(ctx context.Context) ([]string, error) {
	feeds, err := s.feedRepo.ListFeeds(true)
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled feeds: %w", err)
	}

	paths := make([]string, 0, len(feeds))
	if len(feeds) == 0 {
		slog.Info("No enabled feeds found")
		return paths, nil
	}

	for i := range feeds {
		if ctx.Err() != nil {
			slog.Warn("Generation cancelled", "remaining", len(feeds)-i)
			break
		}

		path, err := s.GenerateFeed(ctx, &feeds[i])
		if err != nil {
			slog.Error("Error generating book for feed", "feed", feeds[i].Name, "error", err)
			continue
		}
		if path != "" {
			paths = append(paths, path)
		}
	}

	return paths, nil
}

func (s *Scheduler) GenerateFeedByID(ctx context.Context, feedID int64) (string, error) {
	f, err := s.feedRepo.GetFeed(feedID)
	if err != nil {
		return "", fmt.Errorf("failed to get feed %d: %w", feedID, err)
	}

	return s.GenerateFeed(ctx, f)
}

// GenerateFeed runs the pipeline for one feed. Runs for the same feed are
// serialized; an empty path means the feed yielded no articles.
func (s *Scheduler) GenerateFeed(ctx context.Context, f *database.Feed) (string, error) {
	lock := s.lockFor(f.ID)
	if err := lock.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("failed to acquire lock for feed %d: %w", f.ID, err)
	}
	defer lock.Release(1)

	// A started run completes even when the caller goes away.
	runCtx := context.WithoutCancel(ctx)

	task := &GenerateFeedTask{
		Task:      NewTask(TaskTypeGenerateFeed, f.Name),
		Feed:      f,
		fetcher:   s.fetcher,
		generator: s.generator,
		converter: s.converter,
		registrar: s.registrar,
		bookRepo:  s.bookRepo,
		language:  s.language,
		now:       s.now,
	}

	if err := s.executeTask(runCtx, task); err != nil {
		return "", err
	}

	return task.Path, nil
}

func (s *Scheduler) executeTask(ctx context.Context, task TaskInterface) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
		if err != nil {
			slog.Error("Task execution failed", "type", string(task.GetType()), "id", task.GetID(), "feed", task.GetFeedName(), "error", err)
		}
	}()

	task.Start()
	slog.Debug("Task started", "type", string(task.GetType()), "id", task.GetID(), "feed", task.GetFeedName())

	return task.Execute(ctx)
}

func (s *Scheduler) lockFor(feedID int64) *semaphore.Weighted {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[feedID]
	if !ok {
		lock = semaphore.NewWeighted(1)
		s.locks[feedID] = lock
	}
	return lock
}
