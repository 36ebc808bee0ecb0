package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const feedColumns = `id, name, url, category, max_articles, enabled, created_at, updated_at`

// SQLFeedRepository handles database operations for feed configurations
type SQLFeedRepository struct {
	db *DB
}

// NewFeedRepository creates a new feed repository
func NewFeedRepository(db *DB) *SQLFeedRepository {
	return &SQLFeedRepository{db: db}
}

// ListFeeds returns feeds ordered by name
func (r *SQLFeedRepository) ListFeeds(enabledOnly bool) ([]Feed, error) {
	query := `SELECT ` + feedColumns + ` FROM feeds`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY name, id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list feeds: %w", err)
	}
	defer rows.Close()

	var feeds []Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed row: %w", err)
		}
		feeds = append(feeds, *feed)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed rows: %w", err)
	}

	return feeds, nil
}

// GetFeed retrieves a feed by its ID
func (r *SQLFeedRepository) GetFeed(id int64) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by ID: %w", err)
	}
	return feed, nil
}

// GetFeedByURL retrieves a feed by its source URL
func (r *SQLFeedRepository) GetFeedByURL(url string) (*Feed, error) {
	row := r.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
	feed, err := scanFeed(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get feed by URL: %w", err)
	}
	return feed, nil
}

// CreateFeed inserts a new feed, rejecting duplicate URLs
func (r *SQLFeedRepository) CreateFeed(input FeedInput) (*Feed, error) {
	input = withDefaults(input)

	res, err := r.db.Exec(`
		INSERT INTO feeds (name, url, category, max_articles, enabled)
		VALUES (?, ?, ?, ?, ?)
	`, input.Name, input.URL, nullString(input.Category), input.MaxArticles, input.Enabled)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateURL
		}
		return nil, fmt.Errorf("failed to create feed: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read feed ID: %w", err)
	}

	return r.GetFeed(id)
}

// UpdateFeed overwrites the editable columns of a feed
func (r *SQLFeedRepository) UpdateFeed(id int64, input FeedInput) (*Feed, error) {
	input = withDefaults(input)

	res, err := r.db.Exec(`
		UPDATE feeds
		SET name = ?, url = ?, category = ?, max_articles = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`, input.Name, input.URL, nullString(input.Category), input.MaxArticles, input.Enabled, time.Now().UTC(), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateURL
		}
		return nil, fmt.Errorf("failed to update feed: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return r.GetFeed(id)
}

// UpsertFeedByURL inserts or updates a feed keyed by URL and reports whether it was created
func (r *SQLFeedRepository) UpsertFeedByURL(input FeedInput) (*Feed, bool, error) {
	existing, err := r.GetFeedByURL(input.URL)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check existing feed: %w", err)
	}

	if existing == nil {
		feed, err := r.CreateFeed(input)
		if err != nil {
			return nil, false, err
		}
		return feed, true, nil
	}

	feed, err := r.UpdateFeed(existing.ID, input)
	if err != nil {
		return nil, false, err
	}
	return feed, false, nil
}

// DeleteFeed removes a feed; generated books are kept
func (r *SQLFeedRepository) DeleteFeed(id int64) error {
	res, err := r.db.Exec(`DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete feed: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFeedCount returns the total number of feeds
func (r *SQLFeedRepository) GetFeedCount() (int, error) {
	var count int
	err := r.db.QueryRow("SELECT COUNT(*) FROM feeds").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get feed count: %w", err)
	}
	return count, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFeed(s scanner) (*Feed, error) {
	var feed Feed
	var category sql.NullString
	var updatedAt sql.NullTime

	err := s.Scan(&feed.ID, &feed.Name, &feed.URL, &category, &feed.MaxArticles,
		&feed.Enabled, &feed.CreatedAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	feed.Category = category.String
	if updatedAt.Valid {
		feed.UpdatedAt = &updatedAt.Time
	}

	return &feed, nil
}

func withDefaults(input FeedInput) FeedInput {
	if input.MaxArticles <= 0 {
		input.MaxArticles = DefaultMaxArticles
	}
	input.Category = strings.TrimSpace(input.Category)
	return input
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
