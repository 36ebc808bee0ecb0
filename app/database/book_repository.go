package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	dateLayout = "2006-01-02"

	DefaultBookLimit = 50
	MaxBookLimit     = 100
)

const bookColumns = `id, feed_id, title, filename, file_path, COALESCE(file_size, 0), article_count,
	generation_date, secondary_filename, secondary_path, secondary_size, catalog_book_id, created_at`

// SQLBookRepository handles the registry of generated books
type SQLBookRepository struct {
	db *DB
}

// NewBookRepository creates a new book repository
func NewBookRepository(db *DB) *SQLBookRepository {
	return &SQLBookRepository{db: db}
}

// ReplaceBook deletes any row with the same filename and inserts book in one transaction.
// Filenames are date-keyed, so a same-day rerun replaces the earlier row.
func (r *SQLBookRepository) ReplaceBook(book *GeneratedBook) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM generated_books WHERE filename = ?`, book.Filename); err != nil {
		return fmt.Errorf("failed to delete previous book: %w", err)
	}

	res, err := tx.Exec(`
		INSERT INTO generated_books (
			feed_id, title, filename, file_path, file_size, article_count, generation_date,
			secondary_filename, secondary_path, secondary_size, catalog_book_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, book.FeedID, book.Title, book.Filename, book.FilePath, book.FileSize, book.ArticleCount,
		book.GenerationDate.Format(dateLayout),
		book.SecondaryFilename, book.SecondaryPath, book.SecondarySize, book.CatalogBookID)
	if err != nil {
		return fmt.Errorf("failed to insert book: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read book ID: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit book: %w", err)
	}

	book.ID = id
	return nil
}

// ListBooks returns books newest generation date first
func (r *SQLBookRepository) ListBooks(filter BookFilter) ([]GeneratedBook, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultBookLimit
	}
	if limit > MaxBookLimit {
		limit = MaxBookLimit
	}
	offset := max(filter.Offset, 0)

	query := `SELECT ` + bookColumns + ` FROM generated_books`
	args := []any{}
	if filter.FeedID != 0 {
		query += ` WHERE feed_id = ?`
		args = append(args, filter.FeedID)
	}
	query += ` ORDER BY generation_date DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	defer rows.Close()

	var books []GeneratedBook
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, *book)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating book rows: %w", err)
	}

	return books, nil
}

// GetBook retrieves a book by ID
func (r *SQLBookRepository) GetBook(id int64) (*GeneratedBook, error) {
	book, err := scanBook(r.db.QueryRow(`SELECT `+bookColumns+` FROM generated_books WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return book, nil
}

// GetBookByFilename retrieves a book by its primary filename
func (r *SQLBookRepository) GetBookByFilename(filename string) (*GeneratedBook, error) {
	book, err := scanBook(r.db.QueryRow(`SELECT `+bookColumns+` FROM generated_books WHERE filename = ?`, filename))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get book by filename: %w", err)
	}
	return book, nil
}

// DeleteBook removes a registry row; files on disk are the caller's concern
func (r *SQLBookRepository) DeleteBook(id int64) error {
	res, err := r.db.Exec(`DELETE FROM generated_books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete book: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBookCount returns the number of registry rows
func (r *SQLBookRepository) GetBookCount() (int, error) {
	var count int
	if err := r.db.QueryRow("SELECT COUNT(*) FROM generated_books").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get book count: %w", err)
	}
	return count, nil
}

func scanBook(s scanner) (*GeneratedBook, error) {
	var book GeneratedBook
	var generationDate string
	var secondaryFilename, secondaryPath sql.NullString
	var secondarySize, catalogID sql.NullInt64

	err := s.Scan(&book.ID, &book.FeedID, &book.Title, &book.Filename, &book.FilePath, &book.FileSize,
		&book.ArticleCount, &generationDate, &secondaryFilename, &secondaryPath, &secondarySize,
		&catalogID, &book.CreatedAt)
	if err != nil {
		return nil, err
	}

	date, err := time.Parse(dateLayout, generationDate)
	if err != nil {
		return nil, fmt.Errorf("invalid generation date %q: %w", generationDate, err)
	}
	book.GenerationDate = date

	if secondaryFilename.Valid {
		book.SecondaryFilename = &secondaryFilename.String
	}
	if secondaryPath.Valid {
		book.SecondaryPath = &secondaryPath.String
	}
	if secondarySize.Valid {
		book.SecondarySize = &secondarySize.Int64
	}
	if catalogID.Valid {
		book.CatalogBookID = &catalogID.Int64
	}

	return &book, nil
}
