package database

type FeedRepository interface {
	ListFeeds(enabledOnly bool) ([]Feed, error)
	GetFeed(id int64) (*Feed, error)
	GetFeedByURL(url string) (*Feed, error)
	CreateFeed(input FeedInput) (*Feed, error)
	UpdateFeed(id int64, input FeedInput) (*Feed, error)
	UpsertFeedByURL(input FeedInput) (*Feed, bool, error)
	DeleteFeed(id int64) error
	GetFeedCount() (int, error)
}

type BookRepository interface {
	ReplaceBook(book *GeneratedBook) error
	ListBooks(filter BookFilter) ([]GeneratedBook, error)
	GetBook(id int64) (*GeneratedBook, error)
	GetBookByFilename(filename string) (*GeneratedBook, error)
	DeleteBook(id int64) error
	GetBookCount() (int, error)
}

var (
	_ FeedRepository = (*SQLFeedRepository)(nil)
	_ BookRepository = (*SQLBookRepository)(nil)
)
