package external

import (
	"context"
	"errors"
	"regexp"
	"strconv"
)

const DefaultCalibredbCommand = "calibredb"

var ErrNoBookID = errors.New("no book id in calibredb output")

var addedIDs = regexp.MustCompile(`Added book ids?:\s*(\d+)`)

// Calibredb registers books in a calibre library.
type Calibredb struct {
	command     string
	libraryPath string
}

func NewCalibredb(command, libraryPath string) *Calibredb {
	if command == "" {
		command = DefaultCalibredbCommand
	}
	return &Calibredb{command: command, libraryPath: libraryPath}
}

// Register adds the file to the library, tagged with category when set, and
// returns the catalog id.
func (c *Calibredb) Register(ctx context.Context, path, category string) (int64, error) {
	args := []string{"add", "--library-path", c.libraryPath}
	if category != "" {
		args = append(args, "--tags", category)
	}
	args = append(args, path)

	output, err := run(ctx, c.command, args...)
	if err != nil {
		return 0, err
	}

	return parseBookID(output)
}

func parseBookID(output string) (int64, error) {
	m := addedIDs.FindStringSubmatch(output)
	if m == nil {
		return 0, ErrNoBookID
	}
	return strconv.ParseInt(m[1], 10, 64)
}
