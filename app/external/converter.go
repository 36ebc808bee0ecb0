package external

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultConvertCommand = "ebook-convert"
	DefaultConvertFormat  = "mobi"
)

// EbookConvert produces a secondary format next to the source book using
// calibre's ebook-convert.
type EbookConvert struct {
	command string
	format  string
}

func NewEbookConvert(command, format string) *EbookConvert {
	if command == "" {
		command = DefaultConvertCommand
	}
	format = strings.TrimPrefix(strings.ToLower(format), ".")
	if format == "" {
		format = DefaultConvertFormat
	}

	return &EbookConvert{command: command, format: format}
}

// Convert returns the path of the converted file.
func (c *EbookConvert) Convert(ctx context.Context, inputPath string) (string, error) {
	outputPath := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + "." + c.format

	if _, err := run(ctx, c.command, inputPath, outputPath); err != nil {
		os.Remove(outputPath)
		return "", err
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat converted file: %w", err)
	}
	if info.Size() == 0 {
		os.Remove(outputPath)
		return "", fmt.Errorf("converted file is empty: %s", outputPath)
	}

	return outputPath, nil
}
