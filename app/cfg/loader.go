package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Database configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./data/bindery.db" description:"SQLite database file"`

	// Application configuration
	FeedsDir     string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory with feed seed files (*.yml)"`
	Port         string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Book generation
	OutputDir        string `long:"output-dir" env:"OUTPUT_DIR" default:"./data/epubs" description:"Directory for generated books"`
	BookLanguage     string `long:"book-language" env:"BOOK_LANGUAGE" default:"vi" description:"Language code written into generated books"`
	GenerationOff    bool   `long:"disable-generation" env:"DISABLE_GENERATION" description:"Disable book generation and the daily scheduler"`
	ScheduleHour     int    `long:"schedule-hour" env:"SCHEDULE_HOUR" default:"6" description:"Hour of the daily run (0-23)"`
	ScheduleMinute   int    `long:"schedule-minute" env:"SCHEDULE_MINUTE" default:"0" description:"Minute of the daily run (0-59)"`

	// Fetching
	UserAgent     string `long:"user-agent" env:"USER_AGENT" description:"User agent string for HTTP requests"`
	FetchTimeout  int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Feed and article page timeout in seconds"`
	ImageTimeout  int    `long:"image-timeout" env:"IMAGE_TIMEOUT" default:"15" description:"Per-image download timeout in seconds"`
	ImageMaxWidth int    `long:"image-max-width" env:"IMAGE_MAX_WIDTH" default:"800" description:"Images wider than this are scaled down"`
	ImageQuality  int    `long:"image-quality" env:"IMAGE_QUALITY" default:"75" description:"JPEG quality for recompressed images"`

	// External tools
	ConvertEnabled     bool   `long:"convert" env:"CONVERT_ENABLED" description:"Convert generated books to a secondary format"`
	ConvertFormat      string `long:"convert-format" env:"CONVERT_FORMAT" default:"mobi" description:"Secondary format extension"`
	ConvertCommand     string `long:"convert-command" env:"CONVERT_COMMAND" default:"ebook-convert" description:"Conversion executable"`
	CalibreLibraryPath string `long:"calibre-library" env:"CALIBRE_LIBRARY_PATH" description:"Calibre library root; enables catalog registration"`
	CalibredbCommand   string `long:"calibredb-command" env:"CALIBREDB_COMMAND" default:"calibredb" description:"Catalog registration executable"`

	// Application metadata
	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for schedules and book dates (e.g., UTC, Asia/Ho_Chi_Minh)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := fromRaw(raw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	return cfg, nil
}

func fromRaw(raw rawCfg) *Cfg {
	return &Cfg{
		DBPath:             raw.DBPath,
		FeedsDir:           raw.FeedsDir,
		Port:               raw.Port,
		APIAccessKey:       raw.APIAccessKey,
		OutputDir:          raw.OutputDir,
		BookLanguage:       raw.BookLanguage,
		GenerationEnabled:  !raw.GenerationOff,
		ScheduleHour:       raw.ScheduleHour,
		ScheduleMinute:     raw.ScheduleMinute,
		UserAgent:          cmp.Or(raw.UserAgent, DefaultUserAgent),
		FetchTimeout:       raw.FetchTimeout,
		ImageTimeout:       raw.ImageTimeout,
		ImageMaxWidth:      raw.ImageMaxWidth,
		ImageQuality:       raw.ImageQuality,
		ConvertEnabled:     raw.ConvertEnabled,
		ConvertFormat:      raw.ConvertFormat,
		ConvertCommand:     raw.ConvertCommand,
		CalibreLibraryPath: raw.CalibreLibraryPath,
		CalibredbCommand:   raw.CalibredbCommand,
		Timezone:           raw.Timezone,
		Debug:              raw.Debug,
		Version:            GetVersion(),
	}
}

func (c *Cfg) Validate() error {
	if c.ScheduleHour < 0 || c.ScheduleHour > 23 {
		return fmt.Errorf("schedule hour must be between 0 and 23, got %d", c.ScheduleHour)
	}
	if c.ScheduleMinute < 0 || c.ScheduleMinute > 59 {
		return fmt.Errorf("schedule minute must be between 0 and 59, got %d", c.ScheduleMinute)
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return fmt.Errorf("image quality must be between 1 and 100, got %d", c.ImageQuality)
	}
	if c.ImageMaxWidth <= 0 {
		return fmt.Errorf("image max width must be positive, got %d", c.ImageMaxWidth)
	}
	if c.FetchTimeout <= 0 || c.ImageTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output directory is required")
	}
	return nil
}

func (c *Cfg) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func (c *Cfg) ImageTimeoutDuration() time.Duration {
	return time.Duration(c.ImageTimeout) * time.Second
}

// CatalogEnabled reports whether generated books are registered in a Calibre library.
func (c *Cfg) CatalogEnabled() bool {
	return c.CalibreLibraryPath != ""
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
			fmt.Printf("Timezone configured: %s\n", timezone)
		}
	}
	return nil
}
