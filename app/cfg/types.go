package cfg

type Cfg struct {
	// Database configuration
	DBPath string

	// Application configuration
	FeedsDir     string
	Port         string
	APIAccessKey string

	// Book generation
	OutputDir         string
	BookLanguage      string
	GenerationEnabled bool
	ScheduleHour      int
	ScheduleMinute    int

	// Fetching
	UserAgent     string
	FetchTimeout  int // seconds
	ImageTimeout  int // seconds
	ImageMaxWidth int
	ImageQuality  int

	// External tools
	ConvertEnabled     bool
	ConvertFormat      string
	ConvertCommand     string
	CalibreLibraryPath string
	CalibredbCommand   string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
