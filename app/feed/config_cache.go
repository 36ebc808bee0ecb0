package feed

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// ConfigCache holds the feed seed files found in the feeds directory.
type ConfigCache struct {
	feedsDir string
	cache    map[string]*Config
	mu       sync.RWMutex
}

func NewConfigCache(feedsDir string) *ConfigCache {
	return &ConfigCache{
		feedsDir: feedsDir,
		cache:    make(map[string]*Config),
	}
}

// Run loads every *.yml and *.yaml file. A missing directory is not an error.
func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.feedsDir); os.IsNotExist(err) {
		return nil
	}

	var files []string
	for _, pattern := range []string{"*.yml", "*.yaml"} {
		matches, err := filepath.Glob(filepath.Join(cc.feedsDir, pattern))
		if err != nil {
			return fmt.Errorf("failed to find YAML files: %w", err)
		}
		files = append(files, matches...)
	}

	for _, file := range files {
		config, err := cc.LoadConfig(file)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Feed seed loaded", "file", config.File, "name", config.Name, "enabled", config.IsEnabled())
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(configFile string) (*Config, error) {
	feedConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	base := filepath.Base(configFile)
	feedConfig.File = strings.TrimSuffix(base, filepath.Ext(base))
	if feedConfig.Name == "" {
		feedConfig.Name = feedConfig.File
	}

	if err := cc.validateConfig(feedConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.cache[feedConfig.File] = feedConfig

	return feedConfig, nil
}

func (cc *ConfigCache) GetConfig(file string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	feedConfig, ok := cc.cache[file]
	if !ok {
		return nil, fmt.Errorf("feed config '%s' not found", file)
	}
	return feedConfig, nil
}

// GetConfigs returns the loaded seeds ordered by file name.
func (cc *ConfigCache) GetConfigs() []*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configs := make([]*Config, 0, len(cc.cache))
	for _, v := range cc.cache {
		configs = append(configs, v)
	}
	sort.Slice(configs, func(i, j int) bool {
		return configs[i].File < configs[j].File
	})
	return configs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var feedConfig Config
	if err := yaml.Unmarshal(data, &feedConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	feedConfig.Name = strings.TrimSpace(feedConfig.Name)
	feedConfig.URL = strings.TrimSpace(feedConfig.URL)
	feedConfig.Category = strings.TrimSpace(feedConfig.Category)

	return &feedConfig, nil
}

func (cc *ConfigCache) validateConfig(feedConfig *Config) error {
	if feedConfig == nil {
		return fmt.Errorf("feedConfig is nil")
	}

	if feedConfig.URL == "" {
		return fmt.Errorf("feed URL is required")
	}

	u, err := url.Parse(feedConfig.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("feed URL must be an absolute http(s) URL: %s", feedConfig.URL)
	}

	if feedConfig.MaxArticles < 0 {
		return fmt.Errorf("max articles must be non-negative")
	}

	return nil
}
