package feed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSeed(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestConfigCacheLoadValidConfig(t *testing.T) {
	tempDir := t.TempDir()
	writeSeed(t, tempDir, "vnexpress.yml", `
name: "VnExpress Thời sự"
url: "https://vnexpress.net/rss/thoi-su.rss"
category: "news"
max_articles: 15
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	if configCache.GetConfigCount() != 1 {
		t.Errorf("Expected 1 feedConfig, got %d", configCache.GetConfigCount())
	}

	feedConfig, err := configCache.GetConfig("vnexpress")
	if err != nil {
		t.Fatal(err)
	}

	if feedConfig.Name != "VnExpress Thời sự" {
		t.Errorf("Expected name 'VnExpress Thời sự', got '%s'", feedConfig.Name)
	}
	if feedConfig.URL != "https://vnexpress.net/rss/thoi-su.rss" {
		t.Errorf("Expected URL 'https://vnexpress.net/rss/thoi-su.rss', got '%s'", feedConfig.URL)
	}
	if feedConfig.Category != "news" {
		t.Errorf("Expected category 'news', got '%s'", feedConfig.Category)
	}
	if feedConfig.MaxArticles != 15 {
		t.Errorf("Expected max articles 15, got %d", feedConfig.MaxArticles)
	}
	if !feedConfig.IsEnabled() {
		t.Error("Expected feed without enabled key to be enabled")
	}
}

func TestConfigCacheNameFromFile(t *testing.T) {
	tempDir := t.TempDir()
	writeSeed(t, tempDir, "tuoitre.yaml", `
url: "https://tuoitre.vn/rss/tin-moi-nhat.rss"
enabled: false
`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	configs := configCache.GetConfigs()
	if len(configs) != 1 {
		t.Fatalf("Expected 1 config, got %d", len(configs))
	}
	if configs[0].Name != "tuoitre" {
		t.Errorf("Expected name derived from file 'tuoitre', got '%s'", configs[0].Name)
	}
	if configs[0].IsEnabled() {
		t.Error("Expected feed to be disabled")
	}
}

func TestConfigCacheOrderedByFile(t *testing.T) {
	tempDir := t.TempDir()
	writeSeed(t, tempDir, "b.yml", `url: "https://b.example.com/feed"`)
	writeSeed(t, tempDir, "a.yml", `url: "https://a.example.com/feed"`)
	writeSeed(t, tempDir, "notes.txt", `ignored`)

	configCache := NewConfigCache(tempDir)
	if err := configCache.Run(); err != nil {
		t.Fatal(err)
	}

	configs := configCache.GetConfigs()
	if len(configs) != 2 {
		t.Fatalf("Expected 2 configs, got %d", len(configs))
	}
	if configs[0].File != "a" || configs[1].File != "b" {
		t.Errorf("Expected order [a b], got [%s %s]", configs[0].File, configs[1].File)
	}
}

func TestConfigCacheInvalidConfigs(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"missing url", `name: "x"`, "feed URL is required"},
		{"relative url", `url: "/feed.xml"`, "absolute http(s) URL"},
		{"negative max", "url: \"https://example.com/rss\"\nmax_articles: -1", "max articles must be non-negative"},
		{"bad yaml", "url: [", "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir := t.TempDir()
			writeSeed(t, tempDir, "feed.yml", tt.content)

			err := NewConfigCache(tempDir).Run()
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigCacheMissingDirectory(t *testing.T) {
	configCache := NewConfigCache(filepath.Join(t.TempDir(), "missing"))
	if err := configCache.Run(); err != nil {
		t.Errorf("Expected no error for missing directory, got %v", err)
	}
	if configCache.GetConfigCount() != 0 {
		t.Errorf("Expected 0 configs, got %d", configCache.GetConfigCount())
	}
}
