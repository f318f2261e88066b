package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	DataDir   string
	DBPath    string
	WatchDir  string
	RemoteURL string

	MaxConcurrentRuns int
	DedupTTL          time.Duration
	DedupMaxSize      int
	Retention         time.Duration
}

func Load() Config {
	loadDotEnv(".env")
	dataDir := getEnv("AUTOMATIOND_DATA_DIR", "data")
	return Config{
		HTTPAddr:  getEnv("AUTOMATIOND_HTTP_ADDR", ":8090"),
		DataDir:   dataDir,
		DBPath:    getEnv("AUTOMATIOND_DB_PATH", filepath.Join(dataDir, "automations.db")),
		WatchDir:  getEnv("AUTOMATIOND_WATCH_DIR", ""),
		RemoteURL: getEnv("AUTOMATIOND_REMOTE_SOURCE_URL", ""),

		MaxConcurrentRuns: getEnvInt("AUTOMATIOND_MAX_CONCURRENT_RUNS", 3),
		DedupTTL:          getEnvDuration("AUTOMATIOND_DEDUP_TTL", 30*time.Second),
		DedupMaxSize:      getEnvInt("AUTOMATIOND_DEDUP_MAX_SIZE", 1000),
		Retention:         getEnvDuration("AUTOMATIOND_RETENTION", 365*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"'`)
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
