package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"wsiview/internal/slide"
)

type Config struct {
	Port             int
	DataDir          string
	CacheType        string
	CacheDir         string
	CacheMemoryTiles int
	TileSize         int
	ReaderCacheSize  int
	JpegQuality      int
	WarmupLevels     int
	WarmupWorkers    int
	VipsMaxCacheMB   int
	VipsConcurrency  int
	LogLevel         string
	LogFile          string
	LogMaxSizeMB     int
	LogMaxAgeDays    int
	UploadToken      string
	MaxUploadSize    int64
	AllowedOrigin    string
}

// Load reads configuration from the environment, applies command-line
// overrides, and validates the result.
func Load(args []string) (*Config, error) {
	dataDir := getEnv("DATA_DIR", "/data")

	cfg := &Config{
		Port:             getEnvInt("PORT", 8080),
		DataDir:          dataDir,
		CacheType:        getEnv("CACHE", "file"),
		CacheDir:         getEnv("CACHE_DIR", filepath.Join(dataDir, "cache")),
		CacheMemoryTiles: getEnvInt("CACHE_MEMORY_TILES", 2000),
		TileSize:         getEnvInt("TILE_SIZE", 256),
		ReaderCacheSize:  getEnvInt("READER_CACHE_SIZE", 5),
		JpegQuality:      getEnvInt("JPEG_QUALITY", 82),
		WarmupLevels:     getEnvInt("WARMUP_LEVELS", 1),
		WarmupWorkers:    getEnvInt("WARMUP_WORKERS", 1),
		VipsMaxCacheMB:   getEnvInt("VIPS_MAX_CACHE_MB", 256),
		VipsConcurrency:  getEnvInt("VIPS_CONCURRENCY", 1),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFile:          getEnv("LOG_FILE", ""),
		LogMaxSizeMB:     getEnvInt("LOG_MAX_SIZE_MB", 10),
		LogMaxAgeDays:    getEnvInt("LOG_MAX_AGE_DAYS", 28),
		UploadToken:      getEnv("UPLOAD_TOKEN", ""),
		MaxUploadSize:    getEnvInt64("MAX_UPLOAD_SIZE", 4294967296), // 4GB default
		AllowedOrigin:    getEnv("ALLOWED_ORIGIN", ""),
	}

	fs := pflag.NewFlagSet("wsiview", pflag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP listen port")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory holding slide sources")
	fs.StringVar(&cfg.CacheType, "cache", cfg.CacheType, "tile cache backend (file, memory, disabled)")
	fs.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "directory for the file tile cache")
	fs.IntVar(&cfg.TileSize, "tile-size", cfg.TileSize, "tile edge length in pixels")
	fs.IntVar(&cfg.ReaderCacheSize, "reader-cache-size", cfg.ReaderCacheSize, "maximum concurrently open slides")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "optional rotating log file path")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.ReaderCacheSize < 1 {
		return fmt.Errorf("%w: reader cache size must be at least 1, got %d", slide.ErrConfig, c.ReaderCacheSize)
	}
	if c.TileSize < 1 {
		return fmt.Errorf("%w: tile size must be positive, got %d", slide.ErrConfig, c.TileSize)
	}
	if c.JpegQuality < 1 || c.JpegQuality > 100 {
		return fmt.Errorf("%w: jpeg quality must be in [1, 100], got %d", slide.ErrConfig, c.JpegQuality)
	}
	return nil
}

func (c *Config) IsUploadPublic() bool {
	return strings.TrimSpace(c.UploadToken) == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}
