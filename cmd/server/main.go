package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"wsiview/internal/config"
	httphandlers "wsiview/internal/http"
	"wsiview/internal/logger"
	"wsiview/internal/reader"
	"wsiview/internal/readercache"
	"wsiview/internal/store"
	"wsiview/internal/tilecache"
	"wsiview/internal/tiles"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxAgeDays)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Set up logging
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		// Map vips log levels to zap levels
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
		// Ignore info/debug messages to keep logs clean
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
	)

	log.Info("Starting WSI tile server",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
		zap.Int("tile_size", cfg.TileSize),
		zap.Int("reader_cache_size", cfg.ReaderCacheSize),
	)

	readerOpts := reader.Options{TileSize: cfg.TileSize, Quality: cfg.JpegQuality}

	slides := store.New(cfg.DataDir, log)
	slides.Validate = func(path string) error {
		rd, err := reader.Open(path, readerOpts, log)
		if err != nil {
			return err
		}
		return rd.Close()
	}
	if err := slides.Scan(); err != nil {
		log.Warn("Initial scan failed", zap.Error(err))
	}

	tileCache, err := tilecache.NewCache(cfg.CacheType, cfg.CacheDir, cfg.CacheMemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize tile cache", zap.Error(err))
	}

	readers, err := readercache.New(cfg.ReaderCacheSize, log)
	if err != nil {
		log.Fatal("Failed to initialize reader cache", zap.Error(err))
	}

	resolver := tiles.New(readers, tileCache, slides, readerOpts, log)

	handlers := httphandlers.New(cfg, log, slides, resolver)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/slides", handlers.HandleSlides)
	mux.HandleFunc("/api/slides/", handlers.HandleSlideRoutes)
	mux.HandleFunc("/healthz", handlers.HandleHealthz)

	allowedOrigins := []string{"*"}
	if cfg.AllowedOrigin != "" {
		allowedOrigins = []string{cfg.AllowedOrigin}
	}
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	handler := corsMiddleware.Handler(handlers.RequestLoggingMiddleware(mux))

	if cfg.WarmupLevels > 0 {
		go warmupTiles(cfg, slides, resolver, log)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", zap.Error(err))
		}
	}()

	log.Info("Server started", zap.Int("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// Requests have drained; release every open slide synchronously.
	readers.Close()

	log.Info("Server stopped")
}

// warmupTiles pre-renders the coarsest levels of every registered slide so
// first viewer loads hit the tile cache.
func warmupTiles(cfg *config.Config, slides *store.Store, resolver *tiles.Resolver, log *zap.Logger) {
	records := slides.List()
	if len(records) == 0 {
		return
	}

	workerLimit := cfg.WarmupWorkers
	if workerLimit <= 0 {
		workerLimit = 1
	}

	log.Info("Starting tile warmup",
		zap.Int("levels", cfg.WarmupLevels),
		zap.Int("slides", len(records)),
		zap.Int("workers", workerLimit),
	)

	ctx := context.Background()
	sem := semaphore.NewWeighted(int64(workerLimit))
	var wg sync.WaitGroup

	for _, rec := range records {
		info, err := resolver.Info(ctx, rec.ID)
		if err != nil {
			log.Warn("Warmup skipped slide", zap.String("slide_id", rec.ID), zap.Error(err))
			continue
		}

		lowest := info.LevelCount - cfg.WarmupLevels
		if lowest < 0 {
			lowest = 0
		}

		for level := info.LevelCount - 1; level >= lowest; level-- {
			lv := info.Levels[level]
			tilesX := (lv.Width + cfg.TileSize - 1) / cfg.TileSize
			tilesY := (lv.Height + cfg.TileSize - 1) / cfg.TileSize

			for x := 0; x < tilesX; x++ {
				for y := 0; y < tilesY; y++ {
					if err := sem.Acquire(ctx, 1); err != nil {
						return
					}
					wg.Add(1)

					go func(slideID string, level, x, y int) {
						defer wg.Done()
						defer sem.Release(1)

						if _, err := resolver.GetTile(ctx, slideID, level, x, y, cfg.TileSize); err != nil {
							log.Debug("Warmup tile failed",
								zap.String("slide_id", slideID),
								zap.Int("level", level),
								zap.Int("x", x),
								zap.Int("y", y),
								zap.Error(err))
						}
					}(rec.ID, level, x, y)
				}
			}
		}
	}

	wg.Wait()
	log.Info("Tile warmup completed")
}
