// @title       Receipt Backend API
// @version     1.0
// @description Receipt scanning (image to structured receipt plus barcodes) and last-write-wins receipt sync.
// @BasePath    /api/v1

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gorm.io/gorm"

	"github.com/tbourn/go-receipt-backend/docs"
	"github.com/tbourn/go-receipt-backend/internal/cache"
	"github.com/tbourn/go-receipt-backend/internal/config"
	"github.com/tbourn/go-receipt-backend/internal/enrichment"
	"github.com/tbourn/go-receipt-backend/internal/extraction"
	httpapi "github.com/tbourn/go-receipt-backend/internal/http"
	"github.com/tbourn/go-receipt-backend/internal/imaging"
	"github.com/tbourn/go-receipt-backend/internal/observability"
	"github.com/tbourn/go-receipt-backend/internal/repo"
	"github.com/tbourn/go-receipt-backend/internal/services"
	"github.com/tbourn/go-receipt-backend/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const purgeEvery = time.Hour

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, cfg.OTEL.ServiceName, nil)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		log.Fatal().Err(err).Msg("otel setup failed")
	}

	dsn := cfg.DBPath
	if cfg.DBDriver == "postgres" {
		dsn = cfg.DatabaseURL
	}
	db, err := repo.Open(cfg.DBDriver, dsn)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	if err := repo.AutoMigrate(db); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	extractionCache, closeCache := buildCache(ctx, cfg.Cache)
	defer closeCache()

	tracedHTTP := &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}

	scanSvc := &services.ScanService{
		Preprocessor: imaging.NewPreprocessor(cfg.Preprocess.MaxHeight, cfg.Preprocess.JPEGQuality),
		Extractor: extraction.NewClient(
			extraction.NewOpenAICompleter(cfg.Extraction.APIKey, cfg.Extraction.BaseURL, tracedHTTP),
			cfg.Extraction.Model,
			cfg.Extraction.Timeout,
		),
		Cache: extractionCache,
	}
	if cfg.Barcode.Enabled {
		scanSvc.Detector = imaging.NewDetector(cfg.Barcode.Timeout)
	}

	syncSvc := &services.SyncService{DB: db, Concurrency: cfg.SyncConcurrency}
	if cfg.Enrichment.Enabled {
		syncSvc.Enricher = enrichment.NewClient(enrichment.Config{
			BaseURL:    cfg.Enrichment.BaseURL,
			ClientID:   cfg.Enrichment.ClientID,
			Secret:     cfg.Enrichment.Secret,
			Timeout:    cfg.Enrichment.Timeout,
			HTTPClient: tracedHTTP,
		})
	}

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		docs.SwaggerInfo.Version = version
	}

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{DB: db, Scanner: scanSvc, Syncer: syncSvc}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go purgeIdempotency(ctx, db, purgeEvery)

	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("db", cfg.DBDriver).
			Str("cache", cfg.Cache.Backend).
			Bool("barcodes", cfg.Barcode.Enabled).
			Bool("enrichment", cfg.Enrichment.Enabled).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	if err := shutdownOTel(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("otel shutdown")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// buildCache selects the extraction cache backend. An unreachable Redis
// degrades to a disabled cache rather than failing startup.
func buildCache(ctx context.Context, cfg config.CacheConfig) (*cache.ExtractionCache, func()) {
	switch cfg.Backend {
	case "redis":
		store, err := cache.NewRedisStore(ctx, cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, extraction cache disabled")
			return cache.Disabled(), func() {}
		}
		return cache.NewExtractionCache(store, cfg.TTL, cfg.FailureTTL), func() { _ = store.Close() }
	case "memory":
		store := cache.NewMemoryStore(time.Minute)
		return cache.NewExtractionCache(store, cfg.TTL, cfg.FailureTTL), func() { _ = store.Close() }
	default:
		return cache.Disabled(), func() {}
	}
}

// purgeIdempotency drops expired idempotency records until ctx ends.
func purgeIdempotency(ctx context.Context, db *gorm.DB, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			n, err := repo.PurgeExpiredIdempotency(ctx, db, now)
			if err != nil {
				log.Warn().Err(err).Msg("purge idempotency")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("purged idempotency records")
			}
		}
	}
}
