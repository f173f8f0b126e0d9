package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/yourname/notion-image-proxy/internal/apikey"
	"github.com/yourname/notion-image-proxy/internal/config"
	"github.com/yourname/notion-image-proxy/internal/corsmw"
	"github.com/yourname/notion-image-proxy/internal/edgecache"
	"github.com/yourname/notion-image-proxy/internal/fetcher"
	"github.com/yourname/notion-image-proxy/internal/httpapi"
	"github.com/yourname/notion-image-proxy/internal/pipeline"
	"github.com/yourname/notion-image-proxy/internal/ratelimit"
	"github.com/yourname/notion-image-proxy/internal/reqid"
	"github.com/yourname/notion-image-proxy/internal/store"
	"github.com/yourname/notion-image-proxy/internal/validator"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config error")
	}

	initLogging(cfg.LogLevel)

	ctx := context.Background()

	l2, err := newEdgeCache(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("edge cache init failed")
	}
	l3, err := newPersistentStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("persistent store init failed")
	}

	pl := pipeline.New(l2, l3, fetcher.New(), pipeline.Config{
		FetchTimeout: time.Duration(cfg.UpstreamTimeoutMS) * time.Millisecond,
		MaxSizeBytes: cfg.MaxImageSizeBytes,
		AllowedHosts: validator.NewAllowedHosts(cfg.AllowedDomains),
		CacheTTL:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Pipeline:     pl,
		AllowedHosts: validator.NewAllowedHosts(cfg.AllowedDomains),
		HealthCheck: func() bool {
			return l2.HealthCheck() && l3.HealthCheck(context.Background())
		},
		CacheTTLSeconds: cfg.CacheTTLSeconds,
	})

	var handler http.Handler = router
	handler = apikey.New(cfg.APIKeysEnabled, cfg.APIKeys).Middleware(handler)
	handler = ratelimit.New(cfg.RateLimitPerMinute).Middleware(handler)
	handler = corsmw.Middleware(cfg.CORSOrigins)(handler)
	handler = reqid.Middleware(handler)

	addr := cfg.Host + ":" + cfg.Port
	httpSrv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 0,
	}

	go func() {
		log.Info().Str("addr", addr).Str("storage_backend", cfg.StorageBackend).Msg("notion-image-proxy listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctxShutdown)
	log.Info().Msg("server stopped")
}

func initLogging(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func newEdgeCache(cfg config.Config) (edgecache.Cache, error) {
	if cfg.RedisURL != "" {
		return edgecache.NewRedis(cfg.RedisURL)
	}
	return edgecache.NewLRU(1000, 512*1024*1024), nil
}

func newPersistentStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StorageBackend {
	case "s3", "r2":
		return store.NewS3(ctx, cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, "images/")
	default:
		return store.NewFS(cfg.CacheDir), nil
	}
}
