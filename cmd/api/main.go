package main

import (
	"context"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/familring/album-service/internal/config"
	"github.com/familring/album-service/internal/domain/album"
	"github.com/familring/album-service/internal/middleware"
	"github.com/familring/album-service/internal/pkg/classification"
	"github.com/familring/album-service/internal/pkg/database"
	"github.com/familring/album-service/internal/pkg/family"
	"github.com/familring/album-service/internal/pkg/imaging"
	"github.com/familring/album-service/internal/pkg/jwt"
	"github.com/familring/album-service/internal/pkg/logger"
	"github.com/familring/album-service/internal/pkg/metrics"
	pkgresponse "github.com/familring/album-service/internal/pkg/response"
	"github.com/familring/album-service/internal/pkg/storage"
	"github.com/familring/album-service/internal/pkg/upstream"
	"github.com/familring/album-service/internal/pkg/userdir"
)

const (
	userAgent         = "familring-album-service/1.0"
	uploadConcurrency = 4
	jwtAccessTTL      = 15 * time.Minute
)

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("auth_mode", cfg.AuthMode).
		Str("storage", cfg.StorageDriver).
		Msg("Starting album service")

	ctx := context.Background()

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	// ---------- Collaborators ----------
	familyClient := family.NewClient(upstream.NewClient(upstream.Config{
		Name:      "family-service",
		BaseURL:   cfg.FamilyServiceURL,
		Timeout:   cfg.UpstreamTimeout,
		Attempts:  cfg.UpstreamRetryAttempts,
		UserAgent: userAgent,
	}))
	families := family.NewCachedDirectory(familyClient, redis, cfg.FamilyCacheTTL)

	users := userdir.NewClient(upstream.NewClient(upstream.Config{
		Name:      "user-service",
		BaseURL:   cfg.UserServiceURL,
		Timeout:   cfg.UpstreamTimeout,
		Attempts:  cfg.UpstreamRetryAttempts,
		UserAgent: userAgent,
	}))

	// Scoring is slow and not idempotent in cost; one attempt only.
	scorer := classification.NewClient(upstream.NewClient(upstream.Config{
		Name:      "classification-service",
		BaseURL:   cfg.ClassificationServiceURL,
		Timeout:   cfg.ClassificationTimeout,
		Attempts:  1,
		UserAgent: userAgent,
	}))

	// ---------- Storage ----------
	backend, err := newStorageBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create storage backend")
	}
	blobs := storage.NewBlobStore(backend, uploadConcurrency)

	// ---------- Album domain ----------
	albumService := album.NewService(album.Deps{
		Repo:       album.NewRepository(db),
		Families:   families,
		Users:      users,
		Blobs:      blobs,
		Scorer:     scorer,
		Normalizer: imaging.NewNormalizer(imaging.DefaultConfig()),
		Metrics:    metrics.New(prometheus.DefaultRegisterer),
	}, album.Config{
		FaceMatchThreshold:    cfg.FaceMatchThreshold,
		PhotoPath:             cfg.AlbumPhotoPath,
		CompensateOrphanBlobs: cfg.CompensateOrphanBlobs(),
		MaxUploadPhotos:       cfg.MaxUploadPhotos,
		MaxPhotoBytes:         cfg.MaxPhotoBytes,
	})
	albumHandler := album.NewHandler(albumService, album.HandlerConfig{
		MaxUploadPhotos: cfg.MaxUploadPhotos,
		MaxPhotoBytes:   cfg.MaxPhotoBytes,
	})

	if cfg.InternalAPIToken == "" {
		log.Warn().Msg("INTERNAL_API_TOKEN is empty, internal album hooks will reject every call")
	}

	r := newRouter(cfg, albumHandler, authMiddleware(cfg))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		// Photo batches are uploaded and scored inside one request.
		WriteTimeout: cfg.ClassificationTimeout + cfg.UpstreamTimeout*4 + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

func newStorageBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	if cfg.StorageDriver == config.StorageDriverS3 {
		s3, err := storage.NewS3Storage(ctx, storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			PublicURL: cfg.S3PublicURL,
		})
		if err != nil {
			return nil, err
		}
		return s3, nil
	}

	local, err := storage.NewLocalStorage(cfg.LocalStoragePath, cfg.LocalStorageURL)
	if err != nil {
		return nil, err
	}
	return local, nil
}

func authMiddleware(cfg *config.Config) func(http.Handler) http.Handler {
	if cfg.AuthMode == config.AuthModeGateway {
		return middleware.Gateway()
	}
	return middleware.Auth(jwt.NewService(cfg.JWTSecret, jwtAccessTTL))
}

func newRouter(cfg *config.Config, albumHandler *album.Handler, auth func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, "ok", map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/albums", albumHandler.Routes(auth))
	})
	r.Mount("/internal/albums", albumHandler.InternalRoutes(middleware.InternalToken(cfg.InternalAPIToken)))

	if cfg.StorageDriver != config.StorageDriverS3 {
		mountLocalFiles(r, cfg.LocalStorageURL, cfg.LocalStoragePath)
	}

	return r
}

// mountLocalFiles serves the local storage directory under the path of its public URL.
func mountLocalFiles(r chi.Router, publicURL, dir string) {
	u, err := url.Parse(publicURL)
	if err != nil {
		return
	}
	prefix := strings.TrimRight(u.Path, "/")
	if prefix == "" {
		return
	}
	fs := http.StripPrefix(prefix, http.FileServer(http.Dir(dir)))
	r.Get(prefix+"/*", fs.ServeHTTP)
}
