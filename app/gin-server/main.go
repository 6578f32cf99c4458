package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/sercuelabs/sercuescribe/config"
	"github.com/sercuelabs/sercuescribe/internal/api/handlers"
	"github.com/sercuelabs/sercuescribe/internal/api/routes"
	"github.com/sercuelabs/sercuescribe/internal/cache"
	"github.com/sercuelabs/sercuescribe/internal/dispatch"
	"github.com/sercuelabs/sercuescribe/internal/logger"
	"github.com/sercuelabs/sercuescribe/internal/metrics"
	"github.com/sercuelabs/sercuescribe/internal/models"
	"github.com/sercuelabs/sercuescribe/internal/providers/stt"
	"github.com/sercuelabs/sercuescribe/internal/storage"
	"github.com/sercuelabs/sercuescribe/internal/stream"
)

func main() {
	_ = godotenv.Load()

	log := logger.New()
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m, metricsHandler := metrics.New()

	store, err := stream.NewStore(cfg.StoragePath, cfg.MaxConcurrentSessions, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize session store")
	}
	pipeline := stream.NewPipeline(store, log)

	// Optional transcript publisher and retention store
	rdb, err := config.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.WithError(err).Warn("redis unavailable, transcript publishing disabled")
		rdb = nil
	}
	var transcripts cache.TranscriptStore
	if rdb != nil {
		transcripts = cache.NewRedisTranscripts(rdb, cfg.TranscriptTTL)
	}

	// Optional artifact hand-off
	var uploader storage.Uploader
	if cfg.GCSBucket != "" {
		gcs, gerr := storage.NewGCSUploader(ctx, cfg.GCSBucket)
		if gerr != nil {
			log.WithError(gerr).Fatal("failed to initialize GCS uploader")
		}
		defer gcs.Close()
		uploader = gcs
	}

	controller := stream.NewController(store, pipeline, stream.ControllerConfig{
		Defaults: models.AudioParams{
			SampleRate: cfg.DefaultSampleRate,
			Channels:   cfg.DefaultChannels,
			Format:     cfg.DefaultFormat,
		},
		MaxSessionAge:   cfg.MaxSessionDuration,
		IdleTimeout:     cfg.IdleTimeout,
		AutoCleanup:     cfg.AutoCleanup,
		CleanupInterval: cfg.CleanupInterval,
	}, uploader, log, m)
	go controller.Run(ctx)

	var ingestDispatch stream.TranscriptionDispatcher
	dispatcher := &dispatch.Dispatcher{
		Redis:       rdb,
		Transcripts: transcripts,
		Logger:      log,
		Metrics:     m,
		Language:    cfg.ASRLanguage,
		NumWorkers:  cfg.DispatchWorkers,
		QueueSize:   cfg.DispatchQueueSize,
	}
	switch {
	case cfg.STTProvider == "google":
		provider, perr := stt.NewGoogleSpeech(ctx, cfg.DefaultSampleRate)
		if perr != nil {
			log.WithError(perr).Fatal("failed to initialize Google speech client")
		}
		defer provider.Close()
		dispatcher.STT = provider
	case cfg.ASREndpoint != "":
		dispatcher.STT = stt.NewWhisperHTTP(cfg.ASREndpoint, cfg.ASRAPIKey, 60*time.Second)
	}

	if dispatcher.STT != nil {
		if err := dispatcher.Start(ctx); err != nil {
			log.WithError(err).Fatal("failed to start transcription dispatcher")
		}
		ingestDispatch = dispatcher
	} else {
		log.Warn("no transcription backend configured, chunks will not be transcribed")
		ingestDispatch = dispatch.Discard{}
	}

	ingestor := stream.NewIngestor(store, pipeline, ingestDispatch, cfg.MaxChunkSizeBytes, log, m)

	r := gin.New()
	r.Use(gin.Recovery())
	routes.RegisterRoutes(r, routes.Deps{
		Stream: handlers.NewStreamHandler(controller, transcripts),
		WS: handlers.NewWSHandler(controller, ingestor, handlers.WSConfig{
			IdleTimeout:        cfg.IdleTimeout,
			MaxChunkSize:       cfg.MaxChunkSizeBytes,
			MaxConnsPerSession: cfg.MaxConnsPerSession,
		}, log),
		Metrics:   metricsHandler,
		Logger:    log,
		JWTSecret: cfg.JWTSecret,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("audio ingestion server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown failed")
	}
	dispatcher.Shutdown(shutdownCtx)
}
