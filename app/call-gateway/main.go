package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/config"
	"github.com/yoockh/yoocall/internal/api/handlers"
	"github.com/yoockh/yoocall/internal/api/middleware"
	"github.com/yoockh/yoocall/internal/api/routes"
	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/channel"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/providers/stt"
	"github.com/yoockh/yoocall/internal/providers/tts"
	"github.com/yoockh/yoocall/internal/registry"
	mongorepo "github.com/yoockh/yoocall/internal/repositories/mongo"
	pgrepo "github.com/yoockh/yoocall/internal/repositories/postgres"
	"github.com/yoockh/yoocall/internal/repositories/sqlite"
	"github.com/yoockh/yoocall/internal/services"
	"github.com/yoockh/yoocall/internal/session"
	"github.com/yoockh/yoocall/internal/speech"
	"github.com/yoockh/yoocall/internal/storage"
	"github.com/yoockh/yoocall/internal/submitter"
	"github.com/yoockh/yoocall/internal/telemetry"
	"github.com/yoockh/yoocall/internal/utils"
	"github.com/yoockh/yoocall/internal/workers"
)

// deliveredRetention is how long delivered outbox rows are kept for audit.
const deliveredRetention = 7 * 24 * time.Hour

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("YOOCALL_CONFIG"), "path to YAML config file")
	hashCredential := flag.Bool("hash-credential", false, "read a channel credential from stdin, print its bcrypt hash and exit")
	flag.Parse()

	if *hashCredential {
		if err := printCredentialHash(); err != nil {
			fmt.Fprintf(os.Stderr, "hash credential: %v\n", err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Telemetry.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("call gateway stopped")
	}
}

func run(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	meter, metricsHandler, shutdownMetrics, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.Environment, cfg.Telemetry.MetricsEnabled, log)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = shutdownMetrics(context.Background()) }()
	metrics, err := telemetry.NewMetrics(meter)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	reg := registry.New(cfg.Session.MaxConcurrent)
	if err := telemetry.ObserveActive(meter, reg.Active); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// Redis and Mongo are optional; without them the gateway runs on local state.
	redisUp := false
	if err := config.InitRedis(ctx); err != nil {
		log.WithError(err).Warn("redis unavailable, using in-process cache only")
	} else {
		redisUp = true
		log.Info("Redis connected")
		defer config.RedisClient.Close()
	}

	var callLogs mongorepo.CallLogRepository
	if err := config.InitMongo(ctx); err != nil {
		log.WithError(err).Warn("mongo unavailable, call log disabled")
	} else {
		log.Info("MongoDB connected")
		defer func() { _ = config.MongoClient.Disconnect(context.Background()) }()
		if err := config.EnsureMongoIndexes(ctx); err != nil {
			log.WithError(err).Warn("mongo index setup failed")
		}
		callLogs = mongorepo.NewCallLogRepo(config.MongoDatabase())
	}

	lru, err := cache.NewLRUCache(cfg.Speech.PromptCacheSize)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	var shared cache.Cache = lru
	if redisUp {
		shared = cache.Tiered{L1: lru, L2: cache.NewRedisCache(config.RedisClient)}
	}

	sp, err := newSpeech(ctx, cfg, shared, metrics, log)
	if err != nil {
		return err
	}

	surveys, err := services.LoadSurveys(cfg.Session.SurveyFile, cfg.Session.DefaultSurvey)
	if err != nil {
		return fmt.Errorf("surveys: %w", err)
	}
	go func() {
		for lang, texts := range surveys.PromptTexts() {
			sp.Warm(ctx, lang, texts...)
		}
	}()

	outbox, purge, closeOutbox, err := openOutbox(ctx, cfg)
	if err != nil {
		return fmt.Errorf("outbox: %w", err)
	}
	defer closeOutbox()

	sub := submitter.New(submitter.Config{
		BaseURL:        cfg.Records.BaseURL,
		ServiceSecret:  cfg.Records.ServiceSecret,
		RequestTimeout: ms(cfg.Records.RequestTimeoutMS),
		MaxAttempts:    cfg.Records.MaxAttempts,
		InitialBackoff: ms(cfg.Records.InitialBackoffMS),
		MaxBackoff:     ms(cfg.Records.MaxBackoffMS),
	}, submitter.NewCacheDeduper(shared, time.Duration(cfg.Records.DedupTTLHours)*time.Hour), outbox, metrics, log)

	reconciler := &workers.ReconcileWorker{
		Submitter: sub,
		Interval:  time.Duration(cfg.Records.ReconcileIntervalS) * time.Second,
		Logger:    log,
		Purge:     purge,
	}
	if err := reconciler.Start(ctx); err != nil {
		return err
	}

	var archiver session.Archiver
	if pool, err := newArchivePool(ctx, cfg, log); err != nil {
		log.WithError(err).Warn("utterance archive disabled")
	} else if pool != nil {
		defer pool.Stop()
		archiver = pool
	}

	var pub services.Publisher
	if redisUp {
		pub = config.RedisClient
	}
	tracker := services.NewCallTracker(pub, callLogs, log, 0)
	defer tracker.Close()

	gw, err := channel.NewGateway(channel.Options{
		Credential:      cfg.Channel.Credential,
		AuthTimeout:     ms(cfg.Channel.AuthTimeoutMS),
		PingInterval:    ms(cfg.Channel.PingIntervalMS),
		ReadTimeout:     ms(cfg.Channel.ReadTimeoutMS),
		WriteTimeout:    ms(cfg.Channel.WriteTimeoutMS),
		CloseGrace:      ms(cfg.Channel.CloseGraceMS),
		PacePlayback:    cfg.Channel.PacePlayback,
		MaxMessageBytes: cfg.Channel.MaxMessageBytes,
		CanonicalRate:   cfg.Audio.CanonicalSampleRate,
		SubmitTimeout:   sub.Budget(),
		Session: session.Config{
			Language:            cfg.Speech.Language,
			TimeUnit:            ms(cfg.Session.TimeUnitMS),
			DefaultPause:        cfg.Session.DefaultPauseSeconds,
			MaxUtterance:        ms(cfg.Session.MaxUtteranceMS),
			ConfidenceThreshold: cfg.Session.ConfidenceThreshold,
			Endpoint: audio.EndpointConfig{
				SampleRate:   cfg.Audio.CanonicalSampleRate,
				Threshold:    cfg.Audio.VADThreshold,
				MinSpeechMS:  cfg.Audio.MinSpeechMS,
				EndSilenceMS: cfg.Audio.EndSilenceMS,
			},
		},
	}, channel.Deps{
		Registry:  reg,
		Speech:    sp,
		Surveys:   surveys,
		Submitter: sub,
		Tracker:   tracker,
		Archiver:  archiver,
		Metrics:   metrics,
		Log:       log,
	})
	if err != nil {
		return err
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))
	routes.RegisterRoutes(r, routes.Deps{
		Call:    handlers.NewCallHandler(gw),
		Health:  handlers.NewHealthHandler(reg, sub),
		Admin:   handlers.NewAdminHandler(sub, tracker, reg),
		Metrics: metricsHandler,
		AdminJWT: middleware.JWTConfig{
			Secret:   cfg.Admin.JWTSecret,
			Issuer:   cfg.Admin.JWTIssuer,
			Audience: cfg.Admin.JWTAudience,
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.HTTP.Bind, cfg.HTTP.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":     srv.Addr,
			"capacity": reg.Capacity(),
			"surveys":  surveys.IDs(),
		}).Info("call gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by the server
	_ = srv.Shutdown(shutdownCtx)
	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("live calls cancelled at shutdown")
		// cancelled calls still submit their partial records
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()
		_ = gw.Shutdown(drainCtx)
	}
	return nil
}

func newSpeech(ctx context.Context, cfg config.Config, prompts cache.Cache, metrics *telemetry.Metrics, log *logrus.Logger) (*speech.Gateway, error) {
	rate := cfg.Audio.CanonicalSampleRate
	var (
		rec stt.Provider
		syn tts.Provider
	)
	switch cfg.Speech.Mode {
	case "google":
		g, err := stt.NewGoogleSpeech(ctx, rate, cfg.Speech.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("speech recognizer: %w", err)
		}
		t, err := tts.NewGoogleTTS(ctx, rate, cfg.Speech.Voice, cfg.Speech.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("speech synthesizer: %w", err)
		}
		rec, syn = g, t
	default:
		log.Warn("speech mode mock: every answer is recognized as empty")
		rec, syn = stt.NewScripted(rate), tts.NewTone(rate)
	}

	sp := speech.NewGateway(rec, syn, speech.Options{
		Language:           cfg.Speech.Language,
		RecognitionTimeout: ms(cfg.Speech.RecognitionTimeoutMS),
		SynthesisTimeout:   ms(cfg.Speech.SynthesisTimeoutMS),
		PromptCache:        prompts,
		PromptTTL:          time.Duration(cfg.Speech.PromptCacheTTLMin) * time.Minute,
		Metrics:            metrics,
		Log:                log,
	})
	if err := sp.CheckFormat(rate); err != nil {
		return nil, err
	}
	return sp, nil
}

func openOutbox(ctx context.Context, cfg config.Config) (submitter.Outbox, func(context.Context) (int64, error), func(), error) {
	if cfg.Outbox.Driver == "postgres" {
		if err := config.InitPostgres(); err != nil {
			return nil, nil, nil, err
		}
		if err := pgrepo.Migrate(config.PostgresDB); err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() {
			if db, err := config.PostgresDB.DB(); err == nil {
				_ = db.Close()
			}
		}
		return pgrepo.NewOutboxRepo(config.PostgresDB), nil, closeFn, nil
	}

	repo, err := sqlite.OpenOutbox(ctx, cfg.Outbox.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	purge := func(ctx context.Context) (int64, error) {
		return repo.PurgeDelivered(ctx, deliveredRetention)
	}
	return repo, purge, func() { _ = repo.Close() }, nil
}

// newArchivePool returns nil when no archive destination is configured.
func newArchivePool(ctx context.Context, cfg config.Config, log *logrus.Logger) (*workers.ArchivePool, error) {
	var up storage.Uploader
	switch {
	case cfg.Archive.Bucket != "":
		g, err := storage.NewGCSUploader(ctx, cfg.Archive.Bucket, cfg.Speech.CredentialsFile)
		if err != nil {
			return nil, err
		}
		up = g
	case cfg.Archive.Dir != "":
		up = storage.DirUploader{Root: cfg.Archive.Dir}
	default:
		return nil, nil
	}

	pool := &workers.ArchivePool{
		Uploader:   up,
		SampleRate: cfg.Audio.CanonicalSampleRate,
		Prefix:     cfg.Archive.Prefix,
		NumWorkers: cfg.Archive.Workers,
		Logger:     log,
	}
	if err := pool.Start(ctx); err != nil {
		return nil, err
	}
	return pool, nil
}

// printCredentialHash lets operators configure channel.credential as a hash.
func printCredentialHash() error {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return err
	}
	secret := strings.TrimSpace(line)
	if secret == "" {
		return errors.New("empty credential")
	}
	hash, err := utils.HashSecret(secret)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }
