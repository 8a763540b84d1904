package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"spacecast/internal/core/domain"
	"spacecast/internal/core/services"
	httphandlers "spacecast/internal/handlers/http"
	"spacecast/internal/infrastructure/broadcast"
	"spacecast/internal/infrastructure/chat"
	"spacecast/internal/infrastructure/distributed"
	"spacecast/internal/infrastructure/janus"
	"spacecast/internal/infrastructure/middleware"
	"spacecast/internal/infrastructure/monitoring"
	"spacecast/internal/infrastructure/speech"
	"spacecast/internal/plugins/conversation"
	"spacecast/internal/plugins/idle"
	"spacecast/internal/plugins/monitor"
	"spacecast/internal/plugins/recorder"
	"spacecast/pkg/archive"
	"spacecast/pkg/config"
	"spacecast/pkg/logger"
	"spacecast/pkg/tracing"
	"spacecast/pkg/utils"
	"spacecast/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	issueToken := flag.String("issue-token", "", "print an admin token for operator:role and exit")
	flag.Parse()

	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/etc/spacecast/config.yaml",
		"config.yaml",
	}
	if *configPath != "" {
		configPaths = []string{*configPath}
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	authService := services.NewAuthService(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if *issueToken != "" {
		token, err := issueOperatorToken(authService, *issueToken)
		if err != nil {
			log.Fatalw("failed to issue token", "error", err)
		}
		fmt.Println(token)
		return
	}

	// Tracing
	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracerProvider, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	health := monitoring.NewHealthChecker()

	// Redis: host lease plus event relay
	var redisClient *redis.Client
	var lease *distributed.HostLease
	if cfg.Redis.Enabled {
		redisClient, err = distributed.NewRedisClient(context.Background(), distributed.ClientConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, zapLogger)
		if err != nil {
			log.Fatalw("failed to connect to redis", "error", err)
		}
		health.AddRedisCheck(redisClient, 2*time.Second)

		lease = distributed.NewHostLease(redisClient, cfg.Space.Title, 0, zapLogger)
		leaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := lease.Acquire(leaseCtx)
		cancel()
		if err != nil {
			log.Fatalw("failed to acquire host lease", "title", cfg.Space.Title, "error", err)
		}
	}

	// Space
	creds := broadcast.StaticCredentials{
		Cookie: cfg.Credentials.SessionCookie,
		Bearer: cfg.Credentials.BearerToken,
	}
	api := broadcast.NewClient(broadcast.Config{
		ProxseeURL:    cfg.BroadcastAPI.ProxseeURL,
		SignerURL:     cfg.BroadcastAPI.SignerURL,
		GuestURL:      cfg.BroadcastAPI.GuestURL,
		HTTPTimeout:   cfg.BroadcastAPI.HTTPTimeout,
		RetryAttempts: cfg.BroadcastAPI.RetryAttempts,
	}, creds, zapLogger)

	log.Infow("using host credentials",
		"cookie", utils.MaskSensitive(creds.Cookie, 4),
		"bearer_token_set", creds.Bearer != "",
	)

	janusOpts := janus.Options{
		PollInterval:     cfg.Gateway.PollInterval,
		EventTimeout:     cfg.Gateway.EventTimeout,
		JoinTimeout:      cfg.Gateway.JoinTimeout,
		SubscribeTimeout: cfg.Gateway.SubscribeTimeout,
		HTTPTimeout:      cfg.Gateway.HTTPTimeout,
		PortMin:          cfg.Gateway.PortRange.Min,
		PortMax:          cfg.Gateway.PortRange.Max,
		Metrics:          collector,
	}

	space := services.NewSpace(services.SpaceDeps{
		Credentials:     creds,
		API:             api,
		Signaling:       janus.NewFactory(janusOpts, zapLogger),
		Control:         chat.NewFactory(chat.DefaultOptions(), zapLogger),
		Metrics:         collector,
		ReactionLimiter: middleware.NewReactionLimiter(cfg),
	}, zapLogger)
	health.AddSpaceCheck(space)

	idleCh := make(chan struct{}, 1)
	speaker, err := attachPlugins(cfg, space, collector, idleCh, zapLogger)
	if err != nil {
		log.Fatalw("failed to attach plugins", "error", err)
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Space.AutoApproveSpeaker {
		go autoApprove(rootCtx, space, log)
	}

	collector.RecordSpaceState(domain.StateInitializing)
	initCtx, initCancel := context.WithTimeout(rootCtx, 2*time.Minute)
	bs, err := space.Initialize(initCtx, domain.SpaceOptions{
		Mode:        domain.SpaceMode(cfg.Space.Mode),
		Title:       cfg.Space.Title,
		Description: cfg.Space.Description,
		Languages:   cfg.Space.Languages,
	})
	initCancel()
	if err != nil {
		collector.RecordSpaceState(space.State())
		log.Fatalw("failed to initialize space", "error", err)
	}
	collector.RecordSpaceState(space.State())
	log.Infow("space is live", "room_id", bs.RoomID, "share_url", bs.ShareURL)

	if redisClient != nil {
		relay := distributed.NewEventRelay(redisClient, uuid.NewString(), zapLogger)
		events, unsubscribe := space.Subscribe()
		defer unsubscribe()
		go relay.Run(rootCtx, bs.RoomID, events)
	}

	// Admin API
	var srv *http.Server
	var adminHandler *httphandlers.AdminHandler
	serverErr := make(chan error, 1)
	if cfg.Admin.Enabled {
		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		router := gin.New()
		router.Use(
			middleware.RecoveryMiddleware(log),
			middleware.TracingMiddleware(),
			middleware.MetricsMiddleware(collector),
			middleware.NewHTTPRateLimitMiddleware(cfg),
			middleware.ErrorHandlerMiddleware(log),
		)

		var spk httphandlers.Speaker
		if speaker != nil {
			spk = speaker
		}
		adminHandler = httphandlers.NewAdminHandler(space, spk, authService, health, log)
		adminHandler.SetupRoutes(router)

		if cfg.Monitoring.PrometheusEnabled {
			router.GET("/metrics", gin.WrapH(promhttp.Handler()))
			log.Info("Prometheus metrics enabled")
		}

		srv = &http.Server{
			Addr:         cfg.Admin.Address,
			Handler:      router,
			ReadTimeout:  cfg.Admin.ReadTimeout,
			WriteTimeout: cfg.Admin.WriteTimeout,
		}
		go func() {
			log.Infow("starting admin api", "address", cfg.Admin.Address)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErr <- err
			}
		}()
	}

	// Wait for shutdown signals, idle timeout or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("admin api failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	case <-idleCh:
		log.Info("space idle, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Admin.ShutdownTimeout)
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Errorw("error during admin api shutdown", "error", err)
			if closeErr := srv.Close(); closeErr != nil {
				log.Errorw("error force closing admin api", "error", closeErr)
			}
		}
		adminHandler.Wait()
	}

	space.Stop(shutdownCtx)
	collector.RecordSpaceState(space.State())
	rootCancel()

	if lease != nil {
		if err := lease.Release(shutdownCtx); err != nil {
			log.Warnw("error releasing host lease", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			log.Warnw("error closing redis client", "error", err)
		}
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracer provider", "error", err)
	}

	log.Info("spacecast stopped")
}

// attachPlugins registers the configured plugins. It returns the
// conversation plugin when enabled so the admin API can speak through it.
func attachPlugins(
	cfg *config.Config,
	space *services.Space,
	reg *monitoring.PrometheusCollector,
	idleCh chan<- struct{},
	zapLogger *zap.Logger,
) (*conversation.Plugin, error) {
	var convo *conversation.Plugin

	// The idle watch is built first so local playback can count as activity.
	var idlePlugin *idle.Plugin
	var onPlayback func()
	if cfg.Plugins.Idle.Enabled {
		idleCfg := idle.Config{
			Timeout:       cfg.Plugins.Idle.Timeout,
			CheckInterval: cfg.Plugins.Idle.CheckInterval,
		}
		if cfg.Plugins.Idle.StopOnIdle {
			idleCfg.OnIdle = func() {
				select {
				case idleCh <- struct{}{}:
				default:
				}
			}
		}
		idlePlugin = idle.New(idleCfg, zapLogger)
		onPlayback = idlePlugin.Touch
	}

	if cfg.Conversation.Enabled {
		speechCfg := speech.Config{
			BaseURL:         cfg.Speech.BaseURL,
			APIKey:          cfg.Speech.APIKey,
			STTModel:        cfg.Speech.STTModel,
			TTSModel:        cfg.Speech.TTSModel,
			TTSVoice:        cfg.Speech.TTSVoice,
			Timeout:         cfg.Speech.Timeout,
			BreakerFailures: cfg.Speech.BreakerFailures,
			BreakerCooldown: cfg.Speech.BreakerCooldown,
		}
		convo = conversation.New(conversation.Config{
			SystemPrompt:      cfg.Conversation.SystemPrompt,
			CompletionModel:   cfg.Conversation.CompletionModel,
			Language:          cfg.Conversation.Language,
			SilenceThreshold:  cfg.Conversation.SilenceThreshold,
			FrameSize:         cfg.Conversation.FrameSize,
			FrameDelay:        cfg.Conversation.FrameDelay,
			PublishSampleRate: cfg.Conversation.PublishSampleRate,
			MaxHistory:        cfg.Conversation.MaxHistory,
		}, conversation.Deps{
			Transcriber: speech.NewTranscriber(speechCfg, zapLogger),
			Completer:   speech.NewCompleter(speechCfg, zapLogger),
			Synthesizer: speech.NewSynthesizer(speechCfg, zapLogger),
			Metrics:     reg,
			OnPlayback:  onPlayback,
		}, zapLogger)
		if err := space.Use(convo, nil); err != nil {
			return nil, err
		}
	}

	if cfg.Plugins.Recorder.Enabled {
		rec := recorder.New(cfg.Plugins.Recorder.Path, zapLogger)
		if archiveCfg := cfg.Plugins.Recorder.Archive; archiveCfg.Enabled {
			svc, err := newArchive(cfg)
			if err != nil {
				return nil, err
			}
			rec.WithArchive(svc, time.Duration(archiveCfg.RetentionDays)*24*time.Hour)
		}
		if err := space.Use(rec, nil); err != nil {
			return nil, err
		}
	}

	if cfg.Plugins.Monitor.Enabled {
		if err := space.Use(monitor.New(prometheus.DefaultRegisterer, cfg.Plugins.Monitor.LogInterval, zapLogger), nil); err != nil {
			return nil, err
		}
	}

	if idlePlugin != nil {
		if err := space.Use(idlePlugin, nil); err != nil {
			return nil, err
		}
	}
	return convo, nil
}

func newArchive(cfg *config.Config) (*archive.Service, error) {
	archiveCfg := cfg.Plugins.Recorder.Archive
	var storage archive.Storage
	switch archiveCfg.Backend {
	case "s3":
		storage = archive.NewS3StorageFromConfig(archive.S3Config{
			Bucket:          archiveCfg.S3.Bucket,
			Prefix:          archiveCfg.S3.Prefix,
			Region:          archiveCfg.S3.Region,
			Endpoint:        archiveCfg.S3.Endpoint,
			AccessKeyID:     archiveCfg.S3.AccessKeyID,
			SecretAccessKey: archiveCfg.S3.SecretAccessKey,
		})
	default:
		fs, err := archive.NewFileStorage(archiveCfg.Path)
		if err != nil {
			return nil, err
		}
		storage = fs
	}
	return archive.NewService(storage, version), nil
}

// autoApprove admits every speaker request as it arrives.
func autoApprove(ctx context.Context, space *services.Space, log *zap.SugaredLogger) {
	events, cancel := space.Subscribe()
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			req, isRequest := ev.(domain.SpeakerRequest)
			if !isRequest {
				continue
			}
			go func() {
				if err := space.ApproveSpeaker(ctx, req.UserID, req.SessionUUID); err != nil {
					log.Warnw("auto-approve failed", "user_id", req.UserID, "error", err)
					return
				}
				log.Infow("speaker auto-approved", "user_id", req.UserID, "username", req.Username)
			}()
		}
	}
}

// issueOperatorToken parses "operator:role" and signs a token for it.
func issueOperatorToken(authService services.AuthService, arg string) (string, error) {
	operator, role, ok := strings.Cut(arg, ":")
	if !ok {
		return "", fmt.Errorf("expected operator:role, got %q", arg)
	}
	if err := validation.ValidateOperator(operator); err != nil {
		return "", err
	}
	return authService.GenerateToken(operator, services.OperatorRole(role))
}
