// Package app composes the chat service with fx.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"social-chat/internal/auth"
	"social-chat/internal/chat"
	"social-chat/internal/config"
	"social-chat/internal/db"
	"social-chat/internal/grpcserver"
	"social-chat/internal/handlers"
	"social-chat/internal/logging"
	"social-chat/internal/media"
	"social-chat/internal/middleware"
	"social-chat/internal/observability"
	"social-chat/internal/rabbitmq"
	"social-chat/internal/repositories"
	"social-chat/internal/telemetry"
	"social-chat/internal/ws"
)

// Module returns the fx module for the service, composing all providers and lifecycle hooks.
func Module(cfg *config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger}
		}),
		fx.Provide(
			provideLogger,
			provideDatabase,
			provideConversationRepo,
			provideMessageRepo,
			provideUserRepo,
			providePublisher,
			provideAuditEmitter,
			provideMediaRemover,
			provideVerifier,
			ws.NewRegistry,
			ws.NewHub,
			provideChatService,
			provideWSHandler,
			provideConversationHandler,
			provideRouter,
			provideGRPCServer,
		),
		fx.Invoke(registerTracing, registerLifecycle),
	)
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if cfg.Debug {
		level = "debug"
	}
	return logging.New(level, cfg.Service.Environment, cfg.Service.Name)
}

func provideDatabase(cfg *config.Config, logger *zap.Logger) (*sqlx.DB, error) {
	return db.Connect(cfg.Database.DSN, logger)
}

func provideConversationRepo(database *sqlx.DB) repositories.ConversationRepository {
	return repositories.NewConversationRepo(database)
}

func provideMessageRepo(database *sqlx.DB) repositories.MessageRepository {
	return repositories.NewMessageRepo(database)
}

func provideUserRepo(database *sqlx.DB) repositories.UserRepository {
	return repositories.NewUserRepo(database)
}

func providePublisher(cfg *config.Config, logger *zap.Logger) rabbitmq.Publisher {
	publisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, logger)
	observability.SetPublisher(publisher)
	return publisher
}

func provideAuditEmitter(cfg *config.Config, publisher rabbitmq.Publisher, logger *zap.Logger) *telemetry.AuditEmitter {
	return telemetry.NewAuditEmitter(publisher, cfg.AMQP.AuditRoutingKey, cfg.Service.Name, cfg.Service.Environment, logger)
}

func provideMediaRemover(cfg *config.Config, logger *zap.Logger) (media.Remover, error) {
	if cfg.Media.Backend == "object" {
		return media.NewObjectStore(media.ObjectStoreConfig{
			Endpoint:    cfg.Media.Endpoint,
			AccessKey:   cfg.Media.AccessKey,
			SecretKey:   cfg.Media.SecretKey,
			UseSSL:      cfg.Media.UseSSL,
			ImageBucket: cfg.Media.ImageBucket,
			VideoBucket: cfg.Media.VideoBucket,
		}, logger)
	}
	return media.NewLocalStore(cfg.Media.LocalRoot, cfg.Media.PublicPrefix, logger), nil
}

func provideVerifier(cfg *config.Config) *auth.TokenVerifier {
	return auth.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
}

func provideChatService(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	users repositories.UserRepository,
	hub *ws.Hub,
	remover media.Remover,
	audit *telemetry.AuditEmitter,
	logger *zap.Logger,
) *chat.Service {
	return chat.NewService(conversations, messages, users, hub, remover, audit, logger)
}

func provideWSHandler(cfg *config.Config, hub *ws.Hub, verifier *auth.TokenVerifier, service *chat.Service, logger *zap.Logger) *ws.Handler {
	return ws.NewHandler(hub, verifier, service, ws.Options{
		EventTimeout:   cfg.WS.EventTimeout,
		SendBuffer:     cfg.WS.SendBuffer,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	}, logger)
}

func provideConversationHandler(service *chat.Service, audit *telemetry.AuditEmitter, logger *zap.Logger) *handlers.ConversationHandler {
	return handlers.NewConversationHandler(service, audit, logger)
}

func provideRouter(cfg *config.Config, wsHandler *ws.Handler, conversations *handlers.ConversationHandler, verifier *auth.TokenVerifier, audit *telemetry.AuditEmitter) *gin.Engine {
	return newRouter(cfg, wsHandler, conversations, verifier, audit)
}

func newRouter(cfg *config.Config, wsHandler *ws.Handler, conversations *handlers.ConversationHandler, verifier *auth.TokenVerifier, audit *telemetry.AuditEmitter) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(otelgin.Middleware(cfg.Service.Name))
	router.Use(observability.RequestIDMiddleware())
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(gin.Recovery())

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/ws", wsHandler.Handle)
	if cfg.Media.Backend == "local" && cfg.Media.PublicPrefix != "" {
		router.Static(cfg.Media.PublicPrefix, cfg.Media.LocalRoot)
	}

	authorized := router.Group("/", middleware.AuthMiddleware(verifier))
	conversations.Register(authorized)

	handlers.RegisterDebugRoutes(router, audit, verifier, cfg.Debug)
	return router
}

func provideGRPCServer(cfg *config.Config, logger *zap.Logger) *grpcserver.Server {
	return grpcserver.New(cfg.GRPC.Addr, cfg.Service.Name, logger)
}

func registerTracing(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) error {
	shutdown, err := telemetry.InitTracing(context.Background(), cfg.Service.Name, cfg.Tracing.OTLPEndpoint)
	if err != nil {
		return err
	}
	if cfg.Tracing.OTLPEndpoint != "" {
		logger.Info("tracing enabled", zap.String("endpoint", cfg.Tracing.OTLPEndpoint))
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return shutdown(ctx)
		},
	})
	return nil
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	router *gin.Engine,
	grpcSrv *grpcserver.Server,
	hub *ws.Hub,
	service *chat.Service,
	publisher rabbitmq.Publisher,
	database *sqlx.DB,
	logger *zap.Logger,
) {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.HTTP.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-ID"},
		AllowCredentials: true,
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           corsHandler.Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if _, err := grpcSrv.Start(); err != nil {
				return err
			}
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			logger.Info("http server listening",
				zap.String("addr", cfg.HTTP.Addr),
				zap.String("amqp_mode", rabbitmq.PublisherMode(publisher)),
			)
			if reason := rabbitmq.PublisherNoopReason(publisher); reason != "" {
				logger.Warn("events are not published", zap.String("reason", reason))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := srv.Shutdown(ctx)
			hub.Shutdown()
			if derr := service.Drain(ctx); derr != nil {
				logger.Warn("media cleanup still pending", zap.Error(derr))
			}
			grpcSrv.Stop(ctx)
			if cerr := publisher.Close(); cerr != nil {
				logger.Warn("error closing publisher", zap.Error(cerr))
			}
			if cerr := database.Close(); cerr != nil {
				logger.Warn("error closing database", zap.Error(cerr))
			}
			logger.Info("chat service stopped")
			return err
		},
	})
}
