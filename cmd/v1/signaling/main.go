package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/auth"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/config"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/health"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/middleware"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/ratelimit"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/room"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/tracing"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/transport"
)

const shutdownGrace = 5 * time.Second

var defaultDevOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

func main() {
	// .env is a local development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.IsDevelopment()); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "signaling-go", cfg.OTLPEndpoint)
		if err != nil {
			logging.Warn(ctx, "tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	registry := room.NewRegistry(room.Options{
		RouterEnabled: cfg.RouterEnabled,
		DebugSDP:      cfg.DebugSDP,
	})

	sweepCtx, cancelSweeps := context.WithCancel(context.Background())
	defer cancelSweeps()
	go registry.StartSweepers(sweepCtx)

	connLimiter, err := ratelimit.NewConnLimiter(cfg.RateLimitWsIP)
	if err != nil {
		logging.Fatal(ctx, "failed to build connection limiter", zap.Error(err))
	}

	var identity auth.IdentityHook = auth.PermissiveHook{}
	if cfg.AuthSecret != "" {
		identity = auth.NewJWTHook(cfg.AuthSecret)
	}

	allowedOrigins := auth.ParseAllowedOrigins(cfg.AllowedOrigins, defaultDevOrigins)
	hub := transport.NewHub(registry, identity, connLimiter, allowedOrigins)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// CORS and the hardening headers apply to the API surface only; the
	// WebSocket upgrade does its own origin check.
	api := router.Group("/")
	api.Use(middleware.SecurityHeaders())
	api.Use(cors.New(corsConfig(allowedOrigins)))
	if cfg.OTLPEndpoint != "" {
		api.Use(otelgin.Middleware("signaling-go"))
	}

	healthHandler := health.NewHandler(cfg, registry, hub)
	healthHandler.Register(api)
	api.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/ws", hub.ServeWs)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logging.Info(ctx, "signaling server listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info(context.Background(), "shutdown signal received")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Order matters: refuse new upgrades, announce and drain the existing
	// sockets, then stop HTTP and the sweepers.
	hub.StopAccepting()
	registry.Shutdown(drainCtx)
	hub.CloseAll()
	if err := srv.Shutdown(drainCtx); err != nil {
		logging.Warn(context.Background(), "http shutdown incomplete", zap.Error(err))
	}
	cancelSweeps()

	logging.Info(context.Background(), "shutdown complete")
}

func corsConfig(allowedOrigins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	c.AllowHeaders = []string{"Origin", "Content-Type", "Accept", middleware.HeaderXCorrelationID}

	for _, o := range allowedOrigins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = allowedOrigins
	return c
}
