package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tu2l/identity-platform/internal/cache"
	"github.com/tu2l/identity-platform/internal/config"
	"github.com/tu2l/identity-platform/internal/gateway"
	"github.com/tu2l/identity-platform/internal/log"
	"github.com/tu2l/identity-platform/internal/middleware"
	"github.com/tu2l/identity-platform/internal/revocation"
	"github.com/tu2l/identity-platform/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "gateway")

	ctx := context.Background()

	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}

	codec := token.NewCodec(cfg.Security.JWTSecret, cfg.Security.Issuer, token.TTLConfig{
		Access:            cfg.Security.AccessTokenTTL,
		Refresh:           cfg.Security.RefreshTokenTTL,
		RememberMeRefresh: cfg.Security.RememberMeRefreshTTL,
		PasswordReset:     cfg.Security.PasswordResetTTL,
		EmailVerification: cfg.Security.EmailVerificationTTL,
	})

	classifier, err := gateway.NewClassifier(cfg.Gateway.PublicRoutes)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid public route pattern")
	}
	logger.Info().Strs("public_routes", classifier.Patterns()).Msg("route classifier ready")

	proxy, err := gateway.NewProxy(cfg.Gateway.Routes, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid upstream route")
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.CORS(cfg.AllowCORSOrigins),
		gateway.Classify(classifier, logger),
		gateway.Auth(codec, revocation.NewStore(redisClient), logger),
	)
	engine.NoRoute(proxy.Handler())

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      engine,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("gateway starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("gateway failed")
		}
	}()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("gateway exited cleanly")
}
