// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourusername/campus-auth/internal/auth"
	"github.com/yourusername/campus-auth/internal/config"
	"github.com/yourusername/campus-auth/internal/logging"
	"github.com/yourusername/campus-auth/internal/metrics"
	"github.com/yourusername/campus-auth/internal/store"
)

const (
	serviceName    = "campus-auth-api"
	serviceVersion = "0.1.0"

	shutdownTimeout = 10 * time.Second
)

func main() {
	// 設定の読み込み
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(serviceName, serviceVersion, cfg.LogFormat, nil)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ストアに接続できなければ起動しない
	logger.Info("connecting to store", "driver", cfg.StoreDriver)
	gw, err := setupStore(ctx, cfg, logger)
	if err != nil {
		logging.LogError(logger, "application failed to start", err)
		os.Exit(1)
	}
	logger.Info("store connection successful", "driver", cfg.StoreDriver)

	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	var reg *prometheus.Registry
	if cfg.MetricsEnabled {
		reg = metrics.NewRegistry()
	}
	if err := setupMiddleware(router, cfg); err != nil {
		logging.LogError(logger, "application failed to start", err)
		_ = gw.Close(context.Background())
		os.Exit(1)
	}
	setupRoutes(router, cfg, gw, logger, reg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("API is live", "addr", srv.Addr, "mode", cfg.GinMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.LogError(logger, "server stopped with error", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.LogError(logger, "failed to shut down server", err)
	}
	if err := gw.Close(shutdownCtx); err != nil {
		logging.LogError(logger, "failed to disconnect store", err)
	}
}

// setupMiddleware は圧縮・CORS・リクエストID・セッションCookieのミドルウェアを登録します。
func setupMiddleware(router *gin.Engine, cfg *config.Config) error {
	// ClientIP はログイン制限のキーになるため、X-Forwarded-For は設定したプロキシ経由の場合だけ信頼する
	if err := router.SetTrustedProxies(cfg.TrustedProxies()); err != nil {
		return fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}

	router.Use(logging.RequestID())
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	corsConfig := cors.DefaultConfig()
	origins := cfg.AllowedOrigins()
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", logging.RequestIDHeader}
	corsConfig.ExposeHeaders = []string{logging.RequestIDHeader}
	router.Use(cors.New(corsConfig))

	// セッションIDを写す Cookie ストア（署名鍵がなければ Cookie は使わない）
	if cfg.SessionSecret != "" {
		cookieStore := cookie.NewStore([]byte(cfg.SessionSecret))
		cookieStore.Options(sessions.Options{
			Path:     "/",
			HttpOnly: true,
			Secure:   cfg.GinMode == gin.ReleaseMode,
			SameSite: http.SameSiteLaxMode,
		})
		router.Use(sessions.Sessions(auth.SessionCookieName, cookieStore))
	}
	return nil
}

// setupRoutes はヘルスチェック・メトリクス・認証 API の配線を行います。
func setupRoutes(router *gin.Engine, cfg *config.Config, gw store.Gateway, logger *slog.Logger, reg *prometheus.Registry) {
	router.GET("/health", healthHandler(gw))

	var authMetrics *metrics.Auth
	if reg != nil {
		authMetrics = metrics.NewAuth(reg)
		router.GET("/metrics", gin.WrapH(metrics.Handler(reg)))
	}

	svc := auth.NewService(gw, auth.NewBcryptHasher(cfg.BcryptCost))
	api := router.Group("/api")
	auth.RegisterRoutes(api, svc, auth.HandlerOptions{
		Throttle:      auth.NewThrottle(cfg.LoginMaxAttempts),
		Metrics:       authMetrics,
		Logger:        logger,
		SessionCookie: cfg.SessionSecret != "",
	})
}

// healthHandler はストアへの疎通も含めたヘルスチェックのハンドラーです。
func healthHandler(gw store.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := gw.Ping(ctx); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":  status,
			"service": serviceName,
			"version": serviceVersion,
		})
	}
}
