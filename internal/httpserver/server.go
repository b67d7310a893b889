// Package httpserver exposes the credits service as a thin JSON facade.
// Handlers only translate requests into domain calls; all invariants live
// in pkg/credits.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Avhad-Enterprises/mmv-credits/pkg/credits"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Run boots the HTTP facade and blocks until ctx is cancelled or the
// listener fails.
func Run(ctx context.Context, cfg Config, service *credits.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	handler := &httpHandler{
		logger:  logger,
		service: service,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("credits api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(handler.logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")

	api.POST("/users/:user_id/profile", handler.handleEnsureProfile)
	api.GET("/users/:user_id/balance", handler.handleBalance)
	api.GET("/users/:user_id/credits/history", handler.handleHistory)
	api.POST("/users/:user_id/signup-bonus", handler.handleSignupBonus)

	api.POST("/credits/deduct", handler.handleDeduct)
	api.POST("/payments/webhook", handler.handlePaymentWebhook)

	api.GET("/refunds/eligibility", handler.handleRefundEligibility)
	api.POST("/refunds", handler.handleRefund)

	api.GET("/packages", handler.handlePackages)
	api.GET("/settings/price-per-credit", handler.handleGetPrice)

	admin := api.Group("/admin")
	admin.Use(adminAuth(cfg.AdminJWTSecret, cfg.AdminJWTIssuer))
	admin.POST("/credits/add", handler.handleAdminAdd)
	admin.POST("/credits/deduct", handler.handleAdminDeduct)
	admin.POST("/projects/:project_id/refunds", handler.handleProjectRefunds)
	admin.PUT("/settings/price-per-credit", handler.handleUpdatePrice)

	return router
}

// requestLogger tags each request with a uuid and writes one access log line.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := uuid.NewString()
		ctx.Set("request_id", requestID)
		start := time.Now()
		ctx.Next()
		logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", ctx.Request.Method),
			zap.String("path", ctx.FullPath()),
			zap.Int("status", ctx.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
