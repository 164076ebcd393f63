package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/discovery"
	"github.com/cloud-wave-best-zizon/fulfillment-service/internal/handler"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/config"
	"github.com/cloud-wave-best-zizon/fulfillment-service/pkg/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// NewRouter returns a gin engine with the common middleware and /health.
func NewRouter(cfg *config.Config, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Tracing(cfg.ServiceName))
	router.GET("/health", handler.Health)
	return router
}

// Run serves router until ctx is cancelled, registering with Consul while
// it is up when a registrar is given.
func Run(ctx context.Context, cfg *config.Config, router http.Handler, tlsConfig *tls.Config, consul *discovery.ConsulClient, logger *zap.Logger) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		return fmt.Errorf("invalid PORT %q: %w", cfg.Port, err)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting server",
			zap.String("port", cfg.Port),
			zap.Bool("tls", tlsConfig != nil))
		var err error
		if tlsConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	serviceID := ""
	if consul != nil {
		serviceID = fmt.Sprintf("%s-%s", cfg.ServiceName, cfg.ClientID())
		if err := consul.Register(discovery.ServiceConfig{
			Name: cfg.ServiceName,
			ID:   serviceID,
			Port: port,
			Tags: []string{"api", "v1"},
		}); err != nil {
			logger.Warn("Failed to register with Consul", zap.Error(err))
			serviceID = ""
		}
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	if serviceID != "" {
		if err := consul.Deregister(serviceID); err != nil {
			logger.Warn("Failed to deregister from Consul", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
