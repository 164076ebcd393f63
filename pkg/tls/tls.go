package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"go.uber.org/zap"
)

// Source holds the SPIRE X509 source shared by the HTTP server and the
// service clients of one process.
type Source struct {
	x509   *workloadapi.X509Source
	logger *zap.Logger
}

// NewSource connects to the SPIRE Workload API. A nil Source with nil error
// means TLS is disabled.
func NewSource(ctx context.Context, enabled bool, socketPath string, logger *zap.Logger) (*Source, error) {
	if !enabled {
		logger.Info("TLS is disabled")
		return nil, nil
	}

	// SPIRE Workload API를 통해 X509 소스 생성
	x509, err := workloadapi.NewX509Source(ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create X509Source: %w", err)
	}

	logger.Info("SPIRE TLS configuration loaded",
		zap.String("socket_path", socketPath),
		zap.Bool("mtls_enabled", true))
	return &Source{x509: x509, logger: logger}, nil
}

// ServerConfig is the mTLS config for the HTTP server, nil when disabled.
func (s *Source) ServerConfig() *tls.Config {
	if s == nil {
		return nil
	}
	cfg := tlsconfig.MTLSServerConfig(s.x509, s.x509, tlsconfig.AuthorizeAny())
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

// ClientConfig is the mTLS config for calls to the other services.
func (s *Source) ClientConfig() *tls.Config {
	if s == nil {
		return nil
	}
	cfg := tlsconfig.MTLSClientConfig(s.x509, s.x509, tlsconfig.AuthorizeAny())
	cfg.MinVersion = tls.VersionTLS12
	return cfg
}

// Watch logs the SVID status until ctx ends. Rotation itself is done by
// SPIRE, so there is nothing to reload.
func (s *Source) Watch(ctx context.Context, interval time.Duration) {
	if s == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		svid, err := s.x509.GetX509SVID()
		if err != nil {
			s.logger.Error("Failed to get X509 SVID", zap.Error(err))
			continue
		}
		s.logger.Info("Certificate status",
			zap.String("spiffe_id", svid.ID.String()),
			zap.Time("expiry", svid.Certificates[0].NotAfter),
			zap.Duration("ttl", time.Until(svid.Certificates[0].NotAfter)))
	}
}

func (s *Source) Close() error {
	if s == nil {
		return nil
	}
	return s.x509.Close()
}
