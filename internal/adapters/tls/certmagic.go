// Package tls serves the API over HTTPS with certificates managed by
// CertMagic using Azure DNS-01 challenges.
package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/caddyserver/certmagic"
	"github.com/libdns/azure"

	"github.com/vrabczak/BuildingRadar/internal/config"
)

// Server wraps an HTTP server with automatic TLS.
type Server struct {
	config    config.TLSConfig
	magic     *certmagic.Config
	server    *http.Server
	logger    *slog.Logger
	tlsConfig *tls.Config
}

// NewServer creates a TLS server for handler. With TLS disabled it serves
// plain HTTP.
func NewServer(cfg config.TLSConfig, srv config.ServerConfig, handler http.Handler, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		server: &http.Server{
			Addr:              srv.Address(),
			Handler:           handler,
			ReadTimeout:       srv.ReadTimeout,
			WriteTimeout:      srv.WriteTimeout,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if !cfg.Enabled {
		return s, nil
	}

	if len(cfg.Domains) == 0 {
		return nil, errors.New("TLS enabled but no domains specified")
	}
	if cfg.Email == "" {
		return nil, errors.New("TLS enabled but no email specified")
	}

	certmagic.DefaultACME.Agreed = true
	certmagic.DefaultACME.Email = cfg.Email
	if cfg.Staging {
		certmagic.DefaultACME.CA = certmagic.LetsEncryptStagingCA
	}
	if cfg.CacheDir != "" {
		certmagic.Default.Storage = &certmagic.FileStorage{Path: cfg.CacheDir}
	}

	certmagic.DefaultACME.DNS01Solver = &certmagic.DNS01Solver{
		DNSManager: certmagic.DNSManager{
			DNSProvider: &azure.Provider{
				SubscriptionId:    cfg.DNS.SubscriptionID,
				ResourceGroupName: cfg.DNS.ResourceGroupName,
				ClientId:          cfg.DNS.ClientID, // empty = system assigned managed identity
			},
		},
	}

	s.magic = certmagic.NewDefault()
	s.tlsConfig = s.magic.TLSConfig()
	s.tlsConfig.NextProtos = append([]string{"h2", "http/1.1"}, s.tlsConfig.NextProtos...)
	s.server.TLSConfig = s.tlsConfig

	return s, nil
}

// ListenAndServe serves until Shutdown, over TLS when enabled.
func (s *Server) ListenAndServe() error {
	var err error
	if s.config.Enabled {
		s.logger.Info("starting HTTPS server", "address", s.server.Addr, "domains", s.config.Domains)
		err = s.server.ListenAndServeTLS("", "")
	} else {
		s.logger.Info("starting HTTP server (TLS disabled)", "address", s.server.Addr)
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// TLSConfig returns the TLS configuration, nil when TLS is disabled.
func (s *Server) TLSConfig() *tls.Config {
	return s.tlsConfig
}

// ManageCertificates obtains certificates for the configured domains
// before the listener starts.
func (s *Server) ManageCertificates(ctx context.Context) error {
	if !s.config.Enabled {
		return nil
	}

	s.logger.Info("obtaining certificates", "domains", s.config.Domains)
	if err := s.magic.ManageSync(ctx, s.config.Domains); err != nil {
		return fmt.Errorf("managing certificates: %w", err)
	}
	s.logger.Info("certificates obtained")
	return nil
}
