// Package http exposes the facilitator over HTTP.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/x402-foundation/x402-multiversx"
)

const (
	DefaultVerifyTimeout = 30 * time.Second
	DefaultSettleTimeout = 60 * time.Second
	shutdownTimeout      = 15 * time.Second
)

// Facilitator is what the server needs from the payment facilitator
type Facilitator interface {
	Verify(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.VerifyResponse, error)
	Settle(ctx context.Context, payload x402.PaymentPayload, requirements x402.PaymentRequirements) (x402.SettleResponse, error)
	GetSupported() x402.SupportedResponse
}

// Server serves /verify, /settle, /supported, /health and /metrics
type Server struct {
	facilitator   Facilitator
	logger        *zap.Logger
	verifyTimeout time.Duration
	settleTimeout time.Duration
	metrics       http.Handler
	observe       RequestObserver
	engine        *gin.Engine
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithLogger sets the logger used for access logs and errors
func WithLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithTimeouts bounds verify and settle handling. Non-positive values keep the defaults.
func WithTimeouts(verify, settle time.Duration) ServerOption {
	return func(s *Server) {
		if verify > 0 {
			s.verifyTimeout = verify
		}
		if settle > 0 {
			s.settleTimeout = settle
		}
	}
}

// WithMetricsHandler mounts h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(s *Server) {
		s.metrics = h
	}
}

// WithRequestObserver reports every request, e.g. to metrics
func WithRequestObserver(observe RequestObserver) ServerOption {
	return func(s *Server) {
		s.observe = observe
	}
}

// NewServer builds the gin engine around facilitator
func NewServer(facilitator Facilitator, opts ...ServerOption) *Server {
	s := &Server{
		facilitator:   facilitator,
		logger:        zap.NewNop(),
		verifyTimeout: DefaultVerifyTimeout,
		settleTimeout: DefaultSettleTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(requestID(), accessLog(s.logger, s.observe), recovery(s.logger))

	r.GET("/health", s.health)
	r.GET("/supported", s.supported)
	r.POST("/verify", s.verify)
	r.POST("/settle", s.settle)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics))
	}

	s.engine = r
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("facilitator listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down facilitator")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
