package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fusionbot/pkg/bus"
	"fusionbot/pkg/config"
	"fusionbot/pkg/pipeline"
)

const (
	defaultHost = "0.0.0.0"
	defaultPort = 8080

	healthCheckInterval = 30 * time.Second
	minShutdownTimeout  = 5 * time.Second
	maxEventBodyBytes   = 1 << 20
)

// EventHandler answers one decoded Slack delivery.
type EventHandler interface {
	Handle(ctx context.Context, in pipeline.Inbound) (pipeline.Decision, error)
}

// HealthChecker reports whether the completion backend is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Service struct {
	cfg     *config.Config
	log     *slog.Logger
	handler EventHandler
	health  HealthChecker
	events  *bus.Bus

	mu               sync.RWMutex
	startedAt        time.Time
	listening        bool
	providerLastOKAt time.Time
	providerLastErr  string
}

type statusResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Listening        bool   `json:"listening"`
	ProviderLastOKAt string `json:"provider_last_ok_at,omitempty"`
	ProviderLastErr  string `json:"provider_last_error,omitempty"`
}

func NewService(cfg *config.Config, handler EventHandler, health HealthChecker, events *bus.Bus, log *slog.Logger) (*Service, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if handler == nil {
		return nil, errors.New("event handler is required")
	}
	if health == nil {
		return nil, errors.New("health checker is required")
	}
	if log == nil {
		log = slog.Default()
	}

	return &Service{
		cfg:     cfg,
		log:     log.With("component", "gateway.service"),
		handler: handler,
		health:  health,
		events:  events,
	}, nil
}

// Run serves the webhook until ctx is canceled. The provider must be healthy
// at startup.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	if err := s.checkProviderHealth(ctx); err != nil {
		return err
	}

	if s.events != nil {
		go bus.Observe(ctx, s.events, s.log)
	}

	listener, err := net.Listen("tcp", s.address())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address(), err)
	}

	serverErrors := make(chan error, 1)
	served := make(chan struct{})
	go func() {
		defer close(served)
		s.serve(ctx, listener, serverErrors)
	}()

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			<-served
			return nil
		case err := <-serverErrors:
			return err
		case <-ticker.C:
			if err := s.checkProviderHealth(ctx); err != nil {
				s.log.Warn("Provider health check failed", "error", err)
			}
		}
	}
}

// serve returns once the listener is closed and, after cancellation, once
// in-flight requests have drained or the shutdown timeout has passed.
func (s *Service) serve(ctx context.Context, listener net.Listener, errCh chan<- error) {
	server := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("Gateway shutdown did not drain", "error", err)
		}
	}()

	s.setListening(true)
	defer s.setListening(false)

	s.log.Info("Gateway server started", "address", listener.Addr().String())
	err := server.Serve(listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("serve gateway: %w", err)
		return
	}

	<-shutdownDone
	s.log.Info("Gateway server stopped")
}

// shutdownTimeout covers one full pipeline run: gather, history, synthesis
// and publish each get a request timeout.
func (s *Service) shutdownTimeout() time.Duration {
	if timeout := 4 * s.cfg.Pipeline.RequestTimeout(); timeout > minShutdownTimeout {
		return timeout
	}
	return minShutdownTimeout
}

func (s *Service) address() string {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultPort
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	providerLastOK := ""
	if !s.providerLastOKAt.IsZero() {
		providerLastOK = s.providerLastOKAt.Format(time.RFC3339)
	}

	return statusResponse{
		Status:           status,
		UptimeSeconds:    uptime,
		Listening:        s.listening,
		ProviderLastOKAt: providerLastOK,
		ProviderLastErr:  s.providerLastErr,
	}
}

func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.listening {
		return false
	}
	if s.providerLastOKAt.IsZero() {
		return false
	}

	return s.providerLastErr == ""
}

func (s *Service) checkProviderHealth(ctx context.Context) error {
	if err := s.health.Health(ctx); err != nil {
		s.mu.Lock()
		s.providerLastErr = err.Error()
		s.mu.Unlock()
		return fmt.Errorf("provider health check failed: %w", err)
	}

	s.mu.Lock()
	s.providerLastErr = ""
	s.providerLastOKAt = time.Now().UTC()
	s.mu.Unlock()

	return nil
}

func (s *Service) setListening(listening bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listening = listening
}
