// Package server wires the broker to its two surfaces: the REST control
// plane for topic lifecycle and observability, and the /ws WebSocket channel
// for subscribe/publish traffic.
package server

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/adred-codev/topichub/internal/broker"
	"github.com/adred-codev/topichub/internal/config"
	"github.com/adred-codev/topichub/internal/metrics"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 5 * time.Second

	// Time allowed to read the next frame from the peer. The peer must show
	// activity (data or pong) within this window.
	pongWait = 30 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Server hosts the HTTP listener and owns the session lifecycle.
type Server struct {
	cfg    *config.Config
	logger zerolog.Logger
	broker *broker.Broker

	listener net.Listener
	httpSrv  *http.Server

	sessionsSem chan struct{} // admission semaphore, capacity MaxConnections
	sessions    sync.Map      // map[*session]struct{}
	sessionSeq  int64
	active      int64

	collector *metrics.Collector
	startTime time.Time

	wg           sync.WaitGroup
	shuttingDown int32
}

// New creates a server around a fresh broker.
func New(cfg *config.Config, logger zerolog.Logger) *Server {
	return &Server{
		cfg:         cfg,
		logger:      logger,
		broker:      broker.New(logger),
		sessionsSem: make(chan struct{}, cfg.MaxConnections),
		collector:   metrics.NewCollector(logger, cfg.MetricsInterval),
		startTime:   time.Now(),
	}
}

// Broker exposes the underlying broker, mainly for tests.
func (s *Server) Broker() *broker.Broker {
	return s.broker
}

// Handler builds the full route table: control plane, observability and the
// WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /topics", s.handleCreateTopic)
	mux.HandleFunc("GET /topics", s.handleListTopics)
	mux.HandleFunc("DELETE /topics/{name}", s.handleDeleteTopic)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("/ws", s.handleWebSocket)
	return mux
}

// Start binds the listener and begins serving. Non-blocking; Shutdown stops
// the server.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.httpSrv = &http.Server{
		Handler:        s.Handler(),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	s.logger.Info().
		Str("addr", listener.Addr().String()).
		Int("max_connections", s.cfg.MaxConnections).
		Msg("Server listening")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Server accept loop error")
		}
	}()

	s.collector.Start()
	return nil
}

// Addr returns the bound listen address, useful with ":0" configs.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting connections, waits up to the configured grace
// period for sessions to drain, then force-closes the remainder.
func (s *Server) Shutdown() error {
	s.logger.Info().Msg("Initiating graceful shutdown")
	atomic.StoreInt32(&s.shuttingDown, 1)

	if s.listener != nil {
		s.listener.Close()
	}

	remaining := atomic.LoadInt64(&s.active)
	s.logger.Info().
		Int64("active_sessions", remaining).
		Dur("grace_period", s.cfg.ShutdownGrace).
		Msg("Draining active sessions")

	deadline := time.NewTimer(s.cfg.ShutdownGrace)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer deadline.Stop()
	defer ticker.Stop()

drain:
	for atomic.LoadInt64(&s.active) > 0 {
		select {
		case <-deadline.C:
			break drain
		case <-ticker.C:
		}
	}

	if remaining := atomic.LoadInt64(&s.active); remaining > 0 {
		s.logger.Warn().
			Int64("remaining_sessions", remaining).
			Msg("Grace period expired, force closing remaining sessions")
		s.sessions.Range(func(key, _ any) bool {
			key.(*session).Close(int(ws.StatusGoingAway))
			return true
		})
	}

	s.collector.Stop()
	s.wg.Wait()

	s.logger.Info().Msg("Graceful shutdown completed")
	return nil
}

// handleWebSocket admits and upgrades a connection, then hands it to a
// session's read loop and write pump.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		http.Error(w, "Server is shutting down", http.StatusServiceUnavailable)
		return
	}

	select {
	case s.sessionsSem <- struct{}{}:
	default:
		metrics.ConnectionRejected()
		s.logger.Warn().
			Int64("active_sessions", atomic.LoadInt64(&s.active)).
			Int("max_connections", s.cfg.MaxConnections).
			Msg("Connection rejected - server at capacity")
		http.Error(w, "Server at capacity", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		<-s.sessionsSem
		metrics.ConnectionRejected()
		s.logger.Error().
			Err(err).
			Str("remote_addr", r.RemoteAddr).
			Msg("Failed to upgrade connection")
		return
	}

	id := atomic.AddInt64(&s.sessionSeq, 1)
	c := &session{
		id:          id,
		conn:        conn,
		logger:      s.logger.With().Int64("session_id", id).Logger(),
		send:        make(chan outbound, s.cfg.SendBufferSize),
		done:        make(chan struct{}),
		state:       stateConnected,
		limiter:     rate.NewLimiter(rate.Limit(s.cfg.FrameRatePerSec), s.cfg.FrameRateBurst),
		connectedAt: time.Now(),
	}

	s.sessions.Store(c, struct{}{})
	atomic.AddInt64(&s.active, 1)
	metrics.ConnectionOpened()
	c.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("Session accepted")

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer s.wg.Done()
		s.readLoop(c)
	}()
}

// releaseSession tears down bookkeeping after a session's read loop exits.
func (s *Server) releaseSession(c *session) {
	s.sessions.Delete(c)
	atomic.AddInt64(&s.active, -1)
	metrics.ConnectionClosed()
	<-s.sessionsSem

	c.logger.Info().
		Str("client_id", c.clientID).
		Dur("connection_duration", time.Since(c.connectedAt)).
		Msg("Session closed")
}
