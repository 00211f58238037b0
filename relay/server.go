// Package relay wires the registry, classifier and last-scan cache behind a
// single event loop and serves them over HTTP and websocket.
package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chloezql/breakingnews-sub001/cache"
	"github.com/chloezql/breakingnews-sub001/domain"
	"github.com/chloezql/breakingnews-sub001/hub"
	"github.com/chloezql/breakingnews-sub001/protocol"
	ws "github.com/chloezql/breakingnews-sub001/websocket"
)

const (
	eventBuffer     = 1024
	shutdownTimeout = 5 * time.Second
	requestTimeout  = 10 * time.Second
)

type Config struct {
	Bind           string
	Port           int
	Chime          bool
	ChimeOut       io.Writer
	Roles          protocol.RoleMap
	SendBuffer     int
	MaxMessageSize int64
	Profile        bool
	Version        string
}

// Status is the operator view served on /status.
type Status struct {
	ConnectedCount int    `json:"connectedCount"`
	LastCardID     string `json:"lastCardId"`
}

type eventKind int

const (
	eventRegister eventKind = iota
	eventUnregister
	eventMessage
)

type event struct {
	kind eventKind
	conn domain.Connection
	data []byte
}

// Server owns the registry and the last-scan cache. Every transport event
// goes through one goroutine (Run), so messages from a connection are
// handled in the order they arrived.
type Server struct {
	cfg      Config
	registry *hub.Registry
	lastScan *cache.LastScan
	handler  domain.MessageHandler
	metrics  *Metrics
	chime    *Chime

	events chan event
	done   chan struct{}
}

func New(cfg Config) *Server {
	s := &Server{
		cfg:      cfg,
		registry: hub.New(),
		lastScan: cache.New(),
		events:   make(chan event, eventBuffer),
		done:     make(chan struct{}),
	}
	s.metrics = newMetrics(s.registry)
	if cfg.Chime {
		s.chime = NewChime(cfg.ChimeOut)
	}
	s.handler = protocol.NewHandler(s.registry, s.lastScan, cfg.Roles, protocol.WithObserver(s))
	return s
}

func (s *Server) Register(conn domain.Connection) {
	s.post(event{kind: eventRegister, conn: conn})
}

func (s *Server) Unregister(conn domain.Connection) {
	s.post(event{kind: eventUnregister, conn: conn})
}

func (s *Server) Dispatch(conn domain.Connection, data []byte) {
	s.post(event{kind: eventMessage, conn: conn, data: data})
}

func (s *Server) post(ev event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// Run processes events until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.process(ev)
		}
	}
}

func (s *Server) process(ev event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panic", "connId", ev.conn.ID(), "panic", r)
			s.metrics.panics.Inc()
		}
	}()

	switch ev.kind {
	case eventRegister:
		s.registry.Register(ev.conn)
		s.metrics.accepted.Inc()
	case eventUnregister:
		s.registry.Unregister(ev.conn)
	case eventMessage:
		s.handler.Handle(ev.conn, ev.data)
	}
}

func (s *Server) Status() Status {
	st := Status{ConnectedCount: s.registry.Count()}
	if ev, ok := s.lastScan.Load(); ok {
		st.LastCardID = ev.CardID
	}
	return st
}

// ScanAccepted implements protocol.Observer.
func (s *Server) ScanAccepted(ev domain.ScanEvent, delivered, failed int) {
	s.metrics.scans.Inc()
	s.metrics.deliveries.WithLabelValues("delivered").Add(float64(delivered))
	s.metrics.deliveries.WithLabelValues("failed").Add(float64(failed))
	s.chime.Ring()
}

// MessageRejected implements protocol.Observer.
func (s *Server) MessageRejected(reason string) {
	s.metrics.rejected.WithLabelValues(reason).Inc()
}

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Bind, strconv.Itoa(s.cfg.Port))
}

// ListenAndServe runs the event loop and the HTTP server until ctx is done.
// Open sockets are not drained on shutdown; clients reconnect on their own.
func (s *Server) ListenAndServe(ctx context.Context) error {
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go s.Run(loopCtx)

	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: requestTimeout,
	}

	errs := make(chan error, 1)
	go func() {
		slog.Info("relay starting", "addr", srv.Addr, "version", s.cfg.Version, "chime", s.cfg.Chime)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("relay shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func (s *Server) connOptions() ws.Options {
	return ws.Options{
		MaxMessageSize: s.cfg.MaxMessageSize,
		SendBuffer:     s.cfg.SendBuffer,
	}
}
