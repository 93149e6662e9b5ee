// Package server exposes the fanout engine to browser clients: a minimal
// chat page, a form endpoint inserting rows (which come back around through
// the CDC feed), and live streaming endpoints over SSE and websockets.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/edgeflare/pgfan/pkg/fanout"
	"github.com/edgeflare/pgfan/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Options configures the demo server.
type Options struct {
	ListenAddr string
	// Table receives rows from POST /messages and provides the index
	// snapshot
	Table        string
	CursorPolicy fanout.CursorPolicy
	PollInterval time.Duration
}

// Server handles the web surface. The pool may be nil when the process has
// no direct database access (eg the NATS source topology); the page then
// renders without a snapshot and message submission is unavailable.
type Server struct {
	manager *fanout.Manager
	pool    *pgxpool.Pool
	logger  *zap.Logger
	opts    Options
}

func New(manager *fanout.Manager, pool *pgxpool.Pool, opts Options, logger *zap.Logger) *Server {
	if opts.Table == "" {
		opts.Table = "messages"
	}
	if logger == nil {
		logger = zap.L()
	}
	return &Server{
		manager: manager,
		pool:    pool,
		opts:    opts,
		logger:  logger,
	}
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /messages", s.handleSubmit)
	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.opts.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 3 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", zap.String("addr", s.opts.ListenAddr))
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type message struct {
	Text      string
	CreatedAt string
	ID        int64
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var messages []message

	if s.pool != nil {
		query := "SELECT id, text, created_at::text FROM " +
			pgx.Identifier{s.opts.Table}.Sanitize() + " ORDER BY created_at ASC"
		rows, err := s.pool.Query(r.Context(), query)
		if err != nil {
			s.logger.Error("snapshot query failed", zap.Error(err))
			http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var m message
			if err := rows.Scan(&m.ID, &m.Text, &m.CreatedAt); err != nil {
				s.logger.Error("snapshot scan failed", zap.Error(err))
				http.Error(w, "snapshot unavailable", http.StatusInternalServerError)
				return
			}
			messages = append(messages, m)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, map[string]any{"Messages": messages}); err != nil {
		s.logger.Error("render index failed", zap.Error(err))
	}
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.pool == nil {
		http.Error(w, "no database configured", http.StatusServiceUnavailable)
		return
	}

	text := r.PostFormValue("text")
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	query := "INSERT INTO " + pgx.Identifier{s.opts.Table}.Sanitize() + " (text) VALUES ($1)"
	if _, err := s.pool.Exec(r.Context(), query, text); err != nil {
		s.logger.Error("insert failed", zap.Error(err))
		http.Error(w, "insert failed", http.StatusInternalServerError)
		return
	}

	// the row returns through the CDC feed; SSE updates the page
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sse, err := transport.NewSSE(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sub := s.manager.Register(s.opts.CursorPolicy)
	loop := fanout.NewDeliveryLoop(s.manager, sub, sse, s.opts.PollInterval, s.logger)

	// Run blocks until the client disconnects (request context) or a
	// write fails; either way the subscriber is released.
	if err := loop.Run(r.Context()); err != nil {
		s.logger.Debug("sse client gone", zap.String("subscriber", sub.ID), zap.Error(err))
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// demo page is served from the same origin; everything else is a
	// cross-origin embed of it, which is fine here
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// read pump: we never expect client messages, but reading is the only
	// way to learn the peer closed the socket
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := s.manager.Register(s.opts.CursorPolicy)
	loop := fanout.NewDeliveryLoop(s.manager, sub, transport.NewWebSocket(conn), s.opts.PollInterval, s.logger)

	if err := loop.Run(ctx); err != nil {
		s.logger.Debug("websocket client gone", zap.String("subscriber", sub.ID), zap.Error(err))
	}
}
