// Package web provides an HTTP status server for the humidity-fan daemon.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/journal"
	"github.com/sweeney/humidity-fan/internal/status"
)

// EventSource lists recent controller events.
type EventSource interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

const maxEventsLimit = 500

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	events     EventSource
	log        *zap.SugaredLogger

	done     chan struct{}
	doneOnce sync.Once
}

// New creates a Server that reads state from the given tracker. events may
// be nil when the journal is disabled.
func New(addr string, tracker *status.Tracker, events EventSource, log *zap.SugaredLogger) *Server {
	s := &Server{
		tracker: tracker,
		events:  events,
		log:     log,
		done:    make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/events.json", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWS)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown closes live websocket feeds and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.doneOnce.Do(func() { close(s.done) })
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := renderHTML(w, snap); err != nil {
		s.log.Warnw("render status page", "err", err)
	}
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// EventsJSON is the body of /events.json.
type EventsJSON struct {
	Events []journal.Entry `json:"events"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := journal.DefaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxEventsLimit {
			http.Error(w, "limit must be between 1 and "+strconv.Itoa(maxEventsLimit), http.StatusBadRequest)
			return
		}
		limit = n
	}

	body := EventsJSON{Events: []journal.Entry{}}
	if s.events != nil {
		entries, err := s.events.Recent(r.Context(), limit)
		if err != nil {
			s.log.Errorw("read journal", "err", err)
			http.Error(w, "journal unavailable", http.StatusInternalServerError)
			return
		}
		body.Events = append(body.Events, entries...)
	}

	w.Header().Set("Content-Type", "application/json")
	data, _ := json.MarshalIndent(body, "", "  ")
	w.Write(data)
}
