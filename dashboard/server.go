package dashboard

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"goji.io"
	"goji.io/pat"

	"github.com/team3128/robot/logging"
	"github.com/team3128/robot/utils"
)

// Server exposes a Dashboard over HTTP.
//
//	GET /dashboard             every tab
//	GET /dashboard/:tab        one tab
//	PUT /dashboard/:tab/:name  {"value": x} sets a debug channel
//	GET /tests                 self-test results, if a report is set
type Server struct {
	dashboard *Dashboard
	logger    logging.Logger

	reportMu sync.Mutex
	report   func() interface{}

	mu         sync.Mutex
	httpServer *http.Server
	addr       net.Addr
	workers    *utils.Workers
}

// NewServer returns a server for d. It does not listen until Start.
func NewServer(d *Dashboard, logger logging.Logger) *Server {
	return &Server{dashboard: d, logger: logger}
}

// Handler returns the routes, wrapped to allow any origin.
func (s *Server) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Get("/dashboard"), s.handleAll)
	mux.HandleFunc(pat.Get("/dashboard/:tab"), s.handleTab)
	mux.HandleFunc(pat.Put("/dashboard/:tab/:name"), s.handleSet)
	mux.HandleFunc(pat.Get("/tests"), s.handleTests)
	return cors.AllowAll().Handler(mux)
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.dashboard.Snapshot())
}

func (s *Server) handleTab(w http.ResponseWriter, r *http.Request) {
	snap, err := s.dashboard.Tab(pat.Param(r, "tab"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

// SetTestReport makes report the source of GET /tests.
func (s *Server) SetTestReport(report func() interface{}) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()
	s.report = report
}

func (s *Server) handleTests(w http.ResponseWriter, r *http.Request) {
	s.reportMu.Lock()
	report := s.report
	s.reportMu.Unlock()
	if report == nil {
		s.writeError(w, errors.Wrap(ErrNotFound, "no test report"))
		return
	}
	s.writeJSON(w, http.StatusOK, report())
}

type setRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == nil {
		http.Error(w, "body must be {\"value\": number}", http.StatusBadRequest)
		return
	}
	if err := s.dashboard.Set(pat.Param(r, "tab"), pat.Param(r, "name"), *req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ErrReadOnly):
		http.Error(w, err.Error(), http.StatusMethodNotAllowed)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("failed to write dashboard response", "error", err)
	}
}

// Start listens on addr and serves until Close.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer != nil {
		return errors.New("dashboard server already started")
	}
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", addr)
	}
	s.addr = listener.Addr()
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpServer := s.httpServer
	s.workers = utils.NewWorkers(context.Background(), func(ctx context.Context) {
		if err := httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("dashboard server stopped", "error", err)
		}
	})
	s.logger.Infow("dashboard serving", "addr", s.addr.String())
	return nil
}

// Addr returns the address the server is listening on, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close shuts the server down.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.workers.Stop()
	s.httpServer = nil
	return err
}
