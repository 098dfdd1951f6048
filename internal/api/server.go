// Package api serves the dashboard HTTP API and proxies traffic to running
// dashboards.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/orangebricks/autodash/internal/audit"
	"github.com/orangebricks/autodash/internal/config"
	"github.com/orangebricks/autodash/internal/modelinfo"
	"github.com/orangebricks/autodash/internal/registry"
	"github.com/orangebricks/autodash/internal/translate"
)

// defaultLogLines is how many output lines /dashboards/logs returns when
// the request does not say.
const defaultLogLines = 100

// SecretReader looks up a secret on behalf of a request.
type SecretReader interface {
	GetForRequest(key, requestID string) (string, error)
}

// TranslatorFactory builds a translator for one request.
type TranslatorFactory func(translate.Config) (translate.Translator, error)

// Server serves the autodash REST API.
type Server struct {
	registry      *registry.Registry
	secrets       SecretReader
	audit         *audit.Logger
	model         config.OpenAI
	newTranslator TranslatorFactory
	limiter       *rate.Limiter

	listener net.Listener
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithSecrets sets where the model API key is looked up when the
// configuration does not carry one.
func WithSecrets(s SecretReader) Option {
	return func(srv *Server) {
		srv.secrets = s
	}
}

// WithAudit records translations to the given audit log.
func WithAudit(l *audit.Logger) Option {
	return func(srv *Server) {
		srv.audit = l
	}
}

// WithModel sets the model configuration used by /translate and reported
// by /model-info.
func WithModel(m config.OpenAI) Option {
	return func(srv *Server) {
		srv.model = m
	}
}

// WithTranslatorFactory replaces the OpenAI client used by /translate.
func WithTranslatorFactory(f TranslatorFactory) Option {
	return func(srv *Server) {
		srv.newTranslator = f
	}
}

// WithTranslateRate caps /translate to perSecond requests per second.
// Zero or less means unlimited.
func WithTranslateRate(perSecond float64) Option {
	return func(srv *Server) {
		if perSecond <= 0 {
			srv.limiter = nil
			return
		}
		srv.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewServer creates an API server backed by the given registry.
func NewServer(reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		logger:   slog.With("component", "api"),
		newTranslator: func(cfg translate.Config) (translate.Translator, error) {
			return translate.New(cfg)
		},
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /dashboards", s.listDashboards)
	mux.HandleFunc("POST /dashboards", s.startDashboard)
	mux.HandleFunc("DELETE /dashboards", s.stopDashboard)
	mux.HandleFunc("POST /dashboards/restart", s.restartDashboard)
	mux.HandleFunc("GET /dashboards/logs", s.dashboardLogs)
	mux.HandleFunc("GET /model-info", s.modelInfo)
	mux.HandleFunc("POST /translate", s.translate)
	mux.HandleFunc("GET /health", s.health)
	mux.Handle("/proxy/{port}/", http.HandlerFunc(s.proxy))

	s.handler = s.withRequestID(mux)
	s.server = &http.Server{Handler: s.handler}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenTCP starts the server on a TCP address.
func (s *Server) ListenTCP(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	s.logger.Info("API listening", "addr", ln.Addr().String())
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type fileRequest struct {
	File string `json:"file"`
	Type string `json:"type"`
}

func decodeFile(r *http.Request, needType bool) (fileRequest, error) {
	var req fileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body: %w", err)
	}
	if req.File == "" {
		return req, errors.New("invalid request body: file is required")
	}
	if needType && req.Type == "" {
		return req, errors.New("invalid request body: type is required")
	}
	return req, nil
}

func (s *Server) listDashboards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) startDashboard(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFile(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	d, err := s.registry.Start(r.Context(), req.File, req.Type)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": d.ProxyURL()})
}

// stopDashboard always answers stopped: a request naming nothing stops
// nothing.
func (s *Server) stopDashboard(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFile(r, false)
	if err != nil {
		s.logger.Info("nothing to stop", "error", err)
	} else {
		s.registry.Stop(req.File)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) restartDashboard(w http.ResponseWriter, r *http.Request) {
	req, err := decodeFile(r, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.registry.Restart(r.Context(), req.File); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarted"})
}

func (s *Server) dashboardLogs(w http.ResponseWriter, r *http.Request) {
	file := r.URL.Query().Get("file")
	n := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			s.fail(w, r, fmt.Errorf("invalid lines %q", v))
			return
		}
		n = parsed
	}
	lines, err := s.registry.Logs(file, n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"lines": lines})
}

func (s *Server) modelInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, modelinfo.Detect(s.model.Model, s.model.APIURL, s.model.APIKey != ""))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// fail reports err as a 500 with an {error} body.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
