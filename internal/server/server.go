package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/dmorgan81/stabilitystudio/internal/feed"
	"github.com/dmorgan81/stabilitystudio/internal/handler"
	"github.com/dmorgan81/stabilitystudio/internal/image"
	"github.com/dmorgan81/stabilitystudio/internal/log"
	"github.com/dmorgan81/stabilitystudio/internal/metrics"
	"github.com/dmorgan81/stabilitystudio/internal/page"
	"github.com/dmorgan81/stabilitystudio/internal/prompt"
	"github.com/dmorgan81/stabilitystudio/internal/session"
	"github.com/dmorgan81/stabilitystudio/internal/store"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

type Server struct {
	session   *session.Session
	store     *store.FileStore
	feed      *feed.Generator
	templator *page.Templator
	upgrader  websocket.Upgrader
	hub       *hub
}

func New(s *session.Session, fs *store.FileStore, fg *feed.Generator, t *page.Templator) *Server {
	return &Server{
		session:   s,
		store:     fs,
		feed:      fg,
		templator: t,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		hub: newHub(),
	}
}

func NewServer(i *do.Injector) (*Server, error) {
	return New(
		do.MustInvoke[*session.Session](i),
		do.MustInvoke[*store.FileStore](i),
		do.MustInvoke[*feed.Generator](i),
		do.MustInvoke[*page.Templator](i),
	), nil
}

// Handler builds the router. ctx supplies the logger for every request.
func (s *Server) Handler(ctx context.Context) http.Handler {
	r := mux.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(log.NewContext(req.Context(), log.FromContextOrDiscard(ctx))))
		})
	})
	r.Use(withMetrics)

	r.HandleFunc("/", s.handleGallery).Methods(http.MethodGet)
	r.HandleFunc("/feed.xml", s.handleFeed).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/generations", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/artifacts", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{id}/image", s.handleImage).Methods(http.MethodGet)
	api.HandleFunc("/artifacts/{id}/save", s.handleSave).Methods(http.MethodPost)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler())

	return handlers.CORS(
		handlers.AllowedOrigins([]string{"*"}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
	)(handlers.RecoveryHandler()(r))
}

// Pump forwards session events to every connected websocket until ctx is done
// or the session stops.
func (s *Server) Pump(ctx context.Context) {
	log := log.FromContextOrDiscard(ctx).WithGroup("server")
	for {
		select {
		case <-ctx.Done():
			s.hub.closeAll()
			return
		case <-s.session.Done():
			s.hub.closeAll()
			return
		case ev := <-s.session.Events():
			log.Info("session event", "task", ev.Task, "kind", ev.Kind, "message", ev.Message)
			s.hub.broadcast(ctx, ev)
		}
	}
}

// ListenAndServe runs the HTTP server until ctx is cancelled, then shuts it down.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("server").With("addr", addr)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go s.Pump(ctx)

	errs := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server")
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errs; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				path = tmpl
			}
		}
		metrics.ObserveRequest(r.Method, path, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// GET /
func (s *Server) handleGallery(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	html, err := s.templator.Template(r.Context(), page.Params{
		Title:   "Stability Studio",
		Styles:  prompt.Styles(),
		Entries: page.EntriesFrom(persisted, imageURL),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(html)
}

func imageURL(id string) string {
	return fmt.Sprintf("/api/v1/artifacts/%s/image", id)
}

// GET /feed.xml
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	rss, err := s.feed.Generate(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/rss+xml")
	_, _ = w.Write(rss)
}

// POST /api/v1/generations
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var input handler.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}

	id, err := s.session.Submit(r.Context(), input)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"task": string(id), "state": session.InFlight.String()})
	case image.IsValidationError(err):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, session.ErrInFlight):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, session.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

// GET /api/v1/state
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	state, err := s.session.State(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]session.State{"state": state})
}

// GET /api/v1/artifacts
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	persisted, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if persisted == nil {
		persisted = []store.Persisted{}
	}
	writeJSON(w, http.StatusOK, persisted)
}

// GET /api/v1/artifacts/{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GET /api/v1/artifacts/{id}/image
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	f, err := s.store.Open(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

type saveReq struct {
	Destination string `json:"destination"`
}

// POST /api/v1/artifacts/{id}/save
func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("bad request body: %w", err))
		return
	}
	if strings.TrimSpace(req.Destination) == "" {
		writeError(w, http.StatusBadRequest, errors.New("destination is required"))
		return
	}
	if err := s.store.SaveAs(r.Context(), mux.Vars(r)["id"], req.Destination); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/v1/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"ts": time.Now().UTC(),
	})
}

func statusFor(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
