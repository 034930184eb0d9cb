// Package web serves the planning API: owners' blocks, items and manual busy
// time go in, runs are triggered, and placed instances come out as JSON or
// as a subscribable ICS calendar.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dayplan/internal/config"
	"dayplan/internal/lock"
	appLog "dayplan/internal/log"
	"dayplan/internal/metrics"
	"dayplan/internal/model"
	"dayplan/internal/planner"
	"dayplan/internal/store"
)

// maxBodyBytes bounds request documents.
const maxBodyBytes = 1 << 20

// Server provides the HTTP API.
type Server struct {
	cfg     *config.Config
	planner *planner.Service
	store   *store.Store
	metrics *metrics.Metrics
	router  chi.Router
}

// NewServer constructs a Server. m may be nil, which disables /metrics.
func NewServer(cfg *config.Config, p *planner.Service, st *store.Store, m *metrics.Metrics) *Server {
	s := &Server{
		cfg:     cfg,
		planner: p,
		store:   st,
		metrics: m,
		router:  chi.NewRouter(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the router wrapped in basic auth when configured.
func (s *Server) Handler() http.Handler {
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(s.router)
	}
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("web: shutdown: %w", err)
		}
		appLog.Info("HTTP server stopped")
		return nil
	}
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured. Empty
// credentials count as disabled.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="dayplan", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Get("/health", s.handleHealth)

	r.Route("/api/owners/{owner}", func(r chi.Router) {
		r.Post("/plan", s.handlePlan)
		r.Get("/runs/latest", s.handleLatestRun)
		r.Get("/calendar.ics", s.handleCalendar)

		r.Route("/instances", func(r chi.Router) {
			r.Get("/", s.handleListInstances)
			r.Patch("/{id}", s.handleSetInstanceStatus)
			r.Delete("/{id}", s.handleUnschedule)
		})
		r.Route("/blocks", func(r chi.Router) {
			r.Get("/", s.handleListBlocks)
			r.Put("/{id}", s.handlePutBlock)
			r.Delete("/{id}", s.handleDeleteBlock)
		})
		r.Route("/items/{kind}/{id}", func(r chi.Router) {
			r.Put("/", s.handlePutItem)
			r.Delete("/", s.handleDeleteItem)
		})
		r.Route("/busy", func(r chi.Router) {
			r.Get("/", s.handleListBusy)
			r.Post("/", s.handleAddBusy)
			r.Delete("/{id}", s.handleDeleteBusy)
		})
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	report, err := s.planner.RunOwner(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeFailure(w, err, "plan run failed")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLatestRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.LatestRun(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeFailure(w, err, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dayRange(w, r)
	if !ok {
		return
	}
	body, err := s.planner.Calendar(r.Context(), chi.URLParam(r, "owner"), from, to)
	if err != nil {
		s.writeFailure(w, err, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, body)
}

// instancesResponse is the JSON response shape for GET instances.
type instancesResponse struct {
	OwnerID   string           `json:"ownerId"`
	From      model.DayKey     `json:"from,omitempty"`
	To        model.DayKey     `json:"to,omitempty"`
	Instances []model.Instance `json:"instances"`
}

// handleListInstances returns placed instances.
//
// GET /api/owners/{owner}/instances?from=2026-10-19&to=2026-10-25
//   - from, to: inclusive day bounds; either may be omitted.
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	from, to, ok := dayRange(w, r)
	if !ok {
		return
	}
	owner := chi.URLParam(r, "owner")
	instances, err := s.store.ListInstances(r.Context(), owner, from, to)
	if err != nil {
		s.writeFailure(w, err, "failed to list instances")
		return
	}
	writeJSON(w, http.StatusOK, instancesResponse{OwnerID: owner, From: from, To: to, Instances: instances})
}

type statusRequest struct {
	Status model.InstanceStatus `json:"status"`
}

func (s *Server) handleSetInstanceStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	switch req.Status {
	case model.InstancePlanned, model.InstanceCompleted, model.InstanceSkipped:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", req.Status))
		return
	}
	inst, err := s.planner.SetStatus(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id"), req.Status)
	if err != nil {
		s.writeFailure(w, err, "failed to update instance")
		return
	}
	writeJSON(w, http.StatusOK, inst)
}

func (s *Server) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	if err := s.planner.Unschedule(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, err, "failed to unschedule instance")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := s.store.ListBlocks(r.Context(), chi.URLParam(r, "owner"))
	if err != nil {
		s.writeFailure(w, err, "failed to list blocks")
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (s *Server) handlePutBlock(w http.ResponseWriter, r *http.Request) {
	var b model.Block
	if !decodeBody(w, r, &b) {
		return
	}
	b.ID = chi.URLParam(r, "id")
	b.OwnerID = chi.URLParam(r, "owner")
	if err := validateBlock(b); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.PutBlock(r.Context(), b); err != nil {
		s.writeFailure(w, err, "failed to save block")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteBlock(r.Context(), chi.URLParam(r, "owner"), chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, err, "failed to delete block")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// validateBlock rejects windows whose clock times do not parse.
func validateBlock(b model.Block) error {
	check := func(what string, ws []model.DayWindow) error {
		for i, win := range ws {
			if _, err := win.StartTime.Minutes(); err != nil {
				return fmt.Errorf("%s[%d].startTime: %v", what, i, err)
			}
			if _, err := win.EndTime.Minutes(); err != nil {
				return fmt.Errorf("%s[%d].endTime: %v", what, i, err)
			}
		}
		return nil
	}
	if err := check("windows", b.Windows); err != nil {
		return err
	}
	return check("constraints.quietHours", b.Constraints.QuietHours)
}

func (s *Server) handlePutItem(w http.ResponseWriter, r *http.Request) {
	kind, err := store.ParseItemKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var raw json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	if err := checkItemShape(kind, raw); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, id := chi.URLParam(r, "owner"), chi.URLParam(r, "id")
	if err := s.store.PutItem(r.Context(), owner, kind, id, raw); err != nil {
		s.writeFailure(w, err, "failed to save item")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ownerId": owner, "kind": string(kind), "id": id})
}

// checkItemShape reports whether raw decodes into kind's type.
func checkItemShape(kind store.ItemKind, raw json.RawMessage) error {
	var target any
	switch kind {
	case store.KindChore, store.KindRoutine:
		target = &model.RecurringItem{}
	case store.KindTask:
		target = &model.Task{}
	case store.KindStory:
		target = &model.Story{}
	case store.KindSprint:
		target = &model.Sprint{}
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("invalid %s document: %v", kind, err)
	}
	return nil
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	kind, err := store.ParseItemKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteItem(r.Context(), chi.URLParam(r, "owner"), kind, chi.URLParam(r, "id")); err != nil {
		s.writeFailure(w, err, "failed to delete item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type busyRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Note  string    `json:"note,omitempty"`
}

func (s *Server) handleListBusy(w http.ResponseWriter, r *http.Request) {
	loc := s.cfg.Location()
	start, end := s.planner.Window().Bounds(loc)
	busy, err := s.store.ListBusy(r.Context(), chi.URLParam(r, "owner"), start, end.Add(time.Nanosecond), loc)
	if err != nil {
		s.writeFailure(w, err, "failed to list busy time")
		return
	}
	writeJSON(w, http.StatusOK, busy)
}

func (s *Server) handleAddBusy(w http.ResponseWriter, r *http.Request) {
	var req busyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !req.End.After(req.Start) {
		writeError(w, http.StatusBadRequest, "end must be after start")
		return
	}
	id, err := s.store.AddBusy(r.Context(), chi.URLParam(r, "owner"), model.Interval{Start: req.Start, End: req.End}, req.Note)
	if err != nil {
		s.writeFailure(w, err, "failed to add busy time")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint{"id": id})
}

func (s *Server) handleDeleteBusy(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid busy id")
		return
	}
	if err := s.store.DeleteBusy(r.Context(), chi.URLParam(r, "owner"), uint(id)); err != nil {
		s.writeFailure(w, err, "failed to delete busy time")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// dayRange reads optional from/to query parameters.
func dayRange(w http.ResponseWriter, r *http.Request) (model.DayKey, model.DayKey, bool) {
	q := r.URL.Query()
	var out [2]model.DayKey
	for i, name := range []string{"from", "to"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", v); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s must be YYYY-MM-DD", name))
			return "", "", false
		}
		out[i] = model.DayKey(v)
	}
	return out[0], out[1], true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

// writeFailure maps domain errors to status codes and logs the rest.
func (s *Server) writeFailure(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, lock.ErrLocked):
		writeError(w, http.StatusConflict, "a plan run for this owner is in progress")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		appLog.Error(msg, err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
