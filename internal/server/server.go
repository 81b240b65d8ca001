package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	"github.com/raysh454/perfsandbox/internal/app"
	"github.com/raysh454/perfsandbox/internal/artifacts"
	"github.com/raysh454/perfsandbox/internal/logging"
	"github.com/raysh454/perfsandbox/internal/progress"
	"github.com/raysh454/perfsandbox/internal/share"
)

// Resolver maps a share alias to its target URL.
type Resolver interface {
	Resolve(ctx context.Context, alias string) (string, error)
}

// Deps are what the API surface serves from. Shares may be nil, which
// disables /s/{alias}.
type Deps struct {
	Coordinator *app.Coordinator
	Artifacts   *artifacts.Store
	Shares      Resolver
	Logger      logging.Logger
}

// Server is the HTTP + WebSocket API surface.
type Server struct {
	cfg      Config
	coord    *app.Coordinator
	store    *artifacts.Store
	shares   Resolver
	router   chi.Router
	upgrader websocket.Upgrader
	logger   logging.Logger
}

func New(cfg Config, d Deps) (*Server, error) {
	if d.Coordinator == nil {
		return nil, errors.New("server: coordinator is nil")
	}
	if d.Artifacts == nil {
		return nil, errors.New("server: artifact store is nil")
	}
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Server{
		cfg:    cfg,
		coord:  d.Coordinator,
		store:  d.Artifacts,
		shares: d.Shares,
		router: chi.NewRouter(),
		logger: logger.With(logging.F("component", "server")),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	r := s.router

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         86400,
	}))

	r.Get("/tools", s.handleListTools)

	r.Post("/runs", s.handleStartRun)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{id}", s.handleGetRun)
	r.Get("/runs/{id}/artifacts", s.handleListArtifacts)

	r.Get("/ws/run", s.handleRunWS)
	r.Get("/ws/runs/{id}", s.handleWatchWS)

	r.Get("/artifacts/{id}/{name}", s.handleArtifact)
	r.Get("/s/{alias}", s.handleShare)

	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	start := time.Now()

	s.router.ServeHTTP(ww, r)

	fields := []logging.Field{
		logging.F("method", r.Method),
		logging.F("path", r.URL.Path),
		logging.F("status", ww.Status()),
		logging.F("bytes", ww.BytesWritten()),
		logging.F("duration", time.Since(start)),
	}
	if q := r.URL.Query(); len(q) > 0 {
		fields = append(fields, logging.F("query", q))
	}
	s.logger.Info("http_request", fields...)
}

// HTTPServer creates an *http.Server ready to ListenAndServe.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: 0, // allow streaming
	}
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// writeRunError maps Submit/Start failures onto a status code.
func (s *Server) writeRunError(w http.ResponseWriter, err error) {
	if errors.Is(err, app.ErrValidation) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Warn("starting run", logging.Err(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

// --- HTTP handlers ---

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	reg := s.coord.Registry()
	all := reg.Catalog().All()
	out := make([]ToolResponse, 0, len(all))
	for _, info := range all {
		_, runnable := reg.Resolve(info.Code)
		out = append(out, toolResponse(info, runnable))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body StartRunRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	sess, err := s.coord.Submit(r.Context(), app.RunRequest{
		TargetURL: body.URL,
		ToolCodes: body.Tools,
		Headless:  body.Headless,
	})
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	if err := s.coord.Start(sess); err != nil {
		s.writeRunError(w, err)
		return
	}
	s.logger.Info("started run", logging.F("session_id", sess.ID))
	writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coord.List())
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.coord.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, ok := s.coord.Get(id); !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	list, err := s.store.List(id)
	if err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := chi.URLParam(r, "name")

	path, err := s.store.Path(id, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil || fi.IsDir() {
		writeError(w, http.StatusNotFound, "artifact not found")
		return
	}
	http.ServeContent(w, r, name, fi.ModTime(), f)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if s.shares == nil {
		writeError(w, http.StatusNotFound, "share not found")
		return
	}
	target, err := s.shares.Resolve(r.Context(), chi.URLParam(r, "alias"))
	if err != nil {
		if errors.Is(err, share.ErrNotFound) {
			writeError(w, http.StatusNotFound, "share not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// WebSockets

// handleRunWS validates and starts a run from query parameters, then streams
// every event of it. Validation errors are plain 400 responses; the
// connection is only upgraded for an accepted run.
func (s *Server) handleRunWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := app.RunRequest{TargetURL: q.Get("url"), ToolCodes: splitCodes(q.Get("tools"))}
	if hs := q.Get("headless"); hs != "" {
		v, err := strconv.ParseBool(hs)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid headless flag")
			return
		}
		req.Headless = &v
	}

	sess, sub, err := s.coord.Run(r.Context(), req)
	if err != nil {
		s.writeRunError(w, err)
		return
	}
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.F("session_id", sess.ID), logging.Err(err))
		return
	}
	defer conn.Close()

	s.logger.Info("streaming run", logging.F("session_id", sess.ID))
	s.stream(r.Context(), conn, sess.ID, sub)
}

// handleWatchWS subscribes to an existing run from connection time on.
func (s *Server) handleWatchWS(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, ok := s.coord.Lookup(id)
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	sub := sess.Subscribe()
	defer sub.Close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrading to websocket", logging.F("session_id", id), logging.Err(err))
		return
	}
	defer conn.Close()

	s.stream(r.Context(), conn, id, sub)
}

func (s *Server) stream(ctx context.Context, conn *websocket.Conn, id string, sub *progress.Subscription) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Clients never send data frames; reading only surfaces their close or
	// a dropped connection, which ends Forward.
	gone := make(chan struct{})
	go func() {
		defer cancel()
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	err := progress.Forward(ctx, sub, conn)
	var code int
	var text string
	switch {
	case err == nil:
		code = websocket.CloseNormalClosure
	case errors.Is(err, progress.ErrStreamTruncated):
		code, text = websocket.CloseGoingAway, "run already finished"
	case isGone(gone):
		s.logger.Debug("client went away", logging.F("session_id", id), logging.Err(err))
		return
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code, text = websocket.CloseGoingAway, "server shutting down"
	case errors.Is(err, progress.ErrMalformed):
		s.logger.Warn("progress event not encoded", logging.F("session_id", id), logging.Err(err))
		code, text = websocket.CloseInternalServerErr, "progress event not encoded"
	default:
		s.logger.Debug("progress stream write failed", logging.F("session_id", id), logging.Err(err))
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func isGone(gone <-chan struct{}) bool {
	select {
	case <-gone:
		return true
	default:
		return false
	}
}

func splitCodes(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
