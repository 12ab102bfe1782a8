// Package server is the admin HTTP surface (SPEC_FULL §10 "HTTP/admin",
// resolving spec.md §6's "Administrative CLI" as HTTP endpoints instead of a
// CLI binary): scheduler start/stop, position list/cancel/close, and
// kill-switch on/off. Shaped after the teacher's internal/server.Server —
// chi router, the same middleware stack, Start/Shutdown — with the route
// table replaced end to end for this domain.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/martingalian/ladder-engine/internal/account"
	"github.com/martingalian/ladder-engine/internal/dispatcher"
	"github.com/martingalian/ladder-engine/internal/events"
	"github.com/martingalian/ladder-engine/internal/position"
	"github.com/martingalian/ladder-engine/internal/stepengine"
	"github.com/martingalian/ladder-engine/internal/workflows"
)

// Config configures a Server.
type Config struct {
	Port       int
	DevMode    bool
	Log        zerolog.Logger
	Accounts   *account.Repository
	KillSwitch *account.KillSwitch
	Positions  *position.Repository
	Steps      *stepengine.Repository
	Engine     *stepengine.Engine
	Dispatcher *dispatcher.Dispatcher
	Schedule   dispatcher.Schedule
	Events     *events.Manager // nil is valid; emitting is best-effort
}

// Server is the operator-facing HTTP API.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger

	accounts   *account.Repository
	killSwitch *account.KillSwitch
	positions  *position.Repository
	steps      *stepengine.Repository
	engine     *stepengine.Engine
	dispatcher *dispatcher.Dispatcher
	schedule   dispatcher.Schedule
	events     *events.Manager
}

// emit publishes a typed event if an events.Manager was configured.
func (s *Server) emit(data events.EventData) {
	if s.events == nil {
		return
	}
	s.events.EmitTyped("server", data)
}

// New builds a Server with routes and middleware wired, ready for Start.
func New(cfg Config) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		log:        cfg.Log.With().Str("component", "server").Logger(),
		accounts:   cfg.Accounts,
		killSwitch: cfg.KillSwitch,
		positions:  cfg.Positions,
		steps:      cfg.Steps,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		schedule:   cfg.Schedule,
		events:     cfg.Events,
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/scheduler", func(r chi.Router) {
			r.Post("/start", s.handleSchedulerStart)
			r.Post("/stop", s.handleSchedulerStop)
		})
		r.Route("/positions", func(r chi.Router) {
			r.Get("/", s.handlePositionList)
			r.Post("/{id}/cancel", s.handlePositionCancel)
			r.Post("/{id}/close", s.handlePositionClose)
		})
		r.Route("/kill-switch", func(r chi.Router) {
			r.Post("/on", s.handleGlobalKillSwitch(true))
			r.Post("/off", s.handleGlobalKillSwitch(false))
		})
		r.Route("/accounts/{id}/kill-switch", func(r chi.Router) {
			r.Post("/on", s.handleAccountKillSwitch(true))
			r.Post("/off", s.handleAccountKillSwitch(false))
		})
	})
}

// Start serves the admin API until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting admin HTTP server")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down admin HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the {status,message} shape every operator command
// returns, regardless of outcome.
type statusResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, statusResponse{Status: "error", Message: message})
}

func pathInt64(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

// handleSchedulerStart maps to spec.md's "scheduler start". It does not check
// whether the scheduler is already running: a second Start registers the
// cron jobs again (cron.AddFunc is additive) and returns success, so ticks
// then fire twice per slot; the dispatcher's per-position locking keeps two
// ticks from working on the same position at once.
func (s *Server) handleSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.Start(r.Context(), s.schedule); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "scheduler started"})
}

func (s *Server) handleSchedulerStop(w http.ResponseWriter, r *http.Request) {
	s.dispatcher.Stop()
	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: "scheduler stopped"})
}

// positionView is the admin-facing projection of a position: enough to
// identify and act on it without leaking internal repository shapes.
type positionView struct {
	ID        int64  `json:"id"`
	AccountID int64  `json:"account_id"`
	SymbolID  int64  `json:"symbol_id"`
	Status    string `json:"status"`
}

func (s *Server) handlePositionList(w http.ResponseWriter, r *http.Request) {
	limit := 200
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}

	positions, err := s.positions.ListOpen(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]positionView, 0, len(positions))
	for _, p := range positions {
		out = append(out, positionView{ID: p.ID, AccountID: p.AccountID, SymbolID: p.SymbolID, Status: string(p.Status)})
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePositionCancel drives the Cancel workflow (SPEC_FULL §2 component H)
// for a position an operator wants to abandon before — or instead of — it
// ever accumulates exchange exposure.
func (s *Server) handlePositionCancel(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := s.positions.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !position.CanTransition(pos.Status, position.StatusCancelling) {
		writeError(w, http.StatusPreconditionFailed, fmt.Sprintf("position %d cannot be cancelled from status %q", id, pos.Status))
		return
	}
	if err := s.positions.Transition(id, pos.Status, position.StatusCancelling, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	block := workflows.BuildCancelBlock(id)
	if err := s.steps.CreateBlock(block.Steps()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.RunBlock(r.Context(), block.BlockUUID(), stepengine.RunBlockOpts{}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.positions.Transition(id, position.StatusCancelling, position.StatusCancelled, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.emit(&events.PositionCancelledData{PositionID: id, Reason: "operator_requested"})

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: fmt.Sprintf("position %d cancelled", id)})
}

// handlePositionClose drives the Close workflow for a position that may
// already carry exchange exposure (SPEC_FULL §4.9).
func (s *Server) handlePositionClose(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid position id")
		return
	}

	pos, err := s.positions.Get(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !position.CanTransition(pos.Status, position.StatusClosing) {
		writeError(w, http.StatusPreconditionFailed, fmt.Sprintf("position %d cannot be closed from status %q", id, pos.Status))
		return
	}
	if err := s.positions.Transition(id, pos.Status, position.StatusClosing, nil); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	block := workflows.BuildCloseBlock(id)
	if err := s.steps.CreateBlock(block.Steps()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.engine.RunBlock(r.Context(), block.BlockUUID(), stepengine.RunBlockOpts{}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: fmt.Sprintf("position %d close workflow completed", id)})
}

// handleGlobalKillSwitch toggles the process-wide martingalian singleton
// (spec.md §6 "kill-switch on/off", no account id) that gates whether any
// account may open new positions.
func (s *Server) handleGlobalKillSwitch(allow bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.killSwitch.Set(allow); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.emit(&events.KillSwitchToggledData{AccountID: 0, Enabled: allow})
		word := "disabled"
		if allow {
			word = "enabled"
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: fmt.Sprintf("opening new positions %s", word)})
	}
}

// handleAccountKillSwitch toggles one account's independent kill-switch
// flag — a per-account circuit breaker distinct from the global singleton
// above. 412 precondition when the account doesn't exist, matching
// spec.md's "3 precondition not met" exit code.
func (s *Server) handleAccountKillSwitch(on bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathInt64(r, "id")
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid account id")
			return
		}
		if _, err := s.accounts.Get(id); err != nil {
			writeError(w, http.StatusPreconditionFailed, fmt.Sprintf("account %d not found", id))
			return
		}
		if err := s.accounts.SetKillSwitch(id, on); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.emit(&events.KillSwitchToggledData{AccountID: id, Enabled: on})
		word := "disabled"
		if on {
			word = "enabled"
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: "ok", Message: fmt.Sprintf("kill-switch %s for account %d", word, id)})
	}
}
