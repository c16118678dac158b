// Package api implements the Control API (C9): a thin HTTP dispatcher
// over the Object Catalog, Placement Classifier, Migration Engine,
// Event Bus, and Auth/Identity components. It holds no business logic
// of its own — it authenticates, authorizes, deserializes, calls into
// a core component, and serializes the result.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/cloudflux/orchestrator/internal/auth"
	"github.com/cloudflux/orchestrator/internal/catalog"
	"github.com/cloudflux/orchestrator/internal/classifier"
	"github.com/cloudflux/orchestrator/internal/costmodel"
	"github.com/cloudflux/orchestrator/internal/eventbus"
	"github.com/cloudflux/orchestrator/internal/migration"
	"github.com/cloudflux/orchestrator/internal/provider"
	"github.com/cloudflux/orchestrator/pkg/errors"
	"github.com/cloudflux/orchestrator/pkg/health"
	"github.com/cloudflux/orchestrator/pkg/types"
)

// Config configures the HTTP server.
type Config struct {
	Address      string        `yaml:"address" json:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	EnableCORS   bool          `yaml:"enable_cors" json:"enable_cors"`
}

// DefaultConfig returns sane HTTP server defaults.
func DefaultConfig() Config {
	return Config{
		Address:      "localhost:8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
	}
}

// Server is the Control API component (C9).
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	config     Config

	auth       *auth.Service
	catalog    *catalog.Catalog
	classifier *classifier.Classifier
	cost       *costmodel.Model
	engine     *migration.Engine
	bus        *eventbus.Bus
	health     *health.Tracker
	adapters   map[types.Provider]provider.Adapter

	refreshes refreshRegistry
}

// refreshRegistry records each background /catalog/refresh run under
// the id its POST returns. Safe for concurrent use. No route reads
// these records back.
type refreshRegistry struct {
	mu sync.Mutex
	m  map[string]*refreshStatus
}

func (r *refreshRegistry) start(id string, status *refreshStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[id] = status
}

type refreshStatus struct {
	Provider  types.Provider         `json:"provider"`
	Done      bool                   `json:"done"`
	Error     string                 `json:"error,omitempty"`
	Summary   catalog.RefreshSummary `json:"summary,omitempty"`
	StartedAt time.Time              `json:"started_at"`
}

// New constructs a Server and wires its route table. ht and cost may
// be nil; the other dependencies are used without a nil check.
func New(logger *slog.Logger, cfg Config, authSvc *auth.Service, cat *catalog.Catalog,
	clf *classifier.Classifier, cost *costmodel.Model, engine *migration.Engine,
	bus *eventbus.Bus, ht *health.Tracker, adapters map[types.Provider]provider.Adapter) *Server {

	s := &Server{
		logger:     logger.With("component", "api"),
		config:     cfg,
		auth:       authSvc,
		catalog:    cat,
		classifier: clf,
		cost:       cost,
		engine:     engine,
		bus:        bus,
		health:     ht,
		adapters:   adapters,
		refreshes:  refreshRegistry{m: make(map[string]*refreshStatus)},
	}

	router := mux.NewRouter()
	router.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	router.HandleFunc("/catalog/objects", s.withRole(s.handleCatalogObjects, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/catalog/refresh", s.withRole(s.handleCatalogRefresh, types.RoleAdmin)).Methods(http.MethodPost)
	router.HandleFunc("/placement/recommendations", s.withRole(s.handleRecommendations, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/placement/tier-distribution", s.withRole(s.handleTierDistribution, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/migrations", s.withRole(s.handleCreateMigration, types.RoleUser)).Methods(http.MethodPost)
	router.HandleFunc("/migrations", s.withRole(s.handleListMigrations, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/migrations/{id}", s.withRole(s.handleGetMigration, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/migrations/{id}", s.withRole(s.handleCancelMigration, types.RoleUser)).Methods(http.MethodDelete)
	router.HandleFunc("/events/recent", s.withRole(s.handleEventsRecent, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/events/stream", s.withRole(s.handleEventsStream, types.RoleViewer)).Methods(http.MethodGet)
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	var handler http.Handler = router
	handler = s.loggingMiddleware(handler)
	if cfg.EnableCORS {
		handler = s.corsMiddleware(handler)
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// Start runs the server, blocking until it exits.
func (s *Server) Start() error {
	s.logger.Info("starting control API", "address", s.config.Address)
	return s.httpServer.ListenAndServe()
}

// StartBackground runs the server in a goroutine.
func (s *Server) StartBackground() {
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control API server error", "error", err)
		}
	}()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down control API")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withRole wraps a handler with a minimum-role bearer-token check.
// The resolved principal is attached to the request context.
func (s *Server) withRole(next func(http.ResponseWriter, *http.Request, *types.Principal), minRole types.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.respondError(w, errors.New(errors.CodeUnauthenticated, "missing bearer token"))
			return
		}
		principal, err := s.auth.RequireMinRole(token, minRole)
		if err != nil {
			s.respondError(w, err)
			return
		}
		next(w, r, principal)
	}
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

// Response helpers

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)
	status := http.StatusInternalServerError
	if e, ok := err.(*errors.Error); ok && e.HTTPStatus != 0 {
		status = e.HTTPStatus
	}
	s.respondJSON(w, status, map[string]interface{}{
		"error":     code,
		"message":   err.Error(),
		"timestamp": time.Now(),
	})
}

// Handlers

type registerRequest struct {
	PrincipalID string     `json:"principal_id"`
	Credential  string     `json:"credential"`
	Role        types.Role `json:"role"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errors.New(errors.CodeInvalidArgument, "malformed request body"))
		return
	}
	p, err := s.auth.Register(req.PrincipalID, req.Credential, req.Role)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, p)
}

type loginRequest struct {
	PrincipalID string `json:"principal_id"`
	Credential  string `json:"credential"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errors.New(errors.CodeInvalidArgument, "malformed request body"))
		return
	}
	token, err := s.auth.Login(req.PrincipalID, req.Credential)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"bearer_token": token})
}

func (s *Server) handleCatalogObjects(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	q := r.URL.Query()
	// No Limit on this filter: pagination slices the full matching set
	// below, after the cursor offset is applied. Passing the page size
	// into catalog.List would truncate the set before the offset ever
	// gets a chance to move past page one.
	filter := catalog.Filter{
		Provider: types.Provider(q.Get("provider")),
		Tier:     types.Tier(q.Get("tier")),
	}

	entries := s.catalog.List(filter)

	offset := 0
	if v := q.Get("cursor"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			offset = n
		}
	}
	if offset > len(entries) {
		offset = len(entries)
	}
	page := entries[offset:]

	pageSize := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			pageSize = n
		}
	}

	nextCursor := ""
	if pageSize <= 0 {
		pageSize = len(page)
	}
	if pageSize < len(page) {
		page = page[:pageSize]
		nextCursor = strconv.Itoa(offset + pageSize)
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"objects":     page,
		"next_cursor": nextCursor,
	})
}

func (s *Server) handleCatalogRefresh(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	prov := types.Provider(r.URL.Query().Get("provider"))
	container := r.URL.Query().Get("container")
	adapter, ok := s.adapters[prov]
	if !ok {
		s.respondError(w, errors.New(errors.CodeInvalidArgument, "unknown or unconfigured provider"))
		return
	}

	id := uuid.NewString()
	status := &refreshStatus{Provider: prov, StartedAt: time.Now()}
	s.refreshes.start(id, status)

	go func() {
		summary, err := s.catalog.Refresh(context.Background(), adapter, container)
		status.Done = true
		status.Summary = summary
		if err != nil {
			status.Error = err.Error()
			if s.health != nil {
				s.health.RecordError(string(prov), err)
			}
		} else {
			if s.health != nil {
				s.health.RecordSuccess(string(prov))
			}
			// A refresh triggered on demand re-scores its partition in the
			// same pass as the periodic refresh does, so Recommendation
			// never depends on which path last touched the catalog.
			for _, e := range s.catalog.List(catalog.Filter{Provider: prov}) {
				s.catalog.SetRecommendation(e.ObjectRef, s.classifier.Classify(e))
			}
		}
		if s.bus != nil {
			s.bus.Publish(types.Event{Type: types.EventCatalogRefreshDone, Payload: map[string]interface{}{
				"refresh_id": id, "provider": prov,
			}})
		}
	}()

	s.respondJSON(w, http.StatusAccepted, map[string]string{"refresh_id": id})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	entries := s.catalog.List(catalog.Filter{})
	recs := s.classifier.ClassifyBatch(entries)

	out := make([]*types.Recommendation, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec)
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleTierDistribution(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	dist := s.catalog.Distribution()
	type row struct {
		Provider    types.Provider `json:"provider"`
		Tier        types.Tier     `json:"tier"`
		Count       int            `json:"count"`
		TotalBytes  uint64         `json:"total_bytes"`
		MonthlyCost float64        `json:"monthly_cost"`
	}
	out := make([]row, 0, len(dist))
	for _, d := range dist {
		cost := 0.0
		if s.cost != nil {
			cost = s.cost.MonthlyCost(d.Provider, d.Tier, d.TotalBytes)
		}
		out = append(out, row{Provider: d.Provider, Tier: d.Tier, Count: d.Count, TotalBytes: d.TotalBytes, MonthlyCost: cost})
	}
	s.respondJSON(w, http.StatusOK, out)
}

type createMigrationRequest struct {
	SourceProvider  types.Provider `json:"source_provider"`
	DestProvider    types.Provider `json:"dest_provider"`
	SourceContainer string         `json:"source_container"`
	DestContainer   string         `json:"dest_container"`
	FileList        []string       `json:"file_list"`
	Priority        types.Priority `json:"priority"`
	// DeleteSource opts into move semantics; omitted or false leaves
	// the source object and its catalog entry in place (a copy).
	DeleteSource bool `json:"delete_source"`
}

func (s *Server) handleCreateMigration(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	var req createMigrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, errors.New(errors.CodeInvalidArgument, "malformed request body"))
		return
	}

	job, err := s.engine.CreateJob(r.Context(), migration.CreateRequest{
		Owner:           principal.ID,
		SourceProvider:  req.SourceProvider,
		DestProvider:    req.DestProvider,
		SourceContainer: req.SourceContainer,
		DestContainer:   req.DestContainer,
		FileList:        req.FileList,
		Priority:        req.Priority,
		DeleteSource:    req.DeleteSource,
	})
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListMigrations(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	owner := principal.ID
	if principal.Role == types.RoleAdmin {
		owner = ""
	}
	s.respondJSON(w, http.StatusOK, s.engine.ListJobs(owner))
}

func (s *Server) handleGetMigration(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id := mux.Vars(r)["id"]
	job, ok := s.engine.GetJob(id)
	if !ok {
		s.respondError(w, errors.New(errors.CodeNotFound, "job not found"))
		return
	}
	if principal.Role != types.RoleAdmin && job.Owner != principal.ID {
		s.respondError(w, errors.New(errors.CodeForbidden, "job belongs to a different principal"))
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelMigration(w http.ResponseWriter, r *http.Request, principal *types.Principal) {
	id := mux.Vars(r)["id"]
	job, ok := s.engine.GetJob(id)
	if !ok {
		s.respondError(w, errors.New(errors.CodeNotFound, "job not found"))
		return
	}
	if principal.Role != types.RoleAdmin && job.Owner != principal.ID {
		s.respondError(w, errors.New(errors.CodeForbidden, "job belongs to a different principal"))
		return
	}
	if err := s.engine.Cancel(id); err != nil {
		s.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEventsRecent(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	s.respondJSON(w, http.StatusOK, s.bus.Recent(limit))
}

// handleEventsStream implements the push channel of §6 as
// Server-Sent Events, the documented stdlib fallback since no
// websocket library appears anywhere in the retrieval pack.
func (s *Server) handleEventsStream(w http.ResponseWriter, r *http.Request, _ *types.Principal) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.respondError(w, errors.New(errors.CodeInternal, "streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	writeFrame(w, map[string]interface{}{"type": "connection", "timestamp": time.Now()})
	flusher.Flush()

	sub := s.bus.Subscribe(0)
	defer s.bus.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			frameType := "event"
			if e.Type == types.EventHeartbeat {
				frameType = "heartbeat"
			}
			writeFrame(w, map[string]interface{}{
				"type": frameType, "timestamp": e.Timestamp, "id": e.EventID, "payload": e,
			})
			flusher.Flush()
		}
	}
}

func writeFrame(w http.ResponseWriter, frame interface{}) {
	body, err := json.Marshal(frame)
	if err != nil {
		return
	}
	w.Write([]byte("data: "))
	w.Write(body)
	w.Write([]byte("\n\n"))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy"})
		return
	}
	overall := s.health.GetOverallHealth()
	status := http.StatusOK
	if overall == health.StateUnavailable {
		status = http.StatusServiceUnavailable
	}

	components := make(map[string]string)
	for name, ch := range s.health.GetAllComponents() {
		components[name] = ch.State.String()
	}

	body := map[string]interface{}{
		"status":     overall.String(),
		"components": components,
		"timestamp":  time.Now(),
	}
	if s.engine != nil {
		body["routes"] = s.engine.RouteStats()
	}
	s.respondJSON(w, status, body)
}
