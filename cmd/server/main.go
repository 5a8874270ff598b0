package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/allowance"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/internal/logger"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/requests"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/tenantengine"
	"github.com/pts-allowance-system/ph-personnel-comp-mgmt-sub000/workflow"
)

type Server struct {
	db         *sql.DB
	manager    *tenantengine.Manager
	requests   *requests.Service
	ruleStores func(tenantID string) allowance.RuleStore
	router     *chi.Mux
}

func NewServer(databaseURL string) (*Server, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := tenantengine.NewManager(db)

	logger.Info("loading tenants from database")
	if err := manager.LoadAllTenants(); err != nil {
		return nil, fmt.Errorf("failed to load tenants: %w", err)
	}
	logger.Info("tenants loaded", "count", len(manager.ListTenants()))

	svc := requests.NewService(requests.NewPostgresStore(db), manager)
	ruleStores := func(tenantID string) allowance.RuleStore {
		return allowance.NewPostgresRuleStore(db, tenantID)
	}

	return newServer(db, manager, svc, ruleStores), nil
}

// newServer wires routes over already-constructed dependencies. Tests use
// it directly with in-memory stores.
func newServer(db *sql.DB, manager *tenantengine.Manager, svc *requests.Service, ruleStores func(string) allowance.RuleStore) *Server {
	s := &Server{
		db:         db,
		manager:    manager,
		requests:   svc,
		ruleStores: ruleStores,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Get("/api/v1/metrics", s.handleMetrics)

	r.Post("/api/v1/classify", s.handleClassify)

	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)
		r.Post("/", s.handleCreateTenant)

		r.Route("/{tenantId}/rules", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleCreateRule)
			r.Get("/{ruleId}", s.handleGetRule)
			r.Put("/{ruleId}", s.handleUpdateRule)
			r.Delete("/{ruleId}", s.handleDeleteRule)
		})
	})

	r.Route("/api/v1/requests", func(r chi.Router) {
		r.Post("/", s.handleCreateRequest)
		r.Get("/", s.handleListRequests)
		r.Get("/{requestId}", s.handleGetRequest)
		r.Get("/{requestId}/audit", s.handleRequestAudit)
		r.Post("/{requestId}/transitions", s.handleTransition)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// actorFromRequest reads the authenticated identity the gateway injected.
// Token verification happens upstream; these headers are trusted inside the
// service boundary. A missing or unknown role yields a nil actor, which
// every authorization path treats as a denial.
func actorFromRequest(r *http.Request) *workflow.Actor {
	role, err := workflow.ParseRole(r.Header.Get("X-Actor-Role"))
	if err != nil {
		return nil
	}

	id := r.Header.Get("X-Actor-Id")
	if id == "" {
		return nil
	}

	return &workflow.Actor{
		ID:         id,
		Role:       role,
		Department: r.Header.Get("X-Actor-Department"),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":        "healthy",
		"tenantsLoaded": len(s.manager.ListTenants()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]int64{
		"totalErrors":   logger.TotalErrors.Load(),
		"totalWarnings": logger.TotalWarnings.Load(),
		"total4xx":      logger.Total4xxErrors.Load(),
		"total5xx":      logger.Total5xxErrors.Load(),
	})
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}
	if req.Subject == nil {
		respondError(w, http.StatusBadRequest, "subject is required", nil)
		return
	}

	outcome, err := s.manager.Classify(req.TenantID, req.Subject)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	// nil outcome means no rule matched; surface explicit nulls so the
	// caller can render "no matching allowance".
	resp := ClassifyResponse{}
	if outcome != nil {
		resp.AllowanceGroup = &outcome.AllowanceGroup
		resp.Tier = &outcome.Tier
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"tenants": s.manager.ListTenants(),
	})
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	var req CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	if s.db == nil {
		respondError(w, http.StatusInternalServerError, "tenant creation requires a database", nil)
		return
	}

	var tenantID string
	err := s.db.QueryRow(`
		INSERT INTO tenants (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING id
	`, uuid.NewString(), req.Name).Scan(&tenantID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create tenant", err)
		return
	}

	if err := s.manager.LoadTenant(tenantID); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to initialize tenant engine", err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"id":   tenantID,
		"name": req.Name,
	})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	if _, err := s.manager.GetEngine(tenantID); err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	rules, err := s.ruleStores(tenantID).List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	tenantID := chi.URLParam(r, "tenantId")

	engine, err := s.manager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	rule.ID = uuid.NewString()
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := engine.AddRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to add rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	if _, err := s.manager.GetEngine(tenantID); err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	rule, err := s.ruleStores(tenantID).Get(ruleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.manager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	var req SaveRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule := req.toRule()
	rule.ID = ruleID

	if err := engine.UpdateRule(rule); err != nil {
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if !requireAdmin(w, r) {
		return
	}

	tenantID := chi.URLParam(r, "tenantId")
	ruleID := chi.URLParam(r, "ruleId")

	engine, err := s.manager.GetEngine(tenantID)
	if err != nil {
		respondError(w, http.StatusNotFound, "tenant not found", err)
		return
	}

	if err := engine.DeleteRule(ruleID); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return
	}

	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	created, err := s.requests.Create(actor, &requests.Request{
		TenantID:   req.TenantID,
		EmployeeID: req.EmployeeID,
		Department: req.Department,
		Note:       req.Note,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return
	}

	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId query parameter is required", nil)
		return
	}

	list, err := s.requests.List(actor, tenantID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"requests": list})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return
	}

	req, err := s.requests.Get(actor, chi.URLParam(r, "requestId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleRequestAudit(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return
	}

	entries, err := s.requests.Audit(actor, chi.URLParam(r, "requestId"))
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"audit": entries})
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return
	}

	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	next, err := workflow.ParseStatus(req.To)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid target status", err)
		return
	}

	updated, err := s.requests.Transition(actor, chi.URLParam(r, "requestId"), next, req.Note, req.Subject)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	actor := actorFromRequest(r)
	if actor == nil {
		respondError(w, http.StatusUnauthorized, "missing or invalid actor identity", nil)
		return false
	}
	if actor.Role != workflow.RoleAdmin {
		respondError(w, http.StatusForbidden, "admin role required", nil)
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	logger.CountHTTPStatus(status)
	if status >= 500 {
		logger.Error(message, "status", status, "err", err)
	}

	response := map[string]string{
		"error": message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	respondJSON(w, status, response)
}

// respondServiceError maps request-service errors onto HTTP statuses:
// denial is 403, unknown IDs 404, concurrent transitions 409, illegal
// transitions 403, everything else 500.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, requests.ErrForbidden):
		respondError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, requests.ErrIllegalTransition):
		respondError(w, http.StatusForbidden, "transition not permitted", err)
	case errors.Is(err, requests.ErrNotFound):
		respondError(w, http.StatusNotFound, "request not found", err)
	case errors.Is(err, requests.ErrStatusConflict):
		respondError(w, http.StatusConflict, "request changed concurrently", err)
	default:
		respondError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		logger.Fatal("DATABASE_URL environment variable is required")
	}

	server, err := NewServer(databaseURL)
	if err != nil {
		logger.Fatal("failed to create server", "err", err)
	}
	defer server.db.Close()

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "err", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "err", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown error: %v\n", err)
	}

	logger.Info("server stopped")
}
