package main

import (
	"context"
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
	"github.com/liamcoop/discounts/internal/config"
	"github.com/liamcoop/discounts/internal/logger"
	"github.com/liamcoop/discounts/multitenantengine"
	"github.com/liamcoop/discounts/rules"
)

type Server struct {
	manager   *multitenantengine.Manager
	router    *chi.Mux
	startedAt time.Time
}

func NewServer(cfg *config.Config) (*Server, error) {
	manager := multitenantengine.NewManager(
		rules.WithLogger(logger.Logger),
		rules.WithObserver(announceRule),
		rules.WithTracing(cfg.Engine.Tracing),
		rules.WithCacheConfig(rules.CacheConfig{TTL: cfg.Engine.CacheTTL}),
	)

	for _, sf := range cfg.Storefronts {
		name := sf.Policy
		if name == "" {
			name = cfg.DefaultPolicy
		}
		policy, err := rules.ParsePolicy(name)
		if err != nil {
			return nil, fmt.Errorf("storefront %s: %w", sf.ID, err)
		}

		storefront := multitenantengine.StorefrontConfig{ID: sf.ID, Name: sf.Name, Policy: policy}
		if err := manager.CreateStorefront(storefront, defaultCatalog()); err != nil {
			return nil, fmt.Errorf("failed to create storefront %s: %w", sf.ID, err)
		}
	}

	var ids []string
	for _, sf := range manager.List() {
		ids = append(ids, sf.ID)
	}
	logger.Info("Storefronts loaded", "count", len(ids), "ids", ids)

	s := &Server{
		manager:   manager,
		startedAt: time.Now(),
	}

	s.setupRoutes(cfg.Server.RequestTimeout)

	return s, nil
}

// announceRule reports every matched rule through the process logger
func announceRule(rule *rules.Rule, outcome rules.Outcome) {
	logger.RuleApplied(rule.ID, rule.Name, outcome.Value.String())
}

func (s *Server) setupRoutes(requestTimeout time.Duration) {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if requestTimeout > 0 {
		r.Use(middleware.Timeout(requestTimeout))
	}

	// Health check
	r.Get("/api/v1/health", s.handleHealth)

	// Evaluation
	r.Post("/api/v1/evaluate", s.handleEvaluate)

	// Storefront management
	r.Route("/api/v1/tenants", func(r chi.Router) {
		r.Get("/", s.handleListTenants)

		r.Route("/{tenantId}", func(r chi.Router) {
			r.Get("/", s.handleGetTenant)
			r.Put("/policy", s.handleSetPolicy)

			// Rule management
			r.Get("/rules", s.handleListRules)
			r.Get("/rules/{ruleId}", s.handleGetRule)
			r.Patch("/rules/{ruleId}", s.handleUpdateRule)
			r.Delete("/rules/{ruleId}", s.handleDeleteRule)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{
		Status:        "healthy",
		TenantsLoaded: len(s.manager.List()),
		Uptime:        time.Since(s.startedAt).Round(time.Second).String(),
		Counters:      logger.Stats(),
	})
}

// Evaluation handler
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.TenantID == "" {
		respondError(w, http.StatusBadRequest, "tenantId is required", nil)
		return
	}

	cart, err := req.Cart.ToCart()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid cart", err)
		return
	}

	startTime := time.Now()

	quote, err := s.manager.Quote(req.TenantID, cart, req.Rules...)
	if err != nil {
		respondServiceError(w, "evaluation failed", err)
		return
	}

	logger.EvaluatedCarts.Add(1)
	logger.Debug("Cart evaluated",
		"tenant_id", quote.TenantID,
		"policy", quote.Summary.Policy,
		"discount", quote.Summary.Discount.String(),
		"applied", len(quote.Summary.Applied),
	)

	respondJSON(w, http.StatusOK, newEvaluateResponse(quote, uuid.NewString(), time.Since(startTime)))
}

// List storefronts handler
func (s *Server) handleListTenants(w http.ResponseWriter, r *http.Request) {
	tenants := []TenantResponse{}
	for _, sf := range s.manager.List() {
		tenants = append(tenants, newTenantResponse(sf))
	}

	respondJSON(w, http.StatusOK, TenantsListResponse{Tenants: tenants})
}

// Get storefront handler
func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	sf, err := s.manager.Get(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	respondJSON(w, http.StatusOK, newTenantResponse(sf))
}

// Set policy handler
func (s *Server) handleSetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")

	var req UpdatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	policy, err := rules.ParsePolicy(req.Policy)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid policy", err)
		return
	}

	if err := s.manager.SetPolicy(tenantID, policy); err != nil {
		respondServiceError(w, "failed to set policy", err)
		return
	}

	sf, err := s.manager.Get(tenantID)
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	logger.Info("Storefront policy changed", "tenant_id", tenantID, "policy", policy)
	respondJSON(w, http.StatusOK, newTenantResponse(sf))
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	all, err := engine.Rules()
	if err != nil {
		respondServiceError(w, "failed to list rules", err)
		return
	}

	rulesList := make([]RuleResponse, 0, len(all))
	for _, rule := range all {
		rulesList = append(rulesList, newRuleResponse(rule))
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: rulesList})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	rule, err := engine.Rule(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondServiceError(w, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, newRuleResponse(rule))
}

// Update rule handler
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if req.Active == nil {
		respondError(w, http.StatusBadRequest, "active is required", nil)
		return
	}

	engine, err := s.manager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	rule, err := engine.SetActive(chi.URLParam(r, "ruleId"), *req.Active)
	if err != nil {
		respondServiceError(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, newRuleResponse(rule))
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	engine, err := s.manager.GetEngine(chi.URLParam(r, "tenantId"))
	if err != nil {
		respondServiceError(w, "tenant not found", err)
		return
	}

	if err := engine.DeleteRule(chi.URLParam(r, "ruleId")); err != nil {
		respondServiceError(w, "rule not found", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondServiceError maps a manager or engine error onto its HTTP status
func respondServiceError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, multitenantengine.ErrTenantNotFound), errors.Is(err, rules.ErrRuleNotFound):
		return http.StatusNotFound
	case errors.Is(err, multitenantengine.ErrTenantExists), errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, rules.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func main() {
	cfg, err := config.Load(config.DefaultConfigPath())
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}

	opts := logger.OptionsFromEnv()
	opts.Level = cfg.Log.Level
	opts.SampleRate = cfg.Log.SampleRate
	if err := logger.Setup(context.Background(), opts); err != nil {
		logger.Warn("Logger setup degraded", "error", err)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("Failed to create server", "error", err)
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("Logger shutdown error", "error", err)
	}

	logger.Info("Server stopped")
}
