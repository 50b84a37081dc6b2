package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"klinikcare/internal/config"
	"klinikcare/internal/database"
	"klinikcare/internal/domain"
	"klinikcare/internal/export"
	"klinikcare/internal/lifecycle"
	"klinikcare/internal/metrics"
	"klinikcare/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// HTTPServer exposes the lifecycle engine to the admin dashboard.
type HTTPServer struct {
	cfg       config.APIConfig
	lifecycle domain.LifecycleService
	entities  domain.EntityService
	table     *lifecycle.Table
	server    *http.Server
	auth      *HTTPAuth
	logger    *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, lifecycleSvc domain.LifecycleService, entitySvc domain.EntityService,
	table *lifecycle.Table, logger *zerolog.Logger) *HTTPServer {
	srv := &HTTPServer{
		cfg:       cfg,
		lifecycle: lifecycleSvc,
		entities:  entitySvc,
		table:     table,
		auth:      NewHTTPAuth(cfg),
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/entities", srv.handleEntities)
	mux.HandleFunc("/api/v1/entities/", srv.handleEntityByID)
	mux.HandleFunc("/api/v1/transitions", srv.handleTransitions)
	mux.HandleFunc("/api/v1/export", srv.handleExport)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the full middleware chain for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

// GET /api/v1/entities?kind=&status=&limit=
// POST /api/v1/entities
func (s *HTTPServer) handleEntities(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("entities")

	switch r.Method {
	case http.MethodGet:
		s.handleListEntities(w, r)
	case http.MethodPost:
		s.handleCreateEntity(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (s *HTTPServer) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	status := strings.TrimSpace(r.URL.Query().Get("status"))

	if kind != "" && !s.table.HasKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", kind))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	entities, err := s.entities.ListEntities(r.Context(), kind, status, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if entities == nil {
		entities = []*models.Entity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *HTTPServer) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	var entity models.Entity
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&entity); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}

	if !s.table.HasKind(entity.Kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", entity.Kind))
		return
	}

	if err := s.entities.CreateEntity(r.Context(), &entity); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &entity)
}

// GET   /api/v1/entities/{id}
// PATCH /api/v1/entities/{id}/status   (PUT also accepted)
// PATCH /api/v1/entities/{id}/payment  (PUT also accepted)
func (s *HTTPServer) handleEntityByID(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/entities/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "not found")
		return
	}

	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "entity id must be an integer")
		return
	}

	switch {
	case len(parts) == 1:
		metrics.IncHTTP("entity_get")
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleGetEntity(w, r, id)
	case len(parts) == 2 && parts[1] == "status":
		metrics.IncHTTP("entity_status")
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleUpdateStatus(w, r, id)
	case len(parts) == 2 && parts[1] == "payment":
		metrics.IncHTTP("entity_payment")
		if r.Method != http.MethodPatch && r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		s.handleUpdatePayment(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not_found", "not found")
	}
}

func (s *HTTPServer) handleGetEntity(w http.ResponseWriter, r *http.Request, id int64) {
	entity, err := s.entities.GetEntity(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *HTTPServer) handleUpdateStatus(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		Status string `json:"status"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.Status) == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "status is required")
		return
	}

	entity, err := s.lifecycle.AttemptTransition(r.Context(), id, body.Status)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

func (s *HTTPServer) handleUpdatePayment(w http.ResponseWriter, r *http.Request, id int64) {
	var body struct {
		PaymentStatus string `json:"payment_status"`
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid JSON body")
		return
	}
	if !models.IsValidPaymentStatus(body.PaymentStatus) {
		writeError(w, http.StatusBadRequest, "invalid_payment_status",
			fmt.Sprintf("unknown payment status %q", body.PaymentStatus))
		return
	}

	entity, err := s.entities.UpdatePaymentStatus(r.Context(), id, body.PaymentStatus)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entity)
}

// GET /api/v1/transitions?kind=&from=
// Drives the dashboard dropdowns: only legal next states are offered.
func (s *HTTPServer) handleTransitions(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("transitions")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	if kind == "" || from == "" {
		writeError(w, http.StatusBadRequest, "invalid_query", "kind and from are required")
		return
	}
	if !s.table.HasKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", kind))
		return
	}

	transitions := s.lifecycle.AllowedTransitions(kind, from)
	if transitions == nil {
		transitions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"kind":        kind,
		"from":        from,
		"transitions": transitions,
	})
}

// GET /api/v1/export?kind=
func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	kind := strings.TrimSpace(r.URL.Query().Get("kind"))
	if kind != "" && !s.table.HasKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind", fmt.Sprintf("unknown kind %q", kind))
		return
	}

	entities, err := s.entities.ListEntities(r.Context(), kind, "", 0)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	filename := "entities.xlsx"
	if kind != "" {
		filename = fmt.Sprintf("%s_entities.xlsx", kind)
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename=%q`, filename))
	if err := export.WriteWorkbook(entities, w); err != nil {
		s.logger.Error().Err(err).Msg("write export workbook")
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps engine and store errors to HTTP responses so the
// dashboard can explain every rejection.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var illegal *lifecycle.IllegalTransitionError
	var invalid *lifecycle.InvalidStateError
	var guard *lifecycle.GuardRejectedError

	switch {
	case errors.Is(err, database.ErrEntityNotFound):
		writeError(w, http.StatusNotFound, "not_found", "entity not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_state", invalid.Error())
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "illegal_transition",
			"message": illegal.Error(),
			"from":    illegal.From,
			"to":      illegal.To,
		})
	case errors.As(err, &guard):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":   "guard_rejected",
			"message": guard.Error(),
			"reason":  guard.Reason,
		})
	case errors.Is(err, database.ErrConcurrentModification):
		// Retryable from the client's side.
		writeError(w, http.StatusConflict, "conflict", "entity was modified concurrently, retry")
	default:
		s.logger.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

const requestIDHeader = "x-request-id"

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	base := s.logger.With().Str("component", "http").Logger()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		base.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]string{"error": code, "message": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
