package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/orquest-service-sync/internal/models"
	"github.com/smartdevs17/orquest-service-sync/internal/processor"
	"github.com/smartdevs17/orquest-service-sync/internal/syncer"
	"github.com/smartdevs17/orquest-service-sync/pkg/utils"
)

const actionSyncAll = "sync_all"

type syncRequest struct {
	Action string `json:"action"`
}

type webhookResponse struct {
	Success   bool   `json:"success"`
	Processed string `json:"processed,omitempty"`
	Status    string `json:"status,omitempty"`
	RecordID  string `json:"record_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Function Handlers

// syncHandler runs the pull syncer
func (s *HTTPServer) syncHandler(w http.ResponseWriter, r *http.Request) {
	if !s.syncer.HasAPIKey() {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": syncer.ErrAPIKeyMissing.Message})
		return
	}

	var req syncRequest
	body, err := s.readBody(w, r)
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		s.writeFunctionError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Action != actionSyncAll {
		s.writeFunctionError(w, http.StatusBadRequest, "Unsupported action: "+req.Action, nil)
		return
	}

	result, err := s.syncer.SyncAll(r.Context(), models.TriggerHTTP)
	if errors.Is(err, syncer.ErrAPIKeyMissing) {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": syncer.ErrAPIKeyMissing.Message})
		return
	}
	if err != nil {
		s.writeFunctionError(w, http.StatusInternalServerError, err.Error(), err)
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	s.writeJSON(w, status, result)
}

// webhookHandler applies one Orquest webhook event
func (s *HTTPServer) webhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := s.readBody(w, r)
	if err != nil {
		s.writeFunctionError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := processor.VerifySignature(s.config.WebhookSecret, body, r.Header.Get(s.config.SignatureHeader)); err != nil {
		s.logger.WithFields(logrus.Fields{
			"remote_ip": r.RemoteAddr,
			"reason":    err.Error(),
		}).Warn("Rejected webhook with bad signature")
		s.writeFunctionError(w, http.StatusUnauthorized, "Invalid webhook signature", nil)
		return
	}

	result, err := s.processor.ProcessPayload(r.Context(), body)
	if err != nil {
		switch {
		case result == nil:
			s.writeFunctionError(w, http.StatusBadRequest, "Invalid request body", err)
		case utils.HasCode(err, utils.ErrCodeValidation):
			s.writeFunctionError(w, http.StatusBadRequest, errorMessage(err), err)
		default:
			s.writeFunctionError(w, http.StatusInternalServerError, errorMessage(err), err)
		}
		return
	}

	s.writeJSON(w, http.StatusOK, webhookResponse{
		Success:   true,
		Processed: result.EventType,
		Status:    result.Status,
		RecordID:  result.RecordID,
	})
}

// readBody reads the request body up to the configured limit. An empty
// body is left to the decoder to reject.
func (s *HTTPServer) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	return io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes))
}

// Health Handlers

// healthHandler returns basic health status
func (s *HTTPServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.storage.GetHealth(r.Context())

	status := http.StatusOK
	state := "healthy"
	if !storageHealth.Healthy {
		status = http.StatusServiceUnavailable
		state = "unhealthy"
	}

	resp := map[string]interface{}{
		"status":          state,
		"timestamp":       time.Now().UTC().Format(time.RFC3339Nano),
		"version":         s.config.Version,
		"metrics_enabled": s.config.EnableMetrics,
	}
	s.writeJSON(w, status, resp)
}

// detailedHealthHandler returns detailed health status
func (s *HTTPServer) detailedHealthHandler(w http.ResponseWriter, r *http.Request) {
	storageHealth := s.storage.GetHealth(r.Context())

	components := map[string]interface{}{
		"storage":       storageHealth,
		"orquest_api":   map[string]bool{"configured": s.syncer.HasAPIKey()},
		"webhook":       s.processor.GetStats(),
		"signed_events": s.config.WebhookSecret != "",
	}
	if s.scheduler != nil {
		components["scheduler"] = s.scheduler.GetStats()
	}

	state := "healthy"
	status := http.StatusOK
	if !storageHealth.Healthy {
		state = "unhealthy"
		status = http.StatusServiceUnavailable
	} else if !s.syncer.HasAPIKey() {
		state = "degraded"
	}

	s.writeJSON(w, status, map[string]interface{}{
		"status":     state,
		"timestamp":  time.Now().UTC(),
		"version":    s.config.Version,
		"components": components,
	})
}

// statsHandler returns application statistics
func (s *HTTPServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	storageStats, err := s.storage.GetStats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve storage stats", err)
		return
	}

	stats := map[string]interface{}{
		"timestamp":       time.Now().UTC(),
		"storage":         storageStats,
		"webhook":         s.processor.GetStats(),
		"metrics_enabled": s.config.EnableMetrics,
	}
	if s.scheduler != nil {
		stats["scheduler"] = s.scheduler.GetStats()
	}

	s.writeJSON(w, http.StatusOK, stats)
}

// Mirror Handlers

// listServicesHandler lists mirrored services
func (s *HTTPServer) listServicesHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid paging parameters", err)
		return
	}

	filter := models.ServiceFilter{Limit: limit, Offset: offset}
	if name := r.URL.Query().Get("name"); name != "" {
		filter.Name = &name
	}

	services, err := s.storage.GetServices(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve services", err)
		return
	}
	if services == nil {
		services = []*models.Service{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"services": services,
		"count":    len(services),
		"limit":    limit,
		"offset":   offset,
	})
}

// getServiceHandler returns one mirrored service
func (s *HTTPServer) getServiceHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	service, err := s.storage.GetService(r.Context(), id)
	if utils.HasCode(err, utils.ErrCodeNotFound) {
		s.writeError(w, http.StatusNotFound, "Service not found", nil)
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve service", err)
		return
	}

	s.writeJSON(w, http.StatusOK, service)
}

// listSyncRunsHandler returns the sync run history
func (s *HTTPServer) listSyncRunsHandler(w http.ResponseWriter, r *http.Request) {
	limit, _, err := parsePaging(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid paging parameters", err)
		return
	}

	runs, err := s.storage.GetSyncRuns(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve sync runs", err)
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// listWebhookEventsHandler returns webhook audit records; status=failed
// lists dead letters
func (s *HTTPServer) listWebhookEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePaging(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid paging parameters", err)
		return
	}

	filter := models.WebhookEventFilter{Limit: limit, Offset: offset}
	query := r.URL.Query()
	if status := query.Get("status"); status != "" {
		filter.Status = &status
	}
	if serviceID := query.Get("service_id"); serviceID != "" {
		filter.ServiceID = &serviceID
	}

	events, err := s.storage.GetWebhookEvents(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve webhook events", err)
		return
	}
	if events == nil {
		events = []*models.WebhookEventRecord{}
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

func parsePaging(r *http.Request) (int, int, error) {
	limit, offset := defaultPageSize, 0
	query := r.URL.Query()

	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return 0, 0, utils.NewAppError(utils.ErrCodeValidation, "limit must be a positive integer", v)
		}
		limit = min(n, maxPageSize)
	}
	if v := query.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, utils.NewAppError(utils.ErrCodeValidation, "offset must be a non-negative integer", v)
		}
		offset = n
	}
	return limit, offset, nil
}

// errorMessage returns the AppError message with its details, or the plain
// error text
func errorMessage(err error) string {
	var appErr *utils.AppError
	if errors.As(err, &appErr) {
		if appErr.Details != "" {
			return appErr.Message + ": " + appErr.Details
		}
		return appErr.Message
	}
	return err.Error()
}

// Helper functions

// writeJSON writes a JSON response
func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeFunctionError writes the {success:false, error} body the function
// endpoints use
func (s *HTTPServer) writeFunctionError(w http.ResponseWriter, status int, message string, err error) {
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).WithError(err).Error("Function request failed")
	}

	resp := map[string]interface{}{
		"success": false,
		"error":   message,
	}
	s.writeJSON(w, status, resp)
}

// writeError writes an error response
func (s *HTTPServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).WithError(err).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
