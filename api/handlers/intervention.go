package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/browsergrid/handoff/coordinator"
	"github.com/browsergrid/handoff/types"
)

// InterventionHandler serves the intervention control surface: the endpoints
// the operator dashboard uses to list, acknowledge, resolve, and cancel
// sessions.
type InterventionHandler struct {
	registry *coordinator.Registry
	logger   *zap.Logger
}

// SessionInfo is the API view of a session record.
type SessionInfo struct {
	ID            string          `json:"id"`
	RunID         string          `json:"run_id"`
	Status        types.Status    `json:"status"`
	Category      types.Category  `json:"category"`
	Reason        string          `json:"reason"`
	Instructions  string          `json:"instructions,omitempty"`
	Resolution    json.RawMessage `json:"resolution,omitempty"`
	CancelReason  string          `json:"cancel_reason,omitempty"`
	HasScreenshot bool            `json:"has_screenshot"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	TimeoutAt     *time.Time      `json:"timeout_at,omitempty"`
}

// ResolveRequest is the body of POST /interventions/{id}/resolve.
type ResolveRequest struct {
	// Resolution is an opaque payload forwarded to the suspended automation,
	// e.g. the fields the human filled in.
	Resolution json.RawMessage `json:"resolution,omitempty"`
}

// CancelRequest is the body of POST /interventions/{id}/cancel and
// DELETE /runs/{id}.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StatusInfo is the response of GET /interventions/{id}/status.
type StatusInfo struct {
	SessionID string       `json:"session_id"`
	Status    types.Status `json:"status"`
}

// NewInterventionHandler creates the intervention handler.
func NewInterventionHandler(registry *coordinator.Registry, logger *zap.Logger) *InterventionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterventionHandler{
		registry: registry,
		logger:   logger.With(zap.String("component", "intervention_handler")),
	}
}

// HandleList serves GET /api/v1/interventions. With a run_id query parameter
// it lists every session of that run; without one it lists the currently
// open session of each run, which is what the dashboard polls.
func (h *InterventionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run_id")

	if runID == "" {
		open := h.registry.OpenSessions()
		result := make([]SessionInfo, 0, len(open))
		for _, sess := range open {
			result = append(result, toSessionInfo(sess))
		}
		WriteSuccess(w, result)
		return
	}

	sessions, err := h.registry.Sessions(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	result := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		result = append(result, toSessionInfo(sess))
	}
	WriteSuccess(w, result)
}

// HandleGet serves GET /api/v1/interventions/{id}.
func (h *InterventionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session ID is required", h.logger)
		return
	}

	sess, err := h.registry.Session(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, toSessionInfo(sess))
}

// HandleStatus serves GET /api/v1/interventions/{id}/status, the cheap
// polling endpoint.
func (h *InterventionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session ID is required", h.logger)
		return
	}

	status, err := h.registry.StatusOf(r.Context(), id)
	if err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	WriteSuccess(w, StatusInfo{SessionID: id, Status: status})
}

// HandleAcknowledge serves POST /api/v1/interventions/{id}/ack.
func (h *InterventionHandler) HandleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session ID is required", h.logger)
		return
	}

	if err := h.registry.Acknowledge(r.Context(), id); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session acknowledged", zap.String("session_id", id))
	WriteSuccess(w, StatusInfo{SessionID: id, Status: types.StatusInProgress})
}

// HandleResolve serves POST /api/v1/interventions/{id}/resolve.
func (h *InterventionHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session ID is required", h.logger)
		return
	}

	var req ResolveRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if err := h.registry.Resolve(r.Context(), id, req.Resolution); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session resolved", zap.String("session_id", id))
	WriteSuccess(w, StatusInfo{SessionID: id, Status: types.StatusCompleted})
}

// HandleCancel serves POST /api/v1/interventions/{id}/cancel.
func (h *InterventionHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := sessionID(r)
	if id == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "session ID is required", h.logger)
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	if err := h.registry.Cancel(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("session cancelled",
		zap.String("session_id", id), zap.String("reason", req.Reason))
	WriteSuccess(w, StatusInfo{SessionID: id, Status: types.StatusFailed})
}

// HandleCloseRun serves DELETE /api/v1/runs/{id}. It fails the run's open
// session, unblocks its waiter, and removes the run.
func (h *InterventionHandler) HandleCloseRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")
	if runID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "run ID is required", h.logger)
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "run closed by operator"
	}

	if err := h.registry.CloseRun(r.Context(), runID, reason); err != nil {
		writeDomainError(w, err, h.logger)
		return
	}
	h.logger.Info("run closed", zap.String("run_id", runID), zap.String("reason", reason))
	WriteSuccess(w, map[string]string{"run_id": runID, "status": "closed"})
}

// sessionID extracts the session id path segment.
func sessionID(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	// Fallback for muxes without pattern support.
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/interventions/")
	if idx := strings.IndexByte(path, '/'); idx >= 0 {
		path = path[:idx]
	}
	if path == r.URL.Path {
		return ""
	}
	return path
}

func toSessionInfo(sess *types.Session) SessionInfo {
	return SessionInfo{
		ID:            sess.ID,
		RunID:         sess.RunID,
		Status:        sess.Status,
		Category:      sess.Category,
		Reason:        sess.Reason,
		Instructions:  sess.Instructions,
		Resolution:    sess.Resolution,
		CancelReason:  sess.CancelReason,
		HasScreenshot: sess.HasScreenshot,
		CreatedAt:     sess.CreatedAt,
		UpdatedAt:     sess.UpdatedAt,
		TimeoutAt:     sess.TimeoutAt,
	}
}
