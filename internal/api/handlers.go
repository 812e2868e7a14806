package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ridequeue/internal/domain"
	"ridequeue/internal/export"
	"ridequeue/internal/models"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type admissionResponse struct {
	Entry   *models.QueueEntry `json:"entry"`
	Created bool               `json:"created"`
}

type queueResponse struct {
	Entries []*models.QueueEntry `json:"entries"`
	Count   int                  `json:"count"`
}

func newQueueResponse(entries []*models.QueueEntry) queueResponse {
	if entries == nil {
		entries = []*models.QueueEntry{}
	}
	return queueResponse{Entries: entries, Count: len(entries)}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	includeTerminal, err := parseBoolParam(r, "include_terminal")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	entries, err := s.svc.GetCurrentQueue(r.Context(), includeTerminal)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueResponse(entries))
}

func (s *HTTPServer) handleNext(w http.ResponseWriter, r *http.Request) {
	next, err := s.svc.GetNextCustomer(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if next == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	includeTerminal, err := parseBoolParam(r, "include_terminal")
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	entries, err := s.svc.GetCurrentQueue(r.Context(), includeTerminal)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	now := s.now()
	var buf bytes.Buffer
	if err := export.WriteQueue(&buf, entries, now); err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(now)))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *HTTPServer) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "live feed is disabled")
		return
	}
	actor, err := s.actors.resolve(r)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	s.hub.serveWS(w, r, actor.Username, s.queueSnapshot)
}

func (s *HTTPServer) queueSnapshot(ctx context.Context) ([]byte, error) {
	entries, err := s.svc.GetCurrentQueue(ctx, false)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(newQueueResponse(entries))
	if err != nil {
		return nil, err
	}
	return json.Marshal(feedMessage{Type: messageQueueSnapshot, Payload: payload, CreatedAt: s.now()})
}

func (s *HTTPServer) handleGetEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.GetEntry(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleAdmission(w http.ResponseWriter, r *http.Request) {
	var payment models.PaymentConfirmation
	if err := decodeJSON(w, r, &payment); err != nil {
		s.writeServiceError(w, err)
		return
	}
	if payment.Amount.IsNegative() {
		s.writeServiceError(w, fmt.Errorf("amount must not be negative: %w", domain.ErrInvalidArgument))
		return
	}

	entry, created, err := s.svc.OnPaymentConfirmed(r.Context(), payment)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, admissionResponse{Entry: entry, Created: created})
}

func (s *HTTPServer) handleStartRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorWithRole(w, r, models.RoleDriver)
	if !ok {
		return
	}
	entry, err := s.svc.StartRide(r.Context(), r.PathValue("id"), actor.Username)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleCompleteRide(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorWithRole(w, r, models.RoleDriver)
	if !ok {
		return
	}
	entry, err := s.svc.CompleteRide(r.Context(), r.PathValue("id"), actor.Username)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleRemoveCustomer(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorWithRole(w, r, models.RoleSales, models.RoleDriver)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		s.writeServiceError(w, fmt.Errorf("reason is required: %w", domain.ErrInvalidArgument))
		return
	}

	entry, err := s.svc.RemoveCustomer(r.Context(), r.PathValue("id"), reason, actor.Username)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *HTTPServer) handleReorder(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorWithRole(w, r, models.RoleSales)
	if !ok {
		return
	}

	var body struct {
		Order []string `json:"order"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}

	if err := s.svc.Reorder(r.Context(), body.Order, actor); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeActiveQueue(w, r)
}

func (s *HTTPServer) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Recalculate(r.Context()); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeActiveQueue(w, r)
}

func (s *HTTPServer) handleSyncDesktop(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.actorWithRole(w, r, models.RoleDesktop, models.RoleSales)
	if !ok {
		return
	}

	var body struct {
		Snapshot []string `json:"snapshot"`
	}
	if err := decodeJSON(w, r, &body); err != nil {
		s.writeServiceError(w, err)
		return
	}

	report, err := s.svc.SyncFromDesktop(r.Context(), body.Snapshot, actor)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleSyncState(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actorWithRole(w, r, models.RoleDesktop, models.RoleSales); !ok {
		return
	}

	state, err := s.svc.GetSyncState(r.Context(), r.PathValue("terminal"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "terminal has not synced")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleResetSyncState(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actorWithRole(w, r, models.RoleDesktop, models.RoleSales); !ok {
		return
	}
	if err := s.svc.ResetSyncState(r.Context(), r.PathValue("terminal")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type mirrorTasksResponse struct {
	Tasks []models.SyncTask `json:"tasks"`
	Count int               `json:"count"`
}

// handleMirrorTasks lists mirror jobs by status, failed ones by default.
func (s *HTTPServer) handleMirrorTasks(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.actorWithRole(w, r, models.RoleSales); !ok {
		return
	}
	if s.tasks == nil {
		writeError(w, http.StatusNotFound, "mirror is disabled")
		return
	}

	status := strings.TrimSpace(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = models.SyncStatusFailed
	case models.SyncStatusPending, models.SyncStatusRetry, models.SyncStatusCompleted,
		models.SyncStatusFailed, models.SyncStatusSuperseded:
	default:
		s.writeServiceError(w, fmt.Errorf("unknown task status %q: %w", status, domain.ErrInvalidArgument))
		return
	}

	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeServiceError(w, fmt.Errorf("limit must be a positive integer: %w", domain.ErrInvalidArgument))
			return
		}
		limit = n
	}

	tasks, err := s.tasks.ListSyncTasks(r.Context(), status, limit)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if tasks == nil {
		tasks = []models.SyncTask{}
	}
	writeJSON(w, http.StatusOK, mirrorTasksResponse{Tasks: tasks, Count: len(tasks)})
}

func (s *HTTPServer) writeActiveQueue(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.GetCurrentQueue(r.Context(), false)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newQueueResponse(entries))
}

// actorWithRole resolves the caller and checks its role, writing the error
// response itself when either fails.
func (s *HTTPServer) actorWithRole(w http.ResponseWriter, r *http.Request, roles ...string) (models.Actor, bool) {
	actor, err := s.actors.resolve(r)
	if err == nil {
		err = requireRole(actor, roles...)
	}
	if err != nil {
		s.writeServiceError(w, err)
		return models.Actor{}, false
	}
	return actor, true
}

func parseBoolParam(r *http.Request, name string) (bool, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean: %w", name, domain.ErrInvalidArgument)
	}
	return v, nil
}
