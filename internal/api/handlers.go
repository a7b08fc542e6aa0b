package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotline/internal/database"
	"slotline/internal/service"
)

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now().UTC()
	from := now
	to := now.AddDate(0, 0, s.cfg.Conversation.SearchWindowDays)
	if raw := r.URL.Query().Get("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected RFC3339")
			return
		}
		from = t
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected RFC3339")
			return
		}
		to = t
	}

	slots, err := s.svc.ListAvailable(r.Context(), from, to,
		r.URL.Query().Get("provider_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": slots})
}

func (s *HTTPServer) handleSeedSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		ProviderID    string `json:"provider_id"`
		StartDate     string `json:"start_date"`
		Days          int    `json:"days"`
		StartHour     int    `json:"start_hour"`
		EndHour       int    `json:"end_hour"`
		SlotMinutes   int    `json:"slot_minutes"`
		BufferMinutes int    `json:"buffer_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	startDate, err := time.Parse("2006-01-02", body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date; expected YYYY-MM-DD")
		return
	}
	if body.Days <= 0 {
		body.Days = 7
	}
	if body.SlotMinutes <= 0 {
		body.SlotMinutes = 30
	}

	created, err := s.db.SeedSlots(r.Context(), body.ProviderID, startDate,
		body.Days, body.StartHour, body.EndHour, body.SlotMinutes, body.BufferMinutes)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"created": created})
}

func (s *HTTPServer) handleAppointments(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	appointments, err := s.db.ListAppointments(r.Context(),
		r.URL.Query().Get("contact_id"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": appointments})
}

// handleAppointmentAction routes /api/v1/appointments/{id}/{action}.
func (s *HTTPServer) handleAppointmentAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/appointments/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")

	if len(parts) == 1 && parts[0] != "" {
		s.getAppointment(w, r, parts[0])
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	id, action := parts[0], parts[1]
	switch {
	case action == "cancel" && r.Method == http.MethodPost:
		s.cancelAppointment(w, r, id)
	case action == "reschedule" && r.Method == http.MethodPost:
		s.rescheduleAppointment(w, r, id)
	case action == "notes" && r.Method == http.MethodPatch:
		s.updateNotes(w, r, id)
	case action == "complete" && r.Method == http.MethodPost:
		s.markTerminal(w, r, id, s.db.MarkCompleted)
	case action == "no-show" && r.Method == http.MethodPost:
		s.markTerminal(w, r, id, s.db.MarkNoShow)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) getAppointment(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	appt, err := s.svc.GetAppointment(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "appointment not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get appointment")
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) cancelAppointment(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Reason == "" {
		body.Reason = "admin_request"
	}

	appt, err := s.svc.Cancel(r.Context(), id, body.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) rescheduleAppointment(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		NewSlotID string `json:"new_slot_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.NewSlotID == "" {
		writeError(w, http.StatusBadRequest, "new_slot_id is required")
		return
	}

	appt, err := s.svc.Reschedule(r.Context(), id, body.NewSlotID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (s *HTTPServer) updateNotes(w http.ResponseWriter, r *http.Request, id string) {
	var body struct {
		Notes   string `json:"notes"`
		Version int64  `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.svc.UpdateNotes(r.Context(), id, body.Version, body.Notes)
	if errors.Is(err, database.ErrConcurrentModification) {
		writeError(w, http.StatusConflict, "appointment was modified concurrently")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update notes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) markTerminal(w http.ResponseWriter, r *http.Request, id string, mark func(context.Context, string) error) {
	if err := mark(r.Context(), id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	states, err := s.db.ListConversations(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list conversations")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": states})
}

// handleContactMessages serves /api/v1/contacts/{id}/messages.
func (s *HTTPServer) handleContactMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) != 2 || parts[1] != "messages" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	messages, err := s.db.RecentMessages(r.Context(), parts[0], queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "appointment not found")
	case errors.Is(err, database.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot is not available")
	case errors.Is(err, database.ErrAlreadyCancelled):
		writeError(w, http.StatusConflict, "appointment is not active")
	case errors.Is(err, service.ErrTooSoon), errors.Is(err, service.ErrOutsideWindow):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
