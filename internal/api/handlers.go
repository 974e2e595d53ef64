// Package api exposes HTTP handlers for the timer service.
package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/elieceruiz/track-rutina/internal/auth"
	"github.com/elieceruiz/track-rutina/internal/domain"
	"github.com/elieceruiz/track-rutina/internal/persistence"
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/timers", h.timers)
	mux.HandleFunc("/v1/timers/open", h.openTimer)
	mux.HandleFunc("/v1/timers/", h.timerByID)
	mux.HandleFunc("/v1/history", h.history)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) timers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.startTimer(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) timerByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/timers/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing timer id")
		return
	}

	id, action, _ := strings.Cut(rest, "/")

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getTimer(w, r, id)
	case action == "stop" && r.Method == http.MethodPost:
		h.stopTimer(w, r, id)
	case action == "photos" && r.Method == http.MethodPost:
		h.attachPhotos(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) startTimer(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:write required")
		return
	}

	var req StartTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	record, err := h.service.Start(r.Context(), domain.StartInput{
		UserID:     claims.Subject,
		Kind:       domain.ActivityKind(req.Kind),
		Subtype:    req.Subtype,
		ExpectedAt: req.ExpectedAt,
		Amount:     req.Amount,
		Reason:     req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTimerConflict):
			writeError(w, http.StatusConflict, "conflict", "a timer is already running for this activity")
		case errors.Is(err, domain.ErrUnknownKind):
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown activity kind")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, toTimerView(record, h.service.Elapsed(record)))
}

func (h *Handler) stopTimer(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:write required")
		return
	}

	record, replay, err := h.service.Stop(r.Context(), claims.Subject, id)
	if err != nil {
		if errors.Is(err, domain.ErrTimerNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "timer not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	view := toTimerView(record, record.Duration())
	writeJSON(w, http.StatusOK, StopTimerResponse{Timer: view, Replay: replay})
}

func (h *Handler) getTimer(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersRead) && !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:read required")
		return
	}

	record, err := h.service.Get(r.Context(), claims.Subject, id)
	if err != nil {
		if errors.Is(err, domain.ErrTimerNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "timer not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toTimerView(record, h.service.Elapsed(record)))
}

func (h *Handler) openTimer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersRead) && !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:read required")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing kind parameter")
		return
	}

	record, err := h.service.Open(r.Context(), claims.Subject, domain.ActivityKind(kind), r.URL.Query().Get("subtype"))
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrTimerNotFound):
			writeError(w, http.StatusNotFound, "not_found", "no timer running for this activity")
		case errors.Is(err, domain.ErrUnknownKind):
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown activity kind")
		default:
			writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, toTimerView(record, h.service.Elapsed(record)))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listHistory(w, r)
	case http.MethodDelete:
		h.clearHistory(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersRead) && !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:read required")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing kind parameter")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.History(r.Context(), claims.Subject, domain.ActivityKind(kind), r.URL.Query().Get("subtype"), cursor, limit)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown activity kind")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	items := make([]TimerView, 0, len(records))
	for i := range records {
		items = append(items, toTimerView(&records[i], records[i].Duration()))
	}

	writeJSON(w, http.StatusOK, HistoryResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) clearHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:write required")
		return
	}

	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing kind parameter")
		return
	}

	deleted, err := h.service.ClearHistory(r.Context(), claims.Subject, domain.ActivityKind(kind))
	if err != nil {
		if errors.Is(err, domain.ErrUnknownKind) {
			writeError(w, http.StatusBadRequest, "validation_failed", "unknown activity kind")
			return
		}
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, ClearHistoryResponse{Deleted: deleted})
}

func (h *Handler) attachPhotos(w http.ResponseWriter, r *http.Request, id string) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return
	}
	if !claims.HasScope(auth.ScopeTimersWrite) {
		writeError(w, http.StatusForbidden, "forbidden", "scope timers:write required")
		return
	}

	var req AttachPhotosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	before, err := base64.StdEncoding.DecodeString(req.Before)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "before must be base64-encoded")
		return
	}
	after, err := base64.StdEncoding.DecodeString(req.After)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "after must be base64-encoded")
		return
	}

	record, err := h.service.AttachPhotos(r.Context(), claims.Subject, id, before, after)
	if err != nil {
		if errors.Is(err, domain.ErrTimerNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "timer not found")
			return
		}
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, toTimerView(record, record.Duration()))
}

// StartTimerRequest is the payload for POST /v1/timers.
type StartTimerRequest struct {
	Kind       string `json:"kind"`
	Subtype    string `json:"subtype,omitempty"`
	ExpectedAt string `json:"expected_at,omitempty"`
	Amount     *int64 `json:"amount,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Validate ensures request correctness.
func (r StartTimerRequest) Validate() error {
	if strings.TrimSpace(r.Kind) == "" {
		return errors.New("kind is required")
	}
	if r.Kind == string(domain.KindCommute) && strings.TrimSpace(r.ExpectedAt) == "" {
		return errors.New("expected_at is required for commute timers")
	}
	if r.Kind == string(domain.KindPayment) {
		if r.Amount == nil || *r.Amount <= 0 {
			return errors.New("amount must be > 0 for payment timers")
		}
		if strings.TrimSpace(r.Reason) == "" {
			return errors.New("reason is required for payment timers")
		}
	}
	return nil
}

// StopTimerResponse wraps the completed record. Replay is true when the timer
// was already stopped and the original completion is returned unchanged.
type StopTimerResponse struct {
	Timer  TimerView `json:"timer"`
	Replay bool      `json:"idempotent_replay"`
}

// TimerView exposes full details about a timer.
type TimerView struct {
	TimerID         string     `json:"timer_id"`
	Kind            string     `json:"kind"`
	Subtype         string     `json:"subtype,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	InProgress      bool       `json:"in_progress"`
	ElapsedSeconds  int64      `json:"elapsed_seconds"`
	ExpectedAt      string     `json:"expected_at,omitempty"`
	LatenessMinutes *int       `json:"lateness_minutes,omitempty"`
	OnTime          *bool      `json:"on_time,omitempty"`
	Amount          *int64     `json:"amount,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	BeforeScore     *int       `json:"before_score,omitempty"`
	AfterScore      *int       `json:"after_score,omitempty"`
	Improved        *bool      `json:"improved,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// HistoryResponse packages history results.
type HistoryResponse struct {
	Items      []TimerView `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// ClearHistoryResponse reports the number of completed records removed.
type ClearHistoryResponse struct {
	Deleted int64 `json:"deleted"`
}

// AttachPhotosRequest carries a base64-encoded before/after photo pair.
type AttachPhotosRequest struct {
	Before string `json:"before"`
	After  string `json:"after"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func toTimerView(record *domain.TimerRecord, elapsed time.Duration) TimerView {
	view := TimerView{
		TimerID:         record.ID,
		Kind:            string(record.Kind),
		Subtype:         record.Subtype,
		StartedAt:       record.StartedAt,
		EndedAt:         record.EndedAt,
		InProgress:      record.InProgress,
		ElapsedSeconds:  int64(elapsed.Seconds()),
		ExpectedAt:      record.ExpectedAt,
		LatenessMinutes: record.LatenessMinutes,
		Amount:          record.Amount,
		Reason:          record.Reason,
		BeforeScore:     record.BeforeScore,
		AfterScore:      record.AfterScore,
		Improved:        record.Improved,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
	}
	if record.LatenessMinutes != nil {
		onTime := record.OnTime()
		view.OnTime = &onTime
	}
	return view
}
