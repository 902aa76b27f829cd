package review

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"review-montage/internal/api"
	"review-montage/internal/montage"
	"review-montage/internal/platform/metrics"
)

const errorTimestampLayout = "2006-01-02T15:04:05"

// Handler exposes the review HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Logger, and optional Metrics.
// Metrics may be nil to disable metric recording (e.g. in tests).
func NewHandler(svc *Service, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, log: log, metrics: m}
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/monitors", h.ListMonitors)
	r.Route("/events", func(r chi.Router) {
		r.Get("/", h.ListEvents)
		r.Get("/{event_id}", h.GetEvent)
		r.Get("/{event_id}/download", h.DownloadEvent)
	})
	r.Route("/montage", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Route("/{session_id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Delete("/", h.CloseSession)
			r.Post("/search", h.Search)
			r.Post("/play", h.Play)
			r.Post("/pause", h.Pause)
			r.Put("/rate", h.SetRate)
			r.Put("/layout", h.SetLayout)
			r.Put("/timestamp", h.SetTimestamp)
			r.Post("/feeds/{monitor_id}/progress", h.ReportProgress)
			r.Get("/ws", h.Stream)
		})
	})
}

// ListMonitors handles GET /monitors.
func (h *Handler) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.svc.ListMonitors(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ListResponse[api.Monitor]{Results: monitors})
}

// ListEvents handles GET /events?after=...&before=...&monitor=1&monitor=2.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req, err := h.parseSearch(q.Get("after"), q.Get("before"), q["monitor"])
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rows, err := h.svc.ListEvents(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, api.ListResponse[EventRow]{Results: rows})
}

// GetEvent handles GET /events/{event_id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	row, err := h.svc.GetEvent(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, row)
}

// DownloadEvent handles GET /events/{event_id}/download by streaming the clip
// from the API as an attachment.
func (h *Handler) DownloadEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := h.eventID(w, r)
	if !ok {
		return
	}
	dl, err := h.svc.Download(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer dl.Body.Close()

	contentType := dl.ContentType
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	if dl.ContentLength >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(dl.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		h.log.Debug("download interrupted",
			slog.Int64("event_id", int64(id)),
			slog.String("error", err.Error()))
	}
}

// CreateSession handles POST /montage.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.CreateSession()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.updateSessionGauge()
	h.writeJSON(w, http.StatusCreated, map[string]SessionID{"id": id})
}

// GetSession handles GET /montage/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, sess.Snapshot())
}

// CloseSession handles DELETE /montage/{session_id}.
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := SessionID(chi.URLParam(r, "session_id"))
	if err := h.svc.CloseSession(id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.updateSessionGauge()
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) updateSessionGauge() {
	if h.metrics != nil {
		h.metrics.SetActiveSessions(h.svc.ActiveSessionCount())
	}
}

type searchBody struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Monitors []api.MonitorID `json:"monitors"`
}

// Search handles POST /montage/{session_id}/search.
// Body: { "from": "2025-01-01T00:00:00", "to": "...", "monitors": [1, 2] }.
// The search runs in the background; 202 means it was accepted.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var body searchBody
	if !h.decode(w, r, &body) {
		return
	}

	ids := make([]string, 0, len(body.Monitors))
	for _, id := range body.Monitors {
		ids = append(ids, strconv.FormatInt(int64(id), 10))
	}
	req, err := h.parseSearch(body.From, body.To, ids)
	if err == nil {
		err = sess.Search(r.Context(), req)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, sess.Snapshot())
}

// Play handles POST /montage/{session_id}/play.
func (h *Handler) Play(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(ctx context.Context, s *montage.Session) error { return s.Play(ctx) })
}

// Pause handles POST /montage/{session_id}/pause.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, func(ctx context.Context, s *montage.Session) error { return s.Pause(ctx) })
}

// SetRate handles PUT /montage/{session_id}/rate. Body: { "rate": 4 }.
func (h *Handler) SetRate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rate float64 `json:"rate"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.command(w, r, func(ctx context.Context, s *montage.Session) error { return s.SetRate(ctx, body.Rate) })
}

// SetLayout handles PUT /montage/{session_id}/layout. Body: { "columns": 3 }.
func (h *Handler) SetLayout(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Columns int `json:"columns"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	h.command(w, r, func(ctx context.Context, s *montage.Session) error { return s.SetLayout(ctx, body.Columns) })
}

// SetTimestamp handles PUT /montage/{session_id}/timestamp.
// Body: { "timestamp": "2025-01-01T00:30:00" }.
func (h *Handler) SetTimestamp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Timestamp string `json:"timestamp"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	t, err := h.svc.ParseTime(body.Timestamp)
	if err != nil {
		h.writeError(w, r, fieldError("timestamp", "Invalid date"))
		return
	}
	h.command(w, r, func(ctx context.Context, s *montage.Session) error { return s.Scrub(ctx, t) })
}

// ReportProgress handles POST /montage/{session_id}/feeds/{monitor_id}/progress.
// Body: { "seconds": 12.5 }.
func (h *Handler) ReportProgress(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	monitor, err := strconv.ParseInt(chi.URLParam(r, "monitor_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, fieldError("monitor_id", "Invalid monitor"))
		return
	}
	var body struct {
		Seconds float64 `json:"seconds"`
	}
	if !h.decode(w, r, &body) {
		return
	}
	if err := sess.ReportProgress(r.Context(), api.MonitorID(monitor), body.Seconds); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// command runs fn against the addressed session and replies with the
// resulting snapshot.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context, *montage.Session) error) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), sess); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*montage.Session, bool) {
	id := SessionID(chi.URLParam(r, "session_id"))
	sess, err := h.svc.Session(id)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return sess, true
}

func (h *Handler) eventID(w http.ResponseWriter, r *http.Request) (api.EventID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "event_id"), 10, 64)
	if err != nil {
		h.writeError(w, r, fieldError("event_id", "Invalid event"))
		return 0, false
	}
	return api.EventID(n), true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.log.Debug("invalid request body", slog.String("error", err.Error()))
		h.writeError(w, r, fieldError("body", "Malformed JSON request"))
		return false
	}
	return true
}

// parseSearch builds a search from raw form values. Empty dates stay nil so
// validation can report them.
func (h *Handler) parseSearch(from, to string, monitors []string) (montage.SearchRequest, error) {
	var req montage.SearchRequest
	fields := make(map[string]string)

	parse := func(field, v string) *time.Time {
		if v == "" {
			return nil
		}
		t, err := h.svc.ParseTime(v)
		if err != nil {
			fields[field] = "Invalid date"
			return nil
		}
		return &t
	}
	req.From = parse(montage.FieldFrom, from)
	req.To = parse(montage.FieldTo, to)

	for _, m := range monitors {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			fields[montage.FieldMonitors] = "Invalid monitor"
			continue
		}
		req.Monitors = append(req.Monitors, api.MonitorID(id))
	}

	if len(fields) > 0 {
		return req, &montage.ValidationError{Fields: fields}
	}
	return req, nil
}

func fieldError(field, message string) error {
	return &montage.ValidationError{Fields: map[string]string{field: message}}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Debug("write response failed", slog.String("error", err.Error()))
	}
}

// writeError maps err to a status code and writes it in the same shape the
// review API uses for its own errors.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *montage.ValidationError
		apiErr *api.APIError
	)
	status := http.StatusInternalServerError
	body := api.ErrorBody{}

	switch {
	case errors.As(err, &verr):
		status = http.StatusBadRequest
		body.Message = "Validation of request failed"
		names := make([]string, 0, len(verr.Fields))
		for name := range verr.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			body.Errors = append(body.Errors, api.FieldError{Field: name, Message: verr.Fields[name]})
		}
	case errors.Is(err, ErrSessionNotFound):
		status = http.StatusNotFound
		body.Message = "Session not found"
	case errors.Is(err, montage.ErrSessionStopped):
		status = http.StatusGone
		body.Message = "Session has stopped"
	case errors.Is(err, montage.ErrInvalidRate), errors.Is(err, montage.ErrInvalidLayout),
		errors.Is(err, montage.ErrInvalidProgress):
		status = http.StatusBadRequest
		body.Message = err.Error()
	case errors.Is(err, montage.ErrUnknownMonitor):
		status = http.StatusNotFound
		body.Message = err.Error()
	case errors.Is(err, montage.ErrNoRange):
		status = http.StatusConflict
		body.Message = err.Error()
	case errors.As(err, &apiErr):
		status = http.StatusBadGateway
		if apiErr.StatusCode == http.StatusNotFound {
			status = http.StatusNotFound
		}
		body.Message = apiErr.Error()
		body.Errors = apiErr.Body.Errors
	case errors.Is(err, api.ErrNetwork):
		status = http.StatusBadGateway
		body.Message = "Network Error: " + err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
		body.Message = "Request cancelled"
	default:
		body.Message = "Internal server error"
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	} else {
		h.log.Debug("request rejected",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()))
	}

	body.Status = statusName(status)
	body.Code = status
	body.Timestamp = time.Now().Format(errorTimestampLayout)
	h.writeJSON(w, status, body)
}

// statusName renders a status as an upper snake case name, e.g. NOT_FOUND.
func statusName(status int) string {
	return strings.ToUpper(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
