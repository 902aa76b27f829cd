package review

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"review-montage/internal/api"
	"review-montage/internal/platform/logger"
)

const (
	monitorsJSON = `{"results":[{"id":1,"name":"Front Door"},{"id":2,"name":"Garden"}]}`
	eventsJSON   = `{"results":[` +
		`{"id":42,"monitorId":1,"start":"2025-01-01T00:00:00","end":"2025-01-01T00:01:00","frames":600,"size":5300000,"runtime":60,"location":"http://media/42.mp4"},` +
		`{"id":43,"monitorId":3,"start":"2025-01-01T00:02:00","end":"2025-01-01T03:00:00","frames":10,"size":1000,"runtime":3725,"location":"http://media/43.mp4"}]}`
	event42JSON   = `{"id":42,"monitorId":1,"start":"2025-01-01T00:00:00","end":"2025-01-01T00:01:00","frames":600,"size":5300000,"runtime":60,"location":"http://media/42.mp4"}`
	notFoundJSON  = `{"status":"NOT_FOUND","code":404,"timestamp":"2025-01-01T00:00:00","message":"Requested resource was not found"}`
	clipBytes     = "clip-bytes"
	searchFrom    = "2025-01-01T00:00:00"
	searchTo      = "2025-01-01T01:00:00"
	sessionTick   = 10 * time.Millisecond
	pollTimeout   = 2 * time.Second
	pollInterval  = 10 * time.Millisecond
)

// newFakeAPI serves a tiny review API with two monitors and two events.
func newFakeAPI(t *testing.T) *api.Client {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/monitor", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, monitorsJSON)
		})
		r.Get("/event", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, eventsJSON)
		})
		r.Get("/event/{id}", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if chi.URLParam(r, "id") != "42" {
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, notFoundJSON)
				return
			}
			io.WriteString(w, event42JSON)
		})
		r.Get("/event/{id}/export", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("download") != "true" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.Header().Set("Content-Type", "video/mp4")
			io.WriteString(w, clipBytes)
		})
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	c, err := api.New(srv.URL+"/api/v1/", api.WithLocation(time.UTC), api.WithRetry(api.RetryConfig{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
	}))
	if err != nil {
		t.Fatalf("api.New: %v", err)
	}
	return c
}

func newTestService(t *testing.T) (*Service, *InMemoryRepository) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	repo := NewInMemoryRepository()
	svc := NewService(ctx, repo, newFakeAPI(t), logger.Discard(), Config{TickInterval: sessionTick})
	t.Cleanup(func() {
		svc.CloseAll()
		cancel()
	})
	return svc, repo
}

func newTestHandler(t *testing.T) (*Handler, *chi.Mux, *Service) {
	t.Helper()
	svc, _ := newTestService(t)
	h := NewHandler(svc, logger.Discard(), nil)
	r := chi.NewRouter()
	h.Routes(r)
	return h, r, svc
}

// eventually polls cond until it holds or the timeout passes.
func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(pollTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(pollInterval)
	}
	t.Fatal("condition not met before timeout")
}
