package adminhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeQueue struct {
	depth int64
	err   error
}

func (q *fakeQueue) GetQueueDepth(ctx context.Context, topic string) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	return q.depth, nil
}

func TestHealthzReturnsOK(t *testing.T) {
	s := New(nil, nil, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("healthz: status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz: decode body: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("healthz: status field = %v, want ok", body["status"])
	}
}

func TestQueueDepthReturnsCount(t *testing.T) {
	s := New(nil, &fakeQueue{depth: 7}, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue/tasks.run1/depth", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("queue depth: status = %d, want %d", rr.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("queue depth: decode body: %v", err)
	}
	if body["depth"] != float64(7) {
		t.Fatalf("queue depth: depth = %v, want 7", body["depth"])
	}
}

func TestQueueDepthWithoutQueueConfigured(t *testing.T) {
	s := New(nil, nil, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue/tasks.run1/depth", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("queue depth: status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

func TestQueueDepthPropagatesError(t *testing.T) {
	s := New(nil, &fakeQueue{err: fmt.Errorf("etcd unavailable")}, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/queue/tasks.run1/depth", nil))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("queue depth: status = %d, want %d", rr.Code, http.StatusInternalServerError)
	}
}

func TestMetricsDisabledReturns404(t *testing.T) {
	s := New(nil, nil, nil)
	rr := httptest.NewRecorder()
	s.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics: status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}
