package learner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	learnermodel "github.com/zhouzirui/live-coach/backend/internal/model/learner"
	"github.com/zhouzirui/live-coach/backend/internal/service/history"
)

type fixedSessions map[string]string

func (f fixedSessions) ActiveSession(learnerID string) (string, bool) {
	id, ok := f[learnerID]
	return id, ok
}

func newRouter(t *testing.T) (http.Handler, *learnermodel.MemoryDirectory, *history.Service) {
	t.Helper()
	dir := learnermodel.NewMemoryDirectory(learnermodel.Seed())
	hist := history.NewService(10)
	h := New(dir, hist, fixedSessions{"demo": "sess-1"})

	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r, dir, hist
}

func TestGetContextReturnsSnapshot(t *testing.T) {
	r, _, hist := newRouter(t)
	if err := hist.AppendTurn(context.Background(), "demo", "coach", "hello"); err != nil {
		t.Fatalf("AppendTurn err: %v", err)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/learners/demo/context", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp ContextResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Profile.LearnerID != "demo" || resp.Slide.Title != "Welcome" {
		t.Fatalf("unexpected snapshot %+v", resp.Snapshot)
	}
	if resp.ActiveSessionID != "sess-1" {
		t.Fatalf("expected active session id, got %q", resp.ActiveSessionID)
	}
	if len(resp.History) != 1 || resp.History[0].Text != "hello" {
		t.Fatalf("unexpected history %+v", resp.History)
	}
	if len(resp.Degraded) != 0 {
		t.Fatalf("unexpected degraded sources %v", resp.Degraded)
	}
}

func TestGetContextUnknownLearner(t *testing.T) {
	r, _, _ := newRouter(t)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/learners/ghost/context", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestSetSlide(t *testing.T) {
	r, dir, _ := newRouter(t)

	body := `{"title":"Pricing","slide_number":7,"content":"Tiers and discounts"}`
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/learners/demo/slide", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	slide, err := dir.CurrentSlide(context.Background(), "demo")
	if err != nil || slide.Title != "Pricing" || slide.SlideNumber != 7 {
		t.Fatalf("slide not updated: %+v %v", slide, err)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/learners/demo/slide", strings.NewReader(`{"slide_number":2}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing title, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/learners/ghost/slide", strings.NewReader(body)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown learner, got %d", rec.Code)
	}
}
