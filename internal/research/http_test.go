package research

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/dossier-forge/internal/accounts"
	"github.com/yourusername/dossier-forge/internal/auth"
	"github.com/yourusername/dossier-forge/internal/jobs"
)

func newTestRouter(t *testing.T, svc *Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	// 認証済みユーザーを固定で注入する
	router.Use(func(c *gin.Context) {
		c.Set(auth.ContextUserKey, "u1")
		c.Next()
	})
	router.POST("/api/research", CreateHandler(svc))
	router.GET("/api/research", ListHandler(svc))
	router.GET("/api/research/:id", GetHandler(svc))
	router.DELETE("/api/research/:id", DeleteHandler(svc))
	router.GET("/api/research/:id/download", DownloadHandler(svc))
	return router
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return body
}

func TestCreateHandlerCreated(t *testing.T) {
	store := newStubJobStore()
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	svc.SetEnqueuer(&stubEnqueuer{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"target":"Acme Corp","targetKind":"company","depth":"quick"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["jobId"] == "" || body["jobId"] == nil {
		t.Fatalf("expected jobId in response: %v", body)
	}
	if body["status"] != "pending" {
		t.Fatalf("expected pending status, got %v", body["status"])
	}
}

func TestCreateHandlerMissingFields(t *testing.T) {
	store := newStubJobStore()
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	svc.SetEnqueuer(&stubEnqueuer{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(`{"target":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", body["code"])
	}
}

func TestCreateHandlerInsufficientCredits(t *testing.T) {
	store := newStubJobStore()
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 0}}
	svc := newTestService(t, store, users, Adapters{})
	svc.SetEnqueuer(&stubEnqueuer{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"target":"Acme Corp","targetKind":"company","depth":"quick"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "INSUFFICIENT_CREDITS" {
		t.Fatalf("expected INSUFFICIENT_CREDITS, got %v", body["code"])
	}
}

func TestCreateHandlerDuplicate(t *testing.T) {
	store := newStubJobStore()
	store.dedupDenied = true
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	svc.SetEnqueuer(&stubEnqueuer{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"target":"Acme Corp","targetKind":"company","depth":"quick"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "DUPLICATE_JOB" {
		t.Fatalf("expected DUPLICATE_JOB, got %v", body["code"])
	}
}

func TestGetHandlerNotFound(t *testing.T) {
	store := newStubJobStore()
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research/nope", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListHandler(t *testing.T) {
	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{JobID: "j1", UserID: "u1", Status: jobs.StatusCompleted}
	store.records["j2"] = &jobs.Record{JobID: "j2", UserID: "someone-else", Status: jobs.StatusCompleted}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	items, ok := body["jobs"].([]any)
	if !ok {
		t.Fatalf("expected jobs array, got %v", body)
	}
	if len(items) != 1 {
		t.Fatalf("expected only own jobs, got %d", len(items))
	}
}

func TestListHandlerStatusFilter(t *testing.T) {
	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{JobID: "j1", UserID: "u1", Status: jobs.StatusCompleted}
	store.records["j2"] = &jobs.Record{JobID: "j2", UserID: "u1", Status: jobs.StatusFailed}
	store.records["j3"] = &jobs.Record{JobID: "j3", UserID: "u1", Status: jobs.StatusCompleted}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research?status=completed", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	items, _ := body["jobs"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 completed jobs, got %d", len(items))
	}
	for _, item := range items {
		job := item.(map[string]any)
		if job["status"] != "completed" {
			t.Fatalf("unexpected status in filtered list: %v", job["status"])
		}
	}
}

func TestListHandlerInvalidStatus(t *testing.T) {
	store := newStubJobStore()
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research?status=done", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "INVALID_INPUT" {
		t.Fatalf("expected INVALID_INPUT, got %v", body["code"])
	}
}

func TestListHandlerOffset(t *testing.T) {
	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{JobID: "j1", UserID: "u1", Status: jobs.StatusCompleted}
	store.records["j2"] = &jobs.Record{JobID: "j2", UserID: "u1", Status: jobs.StatusCompleted}
	store.records["j3"] = &jobs.Record{JobID: "j3", UserID: "u1", Status: jobs.StatusCompleted}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research?offset=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body := decodeBody(t, w)
	items, _ := body["jobs"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected 1 job after offset, got %d", len(items))
	}

	// 全件を超えるオフセットは空リスト
	req = httptest.NewRequest(http.MethodGet, "/api/research?offset=5", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	body = decodeBody(t, w)
	items, _ = body["jobs"].([]any)
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d", len(items))
	}
}

func TestDeleteHandlerNoContent(t *testing.T) {
	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{JobID: "j1", UserID: "u1", Status: jobs.StatusCompleted}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodDelete, "/api/research/j1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(store.records) != 0 {
		t.Fatal("expected record removed")
	}
}

func TestDownloadHandlerNotReady(t *testing.T) {
	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{JobID: "j1", UserID: "u1", Status: jobs.StatusProcessing}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research/j1/download", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["code"] != "REPORT_NOT_READY" {
		t.Fatalf("expected REPORT_NOT_READY, got %v", body["code"])
	}
}

func TestDownloadHandlerServesReport(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "REPORT.html")
	if err := os.WriteFile(reportPath, []byte("<html><body>report</body></html>"), 0644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	store := newStubJobStore()
	store.records["j1"] = &jobs.Record{
		JobID:      "j1",
		UserID:     "u1",
		Status:     jobs.StatusCompleted,
		ReportPath: reportPath,
	}
	users := &stubUserStore{user: &accounts.User{ID: "u1", Credits: 5}}
	svc := newTestService(t, store, users, Adapters{})
	router := newTestRouter(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/research/j1/download", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "REPORT.html") {
		t.Fatalf("unexpected content disposition %q", cd)
	}
	if got := w.Header().Get("X-Job-Id"); got != "j1" {
		t.Fatalf("unexpected job id header %q", got)
	}
	if !strings.Contains(w.Body.String(), "report") {
		t.Fatal("expected report body served")
	}
}
