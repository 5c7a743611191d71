package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/huangang/backoffice/backend/internal/models"
	"github.com/huangang/backoffice/backend/internal/services"
)

type staticPolicy struct {
	policy *services.AuditPolicy
}

func (s staticPolicy) Policy(ctx context.Context) *services.AuditPolicy { return s.policy }

type memoryRecorder struct {
	mu      sync.Mutex
	entries []*models.SystemLog
	err     error
}

func (m *memoryRecorder) Create(entry *models.SystemLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryRecorder) all() []*models.SystemLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SystemLog(nil), m.entries...)
}

func newAuditRouter(policy *services.AuditPolicy, rec *memoryRecorder) *gin.Engine {
	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, _ interface{}) {
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	router.Use(RequestID())
	router.Use(AuditLog(staticPolicy{policy}, rec))

	ok := func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) }
	router.GET("/api/people", ok)
	router.POST("/api/people", ok)
	router.PUT("/api/settings/:domain/:key", ok)
	router.GET("/health", ok)
	router.POST("/health/ping", ok)
	router.POST("/api/boom", func(c *gin.Context) { panic("handler failed") })
	router.POST("/health/boom", func(c *gin.Context) { panic("handler failed") })
	return router
}

func doRequest(router *gin.Engine, method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestAuditLog_Decisions(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		method  string
		target  string
		header  map[string]string
		want    bool
	}{
		{"tracked write", true, "POST", "/api/people", nil, true},
		{"disabled", false, "POST", "/api/people", nil, false},
		{"plain read", true, "GET", "/api/people", nil, false},
		{"read with trigger header", true, "GET", "/api/people", map[string]string{"X-Audit-Read": "TRUE"}, true},
		{"read with wrong header value", true, "GET", "/api/people", map[string]string{"X-Audit-Read": "yes"}, false},
		{"read with trigger query", true, "GET", "/api/people?audit=true", nil, true},
		{"read with uppercase query", true, "GET", "/api/people?audit=True", nil, false},
		{"skip-listed write", true, "POST", "/health/ping", nil, false},
		{"skip-listed read with trigger", true, "GET", "/health?audit=true", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := services.DefaultAuditPolicy()
			policy.Enabled = tt.enabled
			rec := &memoryRecorder{}
			router := newAuditRouter(policy, rec)

			w := doRequest(router, tt.method, tt.target, "", tt.header)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d", w.Code)
			}
			if got := len(rec.all()) == 1; got != tt.want {
				t.Errorf("audited = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuditLog_RecordContents(t *testing.T) {
	rec := &memoryRecorder{}
	router := newAuditRouter(services.DefaultAuditPolicy(), rec)

	w := doRequest(router, "POST", "/api/people", `{"name":"ada","password":"hunter2","nested":{"api_token":"abc"}}`,
		map[string]string{HeaderRequestID: "req-123"})
	if w.Header().Get(HeaderRequestID) != "req-123" {
		t.Errorf("request id should be echoed, got %q", w.Header().Get(HeaderRequestID))
	}

	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Module != "People" || entry.Action != "Create" || entry.Level != "info" {
		t.Errorf("unexpected record %+v", entry)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("RequestID = %q", entry.RequestID)
	}

	var extra map[string]interface{}
	if err := json.Unmarshal([]byte(entry.Extra), &extra); err != nil {
		t.Fatalf("extra is not JSON: %v", err)
	}
	if extra["status"] != float64(200) || extra["method"] != "POST" || extra["request_id"] != "req-123" {
		t.Errorf("unexpected extra %v", extra)
	}
	body := extra["body"].(string)
	if strings.Contains(body, "hunter2") || strings.Contains(body, "abc") {
		t.Errorf("sensitive values must be masked, body = %s", body)
	}
	if !strings.Contains(body, "ada") {
		t.Errorf("non-sensitive values should be kept, body = %s", body)
	}
}

func TestAuditLog_MasksSecretSettingValues(t *testing.T) {
	rec := &memoryRecorder{}
	router := newAuditRouter(services.DefaultAuditPolicy(), rec)

	doRequest(router, "PUT", "/api/settings/billing/stripe_secret_key", `{"value_text":"sk_live_123"}`, nil)
	doRequest(router, "PUT", "/api/settings/billing/currency", `{"value_text":"eur"}`, nil)

	entries := rec.all()
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit records, got %d", len(entries))
	}
	if strings.Contains(entries[0].Extra, "sk_live_123") {
		t.Errorf("secret setting value leaked: %s", entries[0].Extra)
	}
	if !strings.Contains(entries[1].Extra, "eur") {
		t.Errorf("plain setting value should be kept: %s", entries[1].Extra)
	}
}

func TestAuditLog_PanicStillRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	router := newAuditRouter(services.DefaultAuditPolicy(), rec)

	w := doRequest(router, "POST", "/api/boom", `{}`, nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("panic should surface as 500, got %d", w.Code)
	}

	entries := rec.all()
	if len(entries) != 1 {
		t.Fatalf("expected 1 audit record for the failed request, got %d", len(entries))
	}
	if entries[0].Level != "error" || !strings.Contains(entries[0].Extra, `"status":500`) {
		t.Errorf("unexpected record %+v", entries[0])
	}

	doRequest(router, "POST", "/health/boom", `{}`, nil)
	if len(rec.all()) != 1 {
		t.Error("skip-listed paths must not be recorded even on failure")
	}
}

func TestAuditLog_RecorderFailureDoesNotMaskResponse(t *testing.T) {
	rec := &memoryRecorder{err: errors.New("db down")}
	router := newAuditRouter(services.DefaultAuditPolicy(), rec)

	if w := doRequest(router, "POST", "/api/people", `{}`, nil); w.Code != http.StatusOK {
		t.Errorf("audit failure must not change the response, got %d", w.Code)
	}
	if w := doRequest(router, "POST", "/api/boom", `{}`, nil); w.Code != http.StatusInternalServerError {
		t.Errorf("original panic should still propagate, got %d", w.Code)
	}
}

func TestParseRouteInfo(t *testing.T) {
	tests := []struct {
		path, method   string
		module, action string
	}{
		{"/api/scheduled-tasks/:id", "PUT", "Scheduled Tasks", "Update"},
		{"/api/settings/:domain/:key", "DELETE", "Settings", "Delete"},
		{"/api/people", "POST", "People", "Create"},
		{"", "GET", "Unknown", "Read"},
	}
	for _, tt := range tests {
		module, action := parseRouteInfo(tt.path, tt.method)
		if module != tt.module || action != tt.action {
			t.Errorf("parseRouteInfo(%q, %q) = %q, %q; want %q, %q", tt.path, tt.method, module, action, tt.module, tt.action)
		}
	}
}

func TestMaskBody_NonJSON(t *testing.T) {
	got := maskBody([]byte(`{"password": "x1", broken`), false)
	if strings.Contains(got, "x1") {
		t.Errorf("fallback masking should hide the password, got %s", got)
	}

	long := `{"note":"` + strings.Repeat("a", 3000) + `"}`
	if got := maskBody([]byte(long), false); !strings.HasSuffix(got, "...[truncated]") {
		t.Error("long bodies should be truncated")
	}
}

func TestAuditLog_NonUTF8BodyStillRecorded(t *testing.T) {
	rec := &memoryRecorder{}
	router := newAuditRouter(services.DefaultAuditPolicy(), rec)

	bodies := []string{
		strings.Repeat("\xff", 20) + `"password": "hunter2"`,
		"İİİİ" + `{"Password": "hunter2", broken`,
	}
	for i, body := range bodies {
		w := doRequest(router, "POST", "/api/people", body, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("body %d: status = %d, the handler should run", i, w.Code)
		}
	}

	records := rec.all()
	if len(records) != len(bodies) {
		t.Fatalf("expected %d audit records, got %d", len(bodies), len(records))
	}
	for _, r := range records {
		if strings.Contains(r.Extra, "hunter2") {
			t.Errorf("password leaked into audit record: %s", r.Extra)
		}
	}
}

func TestMaskBody_TruncatesOnRuneBoundary(t *testing.T) {
	got := maskBody([]byte("a"+strings.Repeat("é", 1500)), false)
	if !strings.HasSuffix(got, "...[truncated]") {
		t.Fatal("long bodies should be truncated")
	}
	if !utf8.ValidString(got) {
		t.Error("truncation split a multi-byte rune")
	}
	if len(got) > maxAuditBody+len("...[truncated]") {
		t.Errorf("truncated body is %d bytes", len(got))
	}
}

func TestIndexFoldASCII(t *testing.T) {
	tests := []struct {
		s, sub string
		want   int
	}{
		{`{"PassWord":1}`, `"password"`, 1},
		{"\xff\xff\"token\"", `"token"`, 2},
		{"İ\"secret\"", `"secret"`, 2},
		{"no keys here", `"token"`, -1},
		{"", `"token"`, -1},
	}
	for _, tt := range tests {
		if got := indexFoldASCII(tt.s, tt.sub); got != tt.want {
			t.Errorf("indexFoldASCII(%q, %q) = %d, expected %d", tt.s, tt.sub, got, tt.want)
		}
	}
}

func TestRequestID_Generated(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/id", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/id", nil)
	router.ServeHTTP(w, req)

	id := w.Header().Get(HeaderRequestID)
	if len(id) != 36 || w.Body.String() != id {
		t.Errorf("expected a generated uuid, header %q body %q", id, w.Body.String())
	}
}
