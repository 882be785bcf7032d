// Vigil - Security Threat Detection and Alert Escalation Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/vigil

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/vigil/internal/aggregation"
	"github.com/tomtom215/vigil/internal/alerts"
	"github.com/tomtom215/vigil/internal/audit"
	"github.com/tomtom215/vigil/internal/auth"
	"github.com/tomtom215/vigil/internal/authz"
	"github.com/tomtom215/vigil/internal/config"
	"github.com/tomtom215/vigil/internal/detection"
	"github.com/tomtom215/vigil/internal/escalation"
	"github.com/tomtom215/vigil/internal/middleware"
	"github.com/tomtom215/vigil/internal/models"
	"github.com/tomtom215/vigil/internal/notify"
	"github.com/tomtom215/vigil/internal/ratelimit"
	"github.com/tomtom215/vigil/internal/store"
	"github.com/tomtom215/vigil/internal/threatscore"
)

const testSecret = "0123456789abcdef0123456789abcdef-test"

type testServer struct {
	handler http.Handler
	alerts  *alerts.Service
	jwt     *auth.JWTManager
	store   *store.Store
}

type serverOptions struct {
	authMode  auth.Mode
	chi       *ChiMiddlewareConfig
	readiness []ReadinessCheck
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	s, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	auditLogger := audit.NewLogger(audit.NewMemoryStore(1000), audit.DefaultConfig())
	t.Cleanup(func() { _ = auditLogger.Close() })

	threats := threatscore.NewService(s, threatscore.DefaultConfig())
	sched := escalation.NewScheduler(s, nil, nil, escalation.DefaultConfig())
	svc, err := alerts.New(alerts.Deps{
		Store:      s,
		Limiter:    ratelimit.New(ratelimit.NewStoreBackend(s), ratelimit.DefaultConfig()),
		Aggregator: aggregation.New(s, aggregation.DefaultConfig(), nil),
		Threats:    threats,
		Escalation: sched,
		Audit:      auditLogger,
	}, alerts.DefaultConfig())
	if err != nil {
		t.Fatalf("alerts.New() error = %v", err)
	}
	engine := detection.NewEngine(svc, detection.NewDefaultDetectors(s, detection.DefaultThresholds())...)

	authCfg := auth.DefaultConfig()
	authCfg.JWTSecret = testSecret
	if opts.authMode != "" {
		authCfg.Mode = opts.authMode
	}
	if authCfg.Mode == auth.ModeNone {
		authCfg.AnonymousRole = auth.RoleAdmin
	}
	jwtManager, err := auth.NewJWTManager(authCfg)
	if err != nil {
		t.Fatalf("NewJWTManager() error = %v", err)
	}
	authMW, err := auth.NewMiddleware(authCfg, jwtManager, WriteError)
	if err != nil {
		t.Fatalf("auth.NewMiddleware() error = %v", err)
	}
	enforcer, err := authz.NewEnforcer(authz.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEnforcer() error = %v", err)
	}
	t.Cleanup(enforcer.Close)

	apiCfg := config.DefaultAPIConfig()
	perf := middleware.NewPerformanceMonitor(apiCfg.PerformanceWindow, apiCfg.SlowRequestThreshold)
	handler, err := NewHandler(Deps{
		Alerts:      svc,
		Threats:     threats,
		Escalation:  sched,
		Detection:   engine,
		Inbox:       notify.NewInboxSender(s, notify.InboxConfig{TTL: time.Hour}, nil),
		Audit:       auditLogger,
		Performance: perf,
		AuthMode:    authCfg.Mode,
		Readiness:   opts.readiness,
	}, apiCfg)
	if err != nil {
		t.Fatalf("NewHandler() error = %v", err)
	}

	router, err := NewRouter(handler, NewChiMiddleware(opts.chi), authMW, authz.NewMiddleware(enforcer, WriteError), perf, apiCfg)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return &testServer{handler: router.Setup(), alerts: svc, jwt: jwtManager, store: s}
}

func (ts *testServer) token(t *testing.T, role auth.Role) string {
	t.Helper()
	tok, err := ts.jwt.GenerateToken("tester-"+string(role), role, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func (ts *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		t.Fatalf("decode data %q: %v", envelope.Data, err)
	}
}

func bruteForcePayload(ip string) map[string]interface{} {
	return map[string]interface{}{
		"type":     models.AlertTypeBruteForce,
		"severity": models.SeverityWarning,
		"context":  map[string]interface{}{"ip": ip, "attempt_count": 6},
		"source":   map[string]interface{}{"ip": ip},
	}
}

func TestRouter_HealthIsPublic(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{})

	w := ts.do(t, http.MethodGet, "/api/v1/health/live", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("live status = %d, body %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestRouter_HealthReady(t *testing.T) {
	t.Parallel()

	ok := ReadinessCheck{Name: "store", Check: func(context.Context) error { return nil }}
	failing := ReadinessCheck{Name: "archive", Check: func(context.Context) error { return errors.New("closed") }}

	tests := []struct {
		name   string
		checks []ReadinessCheck
		want   int
	}{
		{"all healthy", []ReadinessCheck{ok}, http.StatusOK},
		{"one failing", []ReadinessCheck{ok, failing}, http.StatusServiceUnavailable},
		{"no checks", nil, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := newTestServer(t, serverOptions{readiness: tt.checks})
			w := ts.do(t, http.MethodGet, "/api/v1/health/ready", "", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_RequiresAuthentication(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{})

	w := ts.do(t, http.MethodGet, "/api/v1/alerts", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error == nil || resp.Error.Code != ErrCodeUnauthorized {
		t.Errorf("error = %+v", resp.Error)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/alerts", "not-a-token", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("bad token status = %d, want 401", w.Code)
	}
}

func TestRouter_Authorization(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{})

	tests := []struct {
		name   string
		role   auth.Role
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"viewer reads alerts", auth.RoleViewer, http.MethodGet, "/api/v1/alerts", nil, http.StatusOK},
		{"viewer cannot create", auth.RoleViewer, http.MethodPost, "/api/v1/alerts", bruteForcePayload("198.51.100.1"), http.StatusForbidden},
		{"analyst creates", auth.RoleAnalyst, http.MethodPost, "/api/v1/alerts", bruteForcePayload("198.51.100.2"), http.StatusCreated},
		{"analyst cannot run maintenance", auth.RoleAnalyst, http.MethodPost, "/api/v1/maintenance/all", nil, http.StatusForbidden},
		{"analyst cannot read audit", auth.RoleAnalyst, http.MethodGet, "/api/v1/audit", nil, http.StatusForbidden},
		{"admin reads audit", auth.RoleAdmin, http.MethodGet, "/api/v1/audit", nil, http.StatusOK},
		{"service submits alerts", auth.RoleService, http.MethodPost, "/api/v1/alerts", bruteForcePayload("198.51.100.3"), http.StatusCreated},
		{"service cannot list", auth.RoleService, http.MethodGet, "/api/v1/alerts", nil, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, tt.method, tt.path, ts.token(t, tt.role), tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_CreateThenAggregate(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodPost, "/api/v1/alerts", "", bruteForcePayload("203.0.113.9"))
	if w.Code != http.StatusCreated {
		t.Fatalf("first create status = %d: %s", w.Code, w.Body.String())
	}
	var first alerts.CreateResult
	decodeData(t, w, &first)
	if !first.Created || first.AlertID == "" {
		t.Fatalf("first result = %+v", first)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/alerts", "", bruteForcePayload("203.0.113.9"))
	if w.Code != http.StatusOK {
		t.Fatalf("second create status = %d: %s", w.Code, w.Body.String())
	}
	var second alerts.CreateResult
	decodeData(t, w, &second)
	if second.Created || !second.Aggregated || second.AlertID != first.AlertID {
		t.Errorf("second result = %+v, want aggregation into %s", second, first.AlertID)
	}
	if second.OccurrenceCount != 2 {
		t.Errorf("OccurrenceCount = %d, want 2", second.OccurrenceCount)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/alerts/"+first.AlertID, "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var alert models.SecurityAlert
	decodeData(t, w, &alert)
	if alert.Status != models.StatusOpen || alert.OccurrenceCount != 2 {
		t.Errorf("alert = %+v", alert)
	}
}

func TestRouter_CreateValidation(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"unknown type", map[string]interface{}{"type": "security.nope", "severity": "warning"}, http.StatusBadRequest},
		{"missing severity", map[string]interface{}{"type": models.AlertTypeSQLInjection}, http.StatusBadRequest},
		{"unknown field", `{"type":"security.sql_injection","severity":"critical","bogus":1}`, http.StatusBadRequest},
		{"malformed", `{"type":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/api/v1/alerts", "", tt.body)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

func TestRouter_BodyTooLarge(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	huge := `{"type":"security.sql_injection","severity":"critical","title":"` + strings.Repeat("x", 2<<20) + `"}`
	w := ts.do(t, http.MethodPost, "/api/v1/alerts", "", huge)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", w.Code)
	}
}

func TestRouter_StatusLifecycle(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodPost, "/api/v1/alerts", "", bruteForcePayload("203.0.113.20"))
	var created alerts.CreateResult
	decodeData(t, w, &created)
	base := "/api/v1/alerts/" + created.AlertID

	w = ts.do(t, http.MethodPost, base+"/acknowledge", "", map[string]string{"note": "looking"})
	if w.Code != http.StatusOK {
		t.Fatalf("acknowledge status = %d: %s", w.Code, w.Body.String())
	}
	var acked models.SecurityAlert
	decodeData(t, w, &acked)
	if acked.Status != models.StatusAcknowledged || acked.AcknowledgedBy == "" {
		t.Errorf("acknowledged alert = %+v", acked)
	}

	w = ts.do(t, http.MethodPost, base+"/acknowledge", "", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("second acknowledge status = %d, want 409", w.Code)
	}

	w = ts.do(t, http.MethodPatch, base+"/status", "", map[string]string{"status": "resolved"})
	if w.Code != http.StatusOK {
		t.Fatalf("resolve status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPatch, base+"/status", "", map[string]string{"status": "bogus"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("bogus status code = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/alerts/missing/resolve", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", w.Code)
	}
}

func TestRouter_ListAlertsFilters(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	for _, ip := range []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"} {
		if w := ts.do(t, http.MethodPost, "/api/v1/alerts", "", bruteForcePayload(ip)); w.Code != http.StatusCreated {
			t.Fatalf("create %s status = %d", ip, w.Code)
		}
	}

	w := ts.do(t, http.MethodGet, "/api/v1/alerts?type=security.brute_force_detected&limit=2", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d: %s", w.Code, w.Body.String())
	}
	resp := decodeResponse(t, w)
	if resp.Meta == nil || resp.Meta.Pagination == nil {
		t.Fatal("Expected pagination meta")
	}
	if p := resp.Meta.Pagination; p.Total != 3 || p.Count != 2 || !p.HasMore {
		t.Errorf("pagination = %+v", p)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/alerts?severity=loud", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad severity status = %d, want 400", w.Code)
	}
	w = ts.do(t, http.MethodGet, "/api/v1/alerts?since=yesterday", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad since status = %d, want 400", w.Code)
	}
}

func TestRouter_EntityActions(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodPost, "/api/v1/actions", "", map[string]string{
		"action":    "block_ip",
		"target_ip": "198.51.100.77",
		"notes":     "scanner",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("block status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodGet, "/api/v1/blocked/ip/198.51.100.77", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("check status = %d: %s", w.Code, w.Body.String())
	}
	var status struct {
		Blocked bool `json:"blocked"`
	}
	decodeData(t, w, &status)
	if !status.Blocked {
		t.Error("Expected IP to be blocked")
	}

	w = ts.do(t, http.MethodGet, "/api/v1/blocked/planet/earth", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown entity type status = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/actions", "", map[string]string{"action": "detonate"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown action status = %d, want 400", w.Code)
	}
}

func TestRouter_SubmitSignalInline(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodPost, "/api/v1/signals", "", map[string]interface{}{
		"kind": detection.SignalRequestPayload,
		"ip":   "203.0.113.50",
		"attributes": map[string]interface{}{
			"endpoint": "/search",
			"method":   "GET",
			"payload":  "1 UNION SELECT password FROM users",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("signal status = %d: %s", w.Code, w.Body.String())
	}
	var out detection.Outcome
	decodeData(t, w, &out)
	if out.Evaluated == 0 || len(out.Detections) != 1 {
		t.Fatalf("outcome = %+v, want one detection", out)
	}
	if out.Detections[0].Type != models.AlertTypeSQLInjection {
		t.Errorf("detection type = %s", out.Detections[0].Type)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/signals", "", map[string]interface{}{"kind": "telepathy"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d, want 400", w.Code)
	}
}

func TestRouter_Maintenance(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodGet, "/api/v1/maintenance", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/v1/maintenance/"+alerts.MaintenanceTasks[0], "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("task status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/v1/maintenance/all", "", nil)
	if w.Code != http.StatusOK {
		t.Errorf("all status = %d: %s", w.Code, w.Body.String())
	}

	w = ts.do(t, http.MethodPost, "/api/v1/maintenance/defragment", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown task status = %d, want 400", w.Code)
	}
}

func TestRouter_EscalationNotFound(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	if w := ts.do(t, http.MethodGet, "/api/v1/escalations/none", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("get status = %d, want 404", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/v1/escalations/none/process", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("process status = %d, want 404", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/v1/escalations", "", nil); w.Code != http.StatusOK {
		t.Errorf("stats status = %d, want 200", w.Code)
	}
}

func TestRouter_AuditExport(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodGet, "/api/v1/audit/export?format=cef", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, ".cef") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/audit/export?format=xml", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("xml status = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodGet, "/api/v1/audit/missing", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing event status = %d, want 404", w.Code)
	}
}

func TestRouter_UnconfiguredServices(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	// No archive and no hub in the fixture.
	for _, path := range []string{"/api/v1/archive", "/api/v1/alerts/stream"} {
		if w := ts.do(t, http.MethodGet, path, "", nil); w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s status = %d, want 503", path, w.Code)
		}
	}
}

func TestRouter_Inbox(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodGet, "/api/v1/inbox?unread=true", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("inbox status = %d: %s", w.Code, w.Body.String())
	}
	w = ts.do(t, http.MethodPost, "/api/v1/inbox/nope/read", "", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("mark missing status = %d, want 404", w.Code)
	}
}

func TestRouter_RateLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitRequests = 2
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone, chi: cfg})

	for i := 0; i < 2; i++ {
		if w := ts.do(t, http.MethodGet, "/api/v1/stats", "", nil); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
	}
	w := ts.do(t, http.MethodGet, "/api/v1/stats", "", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header")
	}
	if resp := decodeResponse(t, w); resp.Error == nil || resp.Error.Code != ErrCodeTooManyRequests {
		t.Errorf("error = %+v", resp.Error)
	}
}

func TestRouter_NotFoundUsesEnvelope(t *testing.T) {
	t.Parallel()
	ts := newTestServer(t, serverOptions{authMode: auth.ModeNone})

	w := ts.do(t, http.MethodGet, "/nowhere", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if resp := decodeResponse(t, w); resp.Error == nil || resp.Error.Code != ErrCodeNotFound {
		t.Errorf("error = %+v", resp.Error)
	}
}
