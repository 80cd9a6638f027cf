package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"barstock/internal/auth"
	"barstock/internal/core"
)

func testHandler(t *testing.T) (*Handler, *auth.Service) {
	t.Helper()
	authsvc := auth.NewService(nil, nil, "test-secret", 15*time.Minute, time.Hour, nil, zap.NewNop())
	return &Handler{auth: authsvc, log: zap.NewNop(), cronSecret: "cron-secret"}, authsvc
}

func mintToken(t *testing.T, authsvc *auth.Service) string {
	t.Helper()
	raw, _, err := authsvc.MintAccess(auth.UserPayload{
		UserID:        1,
		BusinessID:    2,
		EffectiveRole: core.RoleManager,
		Roles:         map[int64]core.Role{5: core.RoleManager},
		LocationIDs:   []int64{5},
	})
	if err != nil {
		t.Fatalf("MintAccess: %v", err)
	}
	return raw
}

func TestRequireAuthBearer(t *testing.T) {
	h, authsvc := testHandler(t)

	var seen *auth.UserPayload
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = principal(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+mintToken(t, authsvc))
	rec := httptest.NewRecorder()
	h.RequireAuth(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if seen == nil || seen.UserID != 1 || seen.BusinessID != 2 {
		t.Fatalf("principal = %+v", seen)
	}
	if seen.RoleAt(5) != core.RoleManager {
		t.Fatalf("role at 5 = %q", seen.RoleAt(5))
	}
}

func TestRequireAuthQueryFallback(t *testing.T) {
	h, authsvc := testHandler(t)

	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodGet, "/api/locations/5/sessions/1/events?access_token="+mintToken(t, authsvc), nil)
	rec := httptest.NewRecorder()
	h.RequireAuth(next).ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("called=%v status=%d", called, rec.Code)
	}
}

func TestRequireAuthRejects(t *testing.T) {
	h, _ := testHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	})

	for name, set := range map[string]func(*http.Request){
		"missing": func(r *http.Request) {},
		"garbage": func(r *http.Request) { r.Header.Set("Authorization", "Bearer not.a.token") },
		"scheme":  func(r *http.Request) { r.Header.Set("Authorization", "Basic dXNlcjpwYXNz") },
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		set(req)
		rec := httptest.NewRecorder()
		h.RequireAuth(next).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: status = %d, want 401", name, rec.Code)
		}
	}
}

func TestRequireCronSecret(t *testing.T) {
	h, _ := testHandler(t)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/cron/depletion", nil)
	req.Header.Set("X-Cron-Secret", "cron-secret")
	rec := httptest.NewRecorder()
	h.RequireCronSecret(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("correct secret: status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/cron/depletion", nil)
	req.Header.Set("X-Cron-Secret", "wrong")
	rec = httptest.NewRecorder()
	h.RequireCronSecret(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("wrong secret: status = %d", rec.Code)
	}

	// An unset secret must not leave cron open.
	h.cronSecret = ""
	req = httptest.NewRequest(http.MethodPost, "/cron/depletion", nil)
	rec = httptest.NewRecorder()
	h.RequireCronSecret(next).ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("unset secret: status = %d", rec.Code)
	}
}

func TestRequestIDGeneratesWhenUnsafe(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestIDFromContext(r.Context()) == "" {
			t.Error("request id missing from context")
		}
	})

	for name, supplied := range map[string]string{
		"absent":  "",
		"unsafe":  "abc def<script>",
		"toolong": strings.Repeat("a", 100),
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		if supplied != "" {
			req.Header.Set("X-Request-ID", supplied)
		}
		rec := httptest.NewRecorder()
		RequestID(next).ServeHTTP(rec, req)
		got := rec.Header().Get("X-Request-ID")
		if got == "" || got == supplied {
			t.Errorf("%s: header = %q", name, got)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "trace-12345")
	rec := httptest.NewRecorder()
	RequestID(next).ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "trace-12345" {
		t.Fatalf("safe id not kept: %q", got)
	}
}
