package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/diewo77/go-clients/auth"
	"github.com/diewo77/go-clients/internal/config"
	"github.com/diewo77/go-clients/internal/db"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/policy"
)

func newTestApp(t *testing.T) (*App, *auth.Signer) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := &config.Config{
		Storage: config.StorageConfig{UploadDir: t.TempDir(), PublicPrefix: "/uploads/clients", MaxUploadBytes: 1 << 20},
		Auth:    config.AuthConfig{SessionSecret: "test-secret", TokenTTL: time.Hour},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rc, err := policy.NewRouterConfig(conn, cfg, nil, m)
	if err != nil {
		t.Fatalf("router config: %v", err)
	}
	return NewApp(conn, rc, reg, m), auth.NewSigner("test-secret", time.Hour)
}

func request(app http.Handler, method, target, token string, form url.Values) *httptest.ResponseRecorder {
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	app.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	app, _ := newTestApp(t)
	for _, path := range []string{"/health", "/healthz"} {
		rec := request(app, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
	}
	rec := request(app, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rec.Code)
	}
}

func TestAPIRequiresAuthentication(t *testing.T) {
	app, _ := newTestApp(t)
	rec := request(app, http.MethodGet, "/api/clients", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = request(app, http.MethodGet, "/api/clients", "1.super_admin.forged", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged token, got %d", rec.Code)
	}
}

func TestRolePermissions(t *testing.T) {
	app, signer := newTestApp(t)
	admin := signer.Token(auth.Operator{ID: 1, Role: auth.RoleAdmin})
	super := signer.Token(auth.Operator{ID: 2, Role: auth.RoleSuperAdmin})
	form := url.Values{"name": {"Acme"}, "first_name": {"Ada"}}

	if rec := request(app, http.MethodPost, "/api/clients", admin, form); rec.Code != http.StatusForbidden {
		t.Fatalf("admin create: expected 403, got %d", rec.Code)
	}
	rec := request(app, http.MethodPost, "/api/clients", super, form)
	if rec.Code != http.StatusCreated {
		t.Fatalf("super admin create: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := request(app, http.MethodGet, "/api/clients", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin list: expected 200, got %d", rec.Code)
	}
	if rec := request(app, http.MethodGet, "/api/clients/1", admin, nil); rec.Code != http.StatusOK {
		t.Fatalf("admin view: expected 200, got %d", rec.Code)
	}
	if rec := request(app, http.MethodDelete, "/api/clients/1", admin, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("admin delete: expected 403, got %d", rec.Code)
	}
	if rec := request(app, http.MethodDelete, "/api/clients/1", super, nil); rec.Code != http.StatusOK {
		t.Fatalf("super admin delete: expected 200, got %d", rec.Code)
	}
}

func TestParseOperator(t *testing.T) {
	op, err := parseOperator("5:super_admin")
	if err != nil || op.ID != 5 || op.Role != auth.RoleSuperAdmin {
		t.Fatalf("unexpected result %+v %v", op, err)
	}
	for _, bad := range []string{"5", "x:admin", "0:admin", "5:root"} {
		if _, err := parseOperator(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
