package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_DRIVER", "DATABASE_DSN", "UPLOAD_DIR", "UPLOAD_PUBLIC_PREFIX", "UPLOAD_MAX_BYTES", "MIGRATIONS", "TOKEN_TTL_HOURS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port 8080, got %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Fatalf("expected postgres driver, got %s", cfg.Database.Driver)
	}
	if cfg.Storage.PublicPrefix != "/uploads/clients" {
		t.Fatalf("unexpected public prefix %q", cfg.Storage.PublicPrefix)
	}
	if cfg.Storage.MaxUploadBytes != 10<<20 {
		t.Fatalf("unexpected max upload bytes %d", cfg.Storage.MaxUploadBytes)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Fatalf("expected 24h token ttl, got %s", cfg.Auth.TokenTTL)
	}
	if cfg.App.Migrations != "auto" {
		t.Fatalf("expected auto migrations, got %q", cfg.App.Migrations)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLite")
	t.Setenv("UPLOAD_PUBLIC_PREFIX", "/files/")
	t.Setenv("UPLOAD_MAX_BYTES", "1024")
	t.Setenv("DEV", "no")
	cfg := Load()
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("expected lower-cased driver, got %s", cfg.Database.Driver)
	}
	if cfg.Storage.PublicPrefix != "/files" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Storage.PublicPrefix)
	}
	if cfg.Storage.MaxUploadBytes != 1024 {
		t.Fatalf("expected 1024, got %d", cfg.Storage.MaxUploadBytes)
	}
	if cfg.App.Dev {
		t.Fatalf("expected dev=false for %q", "no")
	}
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "clients", SSLMode: "disable"}
	if got := d.DSN(); got != "host=db port=5432 user=u password=p dbname=clients sslmode=disable" {
		t.Fatalf("unexpected DSN %q", got)
	}
	if got := d.URL(); got != "postgres://u:p@db:5432/clients?sslmode=disable" {
		t.Fatalf("unexpected URL %q", got)
	}
	d.RawDSN = "postgres://x@y/z"
	if got := d.DSN(); got != "postgres://x@y/z" {
		t.Fatalf("expected raw DSN to win, got %q", got)
	}
}
