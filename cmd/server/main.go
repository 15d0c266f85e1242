package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gorm.io/gorm"

	"github.com/diewo77/go-clients/auth"
	"github.com/diewo77/go-clients/internal/config"
	"github.com/diewo77/go-clients/internal/db"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/policy"
)

var (
	migrateOnlyFlag = flag.Bool("migrate-only", false, "Run DB migrations and exit")
	issueTokenFlag  = flag.String("issue-token", "", "Print a signed operator token for <id>:<role> and exit")
)

func main() {
	flag.Parse()

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg := config.Load()

	if *issueTokenFlag != "" {
		op, err := parseOperator(*issueTokenFlag)
		if err != nil {
			log.Fatalf("Invalid -issue-token value: %v", err)
		}
		fmt.Println(auth.NewSigner(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL).Token(op))
		return
	}

	dbConn, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *migrateOnlyFlag {
		if err := runMigrations(dbConn, cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed successfully")
		return
	}

	if cfg.App.Migrations != "" && cfg.App.Migrations != "off" {
		if err := runMigrations(dbConn, cfg); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations completed")
	}

	logger := newLogger(cfg.App.Dev)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	routerCfg, err := policy.NewRouterConfig(dbConn, cfg, logger, m)
	if err != nil {
		log.Fatalf("Failed to configure routes: %v", err)
	}

	appHandler := NewApp(dbConn, routerCfg, reg, m)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      withLogging(appHandler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s (dev=%v, uploads=%s)", cfg.Server.Port, cfg.App.Dev, cfg.Storage.UploadDir)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Error during shutdown: %v", err)
	}
	log.Println("Server stopped gracefully")
}

// runMigrations applies SQL migrations for postgres when MIGRATIONS=sql and
// GORM AutoMigrate otherwise.
func runMigrations(conn *gorm.DB, cfg *config.Config) error {
	if cfg.App.Migrations == "sql" && cfg.Database.Driver != "sqlite" {
		return db.RunSQLMigrations(db.NormalizeDSN(cfg.Database.DSN()), cfg.App.MigrationsDir)
	}
	return db.Migrate(conn)
}

func newLogger(dev bool) *slog.Logger {
	if dev {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// parseOperator reads "<id>:<role>".
func parseOperator(s string) (auth.Operator, error) {
	idStr, role, ok := strings.Cut(s, ":")
	if !ok {
		return auth.Operator{}, fmt.Errorf("expected <id>:<role>, got %q", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil || id == 0 {
		return auth.Operator{}, fmt.Errorf("invalid operator id %q", idStr)
	}
	op := auth.Operator{ID: uint(id), Role: auth.Role(role)}
	if !op.Role.Valid() {
		return auth.Operator{}, fmt.Errorf("unknown role %q", role)
	}
	return op, nil
}

// withLogging adds request logging middleware.
func withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
