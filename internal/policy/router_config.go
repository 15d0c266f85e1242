package policy

import (
	"log/slog"

	"gorm.io/gorm"

	"github.com/diewo77/go-clients/auth"
	"github.com/diewo77/go-clients/internal/blob"
	"github.com/diewo77/go-clients/internal/config"
	"github.com/diewo77/go-clients/internal/documents"
	"github.com/diewo77/go-clients/internal/handlers"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/services"
)

// RouterConfig holds configured handlers and middleware for the application.
type RouterConfig struct {
	// Gate provides permission checks and middleware
	Gate *Gate
	// Signer parses operator tokens from cookies and bearer headers
	Signer *auth.Signer

	ClientHandler        *handlers.ClientHandler
	IdentityProofHandler *handlers.IdentityProofHandler

	ClientService        *services.ClientService
	IdentityProofService *services.IdentityProofService
}

// NewRouterConfig wires the blob store, document ingestion, services and
// handlers from cfg. The upload directory is created if missing.
func NewRouterConfig(db *gorm.DB, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*RouterConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}
	store, err := blob.NewLocalStore(cfg.Storage.UploadDir, cfg.Storage.PublicPrefix)
	if err != nil {
		return nil, err
	}
	logger.Info("upload store ready", "dir", store.Dir(), "max_bytes", cfg.Storage.MaxUploadBytes)
	docs := documents.NewIngestor(store, cfg.Storage.MaxUploadBytes, logger, m)

	clientService := services.NewClientService(db, docs, logger, m)
	proofService := services.NewIdentityProofService(db, store, logger, m)

	// two files plus form fields
	maxBody := int64(0)
	if cfg.Storage.MaxUploadBytes > 0 {
		maxBody = 2*cfg.Storage.MaxUploadBytes + 1<<20
	}

	return &RouterConfig{
		Gate:                 NewGate(DefaultRoles(), logger),
		Signer:               auth.NewSigner(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL),
		ClientHandler:        handlers.NewClientHandler(clientService, proofService, maxBody, logger),
		IdentityProofHandler: handlers.NewIdentityProofHandler(proofService, logger),
		ClientService:        clientService,
		IdentityProofService: proofService,
	}, nil
}
