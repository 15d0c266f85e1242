package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"gorm.io/gorm"

	"github.com/diewo77/go-clients/internal/blob"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/models"
	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/validation"
)

// IdentityProofService reads proofs and applies the two in-place changes a
// proof allows: status transitions and download counting.
type IdentityProofService struct {
	db      *gorm.DB
	blobs   blob.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
}

func NewIdentityProofService(db *gorm.DB, blobs blob.Store, logger *slog.Logger, m *metrics.Metrics) *IdentityProofService {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityProofService{db: db, blobs: blobs, logger: logger, metrics: m}
}

func (s *IdentityProofService) Get(ctx context.Context, id uint) (*models.IdentityProof, error) {
	var p models.IdentityProof
	err := s.db.WithContext(ctx).First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("identity proof %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Download opens the stored file and then increments the download counter.
// The counter is untouched when the file cannot be opened. The caller closes
// the returned reader.
func (s *IdentityProofService) Download(ctx context.Context, id uint) (*models.IdentityProof, io.ReadCloser, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.blobs.Open(p.FilePath)
	if err != nil {
		s.logger.ErrorContext(ctx, "identity proof file unavailable", "proof_id", id, "path", p.FilePath, "error", err)
		return nil, nil, err
	}
	res := s.db.WithContext(ctx).Model(&models.IdentityProof{}).
		Where("id = ?", id).
		UpdateColumn("download_count", gorm.Expr("download_count + ?", 1))
	if res.Error != nil {
		rc.Close()
		return nil, nil, res.Error
	}
	if res.RowsAffected == 0 {
		rc.Close()
		return nil, nil, fmt.Errorf("identity proof %d: %w", id, sentinel.ErrNotFound)
	}
	p.DownloadCount++
	s.metrics.IncrementProofDownload()
	return p, rc, nil
}

// SetStatus moves a proof to pending, approved or rejected.
func (s *IdentityProofService) SetStatus(ctx context.Context, id uint, status string) (*models.IdentityProof, error) {
	st := models.ProofStatus(status)
	if !st.Valid() {
		return nil, validation.Fail("status", "invalid_status")
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status == st {
		return p, nil
	}
	if err := s.db.WithContext(ctx).Model(p).UpdateColumn("status", st).Error; err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "identity proof status changed", "proof_id", id, "status", st)
	p.Status = st
	return p, nil
}

// ListForClient returns the proofs of one client in upload order.
func (s *IdentityProofService) ListForClient(ctx context.Context, clientID uint) ([]models.IdentityProof, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Client{}).Where("id = ?", clientID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("client %d: %w", clientID, sentinel.ErrNotFound)
	}
	proofs := []models.IdentityProof{}
	err := s.db.WithContext(ctx).Where("client_id = ?", clientID).Scopes(orderProofs).Find(&proofs).Error
	if err != nil {
		return nil, err
	}
	return proofs, nil
}
