package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/diewo77/go-clients/internal/documents"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/models"
	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/validation"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// ClientFields carries client input. A nil field is absent: create applies
// its default, update leaves the column untouched.
type ClientFields struct {
	Name         *string
	FirstName    *string
	LastName     *string
	Phone        *string
	Email        *string
	Address      *string
	IdentityType *string
}

// ClientPage is one page of clients, most recent first.
type ClientPage struct {
	Items      []models.Client `json:"items"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	Total      int64           `json:"total"`
	TotalPages int             `json:"total_pages"`
}

// ClientService owns client records and keeps stored files in step with them.
type ClientService struct {
	db      *gorm.DB
	docs    *documents.Ingestor
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewClientService(db *gorm.DB, docs *documents.Ingestor, logger *slog.Logger, m *metrics.Metrics) *ClientService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientService{db: db, docs: docs, logger: logger, metrics: m, now: time.Now}
}

// Create validates the input and uploads, stores the files and persists the
// client with its optional identity proof in one transaction. Stored files
// are removed again if the transaction fails.
func (s *ClientService) Create(ctx context.Context, in ClientFields, profile, identity *documents.Upload) (*models.Client, error) {
	v := validation.Violations{}
	validation.Required("name", deref(in.Name), v)
	validation.Required("first_name", deref(in.FirstName), v)
	s.checkFields(in, profile, identity, v)
	if err := v.Err(); err != nil {
		return nil, err
	}

	email := normalizeEmail(in.Email)
	phone := strings.TrimSpace(deref(in.Phone))
	if err := s.checkUnique(ctx, 0, &phone, email, in.Email != nil); err != nil {
		return nil, err
	}

	profileStored, err := s.docs.ValidateAndStore(documents.ProfilePicture, profile)
	if err != nil {
		return nil, err
	}
	identityStored, err := s.docs.ValidateAndStore(documents.IdentityDocument, identity)
	if err != nil {
		s.discard(ctx, profileStored)
		return nil, err
	}

	now := s.now()
	client := models.Client{
		Name:      strings.TrimSpace(deref(in.Name)),
		FirstName: strings.TrimSpace(deref(in.FirstName)),
		LastName:  strings.TrimSpace(deref(in.LastName)),
		Phone:     phone,
		Email:     email,
		Address:   strings.TrimSpace(deref(in.Address)),
		CreatedAt: now,
	}
	if profileStored != nil {
		client.ProfilePicturePath = &profileStored.Path
	}
	if identityStored != nil {
		client.IdentityProofs = []models.IdentityProof{newProof(deref(in.IdentityType), identityStored, now)}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&client).Error
	})
	if err != nil {
		s.discard(ctx, profileStored, identityStored)
		return nil, translateWriteError(err)
	}

	s.metrics.IncrementClientCreated()
	s.logger.InfoContext(ctx, "client created", "client_id", client.ID, "proofs", len(client.IdentityProofs))
	return &client, nil
}

// Update applies the fields present in in. A new profile picture replaces the
// previous file once the row is committed. A new identity document is
// appended as another proof.
func (s *ClientService) Update(ctx context.Context, id uint, in ClientFields, profile, identity *documents.Upload) (*models.Client, error) {
	client, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	v := validation.Violations{}
	if in.Name != nil {
		validation.Required("name", *in.Name, v)
	}
	if in.FirstName != nil {
		validation.Required("first_name", *in.FirstName, v)
	}
	s.checkFields(in, profile, identity, v)
	if err := v.Err(); err != nil {
		return nil, err
	}

	updates := map[string]any{}
	setTrimmed(updates, "name", in.Name)
	setTrimmed(updates, "first_name", in.FirstName)
	setTrimmed(updates, "last_name", in.LastName)
	setTrimmed(updates, "phone", in.Phone)
	setTrimmed(updates, "address", in.Address)
	email := normalizeEmail(in.Email)
	if in.Email != nil {
		if email == nil {
			updates["email"] = nil
		} else {
			updates["email"] = *email
		}
	}

	var phone *string
	if p, ok := updates["phone"].(string); ok && p != client.Phone {
		phone = &p
	}
	emailChanged := in.Email != nil && deref(email) != deref(client.Email)
	if err := s.checkUnique(ctx, id, phone, email, emailChanged); err != nil {
		return nil, err
	}

	identityStored, err := s.docs.ValidateAndStore(documents.IdentityDocument, identity)
	if err != nil {
		return nil, err
	}

	_, err = s.docs.Replace(ctx, deref(client.ProfilePicturePath), documents.ProfilePicture, profile, func(st *documents.Stored) error {
		if st != nil {
			updates["profile_picture_path"] = st.Path
		}
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if len(updates) > 0 {
				if err := tx.Model(&models.Client{}).Where("id = ?", id).Updates(updates).Error; err != nil {
					return err
				}
			}
			if identityStored != nil {
				proof := newProof(deref(in.IdentityType), identityStored, s.now())
				proof.ClientID = id
				if err := tx.Create(&proof).Error; err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		s.discard(ctx, identityStored)
		return nil, translateWriteError(err)
	}

	s.logger.InfoContext(ctx, "client updated", "client_id", id, "fields", len(updates), "identity_proof_added", identityStored != nil)
	return s.Get(ctx, id)
}

// List returns one page of clients ordered by creation time, newest first.
// page is raised to 1 and pageSize clamped to [1, MaxPageSize].
func (s *ClientService) List(ctx context.Context, page, pageSize int) (*ClientPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Client{}).Count(&total).Error; err != nil {
		return nil, err
	}

	items := []models.Client{}
	err := s.db.WithContext(ctx).
		Preload("IdentityProofs", orderProofs).
		Order("created_at DESC").Order("id DESC").
		Limit(pageSize).Offset((page - 1) * pageSize).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &ClientPage{
		Items:      items,
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: int((total + int64(pageSize) - 1) / int64(pageSize)),
	}, nil
}

func (s *ClientService) Get(ctx context.Context, id uint) (*models.Client, error) {
	var c models.Client
	err := s.db.WithContext(ctx).Preload("IdentityProofs", orderProofs).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("client %d: %w", id, sentinel.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Delete removes the client and its identity proofs in one transaction, then
// removes their stored files. File removal failures are logged only.
func (s *ClientService) Delete(ctx context.Context, id uint) error {
	var c models.Client
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Preload("IdentityProofs").First(&c, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("client %d: %w", id, sentinel.ErrNotFound)
			}
			return err
		}
		if err := tx.Where("client_id = ?", id).Delete(&models.IdentityProof{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Client{}, id).Error
	})
	if err != nil {
		return err
	}

	if err := s.docs.Remove(ctx, c.StoredPaths()...); err != nil {
		s.logger.WarnContext(ctx, "client deleted with leftover files", "client_id", id, "error", err)
	}
	s.metrics.IncrementClientDeleted()
	s.logger.InfoContext(ctx, "client deleted", "client_id", id, "proofs", len(c.IdentityProofs))
	return nil
}

// checkFields records violations shared by create and update.
func (s *ClientService) checkFields(in ClientFields, profile, identity *documents.Upload, v validation.Violations) {
	for field, value := range map[string]*string{
		"name":       in.Name,
		"first_name": in.FirstName,
		"last_name":  in.LastName,
		"email":      in.Email,
		"address":    in.Address,
	} {
		if value != nil {
			validation.MaxLength(field, strings.TrimSpace(*value), 255, v)
		}
	}
	if in.Phone != nil {
		validation.MaxLength("phone", strings.TrimSpace(*in.Phone), 20, v)
	}
	if e := normalizeEmail(in.Email); e != nil {
		validation.Email("email", *e, v)
	}
	if in.IdentityType != nil && !documents.ValidType(*in.IdentityType) {
		v.Add("identity_type", documents.CodeInvalidIdentityType)
	}
	s.docs.Check(documents.ProfilePicture, profile, v)
	s.docs.Check(documents.IdentityDocument, identity, v)
}

// checkUnique reports taken phone or email values before any file is stored.
// The unique indexes remain the authority at commit time.
func (s *ClientService) checkUnique(ctx context.Context, excludeID uint, phone, email *string, checkEmail bool) error {
	if phone != nil && *phone != "" {
		if taken, err := s.taken(ctx, "phone", *phone, excludeID); err != nil {
			return err
		} else if taken {
			return &ConstraintViolation{Field: "phone"}
		}
	}
	if checkEmail && email != nil {
		if taken, err := s.taken(ctx, "email", *email, excludeID); err != nil {
			return err
		} else if taken {
			return &ConstraintViolation{Field: "email"}
		}
	}
	return nil
}

func (s *ClientService) taken(ctx context.Context, column, value string, excludeID uint) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Client{}).
		Where(column+" = ? AND id <> ?", value, excludeID).
		Count(&count).Error
	return count > 0, err
}

func (s *ClientService) discard(ctx context.Context, stored ...*documents.Stored) {
	var paths []string
	for _, st := range stored {
		if st != nil {
			paths = append(paths, st.Path)
		}
	}
	if len(paths) == 0 {
		return
	}
	if err := s.docs.Remove(ctx, paths...); err != nil {
		s.logger.WarnContext(ctx, "orphaned upload left in store", "paths", paths, "error", err)
	}
}

func newProof(declaredType string, st *documents.Stored, now time.Time) models.IdentityProof {
	size := st.Size
	return models.IdentityProof{
		Type:       documents.Classify(strings.TrimSpace(declaredType), st.MimeType),
		FilePath:   st.Path,
		MimeType:   st.MimeType,
		FileSize:   &size,
		Status:     models.ProofStatusPending,
		UploadedAt: now,
	}
}

func orderProofs(db *gorm.DB) *gorm.DB {
	return db.Order("uploaded_at ASC").Order("id ASC")
}

func setTrimmed(updates map[string]any, column string, value *string) {
	if value != nil {
		updates[column] = strings.TrimSpace(*value)
	}
}

// normalizeEmail maps a blank email to nil so it is stored as NULL.
func normalizeEmail(email *string) *string {
	if email == nil {
		return nil
	}
	e := strings.TrimSpace(*email)
	if e == "" {
		return nil
	}
	return &e
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
