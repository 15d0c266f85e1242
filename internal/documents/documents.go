// Package documents validates uploaded client files, stores them under
// generated names and classifies identity documents.
package documents

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/diewo77/go-clients/internal/blob"
	"github.com/diewo77/go-clients/internal/metrics"
	"github.com/diewo77/go-clients/internal/models"
	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/validation"
)

// Violation codes reported for uploads.
const (
	CodeMimeNotAllowed      = "mime_not_allowed"
	CodeFileTooLarge        = "file_too_large"
	CodeInvalidIdentityType = "invalid_identity_type"
)

var imageTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/gif", "image/webp", "image/avif"}

// photoTypes classify as photo_id. gif is accepted but not photographic.
var photoTypes = []string{"image/jpeg", "image/jpg", "image/png", "image/webp", "image/avif"}

var extensions = map[string]string{
	"image/jpeg":      "jpg",
	"image/jpg":       "jpg",
	"image/png":       "png",
	"image/gif":       "gif",
	"image/webp":      "webp",
	"image/avif":      "avif",
	"application/pdf": "pdf",
}

// Slot is an upload position on a client with its own allow-list and name prefix.
type Slot struct {
	Field   string
	Prefix  string
	Allowed []string
}

var (
	ProfilePicture   = Slot{Field: "profile_picture", Prefix: "profile_", Allowed: imageTypes}
	IdentityDocument = Slot{Field: "identity_document", Prefix: "identity_", Allowed: append(slices.Clone(imageTypes), "application/pdf")}
)

func (s Slot) Accepts(mimeType string) bool {
	return slices.Contains(s.Allowed, NormalizeMIME(mimeType))
}

// sniffLen matches the amount of content mimetype inspects by default.
const sniffLen = 3072

// Upload is a received payload with its declared MIME type and length.
// The declared type is only a claim; the type used for checks and naming
// is detected from the leading bytes of Content.
type Upload struct {
	Filename string
	MimeType string
	Size     int64
	Content  io.Reader

	detected string
	sniffErr error
	sniffed  bool
}

// Present reports whether the upload carries any bytes. Absent and
// zero-length uploads are skipped.
func (u *Upload) Present() bool {
	return u != nil && u.Content != nil && u.Size > 0
}

// Detect returns the media type found in the upload's content. The bytes
// read for detection are put back in front of Content.
func (u *Upload) Detect() (string, error) {
	if u.sniffed {
		return u.detected, u.sniffErr
	}
	u.sniffed = true
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(u.Content, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		u.sniffErr = fmt.Errorf("%w: read upload %s: %v", sentinel.ErrStorage, u.Filename, err)
		return "", u.sniffErr
	}
	head = head[:n]
	u.Content = io.MultiReader(bytes.NewReader(head), u.Content)
	u.detected = NormalizeMIME(mimetype.Detect(head).String())
	return u.detected, nil
}

// Stored describes a file that is already in the blob store.
type Stored struct {
	Path     string
	MimeType string
	Size     int64
}

// Ingestor validates and stores uploads. The blob store and upload limit
// are fixed at construction.
type Ingestor struct {
	store    blob.Store
	maxBytes int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewIngestor(store blob.Store, maxBytes int64, logger *slog.Logger, m *metrics.Metrics) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ingestor{store: store, maxBytes: maxBytes, logger: logger, metrics: m}
}

// Check records violations for up without touching the blob store. The
// detected content type must be allowed by the slot and, when a type was
// declared, agree with it. Read failures are left to ValidateAndStore.
func (in *Ingestor) Check(slot Slot, up *Upload, v validation.Violations) {
	if !up.Present() {
		return
	}
	detected, err := up.Detect()
	if err != nil {
		return
	}
	if !slot.Accepts(detected) || !declaredMatches(up.MimeType, detected) {
		in.logger.Info("upload rejected",
			"field", slot.Field, "filename", up.Filename, "declared", up.MimeType, "detected", detected)
		v.Add(slot.Field, CodeMimeNotAllowed)
		return
	}
	if in.maxBytes > 0 && up.Size > in.maxBytes {
		v.Add(slot.Field, CodeFileTooLarge)
	}
}

// ValidateAndStore checks up against the slot and moves it into the blob
// store under a generated name. It returns nil, nil when there is nothing
// to store.
func (in *Ingestor) ValidateAndStore(slot Slot, up *Upload) (*Stored, error) {
	if !up.Present() {
		return nil, nil
	}
	mimeType, err := up.Detect()
	if err != nil {
		in.metrics.IncrementUpload(slot.Field, "failed")
		return nil, err
	}
	v := validation.Violations{}
	in.Check(slot, up, v)
	if err := v.Err(); err != nil {
		in.metrics.IncrementUpload(slot.Field, "rejected")
		return nil, err
	}
	name := slot.Prefix + strings.ReplaceAll(uuid.NewString(), "-", "") + "." + Extension(mimeType)
	path, err := in.store.Move(up.Content, name)
	if err != nil {
		in.metrics.IncrementUpload(slot.Field, "failed")
		return nil, err
	}
	in.metrics.IncrementUpload(slot.Field, "stored")
	in.metrics.AddUploadBytes(up.Size)
	return &Stored{Path: path, MimeType: mimeType, Size: up.Size}, nil
}

// Replace stores up, runs commit with the result and then removes oldPath.
// If commit fails the new file is removed and oldPath is kept. With no
// upload, commit runs with nil and nothing is removed.
func (in *Ingestor) Replace(ctx context.Context, oldPath string, slot Slot, up *Upload, commit func(*Stored) error) (*Stored, error) {
	stored, err := in.ValidateAndStore(slot, up)
	if err != nil {
		return nil, err
	}
	if err := commit(stored); err != nil {
		if stored != nil {
			_ = in.Remove(ctx, stored.Path)
		}
		return nil, err
	}
	if stored != nil && oldPath != "" && oldPath != stored.Path {
		_ = in.Remove(ctx, oldPath)
	}
	return stored, nil
}

// Remove deletes stored files concurrently. Missing files are logged and
// ignored. The first other failure is returned after all removals finish.
func (in *Ingestor) Remove(ctx context.Context, paths ...string) error {
	var g errgroup.Group
	for _, p := range paths {
		if p == "" {
			continue
		}
		g.Go(func() error {
			err := in.store.Delete(p)
			switch {
			case err == nil:
				in.metrics.IncrementBlobDelete("deleted")
				return nil
			case errors.Is(err, sentinel.ErrNotFound):
				in.metrics.IncrementBlobDelete("missing")
				in.logger.WarnContext(ctx, "stored file already missing", "path", p)
				return nil
			default:
				in.metrics.IncrementBlobDelete("failed")
				in.logger.ErrorContext(ctx, "failed to remove stored file", "path", p, "error", err)
				return err
			}
		})
	}
	return g.Wait()
}

// Classify returns declared unless it is a placeholder, otherwise a type
// derived from the MIME type.
func Classify(declared, mimeType string) string {
	if !isPlaceholder(declared) {
		return declared
	}
	mt := NormalizeMIME(mimeType)
	switch {
	case mt == "application/pdf":
		return models.DocumentTypeDocument
	case slices.Contains(photoTypes, mt):
		return models.DocumentTypePhotoID
	default:
		return models.DocumentTypeOther
	}
}

// ValidType reports whether declared is a placeholder or a known document type.
func ValidType(declared string) bool {
	return isPlaceholder(declared) || slices.Contains(models.DocumentTypes, strings.TrimSpace(declared))
}

func isPlaceholder(t string) bool {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "", "unknown", "auto":
		return true
	}
	return false
}

// declaredMatches reports whether a client-declared type agrees with the
// detected one. A missing or generic declaration defers to detection.
func declaredMatches(declared, detected string) bool {
	d := NormalizeMIME(declared)
	switch d {
	case "", "application/octet-stream":
		return true
	case "image/jpg":
		d = "image/jpeg"
	}
	return d == detected
}

// NormalizeMIME lowercases the media type and drops parameters.
func NormalizeMIME(s string) string {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return mt
}

// Extension returns the file extension stored files get for mimeType.
func Extension(mimeType string) string {
	if ext, ok := extensions[NormalizeMIME(mimeType)]; ok {
		return ext
	}
	return "bin"
}
