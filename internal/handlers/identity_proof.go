package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"

	"github.com/diewo77/go-clients/httpx"
	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/internal/services"
	"github.com/diewo77/go-clients/validation"
)

type IdentityProofHandler struct {
	proofs *services.IdentityProofService
	logger *slog.Logger
}

func NewIdentityProofHandler(proofs *services.IdentityProofService, logger *slog.Logger) *IdentityProofHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityProofHandler{proofs: proofs, logger: logger}
}

// Download streams the stored file and counts the download.
func (h *IdentityProofHandler) Download(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, rc, err := h.proofs.Download(r.Context(), id)
	if err != nil {
		logError(h.logger, r, "download identity proof", err)
		httpx.WriteError(w, err)
		return
	}
	defer rc.Close()

	httpx.Attachment(w, path.Base(p.FilePath), p.MimeType, p.FileSize)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "identity proof download interrupted", "proof_id", id, "error", err)
	}
}

type statusRequest struct {
	Status string `json:"status"`
}

func (h *IdentityProofHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
		httpx.WriteError(w, validation.Fail("status", "invalid_json"))
		return
	}
	p, err := h.proofs.SetStatus(r.Context(), id, req.Status)
	if err != nil {
		logError(h.logger, r, "set identity proof status", err)
		httpx.WriteError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// logError logs unexpected failures. Client errors are left to the response.
func logError(logger *slog.Logger, r *http.Request, op string, err error) {
	var verr *validation.Error
	if errors.As(err, &verr) || errors.Is(err, sentinel.ErrNotFound) || errors.Is(err, sentinel.ErrConflict) {
		return
	}
	logger.ErrorContext(r.Context(), op+" failed", "method", r.Method, "path", r.URL.Path, "error", err)
}
