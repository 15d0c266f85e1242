package handlers

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/diewo77/go-clients/httpx"
	"github.com/diewo77/go-clients/internal/documents"
	"github.com/diewo77/go-clients/internal/services"
)

const multipartMemory = 8 << 20

type ClientHandler struct {
	clients *services.ClientService
	proofs  *services.IdentityProofService
	maxBody int64
	logger  *slog.Logger
}

// NewClientHandler limits request bodies to maxBody bytes when positive.
func NewClientHandler(clients *services.ClientService, proofs *services.IdentityProofService, maxBody int64, logger *slog.Logger) *ClientHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClientHandler{clients: clients, proofs: proofs, maxBody: maxBody, logger: logger}
}

func (h *ClientHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page := queryInt(q.Get("page"), 1)
	size := queryInt(q.Get("limit"), services.DefaultPageSize)

	res, err := h.clients.List(r.Context(), page, size)
	if err != nil {
		h.fail(w, r, "list clients", err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *ClientHandler) View(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	c, err := h.clients.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get client", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *ClientHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, profile, identity, ok := h.parseClientForm(w, r)
	if !ok {
		return
	}
	defer closeUploads(profile, identity)

	c, err := h.clients.Create(r.Context(), in, profile.upload, identity.upload)
	if err != nil {
		h.fail(w, r, "create client", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, c)
}

func (h *ClientHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	in, profile, identity, ok := h.parseClientForm(w, r)
	if !ok {
		return
	}
	defer closeUploads(profile, identity)

	c, err := h.clients.Update(r.Context(), id, in, profile.upload, identity.upload)
	if err != nil {
		h.fail(w, r, "update client", err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}

func (h *ClientHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.clients.Delete(r.Context(), id); err != nil {
		h.fail(w, r, "delete client", err)
		return
	}
	httpx.Message(w, http.StatusOK, "client_deleted")
}

func (h *ClientHandler) IdentityProofs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	proofs, err := h.proofs.ListForClient(r.Context(), id)
	if err != nil {
		h.fail(w, r, "list identity proofs", err)
		return
	}
	httpx.JSON(w, http.StatusOK, proofs)
}

// formFile is an optional uploaded part kept open until the request ends.
type formFile struct {
	upload *documents.Upload
	file   multipart.File
}

func closeUploads(files ...formFile) {
	for _, f := range files {
		if f.file != nil {
			f.file.Close()
		}
	}
}

// parseClientForm reads client fields from a multipart or urlencoded body.
// Only keys present in the body are set on the returned fields.
func (h *ClientHandler) parseClientForm(w http.ResponseWriter, r *http.Request) (services.ClientFields, formFile, formFile, bool) {
	var in services.ClientFields
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	multipartBody := strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
	var err error
	if multipartBody {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.JSONError(w, http.StatusRequestEntityTooLarge, "request_too_large", nil)
			return in, formFile{}, formFile{}, false
		}
		httpx.JSONError(w, http.StatusBadRequest, "invalid_form", nil)
		return in, formFile{}, formFile{}, false
	}

	in.Name = formValue(r, "name")
	in.FirstName = formValue(r, "first_name")
	in.LastName = formValue(r, "last_name")
	in.Phone = formValue(r, "phone")
	in.Email = formValue(r, "email")
	in.Address = formValue(r, "address")
	in.IdentityType = formValue(r, "identity_type")

	if !multipartBody {
		return in, formFile{}, formFile{}, true
	}
	profile, err := openFormFile(r, documents.ProfilePicture.Field)
	if err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_form", nil)
		return in, formFile{}, formFile{}, false
	}
	identity, err := openFormFile(r, documents.IdentityDocument.Field)
	if err != nil {
		closeUploads(profile)
		httpx.JSONError(w, http.StatusBadRequest, "invalid_form", nil)
		return in, formFile{}, formFile{}, false
	}
	return in, profile, identity, true
}

func formValue(r *http.Request, key string) *string {
	vals, ok := r.PostForm[key]
	if !ok || len(vals) == 0 {
		return nil
	}
	v := vals[0]
	return &v
}

func openFormFile(r *http.Request, key string) (formFile, error) {
	f, hdr, err := r.FormFile(key)
	if errors.Is(err, http.ErrMissingFile) {
		return formFile{}, nil
	}
	if err != nil {
		return formFile{}, err
	}
	return formFile{
		file: f,
		upload: &documents.Upload{
			Filename: hdr.Filename,
			MimeType: hdr.Header.Get("Content-Type"),
			Size:     hdr.Size,
			Content:  f,
		},
	}, nil
}

func (h *ClientHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	logError(h.logger, r, op, err)
	httpx.WriteError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_id", nil)
		return 0, false
	}
	return uint(id), true
}

func queryInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}
