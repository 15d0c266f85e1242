package documents

import (
	"context"
	"errors"
	"io"
	"os"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diewo77/go-clients/internal/blob"
	"github.com/diewo77/go-clients/internal/models"
	"github.com/diewo77/go-clients/internal/sentinel"
	"github.com/diewo77/go-clients/validation"
)

func newIngestor(t *testing.T, maxBytes int64) (*Ingestor, *blob.LocalStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := blob.NewLocalStore(dir, "/uploads/clients")
	require.NoError(t, err)
	return NewIngestor(store, maxBytes, nil, nil), store, dir
}

// signatures are minimal leading bytes content detection recognises.
var signatures = map[string]string{
	"application/pdf": "%PDF-1.7\n",
	"image/png":       "\x89PNG\r\n\x1a\n",
	"image/jpeg":      "\xff\xd8\xff\xe0\x00\x10JFIF\x00",
	"image/gif":       "GIF89a",
	"image/webp":      "RIFF\x00\x00\x00\x00WEBPVP8 ",
}

// upload builds a payload whose content starts with the signature of mimeType.
func upload(mimeType, tag string) *Upload {
	return rawUpload(mimeType, signatures[NormalizeMIME(mimeType)]+tag)
}

func rawUpload(mimeType, body string) *Upload {
	return &Upload{Filename: "../../etc/passwd", MimeType: mimeType, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func readStored(t *testing.T, store *blob.LocalStore, path string) string {
	t.Helper()
	rc, err := store.Open(path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

func TestValidateAndStore_NamesFromSlotAndMime(t *testing.T) {
	in, store, _ := newIngestor(t, 0)

	up := upload("image/png", "png-bytes")
	st, err := in.ValidateAndStore(ProfilePicture, up)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Regexp(t, regexp.MustCompile(`^/uploads/clients/profile_[0-9a-f]{32}\.png$`), st.Path)
	assert.Equal(t, "image/png", st.MimeType)
	assert.Equal(t, up.Size, st.Size)
	assert.Equal(t, signatures["image/png"]+"png-bytes", readStored(t, store, st.Path), "sniffed bytes must be stored")

	st2, err := in.ValidateAndStore(IdentityDocument, upload("Application/PDF; charset=binary", "body"))
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^/uploads/clients/identity_[0-9a-f]{32}\.pdf$`), st2.Path)
	assert.Equal(t, "application/pdf", st2.MimeType)
	assert.NotEqual(t, st.Path, st2.Path)
}

func TestValidateAndStore_SkipsAbsentAndEmpty(t *testing.T) {
	in, _, dir := newIngestor(t, 0)

	st, err := in.ValidateAndStore(ProfilePicture, nil)
	require.NoError(t, err)
	assert.Nil(t, st)

	st, err = in.ValidateAndStore(ProfilePicture, upload("text/plain", ""))
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Zero(t, countFiles(t, dir))
}

func TestValidateAndStore_RejectsDisallowedMime(t *testing.T) {
	tests := []struct {
		name string
		slot Slot
		mime string
	}{
		{"pdf as profile", ProfilePicture, "application/pdf"},
		{"text as identity", IdentityDocument, "text/plain"},
		{"svg as profile", ProfilePicture, "image/svg+xml"},
		{"empty mime", IdentityDocument, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, dir := newIngestor(t, 0)
			st, err := in.ValidateAndStore(tt.slot, upload(tt.mime, "data"))
			require.Error(t, err)
			assert.Nil(t, st)

			var verr *validation.Error
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, CodeMimeNotAllowed, verr.Violations[tt.slot.Field])
			assert.Zero(t, countFiles(t, dir), "nothing may be moved")
		})
	}
}

func TestValidateAndStore_DetectsContentType(t *testing.T) {
	tests := []struct {
		name     string
		slot     Slot
		declared string
		body     string
	}{
		{"html declared as png", ProfilePicture, "image/png", "<html><script>alert(1)</script></html>"},
		{"script declared as pdf", IdentityDocument, "application/pdf", "#!/bin/sh\necho hello\n"},
		{"jpeg declared as png", ProfilePicture, "image/png", signatures["image/jpeg"] + "x"},
		{"pdf bytes declared as image", IdentityDocument, "image/jpeg", signatures["application/pdf"] + "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, _, dir := newIngestor(t, 0)
			_, err := in.ValidateAndStore(tt.slot, rawUpload(tt.declared, tt.body))
			var verr *validation.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, CodeMimeNotAllowed, verr.Violations[tt.slot.Field])
			assert.Zero(t, countFiles(t, dir))
		})
	}
}

func TestValidateAndStore_UsesDetectedType(t *testing.T) {
	in, _, _ := newIngestor(t, 0)

	st, err := in.ValidateAndStore(IdentityDocument, rawUpload("", signatures["application/pdf"]+"x"))
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", st.MimeType)
	assert.Regexp(t, regexp.MustCompile(`\.pdf$`), st.Path)

	st, err = in.ValidateAndStore(ProfilePicture, rawUpload("image/jpg", signatures["image/jpeg"]+"x"))
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", st.MimeType)

	st, err = in.ValidateAndStore(ProfilePicture, rawUpload("application/octet-stream", signatures["image/gif"]+"x"))
	require.NoError(t, err)
	assert.Equal(t, "image/gif", st.MimeType)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestValidateAndStore_ReadFailure(t *testing.T) {
	in, _, dir := newIngestor(t, 0)
	_, err := in.ValidateAndStore(ProfilePicture, &Upload{Filename: "a.png", MimeType: "image/png", Size: 10, Content: brokenReader{}})
	assert.ErrorIs(t, err, sentinel.ErrStorage)
	assert.Zero(t, countFiles(t, dir))
}

func TestValidateAndStore_TooLarge(t *testing.T) {
	in, _, dir := newIngestor(t, 4)
	_, err := in.ValidateAndStore(ProfilePicture, upload("image/jpeg", "12345"))
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, CodeFileTooLarge, verr.Violations["profile_picture"])
	assert.Zero(t, countFiles(t, dir))
}

func TestReplace_DeletesOldAfterCommit(t *testing.T) {
	in, store, dir := newIngestor(t, 0)
	ctx := context.Background()

	old, err := in.ValidateAndStore(ProfilePicture, upload("image/png", "old"))
	require.NoError(t, err)

	var committed string
	st, err := in.Replace(ctx, old.Path, ProfilePicture, upload("image/webp", "new"), func(s *Stored) error {
		committed = s.Path
		assert.True(t, store.Exists(s.Path), "new file must exist before commit")
		assert.True(t, store.Exists(old.Path), "old file kept until commit succeeds")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, committed, st.Path)
	assert.False(t, store.Exists(old.Path))
	assert.True(t, store.Exists(st.Path))
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestReplace_CommitFailureKeepsOld(t *testing.T) {
	in, store, dir := newIngestor(t, 0)
	ctx := context.Background()

	old, err := in.ValidateAndStore(ProfilePicture, upload("image/png", "old"))
	require.NoError(t, err)

	boom := errors.New("commit failed")
	_, err = in.Replace(ctx, old.Path, ProfilePicture, upload("image/png", "new"), func(*Stored) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.True(t, store.Exists(old.Path))
	assert.Equal(t, 1, countFiles(t, dir))
}

func TestReplace_InvalidUploadSkipsCommit(t *testing.T) {
	in, store, _ := newIngestor(t, 0)
	old, err := in.ValidateAndStore(ProfilePicture, upload("image/png", "old"))
	require.NoError(t, err)

	called := false
	_, err = in.Replace(context.Background(), old.Path, ProfilePicture, upload("application/zip", "zip"), func(*Stored) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, store.Exists(old.Path))
}

func TestReplace_MissingOldFileTolerated(t *testing.T) {
	in, _, _ := newIngestor(t, 0)
	st, err := in.Replace(context.Background(), "/uploads/clients/profile_gone.png", ProfilePicture, upload("image/png", "x"), func(*Stored) error { return nil })
	require.NoError(t, err)
	assert.NotNil(t, st)
}

func TestReplace_NoUploadStillCommits(t *testing.T) {
	in, _, _ := newIngestor(t, 0)
	var got *Stored
	called := false
	st, err := in.Replace(context.Background(), "/uploads/clients/profile_a.png", ProfilePicture, nil, func(s *Stored) error {
		called = true
		got = s
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Nil(t, got)
	assert.Nil(t, st)
}

type failingStore struct{ blob.Store }

func (failingStore) Move(io.Reader, string) (string, error) {
	return "", sentinel.ErrStorage
}

func (failingStore) Delete(string) error { return sentinel.ErrStorage }

func TestStorageFailures(t *testing.T) {
	in := NewIngestor(failingStore{}, 0, nil, nil)

	_, err := in.ValidateAndStore(IdentityDocument, upload("application/pdf", "x"))
	assert.ErrorIs(t, err, sentinel.ErrStorage)

	called := false
	_, err = in.Replace(context.Background(), "", ProfilePicture, upload("image/png", "x"), func(*Stored) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, sentinel.ErrStorage)
	assert.False(t, called, "move failure aborts before any record mutation")

	assert.ErrorIs(t, in.Remove(context.Background(), "/uploads/clients/a.png"), sentinel.ErrStorage)
}

func TestRemove_ToleratesMissing(t *testing.T) {
	in, _, dir := newIngestor(t, 0)
	a, err := in.ValidateAndStore(IdentityDocument, upload("image/jpeg", "a"))
	require.NoError(t, err)
	b, err := in.ValidateAndStore(IdentityDocument, upload("application/pdf", "b"))
	require.NoError(t, err)

	err = in.Remove(context.Background(), a.Path, "", b.Path, "/uploads/clients/identity_missing.pdf")
	require.NoError(t, err)
	assert.Zero(t, countFiles(t, dir))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		declared, mime, want string
	}{
		{"", "application/pdf", models.DocumentTypeDocument},
		{"", "image/png", models.DocumentTypePhotoID},
		{"unknown", "image/jpeg", models.DocumentTypePhotoID},
		{"AUTO", "image/avif", models.DocumentTypePhotoID},
		{"", "image/gif", models.DocumentTypeOther},
		{"", "application/octet-stream", models.DocumentTypeOther},
		{"passport", "application/pdf", models.DocumentTypePassport},
		{"national_id", "image/png", models.DocumentTypeNationalID},
	}
	for _, tt := range tests {
		t.Run(tt.declared+"/"+tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.declared, tt.mime))
		})
	}
}

func TestValidType(t *testing.T) {
	for _, typ := range append([]string{"", "unknown", "auto"}, models.DocumentTypes...) {
		assert.True(t, ValidType(typ), typ)
	}
	assert.True(t, ValidType(" passport "))
	for _, typ := range []string{"selfie", "Passport", "id card"} {
		assert.False(t, ValidType(typ), typ)
	}
}

func TestExtension(t *testing.T) {
	assert.Equal(t, "jpg", Extension("image/jpeg"))
	assert.Equal(t, "jpg", Extension("image/jpg"))
	assert.Equal(t, "avif", Extension("image/avif"))
	assert.Equal(t, "pdf", Extension("application/pdf"))
	assert.Equal(t, "bin", Extension("application/zip"))
}

func TestSlotAllowLists(t *testing.T) {
	assert.False(t, ProfilePicture.Accepts("application/pdf"))
	assert.True(t, IdentityDocument.Accepts("application/pdf"))
	for _, mt := range imageTypes {
		assert.True(t, ProfilePicture.Accepts(mt), mt)
		assert.True(t, IdentityDocument.Accepts(mt), mt)
	}
}
