package models

import "time"

// ProofStatus is the review state of an identity proof.
type ProofStatus string

const (
	ProofStatusPending  ProofStatus = "pending"
	ProofStatusApproved ProofStatus = "approved"
	ProofStatusRejected ProofStatus = "rejected"
)

func (s ProofStatus) Valid() bool {
	switch s {
	case ProofStatusPending, ProofStatusApproved, ProofStatusRejected:
		return true
	}
	return false
}

// Document types an identity proof can be classified as.
const (
	DocumentTypePassport        = "passport"
	DocumentTypeNationalID      = "national_id"
	DocumentTypeVoterCard       = "voter_card"
	DocumentTypeDriversLicense  = "drivers_license"
	DocumentTypeResidencePermit = "residence_permit"
	DocumentTypePhotoID         = "photo_id"
	DocumentTypeDocument        = "document"
	DocumentTypeOther           = "other"
)

// DocumentTypes is the bounded classification set.
var DocumentTypes = []string{
	DocumentTypePassport,
	DocumentTypeNationalID,
	DocumentTypeVoterCard,
	DocumentTypeDriversLicense,
	DocumentTypeResidencePermit,
	DocumentTypePhotoID,
	DocumentTypeDocument,
	DocumentTypeOther,
}

// IdentityProof is one uploaded verification document. It never exists
// without its owning client and is removed with it.
type IdentityProof struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	ClientID      uint        `gorm:"index;not null" json:"client_id"`
	Type          string      `gorm:"size:50;not null" json:"type"`
	FilePath      string      `gorm:"size:255;not null" json:"file_path"`
	MimeType      string      `gorm:"size:100;not null" json:"mime_type"`
	FileSize      *int64      `json:"file_size"`
	Status        ProofStatus `gorm:"size:20;not null;default:pending" json:"status"`
	UploadedAt    time.Time   `gorm:"not null" json:"uploaded_at"`
	DownloadCount int         `gorm:"not null;default:0" json:"download_count"`
}
