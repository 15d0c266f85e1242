package models

import (
	"strings"
	"time"
)

// Client is an administratively tracked individual with contact details and
// identity documentation. Phone is unique among non-empty values, email among
// non-null values.
type Client struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Name               string    `gorm:"size:255;not null" json:"name"`
	FirstName          string    `gorm:"size:255;not null" json:"first_name"`
	LastName           string    `gorm:"size:255;not null" json:"last_name"`
	Phone              string    `gorm:"size:20;not null;index:idx_clients_phone,unique,where:phone <> ''" json:"phone"`
	Email              *string   `gorm:"size:255;uniqueIndex:idx_clients_email" json:"email"`
	Address            string    `gorm:"size:255;not null" json:"address"`
	CreatedAt          time.Time `gorm:"not null;index" json:"created_at"`
	ProfilePicturePath *string   `gorm:"size:255" json:"profile_picture_path"`

	// IdentityProofs is loaded by query (Preload); proofs only hold ClientID.
	IdentityProofs []IdentityProof `gorm:"foreignKey:ClientID;constraint:OnDelete:CASCADE" json:"identity_proofs"`
}

// FullName returns "first last" without surrounding blanks.
func (c *Client) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// StoredPaths lists every blob path the client references.
func (c *Client) StoredPaths() []string {
	paths := make([]string, 0, len(c.IdentityProofs)+1)
	if c.ProfilePicturePath != nil && *c.ProfilePicturePath != "" {
		paths = append(paths, *c.ProfilePicturePath)
	}
	for _, p := range c.IdentityProofs {
		if p.FilePath != "" {
			paths = append(paths, p.FilePath)
		}
	}
	return paths
}
