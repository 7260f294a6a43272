package models

import "time"

// Node is a registry entry for a remote sensing agent. The id is a 12-hex
// prefix of the credential fingerprint and never changes once assigned; the
// raw credential itself is never stored.
type Node struct {
	ID   string `gorm:"primaryKey" json:"id"`
	Name string `gorm:"not null" json:"name"`

	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`

	// KeyFingerprint is the sha256 hex digest of the node's API key.
	KeyFingerprint string `gorm:"uniqueIndex" json:"-"`

	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}
