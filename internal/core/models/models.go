package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Identity is an enrolled person: a unique, case-sensitive name paired with
// the collected template samples. Samples are stored as a JSON array of
// embeddings; legacy rows may still hold a single flat embedding.
type Identity struct {
	gorm.Model
	Name        string         `gorm:"uniqueIndex;not null"`
	Samples     datatypes.JSON `gorm:"type:json;not null"`
	SampleCount int            `gorm:"not null;default:0"`
}

// RecognitionEvent records one successful recognition.
type RecognitionEvent struct {
	gorm.Model
	EventID    string    `gorm:"uniqueIndex"`
	IdentityID uint      `gorm:"index;not null"`
	Name       string    `gorm:"index"`
	Distance   float64
	Confidence float64
	MatchedAt  time.Time `gorm:"index"`
	Identity   Identity  `gorm:"foreignKey:IdentityID"`
}

// AttendanceCredential is a WebAuthn platform-authenticator credential
// registered for the attendance flow. Matching is by credential ID only;
// no embedding is involved.
type AttendanceCredential struct {
	gorm.Model
	Name         string `gorm:"index;not null"`
	CredentialID string `gorm:"uniqueIndex;not null"`
}

// AttendanceEvent records one successful attendance assertion.
type AttendanceEvent struct {
	gorm.Model
	Name         string    `gorm:"index"`
	CredentialID string    `gorm:"index"`
	CheckedInAt  time.Time `gorm:"index"`
}
