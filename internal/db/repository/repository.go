package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"face-gate-go/internal/core/face"
	"face-gate-go/internal/core/models"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sentinel errors surfaced to the HTTP layer and the sessions.
var (
	ErrNameTaken         = errors.New("identity name already exists")
	ErrIdentityNotFound  = errors.New("identity not found")
	ErrCredentialTaken   = errors.New("credential already registered")
	ErrCredentialUnknown = errors.New("credential not registered")
)

// DefaultMaxSamples caps a template's sample count; the oldest samples are
// evicted first so recent appearances dominate matching.
const DefaultMaxSamples = 25

// IdentityRecord is the wire representation of one enrolled identity.
type IdentityRecord struct {
	Name    string
	Samples []face.Embedding
}

// AdminRecord is the read-only admin listing row.
type AdminRecord struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	SampleCount int       `json:"sample_count"`
}

// Repository persists identities, templates and events in SQLite.
type Repository struct {
	db         *gorm.DB
	maxSamples int
}

// New creates a repository. maxSamples <= 0 falls back to DefaultMaxSamples.
func New(db *gorm.DB, maxSamples int) *Repository {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Repository{db: db, maxSamples: maxSamples}
}

// decodeIdentity normalizes a stored row: legacy flat descriptors become
// one-sample templates.
func decodeIdentity(identity *models.Identity) (IdentityRecord, error) {
	samples, err := face.DecodeSamples(identity.Samples)
	if err != nil {
		return IdentityRecord{}, fmt.Errorf("identity %q has a malformed descriptor: %w", identity.Name, err)
	}
	return IdentityRecord{Name: identity.Name, Samples: samples}, nil
}

// ListIdentities returns every enrolled identity in creation order.
func (r *Repository) ListIdentities(ctx context.Context) ([]IdentityRecord, error) {
	var identities []models.Identity
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&identities).Error; err != nil {
		return nil, err
	}

	records := make([]IdentityRecord, 0, len(identities))
	for i := range identities {
		rec, err := decodeIdentity(&identities[i])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListTemplates returns the matcher's view of the store, in creation order so
// tie-breaks stay deterministic.
func (r *Repository) ListTemplates(ctx context.Context) ([]face.LabeledTemplate, error) {
	records, err := r.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}

	templates := make([]face.LabeledTemplate, 0, len(records))
	for _, rec := range records {
		templates = append(templates, face.LabeledTemplate{Label: rec.Name, Samples: rec.Samples})
	}
	return templates, nil
}

// CountIdentities returns the number of enrolled identities.
func (r *Repository) CountIdentities(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Identity{}).Count(&count).Error
	return count, err
}

// CreateIdentity enrolls a new identity with its initial template. The unique
// name constraint resolves races between concurrent enrollments; losing the
// race reports ErrNameTaken.
func (r *Repository) CreateIdentity(ctx context.Context, name string, samples []face.Embedding) error {
	if name == "" || len(samples) == 0 {
		return fmt.Errorf("name and at least one sample are required")
	}

	samples = capSamples(samples, r.maxSamples)
	encoded, err := face.EncodeSamples(samples)
	if err != nil {
		return err
	}

	identity := models.Identity{
		Name:        name,
		Samples:     datatypes.JSON(encoded),
		SampleCount: len(samples),
	}
	if err := r.db.WithContext(ctx).Create(&identity).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrNameTaken
		}
		return err
	}

	return nil
}

// AppendSample adds one sample to an identity's template, evicting the oldest
// samples beyond the cap. Returns the resulting sample count.
func (r *Repository) AppendSample(ctx context.Context, name string, sample face.Embedding) (int, error) {
	var count int
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var identity models.Identity
		if err := tx.Where("name = ?", name).First(&identity).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrIdentityNotFound
			}
			return err
		}

		rec, err := decodeIdentity(&identity)
		if err != nil {
			return err
		}

		samples := capSamples(append(rec.Samples, sample), r.maxSamples)
		encoded, err := face.EncodeSamples(samples)
		if err != nil {
			return err
		}

		identity.Samples = datatypes.JSON(encoded)
		identity.SampleCount = len(samples)
		count = len(samples)
		return tx.Save(&identity).Error
	})
	return count, err
}

// ClearAll removes every enrolled identity. There is no selective delete.
func (r *Repository) ClearAll(ctx context.Context) error {
	return r.db.WithContext(ctx).Unscoped().Where("1 = 1").Delete(&models.Identity{}).Error
}

// AdminList returns the read-only administrative listing.
func (r *Repository) AdminList(ctx context.Context) ([]AdminRecord, error) {
	var identities []models.Identity
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&identities).Error; err != nil {
		return nil, err
	}

	records := make([]AdminRecord, 0, len(identities))
	for _, identity := range identities {
		records = append(records, AdminRecord{
			Name:        identity.Name,
			CreatedAt:   identity.CreatedAt,
			SampleCount: identity.SampleCount,
		})
	}
	return records, nil
}

// SaveRecognitionEvent persists one successful recognition.
func (r *Repository) SaveRecognitionEvent(ctx context.Context, event *models.RecognitionEvent) error {
	if event.IdentityID == 0 && event.Name != "" {
		var identity models.Identity
		if err := r.db.WithContext(ctx).Where("name = ?", event.Name).First(&identity).Error; err == nil {
			event.IdentityID = identity.ID
		}
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// CreateCredential registers a WebAuthn credential for the attendance flow.
func (r *Repository) CreateCredential(ctx context.Context, name, credentialID string) error {
	cred := models.AttendanceCredential{Name: name, CredentialID: credentialID}
	if err := r.db.WithContext(ctx).Create(&cred).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrCredentialTaken
		}
		return err
	}
	return nil
}

// FindCredential resolves a credential ID to the registered name.
func (r *Repository) FindCredential(ctx context.Context, credentialID string) (string, error) {
	var cred models.AttendanceCredential
	if err := r.db.WithContext(ctx).Where("credential_id = ?", credentialID).First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrCredentialUnknown
		}
		return "", err
	}
	return cred.Name, nil
}

// SaveAttendanceEvent persists one successful attendance assertion.
func (r *Repository) SaveAttendanceEvent(ctx context.Context, event *models.AttendanceEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// capSamples enforces the template cap with oldest-first eviction.
func capSamples(samples []face.Embedding, max int) []face.Embedding {
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// isUniqueViolation detects a unique-constraint failure from the driver.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
