// Package attendance implements the WebAuthn-based check-in flow. The
// platform-authenticator ceremony runs in the client; this side issues
// short-lived random challenges and matches returned credential IDs against
// the registered ones. A distinct identity mechanism from face matching.
package attendance

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"face-gate-go/internal/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrChallengeUnknown = errors.New("unknown or already used challenge")
	ErrChallengeExpired = errors.New("challenge expired")
	ErrChallengeMismatch = errors.New("challenge does not match this request")
)

// CredentialStore is the persistence the flow needs.
type CredentialStore interface {
	CreateCredential(ctx context.Context, name, credentialID string) error
	FindCredential(ctx context.Context, credentialID string) (string, error)
	SaveAttendanceEvent(ctx context.Context, event *models.AttendanceEvent) error
}

// Challenge is handed to the client for a credential ceremony.
type Challenge struct {
	ID        string    `json:"challenge_id"`
	Value     string    `json:"challenge"` // base64url random bytes
	ExpiresAt time.Time `json:"expires_at"`
	// UserVerification is always required for this flow.
	UserVerification string `json:"user_verification"`
}

type pendingChallenge struct {
	value     string
	name      string // set for registration challenges only
	expiresAt time.Time
}

// Service issues challenges and resolves assertions.
type Service struct {
	store CredentialStore
	ttl   time.Duration
	now   func() time.Time

	mu      sync.Mutex
	pending map[string]pendingChallenge
}

// NewService creates the attendance service. ttl <= 0 defaults to 2 minutes.
func NewService(store CredentialStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Service{
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		pending: make(map[string]pendingChallenge),
	}
}

func (s *Service) newChallenge(name string) (Challenge, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return Challenge{}, fmt.Errorf("failed to generate challenge: %w", err)
	}

	ch := Challenge{
		ID:               uuid.NewString(),
		Value:            base64.RawURLEncoding.EncodeToString(raw),
		ExpiresAt:        s.now().Add(s.ttl),
		UserVerification: "required",
	}

	s.mu.Lock()
	s.sweepLocked()
	s.pending[ch.ID] = pendingChallenge{value: ch.Value, name: name, expiresAt: ch.ExpiresAt}
	s.mu.Unlock()

	return ch, nil
}

// sweepLocked drops expired challenges. Caller holds the mutex.
func (s *Service) sweepLocked() {
	now := s.now()
	for id, ch := range s.pending {
		if now.After(ch.expiresAt) {
			delete(s.pending, id)
		}
	}
}

// consume validates and removes a pending challenge.
func (s *Service) consume(challengeID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[challengeID]
	if !ok {
		return ErrChallengeUnknown
	}
	delete(s.pending, challengeID)

	if s.now().After(ch.expiresAt) {
		return ErrChallengeExpired
	}
	if ch.name != name {
		return ErrChallengeMismatch
	}
	return nil
}

// RegistrationChallenge starts a credential-creation ceremony for a name.
func (s *Service) RegistrationChallenge(name string) (Challenge, error) {
	if name == "" {
		return Challenge{}, fmt.Errorf("name is required")
	}
	return s.newChallenge(name)
}

// Register stores the credential ID the client created.
func (s *Service) Register(ctx context.Context, challengeID, name, credentialID string) error {
	if name == "" || credentialID == "" {
		return fmt.Errorf("name and credential_id are required")
	}
	if err := s.consume(challengeID, name); err != nil {
		return err
	}
	return s.store.CreateCredential(ctx, name, credentialID)
}

// AssertionChallenge starts an authentication ceremony.
func (s *Service) AssertionChallenge() (Challenge, error) {
	return s.newChallenge("")
}

// Assert matches the returned credential ID against the registered ones and
// records the check-in. Returns the matched name.
func (s *Service) Assert(ctx context.Context, challengeID, credentialID string) (string, error) {
	if credentialID == "" {
		return "", fmt.Errorf("credential_id is required")
	}
	if err := s.consume(challengeID, ""); err != nil {
		return "", err
	}

	name, err := s.store.FindCredential(ctx, credentialID)
	if err != nil {
		return "", err
	}

	event := &models.AttendanceEvent{
		Name:         name,
		CredentialID: credentialID,
		CheckedInAt:  s.now(),
	}
	if err := s.store.SaveAttendanceEvent(ctx, event); err != nil {
		// The assertion already succeeded; the event record is best-effort.
		log.WithError(err).Warn("Failed to persist attendance event")
	}

	return name, nil
}
