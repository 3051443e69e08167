// Package session drives live capture: it turns a stream of per-frame
// detections into either a committed enrollment template or a recognition
// decision. One session owns the camera at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"face-gate-go/internal/core/face"
	"face-gate-go/internal/core/models"
)

// Mode distinguishes the two capture flows.
type Mode string

const (
	ModeEnrolling   Mode = "enrolling"
	ModeRecognizing Mode = "recognizing"
)

// Phase is the session state machine position.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseDuplicateCheck Phase = "duplicate_check"
	PhaseLearning       Phase = "learning"
	PhaseCommitting     Phase = "committing"
	PhaseMatching       Phase = "matching"
	PhaseUpdating       Phase = "updating"
	PhaseDone           Phase = "done"
	PhaseRejected       Phase = "rejected"
	PhaseFailed         Phase = "failed"
	PhaseCancelled      Phase = "cancelled"
)

// Terminal reports whether a phase ends the session.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseDone, PhaseRejected, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// Source yields camera frames as JPEG bytes, one at a time. Next blocks until
// a frame is available or the context is cancelled.
type Source interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Detector turns one frame into zero or more detected faces with embeddings.
// Only the first detection is ever used.
type Detector interface {
	Detect(ctx context.Context, frame []byte) ([]face.Detection, error)
}

// Store is the template-store view the sessions need.
type Store interface {
	ListTemplates(ctx context.Context) ([]face.LabeledTemplate, error)
	CreateIdentity(ctx context.Context, name string, samples []face.Embedding) error
	AppendSample(ctx context.Context, name string, sample face.Embedding) (int, error)
	CountIdentities(ctx context.Context) (int64, error)
	SaveRecognitionEvent(ctx context.Context, event *models.RecognitionEvent) error
}

// Notifier receives session progress and results, e.g. for SSE or MQTT.
type Notifier interface {
	SessionEvent(event Event)
}

// MultiNotifier fans one event out to several sinks.
type MultiNotifier []Notifier

func (m MultiNotifier) SessionEvent(event Event) {
	for _, n := range m {
		n.SessionEvent(event)
	}
}

// Event is one progress or result notification.
type Event struct {
	SessionID      string  `json:"session_id"`
	Mode           Mode    `json:"mode"`
	Phase          Phase   `json:"phase"`
	Name           string  `json:"name,omitempty"`
	Label          string  `json:"label,omitempty"`
	Distance       float64 `json:"distance,omitempty"`
	Confidence     float64 `json:"confidence,omitempty"`
	ElapsedSeconds int     `json:"elapsed_seconds,omitempty"`
	TotalSeconds   int     `json:"total_seconds,omitempty"`
	SampleCount    int     `json:"sample_count,omitempty"`
	Error          string  `json:"error,omitempty"`
}

// Config carries the matching and learning parameters shared by both flows.
type Config struct {
	EnrollmentThreshold    float64
	RecognitionThreshold   float64
	DuplicateCheckFailOpen bool
	LearningWindow         time.Duration
	SampleStride           int
}

// Status is a point-in-time snapshot of a session, safe to serve over HTTP.
type Status struct {
	ID         string    `json:"id"`
	Mode       Mode      `json:"mode"`
	Phase      Phase     `json:"phase"`
	Name       string    `json:"name,omitempty"`
	Label      string    `json:"label,omitempty"`
	Distance   float64   `json:"distance,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	Error      string    `json:"error,omitempty"`
}

// ErrNoEnrolledUsers is reported when recognition is requested against an
// empty store. A precondition, not an exception.
var ErrNoEnrolledUsers = errors.New("no enrolled users")

// ErrSessionActive is reported when a second capture flow is requested while
// one is already running.
var ErrSessionActive = errors.New("a capture session is already active")

// ErrNoActiveSession is reported when there is nothing to cancel.
var ErrNoActiveSession = errors.New("no active capture session")

// DuplicateIdentityError aborts an enrollment whose probe already matches an
// enrolled identity.
type DuplicateIdentityError struct {
	Existing string
	Distance float64
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("face already enrolled as %q (distance %.3f)", e.Existing, e.Distance)
}

// NameConflictError reports that the store rejected the enrollment commit
// because the name was taken, i.e. a concurrent enrollment won the race.
// Distinct from DuplicateIdentityError even though the user-facing text is
// similar.
type NameConflictError struct {
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("identity name %q already exists", e.Name)
}

// state is the single mutable struct shared between the frame loop and
// status readers.
type state struct {
	mu         sync.Mutex
	phase      Phase
	startedAt  time.Time
	learnStart time.Time
	buffer     []face.Embedding
	frameCount int
	result     face.MatchResult
	err        error
}

func (s *state) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

func (s *state) getPhase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *state) fail(p Phase, err error) {
	s.mu.Lock()
	s.phase = p
	s.err = err
	s.mu.Unlock()
}
