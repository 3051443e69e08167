package session

import (
	"context"
	"sync"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// CameraOpener acquires the camera device for a session. Acquisition may
// block on device permission and warm-up; it is expected to enforce its own
// timeout.
type CameraOpener func(ctx context.Context) (Source, error)

// Switcher is implemented by sources that can change capture direction.
type Switcher interface {
	Switch(ctx context.Context, device int) error
}

// runner is the interface both session kinds satisfy.
type runner interface {
	Run(ctx context.Context) error
	Status() Status
}

type running struct {
	session runner
	source  Source
	cancel  context.CancelFunc
	done    chan struct{}
}

// Manager enforces that at most one capture session runs at a time and owns
// the camera handle for whichever session is active.
type Manager struct {
	openCamera CameraOpener
	detector   Detector
	store      Store
	notifier   Notifier
	cfg        Config

	mu      sync.Mutex
	current *running
}

// NewManager wires the session dependencies.
func NewManager(openCamera CameraOpener, detector Detector, store Store, notifier Notifier, cfg Config) *Manager {
	return &Manager{
		openCamera: openCamera,
		detector:   detector,
		store:      store,
		notifier:   notifier,
		cfg:        cfg,
	}
}

// StartEnrollment begins an enrollment session for the given name and returns
// its ID. Fails with ErrSessionActive while another session holds the camera.
func (m *Manager) StartEnrollment(ctx context.Context, name string) (string, error) {
	return m.start(ctx, func(id string, source Source) runner {
		return NewEnrollmentSession(id, name, source, m.detector, m.store, m.notifier, m.cfg)
	})
}

// StartRecognition begins a recognition session. The empty-store precondition
// is checked up front so the caller gets ErrNoEnrolledUsers synchronously
// instead of a session that can never match.
func (m *Manager) StartRecognition(ctx context.Context) (string, error) {
	count, err := m.store.CountIdentities(ctx)
	if err != nil {
		return "", err
	}
	if count == 0 {
		return "", ErrNoEnrolledUsers
	}

	return m.start(ctx, func(id string, source Source) runner {
		return NewRecognitionSession(id, source, m.detector, m.store, m.notifier, m.cfg)
	})
}

func (m *Manager) start(ctx context.Context, build func(id string, source Source) runner) (string, error) {
	m.mu.Lock()
	if m.current != nil {
		select {
		case <-m.current.done:
			m.current = nil
		default:
			m.mu.Unlock()
			return "", ErrSessionActive
		}
	}
	m.mu.Unlock()

	source, err := m.openCamera(ctx)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	sess := build(id, source)

	runCtx, cancel := context.WithCancel(context.Background())
	r := &running{session: sess, source: source, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.current != nil {
		select {
		case <-m.current.done:
		default:
			m.mu.Unlock()
			cancel()
			source.Close()
			return "", ErrSessionActive
		}
	}
	m.current = r
	m.mu.Unlock()

	go func() {
		defer close(r.done)
		defer func() {
			if err := source.Close(); err != nil {
				log.WithError(err).Warn("Failed to release camera")
			}
		}()
		if err := sess.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.WithError(err).Debug("Capture session ended with error")
		}
	}()

	return id, nil
}

// Cancel aborts the active session. Cancellation is cooperative: the frame
// loop stops scheduling work and the camera is released once it exits.
func (m *Manager) Cancel() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ErrNoActiveSession
	}
	select {
	case <-m.current.done:
		return ErrNoActiveSession
	default:
	}

	m.current.cancel()
	return nil
}

// Current returns the status of the most recent session, if any.
func (m *Manager) Current() (Status, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return Status{}, false
	}
	return m.current.session.Status(), true
}

// SwitchCamera changes the capture direction of the active session's source,
// if it supports switching.
func (m *Manager) SwitchCamera(ctx context.Context, device int) error {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()

	if r == nil {
		return ErrNoActiveSession
	}
	select {
	case <-r.done:
		return ErrNoActiveSession
	default:
	}

	switcher, ok := r.source.(Switcher)
	if !ok {
		return ErrNoActiveSession
	}
	return switcher.Switch(ctx, device)
}

// Wait blocks until the active session finishes. Intended for tests and
// orderly shutdown.
func (m *Manager) Wait() {
	m.mu.Lock()
	r := m.current
	m.mu.Unlock()

	if r != nil {
		<-r.done
	}
}
