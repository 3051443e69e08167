package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"face-gate-go/internal/core/face"
	"face-gate-go/internal/db/repository"

	log "github.com/sirupsen/logrus"
)

// EnrollmentSession collects a multi-sample template for a new identity over
// a fixed observation window, rejecting faces that already belong to someone
// else.
type EnrollmentSession struct {
	id       string
	name     string
	source   Source
	detector Detector
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time

	state state
}

// NewEnrollmentSession prepares an enrollment for the given identity name.
func NewEnrollmentSession(id, name string, source Source, detector Detector, store Store, notifier Notifier, cfg Config) *EnrollmentSession {
	s := &EnrollmentSession{
		id:       id,
		name:     name,
		source:   source,
		detector: detector,
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
	s.state.phase = PhaseIdle
	s.state.startedAt = s.now()
	return s
}

// Status returns a snapshot of the session.
func (s *EnrollmentSession) Status() Status {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	st := Status{
		ID:        s.id,
		Mode:      ModeEnrolling,
		Phase:     s.state.phase,
		Name:      s.name,
		StartedAt: s.state.startedAt,
	}
	if s.state.err != nil {
		st.Error = s.state.err.Error()
	}
	return st
}

// Run drives the capture loop until the session reaches a terminal phase.
// Frames are processed strictly in capture order with one detection in
// flight; cancellation is checked before any further work is scheduled.
func (s *EnrollmentSession) Run(ctx context.Context) error {
	logger := log.WithFields(log.Fields{"session": s.id, "mode": ModeEnrolling, "name": s.name})
	logger.Info("Enrollment session started")

	lastReported := -1

	for {
		if err := ctx.Err(); err != nil {
			s.state.fail(PhaseCancelled, err)
			logger.Info("Enrollment session cancelled")
			return err
		}

		frame, err := s.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.state.fail(PhaseCancelled, ctx.Err())
				logger.Info("Enrollment session cancelled")
				return ctx.Err()
			}
			captureErr := fmt.Errorf("capture failed: %w", err)
			s.state.fail(PhaseFailed, captureErr)
			s.notifyTerminal(captureErr)
			return captureErr
		}

		detections, err := s.detector.Detect(ctx, frame)
		if err != nil {
			// Retried on the next frame; never escapes the loop.
			logger.WithError(err).Debug("Detection failed, retrying on next frame")
			continue
		}
		if len(detections) == 0 {
			continue
		}
		probe := detections[0].Embedding

		switch s.state.getPhase() {
		case PhaseIdle:
			if done, err := s.duplicateCheck(ctx, probe, logger); done {
				return err
			}

		case PhaseLearning:
			if done, err := s.learn(ctx, probe, &lastReported, logger); done {
				return err
			}
		}
	}
}

// duplicateCheck runs the probe against a fresh read of the full store. A
// fresh read, not a cached snapshot, so concurrent enrollments are seen.
func (s *EnrollmentSession) duplicateCheck(ctx context.Context, probe face.Embedding, logger *log.Entry) (bool, error) {
	s.state.setPhase(PhaseDuplicateCheck)
	s.notify(Event{Phase: PhaseDuplicateCheck})

	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		if !s.cfg.DuplicateCheckFailOpen {
			checkErr := fmt.Errorf("duplicate check failed: %w", err)
			s.state.fail(PhaseFailed, checkErr)
			s.notifyTerminal(checkErr)
			return true, checkErr
		}
		// Fail-open: availability over strict duplicate prevention.
		logger.WithError(err).Warn("Duplicate check unavailable, proceeding with enrollment")
		s.startLearning()
		return false, nil
	}

	if res := face.FindBestMatch(probe, templates, s.cfg.EnrollmentThreshold); res.Matched() {
		dupErr := &DuplicateIdentityError{Existing: res.Label, Distance: res.Distance}
		s.state.fail(PhaseRejected, dupErr)
		logger.WithField("existing", res.Label).Warn("Enrollment rejected: face already enrolled")
		s.notify(Event{Phase: PhaseRejected, Label: res.Label, Distance: res.Distance, Error: dupErr.Error()})
		return true, dupErr
	}

	s.startLearning()
	return false, nil
}

func (s *EnrollmentSession) startLearning() {
	s.state.mu.Lock()
	s.state.phase = PhaseLearning
	s.state.learnStart = s.now()
	s.state.buffer = nil
	s.state.frameCount = 0
	s.state.mu.Unlock()
	s.notify(Event{Phase: PhaseLearning, TotalSeconds: int(s.cfg.LearningWindow / time.Second)})
}

// learn collects decimated samples until the observation window has elapsed,
// then appends the current frame one final time and commits.
func (s *EnrollmentSession) learn(ctx context.Context, probe face.Embedding, lastReported *int, logger *log.Entry) (bool, error) {
	s.state.mu.Lock()
	elapsed := s.now().Sub(s.state.learnStart)
	if elapsed >= s.cfg.LearningWindow {
		// The current frame always makes it in, so the buffer is never empty.
		s.state.buffer = append(s.state.buffer, probe)
		candidate := s.state.buffer
		s.state.mu.Unlock()
		return true, s.commit(ctx, candidate, logger)
	}

	if s.state.frameCount%s.cfg.SampleStride == 0 {
		s.state.buffer = append(s.state.buffer, probe)
	}
	s.state.frameCount++
	collected := len(s.state.buffer)
	s.state.mu.Unlock()

	if secs := int(elapsed / time.Second); secs != *lastReported {
		*lastReported = secs
		s.notify(Event{
			Phase:          PhaseLearning,
			ElapsedSeconds: secs,
			TotalSeconds:   int(s.cfg.LearningWindow / time.Second),
			SampleCount:    collected,
		})
	}
	return false, nil
}

func (s *EnrollmentSession) commit(ctx context.Context, candidate []face.Embedding, logger *log.Entry) error {
	s.state.setPhase(PhaseCommitting)
	s.notify(Event{Phase: PhaseCommitting, SampleCount: len(candidate)})

	if err := s.store.CreateIdentity(ctx, s.name, candidate); err != nil {
		if errors.Is(err, repository.ErrNameTaken) {
			// A concurrent enrollment won the race on this name. Not retried;
			// the user must pick a different name.
			conflict := &NameConflictError{Name: s.name}
			s.state.fail(PhaseFailed, conflict)
			logger.Warn("Enrollment commit rejected: name already exists")
			s.notifyTerminal(conflict)
			return conflict
		}
		// Nothing was persisted; the caller may restart the session.
		commitErr := fmt.Errorf("enrollment commit failed: %w", err)
		s.state.fail(PhaseFailed, commitErr)
		logger.WithError(err).Error("Enrollment commit failed")
		s.notifyTerminal(commitErr)
		return commitErr
	}

	s.state.setPhase(PhaseDone)
	logger.WithField("samples", len(candidate)).Info("Enrollment committed")
	s.notify(Event{Phase: PhaseDone, SampleCount: len(candidate)})
	return nil
}

func (s *EnrollmentSession) notify(event Event) {
	if s.notifier == nil {
		return
	}
	event.SessionID = s.id
	event.Mode = ModeEnrolling
	event.Name = s.name
	s.notifier.SessionEvent(event)
}

func (s *EnrollmentSession) notifyTerminal(err error) {
	s.notify(Event{Phase: s.state.getPhase(), Error: err.Error()})
}
