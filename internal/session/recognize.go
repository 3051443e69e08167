package session

import (
	"context"
	"fmt"
	"time"

	"face-gate-go/internal/core/face"
	"face-gate-go/internal/core/models"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RecognitionSession matches live probes against the enrolled templates and,
// on success, strengthens the winning template with the probe sample.
type RecognitionSession struct {
	id       string
	source   Source
	detector Detector
	store    Store
	notifier Notifier
	cfg      Config
	now      func() time.Time

	state state
}

// NewRecognitionSession prepares a recognition flow.
func NewRecognitionSession(id string, source Source, detector Detector, store Store, notifier Notifier, cfg Config) *RecognitionSession {
	s := &RecognitionSession{
		id:       id,
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
func (s *RecognitionSession) Status() Status {
	s.state.mu.Lock()
	defer s.state.mu.Unlock()

	st := Status{
		ID:        s.id,
		Mode:      ModeRecognizing,
		Phase:     s.state.phase,
		StartedAt: s.state.startedAt,
	}
	if s.state.result.Matched() {
		st.Label = s.state.result.Label
		st.Distance = s.state.result.Distance
		st.Confidence = face.Confidence(s.state.result.Distance, s.cfg.RecognitionThreshold)
	}
	if s.state.err != nil {
		st.Error = s.state.err.Error()
	}
	return st
}

// Run drives the capture loop: it loads the templates once, then matches
// every usable frame until one succeeds or the session is cancelled.
func (s *RecognitionSession) Run(ctx context.Context) error {
	logger := log.WithFields(log.Fields{"session": s.id, "mode": ModeRecognizing})

	// Loaded once at session start, not re-fetched per frame.
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		loadErr := fmt.Errorf("failed to load templates: %w", err)
		s.state.fail(PhaseFailed, loadErr)
		s.notifyTerminal(loadErr)
		return loadErr
	}
	if len(templates) == 0 {
		s.state.fail(PhaseFailed, ErrNoEnrolledUsers)
		s.notifyTerminal(ErrNoEnrolledUsers)
		return ErrNoEnrolledUsers
	}

	s.state.setPhase(PhaseMatching)
	s.notify(Event{Phase: PhaseMatching})
	logger.WithField("identities", len(templates)).Info("Recognition session started")

	for {
		if err := ctx.Err(); err != nil {
			s.state.fail(PhaseCancelled, err)
			logger.Info("Recognition session cancelled")
			return err
		}

		frame, err := s.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.state.fail(PhaseCancelled, ctx.Err())
				logger.Info("Recognition session cancelled")
				return ctx.Err()
			}
			captureErr := fmt.Errorf("capture failed: %w", err)
			s.state.fail(PhaseFailed, captureErr)
			s.notifyTerminal(captureErr)
			return captureErr
		}

		detections, err := s.detector.Detect(ctx, frame)
		if err != nil {
			logger.WithError(err).Debug("Detection failed, retrying on next frame")
			continue
		}
		if len(detections) == 0 {
			continue
		}
		probe := detections[0].Embedding

		res := face.FindBestMatch(probe, templates, s.cfg.RecognitionThreshold)
		if !res.Matched() {
			// Keep scanning indefinitely until cancelled.
			continue
		}

		s.matched(ctx, res, probe, logger)
		return nil
	}
}

// matched stops capture, appends the probe to the winning template and
// records the recognition. The append and the event write are fire-and-forget
// relative to the reported match: recognition already succeeded from the
// user's perspective, so their failures are only logged.
func (s *RecognitionSession) matched(ctx context.Context, res face.MatchResult, probe face.Embedding, logger *log.Entry) {
	s.state.mu.Lock()
	s.state.phase = PhaseUpdating
	s.state.result = res
	s.state.mu.Unlock()

	confidence := face.Confidence(res.Distance, s.cfg.RecognitionThreshold)
	logger.WithFields(log.Fields{
		"label":    res.Label,
		"distance": fmt.Sprintf("%.3f", res.Distance),
	}).Info("Face recognized")
	s.notify(Event{Phase: PhaseUpdating, Label: res.Label, Distance: res.Distance, Confidence: confidence})

	if _, err := s.store.AppendSample(ctx, res.Label, probe); err != nil {
		logger.WithError(err).Warn("Failed to append sample to matched template")
	}

	event := &models.RecognitionEvent{
		EventID:    uuid.NewString(),
		Name:       res.Label,
		Distance:   res.Distance,
		Confidence: confidence,
		MatchedAt:  s.now(),
	}
	if err := s.store.SaveRecognitionEvent(ctx, event); err != nil {
		logger.WithError(err).Warn("Failed to persist recognition event")
	}

	s.state.setPhase(PhaseDone)
	s.notify(Event{Phase: PhaseDone, Label: res.Label, Distance: res.Distance, Confidence: confidence})
}

func (s *RecognitionSession) notify(event Event) {
	if s.notifier == nil {
		return
	}
	event.SessionID = s.id
	event.Mode = ModeRecognizing
	s.notifier.SessionEvent(event)
}

func (s *RecognitionSession) notifyTerminal(err error) {
	s.notify(Event{Phase: s.state.getPhase(), Error: err.Error()})
}
