package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"face-gate-go/internal/core/face"
	"face-gate-go/internal/core/models"
	"face-gate-go/internal/db/repository"
)

// fakeClock hands out a controllable time; Advance moves it forward.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeSource serves the same frame forever, advancing the clock per frame so
// learning windows elapse deterministically.
type fakeSource struct {
	clock   *fakeClock
	perTick time.Duration
	err     error
}

func (s *fakeSource) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	if s.clock != nil {
		s.clock.Advance(s.perTick)
	}
	return []byte("frame"), nil
}

func (s *fakeSource) Close() error { return nil }

// fakeDetector returns a fixed embedding, optionally failing the first few
// frames.
type fakeDetector struct {
	embedding face.Embedding
	failFirst int
	calls     int
}

func (d *fakeDetector) Detect(ctx context.Context, frame []byte) ([]face.Detection, error) {
	d.calls++
	if d.calls <= d.failFirst {
		return nil, errors.New("detector overloaded")
	}
	if d.embedding == nil {
		return nil, nil
	}
	return []face.Detection{{Embedding: d.embedding, Confidence: 0.99}}, nil
}

type createdIdentity struct {
	name    string
	samples []face.Embedding
}

// fakeStore records writes and serves configurable reads.
type fakeStore struct {
	mu        sync.Mutex
	templates []face.LabeledTemplate
	listErr   error
	createErr error
	appendErr error

	created  []createdIdentity
	appended []face.Embedding
	events   []*models.RecognitionEvent
}

func (s *fakeStore) ListTemplates(ctx context.Context) ([]face.LabeledTemplate, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.templates, nil
}

func (s *fakeStore) CreateIdentity(ctx context.Context, name string, samples []face.Embedding) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	s.created = append(s.created, createdIdentity{name: name, samples: samples})
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) AppendSample(ctx context.Context, name string, sample face.Embedding) (int, error) {
	if s.appendErr != nil {
		return 0, s.appendErr
	}
	s.mu.Lock()
	s.appended = append(s.appended, sample)
	n := len(s.appended)
	s.mu.Unlock()
	return n, nil
}

func (s *fakeStore) CountIdentities(ctx context.Context) (int64, error) {
	return int64(len(s.templates)), nil
}

func (s *fakeStore) SaveRecognitionEvent(ctx context.Context, event *models.RecognitionEvent) error {
	s.mu.Lock()
	s.events = append(s.events, event)
	s.mu.Unlock()
	return nil
}

// eventRecorder captures notifications in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) SessionEvent(event Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) phases() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	var phases []Phase
	for _, e := range r.events {
		if len(phases) == 0 || phases[len(phases)-1] != e.Phase {
			phases = append(phases, e.Phase)
		}
	}
	return phases
}

func testConfig() Config {
	return Config{
		EnrollmentThreshold:    0.45,
		RecognitionThreshold:   0.45,
		DuplicateCheckFailOpen: true,
		LearningWindow:         5 * time.Second,
		SampleStride:           5,
	}
}

func newTestEnrollment(t *testing.T, name string, store *fakeStore, detector *fakeDetector, perTick time.Duration) (*EnrollmentSession, *eventRecorder, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	recorder := &eventRecorder{}
	source := &fakeSource{clock: clock, perTick: perTick}
	s := NewEnrollmentSession("test-session", name, source, detector, store, recorder, testConfig())
	s.now = clock.Now
	return s, recorder, clock
}

func TestEnrollmentCommitsAfterLearningWindow(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}
	s, recorder, _ := newTestEnrollment(t, "carol", store, detector, 500*time.Millisecond)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := s.Status().Phase; got != PhaseDone {
		t.Errorf("phase = %q, want %q", got, PhaseDone)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d identities, want 1", len(store.created))
	}
	created := store.created[0]
	if created.name != "carol" {
		t.Errorf("created name = %q, want carol", created.name)
	}
	// Frames during the 5s window arrive every 500ms: frames 0 and 5 pass the
	// stride filter, and the closing frame is always appended.
	if len(created.samples) != 3 {
		t.Errorf("committed %d samples, want 3", len(created.samples))
	}
	for i, sample := range created.samples {
		if face.EuclideanDistance(sample, detector.embedding) != 0 {
			t.Errorf("sample %d differs from the probe", i)
		}
	}

	want := []Phase{PhaseDuplicateCheck, PhaseLearning, PhaseCommitting, PhaseDone}
	got := recorder.phases()
	if len(got) != len(want) {
		t.Fatalf("phases = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phases = %v, want %v", got, want)
		}
	}
}

func TestEnrollmentRejectsDuplicateFace(t *testing.T) {
	store := &fakeStore{
		templates: []face.LabeledTemplate{
			{Label: "alice", Samples: []face.Embedding{{1, 2, 3}}},
		},
	}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3.1}}
	s, _, _ := newTestEnrollment(t, "carol", store, detector, 500*time.Millisecond)

	err := s.Run(context.Background())

	var dup *DuplicateIdentityError
	if !errors.As(err, &dup) {
		t.Fatalf("Run() error = %v, want DuplicateIdentityError", err)
	}
	if dup.Existing != "alice" {
		t.Errorf("duplicate of %q, want alice", dup.Existing)
	}
	if got := s.Status().Phase; got != PhaseRejected {
		t.Errorf("phase = %q, want %q", got, PhaseRejected)
	}
	if len(store.created) != 0 {
		t.Errorf("identity was created despite rejection")
	}
}

func TestEnrollmentDuplicateCheckFailOpen(t *testing.T) {
	store := &fakeStore{listErr: errors.New("store down")}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}
	s, _, _ := newTestEnrollment(t, "carol", store, detector, 500*time.Millisecond)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, want fail-open enrollment to proceed", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d identities, want 1", len(store.created))
	}
}

func TestEnrollmentDuplicateCheckFailClosed(t *testing.T) {
	storeErr := errors.New("store down")
	store := &fakeStore{listErr: storeErr}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}

	clock := newFakeClock()
	source := &fakeSource{clock: clock, perTick: 500 * time.Millisecond}
	cfg := testConfig()
	cfg.DuplicateCheckFailOpen = false
	s := NewEnrollmentSession("test-session", "carol", source, detector, store, nil, cfg)
	s.now = clock.Now

	err := s.Run(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("Run() error = %v, want wrapped store error", err)
	}
	if got := s.Status().Phase; got != PhaseFailed {
		t.Errorf("phase = %q, want %q", got, PhaseFailed)
	}
	if len(store.created) != 0 {
		t.Errorf("identity was created despite failed duplicate check")
	}
}

func TestEnrollmentNameConflictOnCommit(t *testing.T) {
	store := &fakeStore{createErr: repository.ErrNameTaken}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}
	s, _, _ := newTestEnrollment(t, "carol", store, detector, 500*time.Millisecond)

	err := s.Run(context.Background())

	var conflict *NameConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Run() error = %v, want NameConflictError", err)
	}
	if conflict.Name != "carol" {
		t.Errorf("conflict name = %q, want carol", conflict.Name)
	}
	if got := s.Status().Phase; got != PhaseFailed {
		t.Errorf("phase = %q, want %q", got, PhaseFailed)
	}
}

func TestEnrollmentCancellation(t *testing.T) {
	store := &fakeStore{}
	// No face ever appears, so the session spins until cancelled.
	detector := &fakeDetector{}
	s, _, _ := newTestEnrollment(t, "carol", store, detector, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	err := <-done

	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if got := s.Status().Phase; got != PhaseCancelled {
		t.Errorf("phase = %q, want %q", got, PhaseCancelled)
	}
	if len(store.created) != 0 {
		t.Errorf("identity was created despite cancellation")
	}
}

func TestEnrollmentRetriesDetectorErrors(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}, failFirst: 4}
	s, _, _ := newTestEnrollment(t, "carol", store, detector, 500*time.Millisecond)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d identities, want 1", len(store.created))
	}
}

func newTestRecognition(t *testing.T, store *fakeStore, detector *fakeDetector) (*RecognitionSession, *eventRecorder) {
	t.Helper()
	clock := newFakeClock()
	recorder := &eventRecorder{}
	source := &fakeSource{clock: clock, perTick: 100 * time.Millisecond}
	s := NewRecognitionSession("test-session", source, detector, store, recorder, testConfig())
	s.now = clock.Now
	return s, recorder
}

func TestRecognitionRequiresEnrolledUsers(t *testing.T) {
	store := &fakeStore{}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}
	s, _ := newTestRecognition(t, store, detector)

	err := s.Run(context.Background())
	if !errors.Is(err, ErrNoEnrolledUsers) {
		t.Fatalf("Run() error = %v, want ErrNoEnrolledUsers", err)
	}
	if got := s.Status().Phase; got != PhaseFailed {
		t.Errorf("phase = %q, want %q", got, PhaseFailed)
	}
}

func TestRecognitionMatchesEnrolledFace(t *testing.T) {
	probe := face.Embedding{1, 2, 3}
	store := &fakeStore{
		templates: []face.LabeledTemplate{
			{Label: "alice", Samples: []face.Embedding{{9, 9, 9}}},
			{Label: "carol", Samples: []face.Embedding{probe}},
		},
	}
	detector := &fakeDetector{embedding: probe}
	s, recorder := newTestRecognition(t, store, detector)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	status := s.Status()
	if status.Phase != PhaseDone {
		t.Errorf("phase = %q, want %q", status.Phase, PhaseDone)
	}
	if status.Label != "carol" {
		t.Errorf("label = %q, want carol", status.Label)
	}
	if status.Distance != 0 {
		t.Errorf("distance = %v, want 0", status.Distance)
	}
	if status.Confidence != 100 {
		t.Errorf("confidence = %v, want 100", status.Confidence)
	}

	if len(store.appended) != 1 {
		t.Fatalf("appended %d samples, want 1", len(store.appended))
	}
	if len(store.events) != 1 {
		t.Fatalf("recorded %d recognition events, want 1", len(store.events))
	}
	event := store.events[0]
	if event.Name != "carol" || event.EventID == "" {
		t.Errorf("recognition event = %+v, want name carol with a generated ID", event)
	}

	phases := recorder.phases()
	if phases[len(phases)-1] != PhaseDone {
		t.Errorf("final notified phase = %q, want %q", phases[len(phases)-1], PhaseDone)
	}
}

func TestRecognitionAppendFailureDoesNotFailMatch(t *testing.T) {
	probe := face.Embedding{1, 2, 3}
	store := &fakeStore{
		templates: []face.LabeledTemplate{{Label: "carol", Samples: []face.Embedding{probe}}},
		appendErr: errors.New("store briefly down"),
	}
	detector := &fakeDetector{embedding: probe}
	s, _ := newTestRecognition(t, store, detector)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v, append failure must not fail the match", err)
	}
	if got := s.Status().Phase; got != PhaseDone {
		t.Errorf("phase = %q, want %q", got, PhaseDone)
	}
}

func TestRecognitionKeepsScanningBelowThreshold(t *testing.T) {
	store := &fakeStore{
		templates: []face.LabeledTemplate{{Label: "alice", Samples: []face.Embedding{{9, 9, 9}}}},
	}
	detector := &fakeDetector{embedding: face.Embedding{1, 2, 3}}
	s, _ := newTestRecognition(t, store, detector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Give the loop a moment to process non-matching frames, then cancel.
	time.Sleep(20 * time.Millisecond)
	cancel()

	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(store.appended) != 0 {
		t.Errorf("samples were appended without a match")
	}
}
