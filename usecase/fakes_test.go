package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nexariza/voicebot/domain/entities"
	"github.com/nexariza/voicebot/domain/repositories"
)

// activity tracks how many adapter calls are in flight at once
type activity struct {
	mu      sync.Mutex
	current int
	max     int
}

func (a *activity) enter() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current++
	if a.current > a.max {
		a.max = a.current
	}
}

func (a *activity) leave() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current--
}

func (a *activity) peak() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.max
}

type captureRun struct {
	onUpdate repositories.TranscriptUpdateFunc
	onError  repositories.CaptureErrorFunc
}

type fakeCapture struct {
	supported bool
	activity  *activity

	mu     sync.Mutex
	active bool
	runs   []captureRun
	stops  int
}

func newFakeCapture(act *activity) *fakeCapture {
	return &fakeCapture{supported: true, activity: act}
}

func (f *fakeCapture) IsSupported() bool { return f.supported }

func (f *fakeCapture) StartListening(onUpdate repositories.TranscriptUpdateFunc, onError repositories.CaptureErrorFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.active {
		return
	}
	f.active = true
	f.runs = append(f.runs, captureRun{onUpdate: onUpdate, onError: onError})
	if f.activity != nil {
		f.activity.enter()
	}
}

func (f *fakeCapture) StopListening() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	f.active = false
	f.stops++
	if f.activity != nil {
		f.activity.leave()
	}
}

func (f *fakeCapture) run(t *testing.T, i int) captureRun {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.runs) {
		t.Fatalf("Expected capture run %d, only %d started", i, len(f.runs))
	}
	return f.runs[i]
}

func (f *fakeCapture) current(t *testing.T) captureRun {
	t.Helper()
	f.mu.Lock()
	n := len(f.runs)
	f.mu.Unlock()
	return f.run(t, n-1)
}

func (f *fakeCapture) isActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

func (f *fakeCapture) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

type spokenCall struct {
	text     string
	settings entities.VoiceSettings
}

type fakeOutput struct {
	supported bool
	activity  *activity
	voices    []entities.Voice
	// release, when set, holds every Speak until it is closed or cancelled
	release chan struct{}
	err     error

	mu        sync.Mutex
	spoken    []spokenCall
	cancelled int
	started   chan struct{}
}

func newFakeOutput(act *activity) *fakeOutput {
	return &fakeOutput{supported: true, activity: act, started: make(chan struct{}, 16)}
}

func (f *fakeOutput) IsSupported() bool { return f.supported }

func (f *fakeOutput) Speak(ctx context.Context, text string, settings entities.VoiceSettings) error {
	if f.activity != nil {
		f.activity.enter()
		defer f.activity.leave()
	}

	f.mu.Lock()
	f.spoken = append(f.spoken, spokenCall{text: text, settings: settings})
	release := f.release
	err := f.err
	f.mu.Unlock()
	f.started <- struct{}{}

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeOutput) ListVoices(ctx context.Context) []entities.Voice {
	return f.voices
}

func (f *fakeOutput) Cancel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled++
}

func (f *fakeOutput) cancelCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}

func (f *fakeOutput) calls() []spokenCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]spokenCall(nil), f.spoken...)
}

func (f *fakeOutput) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for speech to start")
	}
}

// fakeLLM is a LargeLanguageModel returning a fixed reply
type fakeLLM struct {
	reply    string
	err      error
	activity *activity
	// block, when set, holds Generate until it is closed or ctx ends
	block chan struct{}

	mu      sync.Mutex
	prompts []string
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if f.activity != nil {
		f.activity.enter()
		defer f.activity.leave()
	}

	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeLLM) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []entities.SessionEvent
}

func (r *eventRecorder) listen(event entities.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofKind(kind entities.EventKind) []entities.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []entities.SessionEvent
	for _, e := range r.events {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func (r *eventRecorder) states() []entities.SessionState {
	var out []entities.SessionState
	for _, e := range r.ofKind(entities.EventState) {
		out = append(out, e.State)
	}
	return out
}

func waitForState(t *testing.T, s *VoiceSession, want entities.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Timed out waiting for state %s, still %s", want, s.State())
}
