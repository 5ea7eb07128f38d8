package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/nexariza/voicebot/domain"
	"github.com/nexariza/voicebot/domain/entities"
)

type sessionHarness struct {
	session  *VoiceSession
	capture  *fakeCapture
	output   *fakeOutput
	llm      *fakeLLM
	events   *eventRecorder
	activity *activity
}

func newHarness(t *testing.T) *sessionHarness {
	t.Helper()
	return newHarnessWithConfig(t, VoiceSessionConfig{Language: "en-US", HistoryTurns: DefaultHistoryTurns})
}

func newHarnessWithConfig(t *testing.T, config VoiceSessionConfig) *sessionHarness {
	t.Helper()
	act := &activity{}
	h := &sessionHarness{
		capture:  newFakeCapture(act),
		output:   newFakeOutput(act),
		llm:      &fakeLLM{reply: "We offer chatbots, computer vision and NLP.", activity: act},
		events:   &eventRecorder{},
		activity: act,
	}
	logger := zaptest.NewLogger(t)
	generator := NewResponseGenerator(h.llm, time.Second, logger)
	h.session = NewVoiceSession("session-1", h.capture, h.output, generator, config, logger)
	h.session.SetListener(h.events.listen)
	t.Cleanup(h.session.Close)
	return h
}

// say plays a full utterance through the current capture run
func (h *sessionHarness) say(t *testing.T, text string) {
	t.Helper()
	run := h.capture.current(t)
	words := strings.Fields(text)
	for i := 1; i < len(words); i++ {
		run.onUpdate(strings.Join(words[:i], " "), false)
	}
	run.onUpdate(text, true)
}

func TestVoiceSession_SeedsGreeting(t *testing.T) {
	h := newHarness(t)

	messages := h.session.Messages()
	if len(messages) != 1 {
		t.Fatalf("Expected 1 seeded message, got %d", len(messages))
	}
	if messages[0].Origin != entities.OriginAssistant || messages[0].Text != DefaultGreeting {
		t.Errorf("Unexpected greeting %+v", messages[0])
	}
	if h.session.State() != entities.StateIdle {
		t.Errorf("Expected idle state, got %s", h.session.State())
	}
	if h.session.Settings() != entities.DefaultVoiceSettings() {
		t.Errorf("Expected default settings, got %+v", h.session.Settings())
	}
}

func TestVoiceSession_FullTurn(t *testing.T) {
	h := newHarness(t)

	if err := h.session.StartListening(); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if h.session.State() != entities.StateListening {
		t.Fatalf("Expected listening, got %s", h.session.State())
	}

	h.say(t, "What AI services do you offer?")
	waitForState(t, h.session, entities.StateIdle)

	messages := h.session.Messages()
	if len(messages) != 3 {
		t.Fatalf("Expected greeting plus 2 messages, got %d", len(messages))
	}
	if messages[1].Origin != entities.OriginUser || messages[1].Text != "What AI services do you offer?" {
		t.Errorf("Unexpected user message %+v", messages[1])
	}
	if messages[2].Origin != entities.OriginAssistant || messages[2].Text != h.llm.reply {
		t.Errorf("Unexpected assistant message %+v", messages[2])
	}

	if h.capture.isActive() {
		t.Error("Expected capture to stop after the final transcript")
	}

	calls := h.output.calls()
	if len(calls) != 1 || calls[0].text != h.llm.reply {
		t.Errorf("Expected the reply to be spoken once, got %+v", calls)
	}

	prompts := h.llm.recorded()
	if len(prompts) != 1 || !strings.Contains(prompts[0], `User input: "What AI services do you offer?"`) {
		t.Errorf("Unexpected prompts %v", prompts)
	}

	wantStates := []entities.SessionState{
		entities.StateListening,
		entities.StateProcessing,
		entities.StateSpeaking,
		entities.StateIdle,
	}
	if got := h.events.states(); fmt.Sprint(got) != fmt.Sprint(wantStates) {
		t.Errorf("State events = %v, want %v", got, wantStates)
	}

	partials := h.events.ofKind(entities.EventPartial)
	if len(partials) != 5 || partials[3].Partial != "What AI services do" {
		t.Errorf("Unexpected partial events %+v", partials)
	}
	if h.session.Partial() != "" {
		t.Errorf("Expected partial to be cleared, got %q", h.session.Partial())
	}
	if got := len(h.events.ofKind(entities.EventMessage)); got != 2 {
		t.Errorf("Expected 2 message events, got %d", got)
	}
}

func TestVoiceSession_StartListeningIsIdempotent(t *testing.T) {
	h := newHarness(t)

	if err := h.session.StartListening(); err != nil {
		t.Fatalf("First StartListening failed: %v", err)
	}
	if err := h.session.StartListening(); err != nil {
		t.Fatalf("Second StartListening failed: %v", err)
	}

	if got := h.capture.runCount(); got != 1 {
		t.Errorf("Expected a single capture run, got %d", got)
	}
}

func TestVoiceSession_StopListening(t *testing.T) {
	h := newHarness(t)

	// Stopping while idle is a no-op, twice in a row
	h.session.StopListening()
	h.session.StopListening()
	if h.session.State() != entities.StateIdle {
		t.Fatalf("Expected idle, got %s", h.session.State())
	}

	h.session.StartListening()
	run := h.capture.current(t)
	run.onUpdate("What AI", false)

	h.session.StopListening()
	h.session.StopListening()

	if h.session.State() != entities.StateIdle {
		t.Errorf("Expected idle after stop, got %s", h.session.State())
	}
	if h.capture.isActive() {
		t.Error("Expected capture to be stopped")
	}
	if h.session.Partial() != "" {
		t.Error("Expected partial transcript to be discarded")
	}

	// Late results from the stopped run are dropped
	run.onUpdate("What AI services do you offer?", true)
	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected late final to be ignored, transcript has %d messages", got)
	}
}

func TestVoiceSession_StaleCaptureRunIgnored(t *testing.T) {
	h := newHarness(t)

	h.session.StartListening()
	first := h.capture.current(t)
	h.session.StopListening()
	h.session.StartListening()

	first.onError(domain.CaptureReasonNetwork)
	first.onUpdate("old words", true)

	if h.session.State() != entities.StateListening {
		t.Errorf("Expected second run to keep listening, got %s", h.session.State())
	}
	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected no message from stale run, got %d messages", got)
	}
}

func TestVoiceSession_BlankFinalIgnored(t *testing.T) {
	h := newHarness(t)

	h.session.StartListening()
	h.capture.current(t).onUpdate("   ", true)

	if h.session.State() != entities.StateListening {
		t.Errorf("Expected to keep listening, got %s", h.session.State())
	}
	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected no message for blank final, got %d messages", got)
	}
}

func TestVoiceSession_CaptureErrors(t *testing.T) {
	tests := []struct {
		reason   string
		wantCode string
	}{
		{domain.CaptureReasonNetwork, entities.ErrorCodeCaptureFailed},
		{domain.CaptureReasonNoSpeech, entities.ErrorCodeCaptureFailed},
		{domain.CaptureReasonNotAllowed, entities.ErrorCodeCaptureUnavailable},
		{domain.CaptureReasonServiceNotAllowed, entities.ErrorCodeCaptureUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.reason, func(t *testing.T) {
			h := newHarness(t)
			h.session.StartListening()
			h.capture.current(t).onUpdate("How much", false)
			h.capture.current(t).onError(tt.reason)

			if h.session.State() != entities.StateIdle {
				t.Errorf("Expected idle after capture error, got %s", h.session.State())
			}
			errs := h.events.ofKind(entities.EventError)
			if len(errs) != 1 || errs[0].ErrorCode != tt.wantCode || errs[0].Error != tt.reason {
				t.Errorf("Unexpected error events %+v", errs)
			}
			if got := len(h.session.Messages()); got != 1 {
				t.Errorf("Expected transcript untouched, got %d messages", got)
			}

			// The user can start again manually
			if err := h.session.StartListening(); err != nil {
				t.Errorf("Expected restart to succeed, got %v", err)
			}
		})
	}
}

func TestVoiceSession_CaptureUnsupported(t *testing.T) {
	h := newHarness(t)
	h.capture.supported = false

	err := h.session.StartListening()
	if !errors.Is(err, domain.ErrCaptureUnavailable) {
		t.Fatalf("Expected ErrCaptureUnavailable, got %v", err)
	}
	if h.session.State() != entities.StateIdle {
		t.Errorf("Expected idle, got %s", h.session.State())
	}
	errs := h.events.ofKind(entities.EventError)
	if len(errs) != 1 || errs[0].ErrorCode != entities.ErrorCodeCaptureUnavailable {
		t.Errorf("Expected capture_unavailable event, got %+v", errs)
	}
}

func TestVoiceSession_BusyDuringTurn(t *testing.T) {
	h := newHarness(t)
	h.llm.block = make(chan struct{})

	if err := h.session.SubmitText("What does a chatbot cost?"); err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	waitForState(t, h.session, entities.StateProcessing)

	if err := h.session.StartListening(); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy from StartListening, got %v", err)
	}
	if _, err := h.session.ExportSummary(context.Background()); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy from ExportSummary, got %v", err)
	}
	if err := h.session.SubmitText("another"); !errors.Is(err, domain.ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy from SubmitText, got %v", err)
	}

	close(h.llm.block)
	waitForState(t, h.session, entities.StateIdle)

	if got := len(h.session.Messages()); got != 3 {
		t.Errorf("Expected 3 messages, got %d", got)
	}
}

func TestVoiceSession_GenerationFailureUsesFallback(t *testing.T) {
	h := newHarness(t)
	h.llm.err = errors.New("quota exceeded")

	h.session.SubmitText("Hello")
	waitForState(t, h.session, entities.StateIdle)

	messages := h.session.Messages()
	if len(messages) != 3 || messages[2].Text != FallbackResponse {
		t.Fatalf("Expected fallback assistant message, got %+v", messages)
	}
	if calls := h.output.calls(); len(calls) != 1 || calls[0].text != FallbackResponse {
		t.Errorf("Expected fallback to be spoken, got %+v", calls)
	}
	if errs := h.events.ofKind(entities.EventError); len(errs) != 0 {
		t.Errorf("Generation failures must not surface as errors, got %+v", errs)
	}
}

func TestVoiceSession_SynthesisFailureKeepsMessage(t *testing.T) {
	h := newHarness(t)
	h.output.err = &domain.SynthesisError{Code: domain.SynthesisCodeNetwork}

	h.session.SubmitText("What AI services do you offer?")
	waitForState(t, h.session, entities.StateIdle)

	messages := h.session.Messages()
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	if messages[2].Origin != entities.OriginAssistant || messages[2].Text != h.llm.reply {
		t.Errorf("Expected assistant message to remain, got %+v", messages[2])
	}

	errs := h.events.ofKind(entities.EventError)
	if len(errs) != 1 || errs[0].ErrorCode != entities.ErrorCodeSynthesisFailed || errs[0].Error != domain.SynthesisCodeNetwork {
		t.Errorf("Unexpected error events %+v", errs)
	}
}

func TestVoiceSession_SynthesisUnsupportedIsTextOnly(t *testing.T) {
	h := newHarness(t)
	h.output.err = domain.ErrSynthesisUnavailable

	h.session.SubmitText("Hello")
	waitForState(t, h.session, entities.StateIdle)

	if got := len(h.session.Messages()); got != 3 {
		t.Errorf("Expected 3 messages, got %d", got)
	}
	if errs := h.events.ofKind(entities.EventError); len(errs) != 0 {
		t.Errorf("Expected no error event, got %+v", errs)
	}
}

func TestVoiceSession_SettingsSnapshot(t *testing.T) {
	h := newHarness(t)
	h.output.release = make(chan struct{})

	h.session.SubmitText("Tell me about computer vision")
	h.output.waitStarted(t)
	waitForState(t, h.session, entities.StateSpeaking)

	faster := entities.VoiceSettings{Rate: 1.8, Pitch: 1.2, Volume: 0.5, VoiceID: "en-f"}
	if err := h.session.UpdateSettings(faster); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	close(h.output.release)
	waitForState(t, h.session, entities.StateIdle)

	h.session.SubmitText("And pricing?")
	h.output.waitStarted(t)
	waitForState(t, h.session, entities.StateIdle)

	calls := h.output.calls()
	if len(calls) != 2 {
		t.Fatalf("Expected 2 spoken replies, got %d", len(calls))
	}
	if calls[0].settings != entities.DefaultVoiceSettings() {
		t.Errorf("In-flight utterance saw new settings: %+v", calls[0].settings)
	}
	if calls[1].settings != faster {
		t.Errorf("Next utterance should use new settings, got %+v", calls[1].settings)
	}
	if got := len(h.events.ofKind(entities.EventSettings)); got != 1 {
		t.Errorf("Expected 1 settings event, got %d", got)
	}
}

func TestVoiceSession_UpdateSettingsValidation(t *testing.T) {
	h := newHarness(t)

	err := h.session.UpdateSettings(entities.VoiceSettings{Rate: 3, Pitch: 1, Volume: 1})
	if !errors.Is(err, domain.ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
	if h.session.Settings() != entities.DefaultVoiceSettings() {
		t.Error("Expected settings to be unchanged")
	}

	if err := h.session.UpdateSettings(entities.VoiceSettings{Rate: 1, Pitch: 1, Volume: 1}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}
	if h.session.Settings().VoiceID != entities.DefaultVoiceID {
		t.Errorf("Expected empty voice to normalize to default, got %q", h.session.Settings().VoiceID)
	}
}

func TestVoiceSession_PatchSettingsKeepsOtherFields(t *testing.T) {
	h := newHarness(t)
	if err := h.session.UpdateSettings(entities.VoiceSettings{Rate: 1, Pitch: 0.8, Volume: 0.6, VoiceID: "en-f"}); err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	rate := 1.5
	settings, err := h.session.PatchSettings(entities.VoiceSettingsUpdate{Rate: &rate})
	if err != nil {
		t.Fatalf("PatchSettings failed: %v", err)
	}
	want := entities.VoiceSettings{Rate: 1.5, Pitch: 0.8, Volume: 0.6, VoiceID: "en-f"}
	if settings != want || h.session.Settings() != want {
		t.Errorf("Expected only the rate to change, got %+v", h.session.Settings())
	}

	loud := 1.5
	if _, err := h.session.PatchSettings(entities.VoiceSettingsUpdate{Volume: &loud}); !errors.Is(err, domain.ErrInvalidSettings) {
		t.Errorf("Expected ErrInvalidSettings, got %v", err)
	}
	if h.session.Settings() != want {
		t.Errorf("Rejected update changed the settings: %+v", h.session.Settings())
	}
	if got := len(h.events.ofKind(entities.EventSettings)); got != 2 {
		t.Errorf("Expected 2 settings events, got %d", got)
	}
}

func TestVoiceSession_HistoryTurns(t *testing.T) {
	tests := []struct {
		name        string
		turns       int
		wantHistory bool
	}{
		{name: "zero sends no history", turns: 0, wantHistory: false},
		{name: "negative uses the default", turns: -1, wantHistory: true},
		{name: "explicit", turns: 2, wantHistory: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarnessWithConfig(t, VoiceSessionConfig{Language: "en-US", HistoryTurns: tt.turns})

			if err := h.session.SubmitText("Hello there"); err != nil {
				t.Fatalf("SubmitText failed: %v", err)
			}
			waitForState(t, h.session, entities.StateIdle)

			prompt := h.llm.recorded()[0]
			if got := strings.Contains(prompt, DefaultGreeting); got != tt.wantHistory {
				t.Errorf("Prompt carries the greeting = %v, want %v", got, tt.wantHistory)
			}
		})
	}
}

func TestVoiceSession_ResetWhileSpeaking(t *testing.T) {
	h := newHarness(t)
	h.output.release = make(chan struct{})

	h.session.SubmitText("Tell me about NLP")
	h.output.waitStarted(t)
	waitForState(t, h.session, entities.StateSpeaking)

	h.session.ResetSession()

	if h.session.State() != entities.StateIdle {
		t.Errorf("Expected idle after reset, got %s", h.session.State())
	}
	messages := h.session.Messages()
	if len(messages) != 1 || messages[0].Text != DefaultGreeting {
		t.Errorf("Expected only a fresh greeting, got %+v", messages)
	}
	if h.output.cancelCount() == 0 {
		t.Error("Expected speech output to be cancelled")
	}
	if got := len(h.events.ofKind(entities.EventReset)); got != 1 {
		t.Errorf("Expected 1 reset event, got %d", got)
	}

	// The abandoned turn must not touch the new transcript or report errors
	h.session.Close()
	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected abandoned turn to be discarded, got %d messages", got)
	}
	if errs := h.events.ofKind(entities.EventError); len(errs) != 0 {
		t.Errorf("Expected no error events, got %+v", errs)
	}
}

func TestVoiceSession_ResetWhileProcessing(t *testing.T) {
	h := newHarness(t)
	h.llm.block = make(chan struct{})

	h.session.SubmitText("How long does AI development take?")
	waitForState(t, h.session, entities.StateProcessing)

	h.session.ResetSession()
	h.session.Close()

	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected reply from before the reset to be discarded, got %d messages", got)
	}
	if calls := h.output.calls(); len(calls) != 0 {
		t.Errorf("Expected nothing to be spoken, got %+v", calls)
	}
}

func TestVoiceSession_ResetWhileListening(t *testing.T) {
	h := newHarness(t)

	h.session.StartListening()
	run := h.capture.current(t)
	h.session.ResetSession()

	if h.capture.isActive() {
		t.Error("Expected capture to be stopped by reset")
	}
	run.onUpdate("late words", true)
	if got := len(h.session.Messages()); got != 1 {
		t.Errorf("Expected late capture results to be dropped, got %d messages", got)
	}
}

func TestVoiceSession_ExportSummary(t *testing.T) {
	h := newHarness(t)

	h.session.SubmitText("I need a chatbot for my clinic")
	waitForState(t, h.session, entities.StateIdle)

	h.llm.reply = "Client wants a clinic chatbot."
	summary, err := h.session.ExportSummary(context.Background())
	if err != nil {
		t.Fatalf("ExportSummary failed: %v", err)
	}
	if summary != "Client wants a clinic chatbot." {
		t.Errorf("Unexpected summary %q", summary)
	}

	prompts := h.llm.recorded()
	last := prompts[len(prompts)-1]
	messages := h.session.Messages()
	var positions []int
	for _, m := range messages {
		line := m.Origin.Label() + ": " + m.Text
		idx := strings.Index(last, line)
		if idx < 0 {
			t.Fatalf("Summary prompt is missing %q", line)
		}
		positions = append(positions, idx)
	}
	for i := 1; i < len(positions); i++ {
		if positions[i] <= positions[i-1] {
			t.Errorf("Summary prompt lines out of order: %v", positions)
		}
	}
}

func TestVoiceSession_AlternatesAndExcludesAdapters(t *testing.T) {
	h := newHarness(t)

	for i, text := range []string{"Hello", "What services do you offer?", "How much does it cost?"} {
		if i%2 == 0 {
			h.session.StartListening()
			h.say(t, text)
		} else {
			if err := h.session.SubmitText(text); err != nil {
				t.Fatalf("SubmitText failed: %v", err)
			}
		}
		waitForState(t, h.session, entities.StateIdle)
	}

	messages := h.session.Messages()
	if len(messages) != 7 {
		t.Fatalf("Expected 7 messages, got %d", len(messages))
	}
	for i, m := range messages[1:] {
		want := entities.OriginUser
		if i%2 == 1 {
			want = entities.OriginAssistant
		}
		if m.Origin != want {
			t.Errorf("Message %d has origin %s, want %s", i+1, m.Origin, want)
		}
	}
	for i := 1; i < len(messages); i++ {
		if messages[i].CreatedAt.Before(messages[i-1].CreatedAt) {
			t.Errorf("Message %d is older than message %d", i, i-1)
		}
	}

	if peak := h.activity.peak(); peak != 1 {
		t.Errorf("Expected at most one adapter call in flight, saw %d", peak)
	}
}

func TestVoiceSession_SubmitTextWhileListening(t *testing.T) {
	h := newHarness(t)

	if err := h.session.SubmitText("  "); !errors.Is(err, domain.ErrEmptyUtterance) {
		t.Errorf("Expected ErrEmptyUtterance, got %v", err)
	}

	h.session.StartListening()
	if err := h.session.SubmitText("Show me your portfolio"); err != nil {
		t.Fatalf("SubmitText failed: %v", err)
	}
	if h.capture.isActive() {
		t.Error("Expected capture to stop when text is submitted")
	}
	waitForState(t, h.session, entities.StateIdle)

	if got := len(h.session.Messages()); got != 3 {
		t.Errorf("Expected 3 messages, got %d", got)
	}
}

func TestVoiceSession_Voices(t *testing.T) {
	h := newHarness(t)
	h.output.voices = []entities.Voice{
		{ID: "de", Language: "de-DE"},
		{ID: "en", Language: "en-GB"},
	}

	voices := h.session.Voices(context.Background())
	if len(voices) != 1 || voices[0].ID != "en" {
		t.Errorf("Expected only English voices, got %+v", voices)
	}
}

func TestVoiceSession_Close(t *testing.T) {
	h := newHarness(t)
	before := h.session.LastActive()

	h.session.StartListening()
	if h.session.LastActive().Before(before) {
		t.Error("Expected activity to move forward")
	}

	h.session.Close()
	h.session.Close()

	if h.capture.isActive() {
		t.Error("Expected capture to stop on close")
	}
	if err := h.session.SubmitText("hello"); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
	if _, err := h.session.ExportSummary(context.Background()); !errors.Is(err, domain.ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}
