package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrCaptureUnavailable is returned when the host cannot capture speech at all.
	ErrCaptureUnavailable = errors.New("speech capture unavailable")
	// ErrSynthesisUnavailable is returned when no speech synthesis engine is usable.
	ErrSynthesisUnavailable = errors.New("speech synthesis unavailable")
	// ErrSessionBusy is returned for operations that require an idle session.
	ErrSessionBusy       = errors.New("session busy")
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrInvalidSettings   = errors.New("invalid voice settings")
	// ErrSpeechInterrupted is returned by a speak call that was cancelled or superseded.
	ErrSpeechInterrupted = errors.New("speech interrupted")
	ErrEmptyUtterance    = errors.New("utterance is empty")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	// ErrEngineDetached is reported by remote engines when their client goes away.
	ErrEngineDetached = errors.New("speech engine detached")
)

// Capture failure reasons, named after the Web Speech API error codes.
const (
	CaptureReasonNoSpeech             = "no-speech"
	CaptureReasonAborted              = "aborted"
	CaptureReasonAudioCapture         = "audio-capture"
	CaptureReasonNetwork              = "network"
	CaptureReasonNotAllowed           = "not-allowed"
	CaptureReasonServiceNotAllowed    = "service-not-allowed"
	CaptureReasonLanguageNotSupported = "language-not-supported"
)

// CaptureError is a recognition engine failure.
type CaptureError struct {
	Reason string
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("speech capture failed: %s", e.Reason)
}

// Blocking reports whether the failure means capture cannot work until the
// user fixes something (permissions, device, language). Those surface as a
// CaptureUnavailable notice rather than a transient capture error.
func (e *CaptureError) Blocking() bool {
	return IsBlockingCaptureReason(e.Reason)
}

func IsBlockingCaptureReason(reason string) bool {
	switch reason {
	case CaptureReasonNotAllowed, CaptureReasonServiceNotAllowed,
		CaptureReasonAudioCapture, CaptureReasonLanguageNotSupported:
		return true
	}
	return false
}

// CaptureReason maps an engine error to a capture failure reason.
func CaptureReason(err error) string {
	var captureErr *CaptureError
	switch {
	case err == nil:
		return CaptureReasonNoSpeech
	case errors.As(err, &captureErr):
		return captureErr.Reason
	case errors.Is(err, context.Canceled):
		return CaptureReasonAborted
	default:
		return CaptureReasonNetwork
	}
}

// Synthesis failure codes.
const (
	SynthesisCodeFailed      = "synthesis-failed"
	SynthesisCodeNetwork     = "network"
	SynthesisCodeVoice       = "voice-unavailable"
	SynthesisCodeAudioOutput = "audio-busy"
)

// SynthesisError is a speech output failure that happened mid-utterance.
type SynthesisError struct {
	Code string
	Err  error
}

func (e *SynthesisError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("speech synthesis failed: %s", e.Code)
	}
	return fmt.Sprintf("speech synthesis failed: %s: %v", e.Code, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
