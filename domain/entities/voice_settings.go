package entities

import (
	"fmt"
	"math"

	"github.com/nexariza/voicebot/domain"
)

// DefaultVoiceID asks the speech engine for its own default voice
const DefaultVoiceID = "default"

const (
	MinRate   = 0.5
	MaxRate   = 2.0
	MinPitch  = 0.0
	MaxPitch  = 2.0
	MinVolume = 0.0
	MaxVolume = 1.0
)

// VoiceSettings configures speech output. It is always passed by value so a
// speak call keeps the settings it started with.
type VoiceSettings struct {
	Rate    float64 `json:"rate"`
	Pitch   float64 `json:"pitch"`
	Volume  float64 `json:"volume"`
	VoiceID string  `json:"voice"`
}

func DefaultVoiceSettings() VoiceSettings {
	return VoiceSettings{
		Rate:    1.0,
		Pitch:   1.0,
		Volume:  1.0,
		VoiceID: DefaultVoiceID,
	}
}

// Normalized fills an empty voice identifier with the engine default sentinel
func (s VoiceSettings) Normalized() VoiceSettings {
	if s.VoiceID == "" {
		s.VoiceID = DefaultVoiceID
	}
	return s
}

// UsesEngineDefault reports whether no explicit voice was chosen
func (s VoiceSettings) UsesEngineDefault() bool {
	return s.VoiceID == "" || s.VoiceID == DefaultVoiceID
}

func (s VoiceSettings) Validate() error {
	if outOfRange(s.Rate, MinRate, MaxRate) {
		return fmt.Errorf("%w: rate must be between %.1f and %.1f, got %.2f", domain.ErrInvalidSettings, MinRate, MaxRate, s.Rate)
	}
	if outOfRange(s.Pitch, MinPitch, MaxPitch) {
		return fmt.Errorf("%w: pitch must be between %.1f and %.1f, got %.2f", domain.ErrInvalidSettings, MinPitch, MaxPitch, s.Pitch)
	}
	if outOfRange(s.Volume, MinVolume, MaxVolume) {
		return fmt.Errorf("%w: volume must be between %.1f and %.1f, got %.2f", domain.ErrInvalidSettings, MinVolume, MaxVolume, s.Volume)
	}
	return nil
}

func outOfRange(v, min, max float64) bool {
	return math.IsNaN(v) || v < min || v > max
}

// VoiceSettingsUpdate changes some of the settings. Fields left nil keep
// their current value.
type VoiceSettingsUpdate struct {
	Rate    *float64 `json:"rate,omitempty"`
	Pitch   *float64 `json:"pitch,omitempty"`
	Volume  *float64 `json:"volume,omitempty"`
	VoiceID *string  `json:"voice,omitempty"`
}

// ApplyTo returns base with the present fields replaced
func (u VoiceSettingsUpdate) ApplyTo(base VoiceSettings) VoiceSettings {
	if u.Rate != nil {
		base.Rate = *u.Rate
	}
	if u.Pitch != nil {
		base.Pitch = *u.Pitch
	}
	if u.Volume != nil {
		base.Volume = *u.Volume
	}
	if u.VoiceID != nil {
		base.VoiceID = *u.VoiceID
	}
	return base.Normalized()
}

// Validate checks the present fields against their ranges
func (u VoiceSettingsUpdate) Validate() error {
	return u.ApplyTo(DefaultVoiceSettings()).Validate()
}
