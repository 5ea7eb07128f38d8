package entities

import "strings"

// Voice describes one voice offered by a speech synthesis engine
type Voice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
	Default  bool   `json:"default,omitempty"`
}

// LanguageFamily returns the primary subtag of a BCP 47 tag ("en" for "en-US")
func LanguageFamily(tag string) string {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if i := strings.IndexAny(tag, "-_"); i >= 0 {
		return tag[:i]
	}
	return tag
}

func (v Voice) speaks(family string) bool {
	return family != "" && LanguageFamily(v.Language) == family
}

func (v Voice) female() bool {
	if strings.EqualFold(v.Gender, "female") {
		return true
	}
	return strings.Contains(strings.ToLower(v.Name), "female")
}

// PickDefaultVoice chooses a voice when the settings leave it to the engine.
// Preference order: a female voice of the language family, any voice of the
// language family, the engine's flagged default, the first voice.
func PickDefaultVoice(voices []Voice, language string) (Voice, bool) {
	if len(voices) == 0 {
		return Voice{}, false
	}
	family := LanguageFamily(language)

	for _, v := range voices {
		if v.speaks(family) && v.female() {
			return v, true
		}
	}
	for _, v := range voices {
		if v.speaks(family) {
			return v, true
		}
	}
	for _, v := range voices {
		if v.Default {
			return v, true
		}
	}
	return voices[0], true
}

// FindVoice looks a voice up by identifier
func FindVoice(voices []Voice, id string) (Voice, bool) {
	for _, v := range voices {
		if v.ID == id {
			return v, true
		}
	}
	return Voice{}, false
}

// FilterVoicesByLanguage keeps the voices of the language family. When none
// match, the full list is returned so a settings panel is never left empty.
func FilterVoicesByLanguage(voices []Voice, language string) []Voice {
	family := LanguageFamily(language)
	filtered := make([]Voice, 0, len(voices))
	for _, v := range voices {
		if v.speaks(family) {
			filtered = append(filtered, v)
		}
	}
	if len(filtered) == 0 {
		out := make([]Voice, len(voices))
		copy(out, voices)
		return out
	}
	return filtered
}
