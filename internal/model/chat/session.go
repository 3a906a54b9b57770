package chat

import "fmt"

// DefaultVoice is used when neither the session nor the persona picks one.
const DefaultVoice = "Kore"

// Voices lists the prebuilt voices a session may override with.
var Voices = []string{"Charon", "Fenrir", "Puck", "Kore", "Zephyr"}

// BubbleStyle controls message bubble geometry.
type BubbleStyle string

const (
	BubbleRounded BubbleStyle = "rounded"
	BubbleSharp   BubbleStyle = "sharp"
	BubblePill    BubbleStyle = "pill"
)

// BubbleStyles lists the accepted bubble styles.
var BubbleStyles = []BubbleStyle{BubbleRounded, BubbleSharp, BubblePill}

// BubbleTheme controls message bubble colours.
type BubbleTheme string

const (
	ThemeClassic    BubbleTheme = "classic"
	ThemeOcean      BubbleTheme = "ocean"
	ThemeEmerald    BubbleTheme = "emerald"
	ThemeSunset     BubbleTheme = "sunset"
	ThemeMonochrome BubbleTheme = "monochrome"
)

// BubbleThemes lists the accepted bubble themes.
var BubbleThemes = []BubbleTheme{ThemeClassic, ThemeOcean, ThemeEmerald, ThemeSunset, ThemeMonochrome}

// Session is a persisted conversation with one persona.
type Session struct {
	ID            string      `json:"id"`
	PersonaID     string      `json:"personaId"`
	Messages      []Message   `json:"messages"`
	LastUpdated   int64       `json:"lastUpdated"`
	IntimacyMode  bool        `json:"intimacyMode"`
	VoiceOverride string      `json:"voiceOverride,omitempty"`
	BubbleStyle   BubbleStyle `json:"bubbleStyle,omitempty"`
	BubbleTheme   BubbleTheme `json:"bubbleTheme,omitempty"`
}

// Style returns the bubble style, defaulting to rounded.
func (s Session) Style() BubbleStyle {
	if s.BubbleStyle == "" {
		return BubbleRounded
	}
	return s.BubbleStyle
}

// Theme returns the bubble theme, defaulting to classic.
func (s Session) Theme() BubbleTheme {
	if s.BubbleTheme == "" {
		return ThemeClassic
	}
	return s.BubbleTheme
}

// Voice resolves the voice to speak with: override, then persona default, then DefaultVoice.
func (s Session) Voice(personaVoice string) string {
	if s.VoiceOverride != "" {
		return s.VoiceOverride
	}
	if personaVoice != "" {
		return personaVoice
	}
	return DefaultVoice
}

// LastMessage returns the newest message, if any.
func (s Session) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s Session) Clone() Session {
	s.Messages = append([]Message(nil), s.Messages...)
	return s
}

// Preferences is a partial update of display and voice settings.
// Nil fields are left untouched; an empty VoiceOverride clears the override.
type Preferences struct {
	VoiceOverride *string      `json:"voiceOverride,omitempty"`
	BubbleStyle   *BubbleStyle `json:"bubbleStyle,omitempty"`
	BubbleTheme   *BubbleTheme `json:"bubbleTheme,omitempty"`
}

// Validate checks every provided field against the known option lists.
func (p Preferences) Validate() error {
	if p.VoiceOverride != nil && *p.VoiceOverride != "" && !contains(Voices, *p.VoiceOverride) {
		return fmt.Errorf("unknown voice %q", *p.VoiceOverride)
	}
	if p.BubbleStyle != nil && !contains(BubbleStyles, *p.BubbleStyle) {
		return fmt.Errorf("unknown bubble style %q", *p.BubbleStyle)
	}
	if p.BubbleTheme != nil && !contains(BubbleThemes, *p.BubbleTheme) {
		return fmt.Errorf("unknown bubble theme %q", *p.BubbleTheme)
	}
	return nil
}

// Empty reports whether the update carries no field.
func (p Preferences) Empty() bool {
	return p.VoiceOverride == nil && p.BubbleStyle == nil && p.BubbleTheme == nil
}

// Apply writes the provided fields onto the session.
func (p Preferences) Apply(s *Session) {
	if p.VoiceOverride != nil {
		s.VoiceOverride = *p.VoiceOverride
	}
	if p.BubbleStyle != nil {
		s.BubbleStyle = *p.BubbleStyle
	}
	if p.BubbleTheme != nil {
		s.BubbleTheme = *p.BubbleTheme
	}
}

// View names what the client should render.
type View string

const (
	ViewGallery View = "gallery"
	ViewChat    View = "chat"
)

func contains[T comparable](items []T, v T) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}
