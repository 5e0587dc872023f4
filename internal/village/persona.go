package village

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Persona is the optional descriptive record that flavours an agent's
// generated speech. Every field is independently optional; unknown JSON
// fields in stored persona blobs are ignored rather than rejected.
type Persona struct {
	// Traits are short personality descriptors (e.g., "tidy", "daydreamer").
	Traits []string `json:"traits,omitempty"`

	// CommunicationStyle is a free-text description of how the agent talks.
	CommunicationStyle string `json:"communication_style,omitempty"`

	// Interests are topics the agent gravitates toward.
	Interests []string `json:"interests,omitempty"`

	// Quirks are small habitual behaviours worth mentioning in prompts.
	Quirks []string `json:"quirks,omitempty"`

	// SpeechPatterns are recurring phrasings or verbal tics.
	SpeechPatterns []string `json:"speech_patterns,omitempty"`
}

// IsZero reports whether the persona carries no usable content.
func (p *Persona) IsZero() bool {
	if p == nil {
		return true
	}
	return len(p.Traits) == 0 &&
		p.CommunicationStyle == "" &&
		len(p.Interests) == 0 &&
		len(p.Quirks) == 0 &&
		len(p.SpeechPatterns) == 0
}

// Summary renders the persona as prompt-ready lines. Only non-empty fields
// appear; an empty persona renders as the empty string.
func (p *Persona) Summary() string {
	if p.IsZero() {
		return ""
	}
	var b strings.Builder
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "Traits: %s\n", strings.Join(p.Traits, ", "))
	}
	if p.CommunicationStyle != "" {
		fmt.Fprintf(&b, "Communication style: %s\n", p.CommunicationStyle)
	}
	if len(p.Interests) > 0 {
		fmt.Fprintf(&b, "Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	if len(p.Quirks) > 0 {
		fmt.Fprintf(&b, "Quirks: %s\n", strings.Join(p.Quirks, ", "))
	}
	if len(p.SpeechPatterns) > 0 {
		fmt.Fprintf(&b, "Speech patterns: %s\n", strings.Join(p.SpeechPatterns, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// DecodePersona parses a stored persona blob. A nil/empty blob yields a nil
// persona. Unknown fields are ignored; malformed JSON is an error so callers
// can decide whether to degrade or fail.
func DecodePersona(raw []byte) (*Persona, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p Persona
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("village: decode persona: %w", err)
	}
	if p.IsZero() {
		return nil, nil
	}
	return &p, nil
}
