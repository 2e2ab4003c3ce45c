package persona

import "strings"

// Identity holds the immutable constants of a mentor persona. These are
// owned by configuration storage and read-only to the response pipeline.
type Identity struct {
	ID           string `yaml:"id" json:"id"`
	Name         string `yaml:"name" json:"name"`
	CoreIdentity string `yaml:"core_identity" json:"core_identity"`
	Expertise    string `yaml:"expertise" json:"expertise"`
}

// ConfigMode says which half of a SemanticConfig is in effect.
type ConfigMode int

const (
	// ModeStructured merges the structured fields into the prompt.
	ModeStructured ConfigMode = iota
	// ModeOverride replaces the identity block with CustomPrompt outright.
	ModeOverride
)

// SemanticConfig is the layered, organization-overridable persona
// configuration. A non-blank CustomPrompt switches the whole config into
// override mode and the structured fields are only used to fill gaps the
// custom text doesn't cover.
type SemanticConfig struct {
	PersonaName        string   `yaml:"persona_name" json:"persona_name"`
	OrganizationID     string   `yaml:"organization_id,omitempty" json:"organization_id,omitempty"`
	CommunicationStyle string   `yaml:"communication_style" json:"communication_style"`
	DecisionMaking     string   `yaml:"decision_making" json:"decision_making"`
	MentoringApproach  string   `yaml:"mentoring_approach" json:"mentoring_approach"`
	SignaturePhrases   []string `yaml:"signature_phrases" json:"signature_phrases"`
	CoreValues         []string `yaml:"core_values" json:"core_values"`
	CustomPrompt       string   `yaml:"custom_prompt,omitempty" json:"custom_prompt,omitempty"`
}

// Mode reports whether the config overrides the identity block or merges
// structured fields into it.
func (c *SemanticConfig) Mode() ConfigMode {
	if c != nil && strings.TrimSpace(c.CustomPrompt) != "" {
		return ModeOverride
	}
	return ModeStructured
}

// Story categories. The ranker maps topical cue words in a user message to
// these tags.
const (
	CategoryCareer    = "career"
	CategoryMarriage  = "marriage"
	CategorySpiritual = "spiritual"
	CategoryChildhood = "childhood"
	CategoryParenting = "parenting"
)

// LifeStory is one first-person anecdote in a persona's library.
type LifeStory struct {
	ID            string   `yaml:"id" json:"id"`
	PersonaID     string   `yaml:"persona_id" json:"persona_id"`
	Category      string   `yaml:"category" json:"category"`
	Title         string   `yaml:"title" json:"title"`
	Narrative     string   `yaml:"narrative" json:"narrative"`
	Lesson        string   `yaml:"lesson" json:"lesson"`
	Keywords      []string `yaml:"keywords" json:"keywords"`
	EmotionalTone string   `yaml:"emotional_tone" json:"emotional_tone"`
	Active        bool     `yaml:"active" json:"active"`
}

// ConversationTurn is one entry of caller-supplied history.
type ConversationTurn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// DefaultUserContext is the placeholder used when the caller supplies no
// context about the person seeking guidance. The composer skips the context
// section when it sees this exact value.
const DefaultUserContext = "This person is seeking guidance and wisdom."
