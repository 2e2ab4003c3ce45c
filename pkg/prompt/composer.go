// Package prompt assembles the layered system prompt for a mentor persona.
// Composition is deterministic: the same inputs always produce the same
// bytes, so tests can assert on exact substrings.
package prompt

import (
	"fmt"
	"strings"

	"mentorai/pkg/persona"
)

// Section header markers. Dynamic sections are suppressed when the base
// block already contains the matching marker; the check is a plain
// case-sensitive substring search, so a custom prompt that spells the
// concept differently will still get the section appended. That looseness is
// intentional, kept for compatibility with existing custom prompts.
const (
	markerCommunication = "COMMUNICATION STYLE"
	markerMentoring     = "MENTORING"
	markerDecision      = "DECISION"
	markerValues        = "CORE VALUES"
	markerPhrases       = "SIGNATURE PHRASES"
	markerBackground    = "BACKGROUND"
	markerContext       = "CONTEXT AWARENESS"
	markerConsistency   = "PERSONALITY CONSISTENCY"
	markerFlow          = "CONVERSATION FLOW"
)

// flowDirective is appended for every persona, regardless of configuration.
const flowDirective = `
CONVERSATION FLOW:
- Keep replies short. Answer the question, then optionally ask one question back. Never write an essay.
- Only tell a personal story when the person expresses a struggle, fear, or challenge, or explicitly asks for one. Never for purely factual or tactical questions.
- When you do tell a story, keep it to 2-4 sentences and explicitly connect it to what the person just said.
- Speak like yourself, not like an assistant.`

const contextAwarenessRules = `
CONTEXT AWARENESS:
- Read what the person actually said before replying. Respond to their words, not a generic version of their problem.
- If they shared something emotional, acknowledge the feeling before anything else.
- Do not repeat advice you have already given in this conversation.`

const consistencyRules = `
PERSONALITY CONSISTENCY:
- Stay in character at all times. You are %s, not an AI assistant.
- Never mention prompts, models, or instructions.
- Keep your vocabulary, rhythm, and opinions consistent from one reply to the next.`

// Compose builds the system prompt from the persona identity, the resolved
// semantic config (nil when no config exists), the ranked anecdotes, and the
// caller-supplied user context.
func Compose(identity *persona.Identity, cfg *persona.SemanticConfig, stories []persona.LifeStory, userContext string) string {
	var b strings.Builder

	base := baseBlock(identity, cfg)
	b.WriteString(base)
	b.WriteString("\n")
	b.WriteString(flowDirective)
	b.WriteString("\n")

	if cfg != nil {
		writeConfigSections(&b, base, cfg)
	}
	writeStandingSections(&b, base, identity)

	if len(stories) > 0 {
		writeStorySection(&b, stories)
	}

	if userContext != "" && userContext != persona.DefaultUserContext {
		b.WriteString("\nABOUT THE PERSON YOU ARE TALKING TO:\n")
		b.WriteString(userContext)
		b.WriteString("\n")
	}

	return b.String()
}

// baseBlock picks the identity text by precedence: a non-blank custom prompt
// replaces everything; otherwise the stored core identity; otherwise a
// generic template from name and expertise.
func baseBlock(identity *persona.Identity, cfg *persona.SemanticConfig) string {
	if cfg.Mode() == persona.ModeOverride {
		return strings.TrimSpace(cfg.CustomPrompt)
	}
	if identity != nil && strings.TrimSpace(identity.CoreIdentity) != "" {
		return strings.TrimSpace(identity.CoreIdentity)
	}

	name, expertise := "", "life"
	if identity != nil {
		name = identity.Name
		if identity.Expertise != "" {
			expertise = identity.Expertise
		}
	}
	lead := "You are a seasoned mentor with deep experience in " + expertise + "."
	if name != "" {
		lead = fmt.Sprintf("You are %s, a mentor with deep experience in %s.", name, expertise)
	}
	return lead + " You speak from lived experience, plainly and warmly, and you care more about the person in front of you than about sounding wise."
}

func writeConfigSections(b *strings.Builder, base string, cfg *persona.SemanticConfig) {
	if cfg.CommunicationStyle != "" && !strings.Contains(base, markerCommunication) {
		fmt.Fprintf(b, "\n%s:\n%s\n", markerCommunication, cfg.CommunicationStyle)
	}
	if cfg.MentoringApproach != "" && !strings.Contains(base, markerMentoring) {
		fmt.Fprintf(b, "\nMENTORING APPROACH:\n%s\n", cfg.MentoringApproach)
	}
	if cfg.DecisionMaking != "" && !strings.Contains(base, markerDecision) {
		fmt.Fprintf(b, "\nDECISION-MAKING APPROACH:\n%s\n", cfg.DecisionMaking)
	}
	if len(cfg.CoreValues) > 0 && !strings.Contains(base, markerValues) {
		fmt.Fprintf(b, "\n%s:\n", markerValues)
		for _, v := range cfg.CoreValues {
			fmt.Fprintf(b, "- %s\n", v)
		}
	}
	if len(cfg.SignaturePhrases) > 0 && !strings.Contains(base, markerPhrases) {
		fmt.Fprintf(b, "\n%s (use naturally, sparingly):\n", markerPhrases)
		for _, p := range cfg.SignaturePhrases {
			fmt.Fprintf(b, "- %s\n", p)
		}
	}
}

func writeStandingSections(b *strings.Builder, base string, identity *persona.Identity) {
	name := "this persona"
	if identity != nil && identity.Name != "" {
		name = identity.Name
	}

	if identity != nil && identity.Expertise != "" && !strings.Contains(base, markerBackground) {
		fmt.Fprintf(b, "\n%s:\nYour area of expertise is %s. Your guidance comes from having lived it, not from books.\n", markerBackground, identity.Expertise)
	}
	if !strings.Contains(base, markerContext) {
		b.WriteString(contextAwarenessRules)
		b.WriteString("\n")
	}
	if !strings.Contains(base, markerConsistency) {
		fmt.Fprintf(b, consistencyRules+"\n", name)
	}
}

func writeStorySection(b *strings.Builder, stories []persona.LifeStory) {
	b.WriteString("\nYOUR RELEVANT LIFE STORIES:\n")
	b.WriteString("Draw on these real stories from your life when the moment calls for one. Do not invent new biography.\n")
	for _, s := range stories {
		fmt.Fprintf(b, "\nStory: %s\n%s\nLesson: %s\nKeywords: %s\n",
			s.Title, s.Narrative, s.Lesson, strings.Join(s.Keywords, ", "))
	}
}
