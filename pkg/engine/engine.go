// Package engine ties the response pipeline together: it resolves the
// persona from the stores, ranks anecdotes, composes the prompt, generates a
// draft, audits it, and drives the bounded rewrite state machine. A turn
// never fails outward; the worst case is a canned apology.
package engine

import (
	"context"
	"errors"
	"log"
	"strings"

	"mentorai/pkg/audit"
	"mentorai/pkg/persona"
	"mentorai/pkg/prompt"
	"mentorai/pkg/ranker"
	"mentorai/pkg/session"
)

// FallbackReply is returned when every generation call fails.
const FallbackReply = "I'm having trouble collecting my thoughts, can we try again in a moment?"

// maxCalls bounds the number of language-model calls per incoming message:
// one draft, one rewrite, one escalation.
const maxCalls = 3

// rewriteInstruction is the fixed user message for the rewrite attempt; the
// audit directive rides in the system slot.
const rewriteInstruction = "Rewrite the reply above following the stated rules. Output only the rewritten reply, nothing else."

// Request is one incoming user message with its conversation context.
type Request struct {
	PersonaID      string
	UserID         string
	UserMessage    string
	History        []persona.ConversationTurn
	OrganizationID string
	UserContext    string
}

// Delta is one fragment of a streamed reply. The stream ends with an empty
// Final delta; the assembled text may still differ from the streamed
// fragments when the draft was rewritten after streaming.
type Delta struct {
	Text  string
	Final bool
}

// Options tunes the pipeline. The rewrite attempt deliberately runs hotter
// and shorter than the draft; the escalation is shorter still.
type Options struct {
	HistoryWindow      int
	StoryLimit         int
	DraftTemperature   float64
	DraftMaxTokens     int64
	RewriteTemperature float64
	RewriteMaxTokens   int64
	EscalateMaxTokens  int64
}

func DefaultOptions() Options {
	return Options{
		HistoryWindow:      10,
		StoryLimit:         3,
		DraftTemperature:   0.7,
		DraftMaxTokens:     600,
		RewriteTemperature: 0.9,
		RewriteMaxTokens:   300,
		EscalateMaxTokens:  120,
	}
}

type Engine struct {
	configs  persona.ConfigStore
	stories  persona.StoryStore
	sessions session.Store
	llm      Completer
	opts     Options
}

func New(configs persona.ConfigStore, stories persona.StoryStore, sessions session.Store, llm Completer, opts Options) *Engine {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultOptions().HistoryWindow
	}
	if opts.StoryLimit <= 0 {
		opts.StoryLimit = DefaultOptions().StoryLimit
	}
	return &Engine{
		configs:  configs,
		stories:  stories,
		sessions: sessions,
		llm:      llm,
		opts:     opts,
	}
}

// state of the rewrite machine. Transitions are linear with two exits into
// acceptance, which keeps the call bound checkable by reading the switch.
type state int

const (
	stateDrafting state = iota
	stateAuditing
	stateRewriting
	stateReAuditing
	stateEscalating
	stateAccepted
	stateDone
)

// Respond produces the persona's reply to one user message. It always
// returns a non-empty string; provider failures surface as FallbackReply.
func (e *Engine) Respond(ctx context.Context, req Request) string {
	return e.run(ctx, req, nil)
}

// RespondStream is Respond with incremental delivery: emit receives the
// draft's text deltas as they arrive, then a Final marker once the reply is
// settled. The returned string is the authoritative reply.
func (e *Engine) RespondStream(ctx context.Context, req Request, emit func(Delta)) string {
	final := e.run(ctx, req, emit)
	if emit != nil {
		emit(Delta{Final: true})
	}
	return final
}

func (e *Engine) run(ctx context.Context, req Request, emit func(Delta)) string {
	identity, cfg, library := e.gather(ctx, req)

	mem, err := e.sessions.Get(ctx, req.PersonaID, req.UserID)
	if err != nil {
		log.Printf("Session lookup failed for persona %s, proceeding with empty memory: %v", req.PersonaID, err)
		mem = session.Memory{UsedStoryIDs: map[string]bool{}}
	}

	ranked := ranker.Rank(req.UserMessage, library, mem, e.opts.StoryLimit)
	system := prompt.Compose(identity, cfg, ranked, req.UserContext)
	history := trimHistory(req.History, e.opts.HistoryWindow)

	auditCtx := audit.Context{
		UserMessage:   req.UserMessage,
		PreviousReply: mem.LastReply,
	}

	var (
		st            = stateDrafting
		calls         int
		draft         string
		rewritten     string
		final         string
		draftVerdict  audit.Verdict
		recheckResult audit.Verdict
	)

	for st != stateDone {
		switch st {
		case stateDrafting:
			text, err := e.draft(ctx, system, history, req.UserMessage, emit, &calls)
			if err != nil {
				log.Printf("Draft generation failed after %d call(s): %v", calls, err)
				final = FallbackReply
				st = stateDone
				continue
			}
			draft = text
			st = stateAuditing

		case stateAuditing:
			draftVerdict = audit.Audit(draft, auditCtx)
			if !draftVerdict.Flagged {
				final = draft
				st = stateAccepted
				continue
			}
			log.Printf("Draft flagged (%d issue(s)): %s", len(draftVerdict.Issues), strings.Join(draftVerdict.Issues, "; "))
			st = stateRewriting

		case stateRewriting:
			if calls >= maxCalls {
				final = draft
				st = stateAccepted
				continue
			}
			text, err := e.rewrite(ctx, draftVerdict.RewriteDirective, draft, &calls)
			if err != nil {
				log.Printf("Rewrite generation failed, keeping flagged draft: %v", err)
				final = draft
				st = stateAccepted
				continue
			}
			rewritten = text
			st = stateReAuditing

		case stateReAuditing:
			recheckResult = audit.Audit(rewritten, auditCtx)
			// Accept on a clean pass or any strict improvement.
			if !recheckResult.Flagged || len(recheckResult.Issues) < len(draftVerdict.Issues) {
				final = rewritten
				st = stateAccepted
				continue
			}
			st = stateEscalating

		case stateEscalating:
			if calls >= maxCalls {
				final = rewritten
				st = stateAccepted
				continue
			}
			text, err := e.escalate(ctx, identity, req.UserMessage, &calls)
			if err != nil {
				log.Printf("Escalation generation failed, keeping rewritten reply: %v", err)
				final = rewritten
				st = stateAccepted
				continue
			}
			// The escalated reply is returned unconditionally, no re-audit.
			final = text
			st = stateAccepted

		case stateAccepted:
			e.recordAcceptance(ctx, req, ranked, final)
			st = stateDone
		}
	}

	if strings.TrimSpace(final) == "" {
		final = FallbackReply
	}
	return final
}

// gather resolves the persona from the stores. Store failures degrade the
// turn (generic identity, no config, no anecdotes) but never abort it.
func (e *Engine) gather(ctx context.Context, req Request) (*persona.Identity, *persona.SemanticConfig, []persona.LifeStory) {
	identity, err := e.configs.GetIdentity(ctx, req.PersonaID)
	if err != nil {
		if !errors.Is(err, persona.ErrNotFound) {
			log.Printf("Identity lookup failed for persona %s: %v", req.PersonaID, err)
		}
		identity = nil
	}

	var cfg *persona.SemanticConfig
	if identity != nil {
		cfg, err = e.configs.GetSemanticConfig(ctx, identity.Name, req.OrganizationID)
		if err != nil {
			if !errors.Is(err, persona.ErrNotFound) {
				log.Printf("Config lookup failed for persona %s: %v", identity.Name, err)
			}
			cfg = nil
		}
	}

	library, err := e.stories.GetLifeStories(ctx, req.PersonaID)
	if err != nil {
		log.Printf("Story lookup failed for persona %s: %v", req.PersonaID, err)
		library = nil
	}

	return identity, cfg, library
}

// draft runs the initial generation, streaming when emit is set, retrying
// retryable failures while the call budget allows.
func (e *Engine) draft(ctx context.Context, system string, history []Message, userMessage string, emit func(Delta), calls *int) (string, error) {
	messages := make([]Message, 0, len(history)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: userMessage})

	opts := CallOptions{Temperature: e.opts.DraftTemperature, MaxTokens: e.opts.DraftMaxTokens}

	var lastErr error
	for *calls < maxCalls {
		*calls++

		var text string
		var err error
		if emit != nil {
			text, err = e.llm.CompleteStream(ctx, messages, opts, func(delta string) {
				emit(Delta{Text: delta})
			})
		} else {
			text, err = e.llm.Complete(ctx, messages, opts)
		}
		if err == nil {
			return text, nil
		}

		lastErr = err
		var genErr *GenerationError
		if errors.As(err, &genErr) && !genErr.Retryable {
			return "", err
		}
		log.Printf("Draft call %d failed, retrying: %v", *calls, err)
	}
	return "", lastErr
}

// rewrite issues the corrective attempt: the audit directive is the system
// message, the flagged draft rides along as assistant context, and the user
// message is a fixed instruction.
func (e *Engine) rewrite(ctx context.Context, directive, draft string, calls *int) (string, error) {
	messages := []Message{
		{Role: "system", Content: directive},
		{Role: "assistant", Content: draft},
		{Role: "user", Content: rewriteInstruction},
	}
	opts := CallOptions{Temperature: e.opts.RewriteTemperature, MaxTokens: e.opts.RewriteMaxTokens}

	*calls++
	return e.llm.Complete(ctx, messages, opts)
}

// escalate is the last, maximally constrained attempt.
func (e *Engine) escalate(ctx context.Context, identity *persona.Identity, userMessage string, calls *int) (string, error) {
	name := "the mentor"
	if identity != nil && identity.Name != "" {
		name = identity.Name
	}
	system := "You are " + name + ". Stay completely in character. " +
		"Reply with exactly one short, colloquial sentence that opens with \"I remember\" or \"When I\". " +
		"No advice lists, no questions, no explanations."

	messages := []Message{
		{Role: "system", Content: system},
		{Role: "user", Content: userMessage},
	}
	opts := CallOptions{Temperature: e.opts.RewriteTemperature, MaxTokens: e.opts.EscalateMaxTokens}

	*calls++
	return e.llm.Complete(ctx, messages, opts)
}

// recordAcceptance updates session memory once a reply is settled: the reply
// itself for the repetition check, and the lead anecdote as used when the
// reply actually drew on it (any of its keywords appear in the text).
func (e *Engine) recordAcceptance(ctx context.Context, req Request, ranked []persona.LifeStory, final string) {
	if err := e.sessions.SetLastReply(ctx, req.PersonaID, req.UserID, final); err != nil {
		log.Printf("Failed to record last reply: %v", err)
	}

	lower := strings.ToLower(final)
	for _, story := range ranked {
		if storyReferenced(lower, story) {
			if err := e.sessions.MarkUsed(ctx, req.PersonaID, req.UserID, story.ID, story.EmotionalTone); err != nil {
				log.Printf("Failed to mark story %s used: %v", story.ID, err)
			}
			return
		}
	}
}

func storyReferenced(lowerReply string, story persona.LifeStory) bool {
	for _, kw := range story.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lowerReply, kw) {
			return true
		}
	}
	return false
}

func trimHistory(history []persona.ConversationTurn, window int) []Message {
	if len(history) > window {
		history = history[len(history)-window:]
	}
	out := make([]Message, 0, len(history))
	for _, turn := range history {
		role := turn.Role
		if role != "assistant" {
			role = "user"
		}
		out = append(out, Message{Role: role, Content: turn.Text})
	}
	return out
}
