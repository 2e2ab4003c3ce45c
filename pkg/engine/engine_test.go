package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mentorai/pkg/persona"
	"mentorai/pkg/session"
)

// scripted is one canned provider response: text or error.
type scripted struct {
	text string
	err  error
}

// fakeCompleter pops scripted responses in order and records every call's
// message list for assertions.
type fakeCompleter struct {
	mu     sync.Mutex
	script []scripted
	calls  [][]Message
}

func (f *fakeCompleter) next(messages []Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, messages)
	if len(f.script) == 0 {
		return "", &GenerationError{Retryable: true, Err: errors.New("script exhausted")}
	}
	s := f.script[0]
	f.script = f.script[1:]
	return s.text, s.err
}

func (f *fakeCompleter) Complete(_ context.Context, messages []Message, _ CallOptions) (string, error) {
	return f.next(messages)
}

func (f *fakeCompleter) CompleteStream(_ context.Context, messages []Message, _ CallOptions, onDelta func(string)) (string, error) {
	text, err := f.next(messages)
	if err != nil {
		return "", err
	}
	// Deliver in two fragments to exercise accumulation.
	mid := len(text) / 2
	if onDelta != nil {
		if text[:mid] != "" {
			onDelta(text[:mid])
		}
		if text[mid:] != "" {
			onDelta(text[mid:])
		}
	}
	return text, nil
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

const cleanReply = "I spent forty years building houses, and the jobs I rushed are the ones I still think about. Give it a week before you answer."

func elderThomasStore() *persona.MemStore {
	store := persona.NewMemStore()
	store.PutIdentity(persona.Identity{
		ID:           "elder-thomas",
		Name:         "Elder Thomas",
		CoreIdentity: "You are Elder Thomas, a retired carpenter and lay preacher.",
		Expertise:    "faith and family",
	})
	store.PutStory(persona.LifeStory{
		ID:            "story-mill-job",
		PersonaID:     "elder-thomas",
		Category:      persona.CategoryCareer,
		Title:         "The foreman who threw my toolbox",
		Narrative:     "I was twenty-two and madder than a wet hen.",
		Lesson:        "A hard boss can teach you patience if you let him.",
		Keywords:      []string{"boss", "work"},
		EmotionalTone: "resolve",
		Active:        true,
	})
	return store
}

func newTestEngine(llm Completer) (*Engine, *persona.MemStore, *session.MemStore) {
	store := elderThomasStore()
	sessions := session.NewMemStore()
	eng := New(store, store, sessions, llm, DefaultOptions())
	return eng, store, sessions
}

func bossRequest() Request {
	return Request{
		PersonaID:   "elder-thomas",
		UserID:      "u1",
		UserMessage: "My boss yelled at me today",
	}
}

func TestRespond(t *testing.T) {
	ctx := context.Background()

	t.Run("Clean Draft Accepted Verbatim", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: cleanReply}}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, cleanReply, got)
		assert.Equal(t, 1, llm.callCount())
	})

	t.Run("Prompt Contains Ranked Story", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: cleanReply}}}
		eng, _, _ := newTestEngine(llm)

		eng.Respond(ctx, bossRequest())
		require.Equal(t, 1, llm.callCount())

		system := llm.calls[0][0]
		assert.Equal(t, "system", system.Role)
		assert.Contains(t, system.Content, "The foreman who threw my toolbox")
		assert.Contains(t, system.Content, "A hard boss can teach you patience if you let him.")
	})

	t.Run("Flagged Draft Triggers One Rewrite", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{text: "Everything happens for a reason, stay strong!"},
			{text: cleanReply},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, cleanReply, got)
		require.Equal(t, 2, llm.callCount())

		// The rewrite call's system slot carries the audit directive, not
		// the composed prompt.
		rewriteCall := llm.calls[1]
		require.Len(t, rewriteCall, 3)
		assert.Equal(t, "system", rewriteCall[0].Role)
		assert.Contains(t, rewriteCall[0].Content, "flagged for")
		assert.Equal(t, "assistant", rewriteCall[1].Role)
		assert.Equal(t, "Everything happens for a reason, stay strong!", rewriteCall[1].Content)
		assert.Equal(t, rewriteInstruction, rewriteCall[2].Content)
	})

	t.Run("Improved Rewrite Accepted While Still Flagged", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			// Two issues: cliché + vague question ending.
			{text: "Everything happens for a reason, right?"},
			// One issue: vague question ending.
			{text: "What would your father say?"},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, "What would your father say?", got)
		assert.Equal(t, 2, llm.callCount())
	})

	t.Run("Unimproved Rewrite Escalates", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{text: "Everything happens for a reason, stay strong!"},
			{text: "Everything happens for a reason, stay strong!"},
			{text: "I remember a foreman like that, and outlasting him taught me more than he ever meant to."},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, "I remember a foreman like that, and outlasting him taught me more than he ever meant to.", got)
		assert.Equal(t, 3, llm.callCount())

		escalation := llm.calls[2]
		require.Len(t, escalation, 2)
		assert.Contains(t, escalation[0].Content, "Elder Thomas")
		assert.Contains(t, escalation[0].Content, "I remember")
	})

	t.Run("Escalation Output Never Re-Audited", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{text: "Everything happens for a reason, stay strong!"},
			{text: "Everything happens for a reason, stay strong!"},
			// Still cliché, returned anyway.
			{text: "Everything happens for a reason."},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, "Everything happens for a reason.", got)
		assert.Equal(t, 3, llm.callCount())
	})

	t.Run("All Calls Fail Yields Fallback", func(t *testing.T) {
		transient := &GenerationError{Retryable: true, Err: errors.New("timeout")}
		llm := &fakeCompleter{script: []scripted{
			{err: transient}, {err: transient}, {err: transient},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, FallbackReply, got)
		assert.Equal(t, 3, llm.callCount())
	})

	t.Run("Non-Retryable Failure Stops Immediately", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{err: &GenerationError{Retryable: false, Err: errors.New("bad key")}},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, FallbackReply, got)
		assert.Equal(t, 1, llm.callCount())
	})

	t.Run("Call Bound Holds With Mixed Failures", func(t *testing.T) {
		transient := &GenerationError{Retryable: true, Err: errors.New("timeout")}
		llm := &fakeCompleter{script: []scripted{
			{err: transient},
			{text: "Everything happens for a reason, stay strong!"},
			// Rewrite is the third and last allowed call; escalation must
			// be skipped even though the rewrite didn't improve.
			{text: "Everything happens for a reason, stay strong!"},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, "Everything happens for a reason, stay strong!", got)
		assert.Equal(t, 3, llm.callCount())
	})

	t.Run("Failed Rewrite Keeps Flagged Draft", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{text: "Everything happens for a reason, stay strong!"},
			{err: &GenerationError{Retryable: false, Err: errors.New("bad request")}},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, "Everything happens for a reason, stay strong!", got)
	})

	t.Run("Empty Reply Yields Fallback", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: "   "}}}
		eng, _, _ := newTestEngine(llm)

		got := eng.Respond(ctx, bossRequest())
		assert.Equal(t, FallbackReply, got)
	})

	t.Run("Accepted Story Reference Updates Session", func(t *testing.T) {
		reply := "I remember a boss like that at the mill, and outlasting him taught me patience you can't buy."
		llm := &fakeCompleter{script: []scripted{{text: reply}}}
		eng, _, sessions := newTestEngine(llm)

		eng.Respond(ctx, bossRequest())

		mem, err := sessions.Get(ctx, "elder-thomas", "u1")
		require.NoError(t, err)
		assert.True(t, mem.Used("story-mill-job"))
		assert.Equal(t, []string{"resolve"}, mem.ToneHistory)
		assert.Equal(t, reply, mem.LastReply)
	})

	t.Run("Used Story Dropped From Next Prompt", func(t *testing.T) {
		reply := "I remember a boss like that at the mill, and outlasting him taught me patience you can't buy."
		llm := &fakeCompleter{script: []scripted{{text: reply}, {text: cleanReply}}}
		eng, _, _ := newTestEngine(llm)

		eng.Respond(ctx, bossRequest())
		eng.Respond(ctx, bossRequest())

		require.Equal(t, 2, llm.callCount())
		secondSystem := llm.calls[1][0].Content
		assert.NotContains(t, secondSystem, "The foreman who threw my toolbox")
	})

	t.Run("Missing Persona Degrades To Generic Identity", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: cleanReply}}}
		store := persona.NewMemStore()
		eng := New(store, store, session.NewMemStore(), llm, DefaultOptions())

		got := eng.Respond(ctx, Request{PersonaID: "nobody", UserMessage: "hello"})
		assert.Equal(t, cleanReply, got)
		assert.Contains(t, llm.calls[0][0].Content, "a seasoned mentor")
	})

	t.Run("History Trimmed To Window", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: cleanReply}}}
		eng, _, _ := newTestEngine(llm)

		req := bossRequest()
		for i := 0; i < 30; i++ {
			role := "user"
			if i%2 == 1 {
				role = "assistant"
			}
			req.History = append(req.History, persona.ConversationTurn{Role: role, Text: "turn"})
		}

		eng.Respond(ctx, req)
		// system + 10 history turns + user message.
		assert.Len(t, llm.calls[0], 12)
	})
}

func TestRespondStream(t *testing.T) {
	ctx := context.Background()

	t.Run("Deltas Accumulate To Final", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{{text: cleanReply}}}
		eng, _, _ := newTestEngine(llm)

		var streamed strings.Builder
		var sawFinal bool
		got := eng.RespondStream(ctx, bossRequest(), func(d Delta) {
			if d.Final {
				sawFinal = true
				assert.Empty(t, d.Text)
				return
			}
			streamed.WriteString(d.Text)
		})

		assert.Equal(t, cleanReply, got)
		assert.Equal(t, cleanReply, streamed.String())
		assert.True(t, sawFinal)
	})

	t.Run("Rewritten Reply Differs From Streamed Draft", func(t *testing.T) {
		llm := &fakeCompleter{script: []scripted{
			{text: "Everything happens for a reason, stay strong!"},
			{text: cleanReply},
		}}
		eng, _, _ := newTestEngine(llm)

		var streamed strings.Builder
		got := eng.RespondStream(ctx, bossRequest(), func(d Delta) {
			if !d.Final {
				streamed.WriteString(d.Text)
			}
		})

		assert.Equal(t, cleanReply, got)
		assert.Equal(t, "Everything happens for a reason, stay strong!", streamed.String())
	})

	t.Run("Fallback On Total Failure", func(t *testing.T) {
		transient := &GenerationError{Retryable: true, Err: errors.New("timeout")}
		llm := &fakeCompleter{script: []scripted{
			{err: transient}, {err: transient}, {err: transient},
		}}
		eng, _, _ := newTestEngine(llm)

		got := eng.RespondStream(ctx, bossRequest(), func(Delta) {})
		assert.Equal(t, FallbackReply, got)
		assert.Equal(t, 3, llm.callCount())
	})
}
