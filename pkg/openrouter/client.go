// Package openrouter implements the engine's Completer against any
// openai-compatible chat completion endpoint, OpenRouter by default.
package openrouter

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"mentorai/pkg/engine"
)

const defaultBaseURL = "https://openrouter.ai/api/v1"

// KeyState tracks the health of one API key for rotation.
type KeyState struct {
	Key          string
	FailureCount int
	LastUsed     time.Time
	LastSuccess  time.Time
}

type Client struct {
	keys      []*KeyState
	keyMu     sync.RWMutex
	clients   map[string]openai.Client
	clientsMu sync.RWMutex
	model     string
	baseURL   string
	timeout   time.Duration
}

// NewClient accepts a comma-separated list of API keys; calls go to the key
// with the fewest recorded failures.
func NewClient(apiKeys, model string, timeout time.Duration) *Client {
	keyStrings := strings.Split(apiKeys, ",")
	keys := make([]*KeyState, 0, len(keyStrings))
	for _, k := range keyStrings {
		k = strings.TrimSpace(k)
		if k != "" {
			keys = append(keys, &KeyState{Key: k})
		}
	}

	if len(keys) == 0 {
		log.Println("Warning: no OpenRouter API keys provided")
	} else {
		log.Printf("Loaded %d OpenRouter API key(s)", len(keys))
	}

	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		keys:    keys,
		clients: make(map[string]openai.Client),
		model:   model,
		baseURL: defaultBaseURL,
		timeout: timeout,
	}
}

// SetBaseURL points the client at a different openai-compatible endpoint,
// used by tests with a local mock server.
func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
	c.clientsMu.Lock()
	c.clients = make(map[string]openai.Client)
	c.clientsMu.Unlock()
}

func (c *Client) getClient(key string) openai.Client {
	c.clientsMu.RLock()
	if client, ok := c.clients[key]; ok {
		c.clientsMu.RUnlock()
		return client
	}
	c.clientsMu.RUnlock()

	c.clientsMu.Lock()
	defer c.clientsMu.Unlock()

	client := openai.NewClient(
		option.WithBaseURL(c.baseURL),
		option.WithAPIKey(key),
	)
	c.clients[key] = client
	return client
}

func (c *Client) getBestKey() *KeyState {
	c.keyMu.RLock()
	defer c.keyMu.RUnlock()

	if len(c.keys) == 0 {
		return nil
	}

	best := c.keys[0]
	for _, k := range c.keys[1:] {
		if k.FailureCount < best.FailureCount {
			best = k
		}
	}
	return best
}

func (c *Client) recordSuccess(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.LastSuccess = time.Now()
	key.LastUsed = time.Now()
	if key.FailureCount > 0 {
		key.FailureCount--
	}
}

func (c *Client) recordFailure(key *KeyState) {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	key.FailureCount++
	key.LastUsed = time.Now()
}

func toChatMessages(messages []engine.Message) []openai.ChatCompletionMessageParamUnion {
	chatMessages := make([]openai.ChatCompletionMessageParamUnion, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case "system":
			chatMessages[i] = openai.SystemMessage(msg.Content)
		case "assistant":
			chatMessages[i] = openai.AssistantMessage(msg.Content)
		default:
			chatMessages[i] = openai.UserMessage(msg.Content)
		}
	}
	return chatMessages
}

func (c *Client) params(messages []engine.Message, opts engine.CallOptions) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.model),
		Messages:    toChatMessages(messages),
		Temperature: openai.Float(opts.Temperature),
		MaxTokens:   openai.Int(opts.MaxTokens),
	}
}

// Complete makes one blocking chat completion call and returns the first
// choice's text.
func (c *Client) Complete(ctx context.Context, messages []engine.Message, opts engine.CallOptions) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	keyState := c.getBestKey()
	if keyState == nil {
		return "", &engine.GenerationError{Retryable: false, Err: errors.New("no API keys configured")}
	}

	client := c.getClient(keyState.Key)

	start := time.Now()
	resp, err := client.Chat.Completions.New(ctx, c.params(messages, opts))
	if err != nil {
		c.recordFailure(keyState)
		return "", classify(err)
	}

	if resp == nil || len(resp.Choices) == 0 {
		c.recordFailure(keyState)
		return "", &engine.GenerationError{Retryable: true, Err: errors.New("empty response")}
	}

	c.recordSuccess(keyState)
	log.Printf("Completion via %s (took %v, tokens: in=%d, out=%d)",
		c.model, time.Since(start), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return resp.Choices[0].Message.Content, nil
}

// CompleteStream streams a chat completion, invoking onDelta per text
// fragment, and returns the accumulated text. Cancelling ctx aborts the
// in-flight call.
func (c *Client) CompleteStream(ctx context.Context, messages []engine.Message, opts engine.CallOptions, onDelta func(delta string)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	keyState := c.getBestKey()
	if keyState == nil {
		return "", &engine.GenerationError{Retryable: false, Err: errors.New("no API keys configured")}
	}

	client := c.getClient(keyState.Key)

	stream := client.Chat.Completions.NewStreaming(ctx, c.params(messages, opts))
	defer stream.Close()

	var full strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		full.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	}

	if err := stream.Err(); err != nil {
		c.recordFailure(keyState)
		return "", classify(err)
	}

	c.recordSuccess(keyState)
	return full.String(), nil
}

// classify wraps a provider error with a retryable flag. Timeouts, rate
// limits and server-side trouble are worth retrying; auth and bad-request
// failures are not.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &engine.GenerationError{Retryable: true, Err: err}
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "401"),
		strings.Contains(errStr, "403"),
		strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "invalid api key"):
		return &engine.GenerationError{Retryable: false, Err: err}
	default:
		// 429s, 5xx and plain network failures all land here.
		return &engine.GenerationError{Retryable: true, Err: err}
	}
}
