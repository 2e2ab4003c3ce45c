package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"mentorai/pkg/config"
	"mentorai/pkg/engine"
	"mentorai/pkg/openrouter"
	"mentorai/pkg/persona"
	"mentorai/pkg/session"
	"mentorai/pkg/surreal"
)

func main() {
	// Load config.yml
	cfg, err := config.LoadConfig("config.yml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Load .env for secrets
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	apiKeys := os.Getenv("OPENROUTER_API_KEYS")
	if apiKeys == "" {
		log.Fatal("Missing required environment variable: OPENROUTER_API_KEYS")
	}

	llm := openrouter.NewClient(apiKeys, cfg.ModelSettings.Model,
		time.Duration(cfg.ModelSettings.TimeoutSeconds)*time.Second)

	// Persona storage: SurrealDB when configured, YAML fixture otherwise.
	var (
		configStore persona.ConfigStore
		storyStore  persona.StoryStore
	)
	if surrealHost := os.Getenv("SURREAL_DB_HOST"); surrealHost != "" {
		surrealUser := os.Getenv("SURREAL_DB_USER")
		surrealPass := os.Getenv("SURREAL_DB_PASS")
		surrealNS := os.Getenv("SURREAL_DB_NAMESPACE")
		surrealDB := os.Getenv("SURREAL_DB_DATABASE")
		if surrealNS == "" {
			surrealNS = "mentorai"
		}
		if surrealDB == "" {
			surrealDB = "personas"
		}
		if !strings.HasPrefix(surrealHost, "ws://") && !strings.HasPrefix(surrealHost, "wss://") {
			surrealHost = "wss://" + surrealHost + "/rpc"
		}

		log.Printf("Connecting to SurrealDB at %s (NS: %s, DB: %s)", surrealHost, surrealNS, surrealDB)
		surrealClient, err := surreal.NewClient(surrealHost, surrealUser, surrealPass, surrealNS, surrealDB)
		if err != nil {
			log.Fatalf("Failed to connect to SurrealDB: %v", err)
		}
		defer surrealClient.Close()

		store := persona.NewSurrealStore(surrealClient)
		configStore, storyStore = store, store
	} else {
		fixturePath := os.Getenv("PERSONA_FIXTURE")
		if fixturePath == "" {
			fixturePath = "personas.yml"
		}
		store, err := persona.LoadMemStore(fixturePath)
		if err != nil {
			log.Fatalf("Failed to load persona fixture %s: %v", fixturePath, err)
		}
		log.Printf("Loaded persona fixture from %s", fixturePath)
		configStore, storyStore = store, store
	}

	// Session memory: redis when configured, in-process otherwise.
	var sessions session.Store
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		ttl := time.Duration(cfg.Session.TTLHours) * time.Hour
		redisStore, err := session.NewRedisStore(redisURL, "mentorai", ttl)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
		log.Println("Using redis-backed session memory")
	} else {
		sessions = session.NewMemStore()
		log.Println("Using in-process session memory")
	}

	eng := engine.New(configStore, storyStore, sessions, llm, engine.Options{
		HistoryWindow:      cfg.Pipeline.HistoryWindow,
		StoryLimit:         cfg.Pipeline.StoryLimit,
		DraftTemperature:   cfg.ModelSettings.DraftTemperature,
		DraftMaxTokens:     cfg.ModelSettings.DraftMaxTokens,
		RewriteTemperature: cfg.ModelSettings.RewriteTemperature,
		RewriteMaxTokens:   cfg.ModelSettings.RewriteMaxTokens,
		EscalateMaxTokens:  cfg.ModelSettings.EscalateMaxTokens,
	})

	personaID := os.Getenv("PERSONA_ID")
	if personaID == "" {
		personaID = "elder-thomas"
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sc := make(chan os.Signal, 1)
		signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
		<-sc
		cancel()
	}()

	runChatLoop(ctx, eng, personaID)
}

// runChatLoop reads user messages from stdin and streams replies to stdout.
func runChatLoop(ctx context.Context, eng *engine.Engine, personaID string) {
	log.Printf("Chatting with persona %q. Press CTRL-C or CTRL-D to exit.", personaID)

	var history []persona.ConversationTurn
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Print("> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			fmt.Print("> ")
			continue
		}

		var streamed strings.Builder
		final := eng.RespondStream(ctx, engine.Request{
			PersonaID:   personaID,
			UserID:      "local",
			UserMessage: message,
			History:     history,
		}, func(d engine.Delta) {
			if d.Final {
				return
			}
			streamed.WriteString(d.Text)
			fmt.Print(d.Text)
		})

		// The audited reply can differ from what was streamed; print the
		// correction when it does.
		if streamed.String() != final {
			fmt.Printf("\n[final] %s", final)
		}
		fmt.Println()

		history = append(history, persona.ConversationTurn{Role: "user", Text: message})
		history = append(history, persona.ConversationTurn{Role: "assistant", Text: final})

		fmt.Print("> ")
	}
}
