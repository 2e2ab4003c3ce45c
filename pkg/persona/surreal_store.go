package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"mentorai/pkg/surreal"
)

// SurrealStore backs ConfigStore and StoryStore with SurrealDB. Personas,
// configs and anecdotes are administered elsewhere; this store only reads.
type SurrealStore struct {
	client *surreal.Client
}

func NewSurrealStore(client *surreal.Client) *SurrealStore {
	store := &SurrealStore{client: client}
	if err := store.Init(); err != nil {
		// The schema may already exist or the DB may become reachable later;
		// reads will surface real failures.
		log.Printf("Warning: failed to initialize SurrealDB schema: %v", err)
	}
	return store
}

func (s *SurrealStore) Init() error {
	query := `
		DEFINE TABLE IF NOT EXISTS personas SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS name ON personas TYPE string;
		DEFINE FIELD IF NOT EXISTS core_identity ON personas TYPE string;
		DEFINE FIELD IF NOT EXISTS expertise ON personas TYPE string;

		DEFINE TABLE IF NOT EXISTS semantic_configs SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS persona_name ON semantic_configs TYPE string;
		DEFINE FIELD IF NOT EXISTS organization_id ON semantic_configs TYPE string;
		DEFINE FIELD IF NOT EXISTS communication_style ON semantic_configs TYPE string;
		DEFINE FIELD IF NOT EXISTS decision_making ON semantic_configs TYPE string;
		DEFINE FIELD IF NOT EXISTS mentoring_approach ON semantic_configs TYPE string;
		DEFINE FIELD IF NOT EXISTS signature_phrases ON semantic_configs TYPE array<string>;
		DEFINE FIELD IF NOT EXISTS core_values ON semantic_configs TYPE array<string>;
		DEFINE FIELD IF NOT EXISTS custom_prompt ON semantic_configs TYPE string;

		DEFINE TABLE IF NOT EXISTS life_stories SCHEMAFULL;
		DEFINE FIELD IF NOT EXISTS persona_id ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS category ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS title ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS narrative ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS lesson ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS keywords ON life_stories TYPE array<string>;
		DEFINE FIELD IF NOT EXISTS emotional_tone ON life_stories TYPE string;
		DEFINE FIELD IF NOT EXISTS active ON life_stories TYPE bool;
	`
	_, err := s.client.Query(query, map[string]interface{}{})
	return err
}

func (s *SurrealStore) GetIdentity(_ context.Context, personaID string) (*Identity, error) {
	query := `SELECT * FROM type::thing("personas", $persona_id);`
	result, err := s.client.Query(query, map[string]interface{}{"persona_id": personaID})
	if err != nil {
		return nil, err
	}

	rows := unwrapRows(result)
	if len(rows) == 0 {
		return nil, ErrNotFound
	}

	var id Identity
	if err := decodeRow(rows[0], &id); err != nil {
		return nil, err
	}
	id.ID = personaID
	return &id, nil
}

func (s *SurrealStore) GetSemanticConfig(_ context.Context, personaName, organizationID string) (*SemanticConfig, error) {
	query := `
		SELECT * FROM semantic_configs
		WHERE persona_name = $persona_name AND organization_id = $organization_id
		LIMIT 1;
	`

	// Org-scoped config first, then the global fallback.
	orgs := []string{""}
	if organizationID != "" {
		orgs = []string{organizationID, ""}
	}
	for _, org := range orgs {
		result, err := s.client.Query(query, map[string]interface{}{
			"persona_name":    personaName,
			"organization_id": org,
		})
		if err != nil {
			return nil, err
		}
		rows := unwrapRows(result)
		if len(rows) == 0 {
			continue
		}
		var cfg SemanticConfig
		if err := decodeRow(rows[0], &cfg); err != nil {
			return nil, err
		}
		return &cfg, nil
	}

	return nil, ErrNotFound
}

func (s *SurrealStore) GetLifeStories(_ context.Context, personaID string) ([]LifeStory, error) {
	query := `SELECT * FROM life_stories WHERE persona_id = $persona_id AND active = true;`
	result, err := s.client.Query(query, map[string]interface{}{"persona_id": personaID})
	if err != nil {
		return nil, err
	}

	var stories []LifeStory
	for _, row := range unwrapRows(result) {
		var story LifeStory
		if err := decodeRow(row, &story); err != nil {
			log.Printf("Skipping malformed life story row: %v", err)
			continue
		}
		stories = append(stories, story)
	}
	return stories, nil
}

// unwrapRows digs the row maps out of an already-unwrapped query result.
func unwrapRows(result interface{}) []map[string]interface{} {
	var out []map[string]interface{}

	collect := func(v interface{}) {
		if row, ok := v.(map[string]interface{}); ok {
			if inner, ok := row["result"]; ok {
				if innerRows, ok := inner.([]interface{}); ok {
					for _, r := range innerRows {
						if m, ok := r.(map[string]interface{}); ok {
							out = append(out, m)
						}
					}
					return
				}
			}
			out = append(out, row)
		}
	}

	switch v := result.(type) {
	case []interface{}:
		for _, item := range v {
			collect(item)
		}
	case map[string]interface{}:
		collect(v)
	}
	return out
}

// decodeRow round-trips a SurrealDB row map through JSON into a typed struct.
// Record ids come back as driver-specific values, so they are flattened to
// strings first.
func decodeRow(row map[string]interface{}, dest interface{}) error {
	if id, ok := row["id"]; ok {
		if _, isStr := id.(string); !isStr {
			row["id"] = fmt.Sprintf("%v", id)
		}
	}
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal row: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode row: %w", err)
	}
	return nil
}
