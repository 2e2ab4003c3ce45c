// Package ranker scores a persona's anecdote library against the current
// user message. Scoring is plain keyword matching; no model call is made.
package ranker

import (
	"sort"
	"strings"

	"mentorai/pkg/persona"
	"mentorai/pkg/session"
)

const (
	keywordInMessageScore = 1
	keywordInWordScore    = 2
	categoryBoostScore    = 3
	// usedPenalty pushes an already-told anecdote below zero unless nothing
	// else in the library scores at all.
	usedPenalty = 100
)

// categoryCues maps topical words in a user message to story categories.
var categoryCues = map[string]string{
	"family":    persona.CategoryParenting,
	"kid":       persona.CategoryParenting,
	"kids":      persona.CategoryParenting,
	"son":       persona.CategoryParenting,
	"daughter":  persona.CategoryParenting,
	"father":    persona.CategoryParenting,
	"marriage":  persona.CategoryMarriage,
	"wife":      persona.CategoryMarriage,
	"husband":   persona.CategoryMarriage,
	"prayer":    persona.CategorySpiritual,
	"pray":      persona.CategorySpiritual,
	"faith":     persona.CategorySpiritual,
	"god":       persona.CategorySpiritual,
	"work":      persona.CategoryCareer,
	"job":       persona.CategoryCareer,
	"boss":      persona.CategoryCareer,
	"career":    persona.CategoryCareer,
	"childhood": persona.CategoryChildhood,
	"young":     persona.CategoryChildhood,
}

type scored struct {
	story persona.LifeStory
	score int
}

// Rank orders the anecdote library by relevance to userMessage, highest
// first, excluding anecdotes already told in this conversation (per memory)
// unless nothing else scores positively. The result never exceeds limit.
func Rank(userMessage string, stories []persona.LifeStory, memory session.Memory, limit int) []persona.LifeStory {
	if len(stories) == 0 || limit <= 0 {
		return nil
	}

	message := strings.ToLower(userMessage)
	words := strings.Fields(message)

	candidates := make([]scored, 0, len(stories))
	for _, story := range stories {
		score := 0

		for _, kw := range story.Keywords {
			kw = strings.ToLower(kw)
			if kw == "" {
				continue
			}
			if strings.Contains(message, kw) {
				score += keywordInMessageScore
			}
			for _, w := range words {
				if strings.Contains(w, kw) {
					score += keywordInWordScore
					break
				}
			}
		}

		for _, w := range words {
			if categoryCues[w] == story.Category {
				score += categoryBoostScore
				break
			}
		}

		if memory.Used(story.ID) {
			score -= usedPenalty
		}

		if score > 0 {
			candidates = append(candidates, scored{story: story, score: score})
		}
	}

	// Stable keeps the library's original order on ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]persona.LifeStory, len(candidates))
	for i, c := range candidates {
		out[i] = c.story
	}
	return out
}
