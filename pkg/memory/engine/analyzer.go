package engine

import (
	"strings"

	"github.com/synaptiq/engram/pkg/memory/conflict"
	"github.com/synaptiq/engram/pkg/memory/model"
)

// analysis is everything the write pipeline derives from one utterance.
type analysis struct {
	Normalized string
	Entities   []string
	Category   string
	Polarity   model.Polarity
	Tier       model.Tier
	// Memorable is false for recall questions and empty turns, which are
	// answered from memory but never stored as facts.
	Memorable bool
	Reason    string
}

var recallLeads = []string{
	"do you remember",
	"do you know",
	"what do you know",
	"what did i",
	"what's my",
	"what is my",
	"did i tell",
	"did i mention",
	"have i told",
	"remind me",
	"who is my",
	"when did i",
	"where did i",
}

var emotionMarkers = []string{
	"feel", "feels", "felt", "feeling", "scared", "afraid", "terrified",
	"excited", "thrilled", "happy", "sad", "miserable", "angry", "furious",
	"anxious", "nervous", "worried", "proud", "ashamed", "miss", "misses",
	"missed", "lonely", "grateful", "heartbroken", "cried", "crying",
}

// analyze normalizes the turn, extracts entities with the speaker injected as
// the primary one, detects category and polarity, and routes a target tier.
func (m *Manager) analyze(text, speaker string) analysis {
	normalized := normalizeTurn(text)
	if normalized == "" {
		return analysis{Normalized: normalized, Tier: model.Working, Reason: "empty turn"}
	}
	if isRecallQuestion(normalized) {
		return analysis{Normalized: normalized, Tier: model.Working, Reason: "recall question"}
	}

	if speaker == "" {
		speaker = m.opts.Speaker
	}
	entities := m.locator.Locate(normalized)
	entities = injectSpeaker(entities, speaker)

	category := m.opts.Rules.DetectCategory(normalized)
	polarity := m.opts.Rules.DetectPolarity(normalized)

	result := analysis{
		Normalized: normalized,
		Entities:   entities,
		Category:   category,
		Polarity:   polarity,
		Memorable:  true,
	}
	switch {
	case isEmotional(normalized):
		result.Tier = model.Emotional
	case category != "" || (len(entities) > 1 && !strings.HasSuffix(normalized, "?")):
		// A detected preference category, or a statement naming something
		// beyond the speaker, is a durable fact.
		result.Tier = model.LongTerm
	default:
		result.Tier = model.Working
	}
	return result
}

func normalizeTurn(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func isRecallQuestion(text string) bool {
	lowered := strings.ToLower(text)
	for _, lead := range recallLeads {
		if strings.Contains(lowered, lead) {
			return true
		}
	}
	return false
}

func isEmotional(text string) bool {
	for _, tok := range conflict.Tokenize(text) {
		for _, marker := range emotionMarkers {
			if tok == marker {
				return true
			}
		}
	}
	return false
}

// injectSpeaker makes the speaker the primary entity so preference statements
// key on who holds the preference, not on its object.
func injectSpeaker(entities []string, speaker string) []string {
	speaker = strings.ToLower(strings.TrimSpace(speaker))
	if speaker == "" {
		return entities
	}
	out := make([]string, 0, len(entities)+1)
	out = append(out, speaker)
	for _, e := range entities {
		if e != speaker {
			out = append(out, e)
		}
	}
	return out
}
