package assistant

import (
	"fmt"
	"strings"
)

// PromptStrictness selects how closely the model is told to stick to
// the knowledge base
type PromptStrictness string

const (
	// PromptStrictnessStrict only allows answers found in the knowledge base
	PromptStrictnessStrict PromptStrictness = "strict"

	// PromptStrictnessLoose also allows answers from a general category
	// match in the knowledge base, when the model is reasonably confident
	PromptStrictnessLoose PromptStrictness = "loose"
)

const (
	promptKnowledgeHeader = "--- KNOWLEDGE BASE ---"
	promptHistoryHeader   = "--- CONVERSATION HISTORY ---"
	promptQuestionLabel   = "Current User Question: "
)

// PromptBuilder composes the text sent to the model for each question
type PromptBuilder struct {
	Strictness PromptStrictness
	Sentinel   string
}

// NewPromptBuilder returns a PromptBuilder using the given config
func NewPromptBuilder(config *PromptConfig) PromptBuilder {
	return PromptBuilder{
		Strictness: config.Strictness,
		Sentinel:   config.Sentinel,
	}
}

// Build returns the full prompt: instructions, the knowledge text, the
// conversation history (oldest first, one line per message) and the
// question being asked. Nothing is truncated.
func (p PromptBuilder) Build(knowledge string, history []string, question string) string {
	var b strings.Builder
	b.WriteString(p.preamble())
	b.WriteString("\n\n")

	b.WriteString(promptKnowledgeHeader)
	b.WriteString("\n")
	b.WriteString(knowledge)
	b.WriteString("\n\n")

	b.WriteString(promptHistoryHeader)
	b.WriteString("\n")
	b.WriteString(strings.Join(history, "\n"))
	b.WriteString("\n\n")

	b.WriteString(promptQuestionLabel)
	b.WriteString(question)
	return b.String()
}

func (p PromptBuilder) preamble() string {
	sentinel := p.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}

	switch p.Strictness {
	case PromptStrictnessLoose:
		return fmt.Sprintf(
			"You are a helpful and polite assistant for a Discord server. "+
				"Your goal is to answer the user's question using the 'Knowledge Base'.\n\n"+
				"INSTRUCTIONS:\n"+
				"1. Use the 'Conversation History' to understand context.\n"+
				"2. If the answer is found in the Knowledge Base, answer clearly.\n"+
				"3. If the question isn't answered directly, but clearly belongs to a "+
				"general category covered by the Knowledge Base, and you are at least "+
				"60%% confident, answer using that category.\n"+
				"4. Otherwise, reply with exactly '%s'.\n"+
				"5. Do NOT use markdown headers (like # or ##). Just plain text.",
			sentinel,
		)
	default:
		return fmt.Sprintf(
			"You are a helpful and polite assistant for a Discord server. "+
				"Your goal is to answer the user's question based strictly on the 'Knowledge Base'.\n\n"+
				"INSTRUCTIONS:\n"+
				"1. Use the 'Conversation History' to understand context.\n"+
				"2. If the answer is found in the Knowledge Base, answer clearly.\n"+
				"3. If the answer is NOT in the Knowledge Base, reply with exactly '%s'.\n"+
				"4. Do NOT use markdown headers (like # or ##). Just plain text.",
			sentinel,
		)
	}
}

// IsSentinel reports whether the model's answer means "no answer found".
// Only an exact match, after trimming whitespace, counts.
func (p PromptBuilder) IsSentinel(answer string) bool {
	sentinel := p.Sentinel
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	return strings.TrimSpace(answer) == sentinel
}
