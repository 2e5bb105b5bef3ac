package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/vieroc/vieroc-backend/internal/repository"
)

const identitySystemPrompt = `You extract customer identity details from a sales conversation.

Scan the conversation for the customer's name, phone number, email address,
stated preferences and product interests. Leave a field null when it never
appears; never guess.

Respond with a JSON object:
{"name": null, "phone": null, "email": null, "preferences": {}, "interests": []}`

const summarySystemPrompt = `You maintain the rolling summary of a sales conversation.

Produce a concise summary that can replace the raw messages: key facts about
the customer, products discussed, decisions made, and open questions. When an
existing summary is provided, fold it in rather than starting over. Also emit
short tags and the key topics.

Respond with a JSON object:
{"summary": "...", "tags": [], "key_topics": []}`

// CompactionSteps are the two pure functions compaction runs over a batch of
// archived turns: identity extraction and summarization. They share no state
// and are invoked concurrently by the memory manager.
type CompactionSteps struct {
	runner *Runner
}

// NewCompactionSteps creates the compaction step pair
func NewCompactionSteps(runner *Runner) *CompactionSteps {
	return &CompactionSteps{runner: runner}
}

// ExtractIdentity pulls best-effort identity fields out of the turns.
// Safe default: an empty record (nothing is persisted).
func (s *CompactionSteps) ExtractIdentity(ctx context.Context, turns []repository.Turn) Result[IdentityOutput] {
	fallback := IdentityOutput{
		Preferences: map[string]interface{}{},
		Interests:   []string{},
	}

	prompt := fmt.Sprintf(`Extract customer identity details from this conversation:

%s`, renderTurns(turns))

	return runStep(ctx, s.runner, "identity-extraction", identitySystemPrompt, prompt, fallback)
}

// Summarize produces an updated rolling summary over the turns, folding in
// the previous summary when present. Safe default: a "no summary available"
// placeholder with empty tags and topics.
func (s *CompactionSteps) Summarize(ctx context.Context, turns []repository.Turn, oldSummary string) Result[SummaryOutput] {
	fallback := SummaryOutput{
		Summary:   "No summary available",
		Tags:      []string{},
		KeyTopics: []string{},
	}

	previous := "none"
	if oldSummary != "" {
		previous = oldSummary
	}

	prompt := fmt.Sprintf(`Update the conversation summary.

Existing Summary: %s

Conversation:
%s`, previous, renderTurns(turns))

	result := runStep(ctx, s.runner, "summarize", summarySystemPrompt, prompt, fallback)

	if result.Output.Summary == "" {
		result.Output.Summary = fallback.Summary
	}
	if result.Output.Tags == nil {
		result.Output.Tags = []string{}
	}
	if result.Output.KeyTopics == nil {
		result.Output.KeyTopics = []string{}
	}

	return result
}

func renderTurns(turns []repository.Turn) string {
	var b strings.Builder
	for _, turn := range turns {
		b.WriteString(turn.Role)
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}
	return b.String()
}
