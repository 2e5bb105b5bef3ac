package agents

import (
	"context"
	"fmt"
)

const offerSystemPrompt = `You are an up-sell/cross-sell analyst for a retail sales assistant.

Given the customer's requirements and the available product combos (with
stock and price), pick at most one combo worth suggesting. Only suggest a
combo that is in stock and plausibly matches the requirements; otherwise
select nothing.

Respond with a JSON object:
{"selected_combo": null, "reason": "...", "response_text": ""}`

// OfferStep selects a candidate offer for up-sell/cross-sell.
type OfferStep struct {
	runner *Runner
}

// NewOfferStep creates the offer-selection step
func NewOfferStep(runner *Runner) *OfferStep {
	return &OfferStep{runner: runner}
}

// Run selects an offer. Safe default: no selection — the orchestrator has a
// deterministic keyword fallback for direct price questions.
func (s *OfferStep) Run(ctx context.Context, input OfferInput) Result[OfferOutput] {
	fallback := OfferOutput{}

	prompt := fmt.Sprintf(`Select a product combo for this customer, if any fits:

Requirements: %s
Available Combos: %s
Recent Conversation: %s
Conversation Summary: %s`,
		marshalForPrompt(input.Requirements), marshalForPrompt(input.AvailableCombos),
		marshalForPrompt(input.ShortMemory), input.SummaryConversation)

	result := runStep(ctx, s.runner, "offer", offerSystemPrompt, prompt, fallback)

	// Only accept a selection that names an actual candidate.
	if result.Output.SelectedCombo != "" {
		known := false
		for _, combo := range input.AvailableCombos {
			if combo.ComboID == result.Output.SelectedCombo {
				known = true
				break
			}
		}
		if !known {
			result.Output.SelectedCombo = ""
		}
	}

	return result
}
