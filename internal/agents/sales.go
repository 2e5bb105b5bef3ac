package agents

import (
	"context"
	"fmt"
)

// salesFallbackText is the safe default reply when response generation
// degrades. The guardrail still validates it downstream.
const salesFallbackText = "Xin chào! Tôi có thể giúp gì cho bạn?"

const salesSystemPrompt = `You are a retail sales assistant for a Vietnamese fashion shop.

Write the next reply to the customer. Follow the tone policy, speak the
customer's language, address their requirements, and when a product combo is
selected include its name and exact price. Never invent prices or stock.

Respond with a JSON object:
{"response_text": "...", "next_expected_input": "preference_clarification", "stay_in_sales_node": true}`

// SalesStep generates the assistant's reply text.
type SalesStep struct {
	runner *Runner
}

// NewSalesStep creates the response-generation step
func NewSalesStep(runner *Runner) *SalesStep {
	return &SalesStep{runner: runner}
}

// Run generates the reply. Safe default: a generic greeting asking how to
// help, staying in the current sales node.
func (s *SalesStep) Run(ctx context.Context, input SalesInput) Result[SalesOutput] {
	fallback := SalesOutput{
		ResponseText:      salesFallbackText,
		NextExpectedInput: "preference_clarification",
		StayInSalesNode:   true,
	}

	combo := "none"
	if input.SelectedCombo != nil {
		combo = marshalForPrompt(input.SelectedCombo)
	}

	prompt := fmt.Sprintf(`Write the next reply to the customer:

Customer Label: %s
Sales Stage: %s
Tone Policy: %s
Requirements: %s
Selected Combo: %s
Recent Conversation: %s`,
		input.CustomerLabel, input.SalesNode, input.TonePolicy,
		marshalForPrompt(input.Requirements), combo, marshalForPrompt(input.ShortMemory))

	result := runStep(ctx, s.runner, "sales", salesSystemPrompt, prompt, fallback)

	if result.Output.ResponseText == "" {
		result.Output.ResponseText = salesFallbackText
	}
	if result.Output.NextExpectedInput == "" {
		result.Output.NextExpectedInput = "preference_clarification"
	}

	return result
}
