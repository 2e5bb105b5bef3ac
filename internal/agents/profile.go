package agents

import (
	"context"
	"fmt"
)

const profileSystemPrompt = `You are a customer profiler for a retail sales assistant.

Given a customer's purchase history, assign one of the provided labels and a
priority score (higher means more sales attention).

Respond with a JSON object:
{"customer_label": "...", "confidence": 0.0, "priority_score": 0}`

// DefaultCustomerLabels is the label set used when a shop has no custom
// segmentation configured.
func DefaultCustomerLabels() []string {
	return []string{"VIP", "tiềm năng", "bình thường", "chí tôn"}
}

// ProfileStep assigns a customer segment label.
type ProfileStep struct {
	runner *Runner
}

// NewProfileStep creates the customer-profiling step
func NewProfileStep(runner *Runner) *ProfileStep {
	return &ProfileStep{runner: runner}
}

// Run profiles the customer. Safe default: the ordinary-customer label with
// zero confidence and priority.
func (s *ProfileStep) Run(ctx context.Context, input ProfileInput) Result[ProfileOutput] {
	fallback := ProfileOutput{
		CustomerLabel: "bình thường",
		Confidence:    0,
		PriorityScore: 0,
	}

	prompt := fmt.Sprintf(`Profile this customer:

User ID: %s
History: %s
Available Labels: %s`,
		input.UserID, marshalForPrompt(input.HistoricalData), marshalForPrompt(input.LabelDefinitions))

	result := runStep(ctx, s.runner, "profile", profileSystemPrompt, prompt, fallback)

	if result.Output.CustomerLabel == "" {
		result.Output.CustomerLabel = "bình thường"
	}
	if result.Output.PriorityScore < 0 {
		result.Output.PriorityScore = 0
	}
	result.Output.Confidence = clamp01(result.Output.Confidence)

	return result
}
