package agents

import (
	"context"
	"fmt"
)

const stageSystemPrompt = `You are a sales-stage classifier for a retail sales assistant.

Given the clarified intent and the sales graph, classify which stage the
conversation is currently in and which stages may come next.

Respond with a JSON object:
{"current_sales_node": "...", "allowed_next_nodes": [], "reason": "...", "confidence": 0.0}`

// StageStep classifies the conversation's position in the sales graph.
type StageStep struct {
	runner *Runner
}

// NewStageStep creates the stage-classification step
func NewStageStep(runner *Runner) *StageStep {
	return &StageStep{runner: runner}
}

// Run classifies the stage. Safe default: stay in the current node with all
// graph nodes allowed next, zero confidence.
func (s *StageStep) Run(ctx context.Context, input StageInput) Result[StageOutput] {
	fallback := StageOutput{
		CurrentSalesNode: input.SalesGraph.CurrentNode,
		AllowedNextNodes: input.SalesGraph.Nodes,
		Confidence:       0,
	}

	prompt := fmt.Sprintf(`Classify the sales stage:

Intent: %s
Sales Graph: %s`, input.CleanIntentText, marshalForPrompt(input.SalesGraph))

	result := runStep(ctx, s.runner, "stage", stageSystemPrompt, prompt, fallback)

	if result.Output.CurrentSalesNode == "" {
		result.Output.CurrentSalesNode = input.SalesGraph.CurrentNode
	}
	if result.Output.AllowedNextNodes == nil {
		result.Output.AllowedNextNodes = input.SalesGraph.Nodes
	}
	result.Output.Confidence = clamp01(result.Output.Confidence)

	return result
}
