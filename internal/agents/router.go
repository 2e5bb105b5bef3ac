package agents

import (
	"context"
	"fmt"
)

const routerSystemPrompt = `You are the task router for a retail sales assistant.

Given the extracted intent and the risk/handoff analysis, decide which task
should handle the message:
- "sales_task": the normal sales flow can answer
- "human_handle": the conversation should be flagged for a human agent

Respond with a JSON object:
{"user_id": "...", "task": "sales_task", "clean_intent_text": "...", "intent_code": "...",
 "policy_flags": {...}, "emotion_score": {...}, "handoff_required": false,
 "handoff_reason": null, "risk_level": "low", "task_reason": "..."}`

// RouteStep decides the task for a message. Its output is a hint only: the
// orchestrator applies deterministic override rules (handoff required, risk
// level, policy flags) on top of whatever it returns.
type RouteStep struct {
	runner *Runner
}

// NewRouteStep creates the routing step
func NewRouteStep(runner *Runner) *RouteStep {
	return &RouteStep{runner: runner}
}

// Run routes the message. Safe default: human_handle when the analysis asked
// for a handoff, sales_task otherwise — the same rule the orchestrator
// enforces deterministically.
func (s *RouteStep) Run(ctx context.Context, input RouteInput) Result[RouteOutput] {
	fallbackTask := TaskSales
	if input.HandoffRequired {
		fallbackTask = TaskHumanHandle
	}
	fallback := RouteOutput{
		UserID:          input.UserID,
		Task:            fallbackTask,
		CleanIntentText: input.CleanIntentText,
		IntentCode:      input.IntentCode,
		PolicyFlags:     input.PolicyFlags,
		EmotionScore:    input.EmotionScore,
		HandoffRequired: input.HandoffRequired,
		HandoffReason:   input.HandoffReason,
		RiskLevel:       input.RiskLevel,
		TaskReason:      "fallback task selection",
	}

	prompt := fmt.Sprintf(`Analyze the following intent and handoff analysis to determine the appropriate task:

User ID: %s
Intent: %s
Intent Code: %s
Handoff Required: %t
Risk Level: %s
Policy Flags: %s
Emotion Scores: %s
Handoff Reason: %s

Determine the task: "sales_task" or "human_handle" and provide reasoning.`,
		input.UserID, input.CleanIntentText, input.IntentCode, input.HandoffRequired,
		input.RiskLevel, marshalForPrompt(input.PolicyFlags), marshalForPrompt(input.EmotionScore),
		input.HandoffReason)

	result := runStep(ctx, s.runner, "route", routerSystemPrompt, prompt, fallback)

	// Carry the analysis through unchanged; the step only contributes the
	// task and its reasoning.
	result.Output.UserID = input.UserID
	result.Output.CleanIntentText = input.CleanIntentText
	result.Output.IntentCode = input.IntentCode
	result.Output.PolicyFlags = input.PolicyFlags
	result.Output.EmotionScore = input.EmotionScore
	result.Output.HandoffRequired = input.HandoffRequired
	result.Output.HandoffReason = input.HandoffReason
	result.Output.RiskLevel = input.RiskLevel
	if result.Output.Task != TaskSales && result.Output.Task != TaskHumanHandle {
		result.Output.Task = fallbackTask
	}

	return result
}
