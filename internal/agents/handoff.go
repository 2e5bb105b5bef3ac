package agents

import (
	"context"
	"fmt"
)

const handoffSystemPrompt = `You are a risk and escalation analyst for a retail sales assistant.

Analyze the user message for:
1. Policy concerns: legal, medical, financial_risk, high_technical
2. Emotional state: frustration, anger, sadness, joy, fear, neutral (each 0.0-1.0)
3. Whether a human handoff is required (abusive language, complex complaints,
   requests the bot must not handle)
4. Overall risk level: low, medium or high

Respond with a JSON object:
{"user_id": "...",
 "policy_flags": {"legal": false, "medical": false, "financial_risk": false, "high_technical": false},
 "emotion_score": {"frustration": 0.0, "anger": 0.0, "sadness": 0.0, "joy": 0.0, "fear": 0.0, "neutral": 1.0},
 "handoff_required": false, "handoff_reason": null, "risk_level": "low", "confidence": 0.0}`

// HandoffStep analyzes a message for escalation signals.
type HandoffStep struct {
	runner *Runner
}

// NewHandoffStep creates the handoff/risk analysis step
func NewHandoffStep(runner *Runner) *HandoffStep {
	return &HandoffStep{runner: runner}
}

// Run analyzes the message. Safe default: no flags, fully neutral emotion,
// no handoff, low risk, zero confidence.
func (s *HandoffStep) Run(ctx context.Context, input HandoffInput) Result[HandoffOutput] {
	fallback := HandoffOutput{
		UserID:       input.UserID,
		EmotionScore: EmotionScore{Neutral: 1.0},
		RiskLevel:    RiskLow,
		Confidence:   0,
	}

	prompt := fmt.Sprintf(`Analyze this user message for risk and handoff signals:

User ID: %s
Session ID: %s
Language: %s
Raw Message: %s`, input.UserID, input.SessionID, input.Language, input.RawMessage)

	result := runStep(ctx, s.runner, "handoff", handoffSystemPrompt, prompt, fallback)

	result.Output.UserID = input.UserID
	if !validRiskLevel(result.Output.RiskLevel) {
		result.Output.RiskLevel = RiskLow
	}
	result.Output.Confidence = clamp01(result.Output.Confidence)
	clampEmotions(&result.Output.EmotionScore)

	return result
}

func validRiskLevel(level string) bool {
	return level == RiskLow || level == RiskMedium || level == RiskHigh
}
