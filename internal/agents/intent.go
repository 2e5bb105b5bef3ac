package agents

import (
	"context"
	"fmt"
)

const intentSystemPrompt = `You are an intent analyst for a retail sales assistant.

Your task is to:
1. Analyze the raw user message and extract the core intent
2. Clean and clarify the intent into a clear, concise statement
3. Classify the intent with an appropriate intent_code
4. Provide a confidence score (0.0 to 1.0)

Common intent codes:
- purchase_consultation: user wants to buy or consult about products
- product_inquiry: user asks about product details, price or availability
- complaint: user has a complaint
- support_request: user needs technical support
- information_request: user asks for general information
- booking: user wants to make a reservation
- cancellation: user wants to cancel something
- feedback: user provides feedback

Respond with a JSON object:
{"user_id": "...", "session_name": "...", "clean_intent_text": "...", "intent_code": "...", "confidence": 0.0}`

// IntentStep extracts and clarifies user intent from a raw message.
type IntentStep struct {
	runner *Runner
}

// NewIntentStep creates the intent-extraction step
func NewIntentStep(runner *Runner) *IntentStep {
	return &IntentStep{runner: runner}
}

// Run analyzes the message. Safe default: the raw message as the intent
// text, intent_code information_request, zero confidence.
func (s *IntentStep) Run(ctx context.Context, input IntentInput) Result[IntentOutput] {
	fallback := IntentOutput{
		UserID:          input.UserID,
		CleanIntentText: input.RawMessage,
		IntentCode:      "information_request",
		Confidence:      0,
	}

	prompt := fmt.Sprintf(`Analyze this user message and extract the intent:

User ID: %s
Session ID: %s
Language: %s
Raw Message: %s`, input.UserID, input.SessionID, input.Language, input.RawMessage)

	result := runStep(ctx, s.runner, "intent", intentSystemPrompt, prompt, fallback)

	result.Output.UserID = input.UserID
	if result.Output.CleanIntentText == "" {
		result.Output.CleanIntentText = input.RawMessage
	}
	if result.Output.IntentCode == "" {
		result.Output.IntentCode = "information_request"
	}
	result.Output.Confidence = clamp01(result.Output.Confidence)

	return result
}
