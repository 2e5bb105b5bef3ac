package agents

import (
	"context"
	"fmt"
)

const requirementSystemPrompt = `You are a customer requirement analyst for a retail sales assistant.

From the latest message and the recent conversation, predict:
1. explicit_requirements: stated or clearly inferred needs (product names, sizes, budgets)
2. implicit_requirements: needs the customer implies but does not state
3. service_type: product_purchase, consultation, support or similar

Respond with a JSON object:
{"explicit_requirements": [], "implicit_requirements": [], "service_type": "consultation"}`

// RequirementStep predicts customer requirements from the conversation.
type RequirementStep struct {
	runner *Runner
}

// NewRequirementStep creates the requirement-prediction step
func NewRequirementStep(runner *Runner) *RequirementStep {
	return &RequirementStep{runner: runner}
}

// Run predicts requirements. Safe default: empty requirement lists, service
// type consultation.
func (s *RequirementStep) Run(ctx context.Context, input RequirementInput) Result[RequirementOutput] {
	fallback := RequirementOutput{
		ExplicitRequirements: []string{},
		ImplicitRequirements: []string{},
		ServiceType:          "consultation",
	}

	prompt := fmt.Sprintf(`Predict the customer's requirements:

Latest Message: %s
Current Sales Stage: %s
Recent Conversation: %s`,
		input.LatestMessage, input.SalesNode, marshalForPrompt(input.ShortMemory))

	result := runStep(ctx, s.runner, "requirement", requirementSystemPrompt, prompt, fallback)

	if result.Output.ExplicitRequirements == nil {
		result.Output.ExplicitRequirements = []string{}
	}
	if result.Output.ImplicitRequirements == nil {
		result.Output.ImplicitRequirements = []string{}
	}
	if result.Output.ServiceType == "" {
		result.Output.ServiceType = "consultation"
	}

	return result
}
