package agents

import (
	"context"
	"fmt"
)

const guardrailSystemPrompt = `You are a content guardrail for a retail sales assistant.

Validate the candidate reply before it is sent to the customer:
- reject content that is unsafe, misleading, or makes promises the shop cannot keep
- if the reply only needs small fixes, approve it with a corrected modified_text
- if product data is provided, prices and stock in the reply must match it;
  set modified_text to null or a safe alternative when they do not

Respond with a JSON object:
{"approved": true, "modified_text": null, "sales_doublecheck": false, "reason_recheck": null}`

// GuardrailStep validates a generated response before delivery.
type GuardrailStep struct {
	runner *Runner
}

// NewGuardrailStep creates the guardrail validation step
func NewGuardrailStep(runner *Runner) *GuardrailStep {
	return &GuardrailStep{runner: runner}
}

// Run validates the response. Safe default: approve unmodified but flag for
// a sales double-check — blocking delivery on a guardrail outage would
// silence the assistant, which is the one outcome the pipeline forbids.
func (s *GuardrailStep) Run(ctx context.Context, input GuardrailInput) Result[GuardrailOutput] {
	fallback := GuardrailOutput{
		Approved:         true,
		SalesDoublecheck: true,
		ReasonRecheck:    "unable to validate response, flagging for review",
	}

	prompt := fmt.Sprintf(`Validate this candidate reply:

Reply: %s
Product Data: %s`, input.ResponseText, marshalForPrompt(input.ProductData))

	return runStep(ctx, s.runner, "guardrail", guardrailSystemPrompt, prompt, fallback)
}
