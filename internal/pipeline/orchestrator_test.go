package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vieroc/vieroc-backend/internal/agents"
	"github.com/vieroc/vieroc-backend/internal/models"
)

// stepFunc adapts a function to the step interfaces.
type stepFunc[I any, O any] func(ctx context.Context, in I) agents.Result[O]

func (f stepFunc[I, O]) Run(ctx context.Context, in I) agents.Result[O] {
	return f(ctx, in)
}

func fixed[I any, O any](out O) stepFunc[I, O] {
	return func(_ context.Context, _ I) agents.Result[O] {
		return agents.Result[O]{Output: out}
	}
}

type fakeMemory struct {
	turns         []models.Turn
	scratch       map[string]interface{}
	summary       string
	handoffReason string
	handoffTrace  map[string]interface{}
}

func (m *fakeMemory) ConversationID() string { return "conv-1" }

func (m *fakeMemory) ReceiveInput(_ context.Context, turn models.Turn) error {
	m.turns = append(m.turns, turn)
	return nil
}

func (m *fakeMemory) RecentTurns(_ context.Context, n int) ([]models.Turn, error) {
	if len(m.turns) <= n {
		return m.turns, nil
	}
	return m.turns[len(m.turns)-n:], nil
}

func (m *fakeMemory) Summary(_ context.Context) (string, error) {
	return m.summary, nil
}

func (m *fakeMemory) SetScratchField(_ context.Context, field string, value interface{}) error {
	if m.scratch == nil {
		m.scratch = map[string]interface{}{}
	}
	m.scratch[field] = value
	return nil
}

func (m *fakeMemory) RecordHandoff(_ context.Context, reason string, trace map[string]interface{}) error {
	m.handoffReason = reason
	m.handoffTrace = trace
	return nil
}

type fixedOffers struct{ offers []models.Offer }

func (f *fixedOffers) Offers(_ context.Context) []models.Offer { return f.offers }

func demoCatalog() *fixedOffers {
	return &fixedOffers{offers: []models.Offer{
		{ComboID: "DEMO-01", Products: []string{"áo thun basic"}, Stock: 10, Price: 199000},
		{ComboID: "DEMO-02", Products: []string{"áo sơ mi"}, Stock: 5, Price: 349000},
		{ComboID: "DEMO-03", Products: []string{"áo hoodie"}, Stock: 12, Price: 499000},
	}}
}

// happySteps returns a step set for a calm product inquiry. The sales step
// quotes the selected combo's price so end-to-end tests can assert on it.
func happySteps() Steps {
	return Steps{
		Intent: fixed[agents.IntentInput](agents.IntentOutput{
			UserID:          "u1",
			CleanIntentText: "hỏi giá áo hoodie",
			IntentCode:      "product_inquiry",
			Confidence:      0.9,
		}),
		Handoff: fixed[agents.HandoffInput](agents.HandoffOutput{
			UserID:    "u1",
			RiskLevel: agents.RiskLow,
			EmotionScore: agents.EmotionScore{
				Neutral: 0.8,
			},
			Confidence: 0.9,
		}),
		Route: fixed[agents.RouteInput](agents.RouteOutput{
			Task:       agents.TaskSales,
			TaskReason: "price question",
		}),
		Requirement: fixed[agents.RequirementInput](agents.RequirementOutput{
			ExplicitRequirements: []string{"áo hoodie"},
			ServiceType:          "product_inquiry",
		}),
		Stage: fixed[agents.StageInput](agents.StageOutput{
			CurrentSalesNode: "price_discussion",
			Confidence:       0.8,
		}),
		Profile: fixed[agents.ProfileInput](agents.ProfileOutput{
			CustomerLabel: "bình thường",
			Confidence:    0.7,
		}),
		Offer: fixed[agents.OfferInput](agents.OfferOutput{}),
		Sales: stepFunc[agents.SalesInput, agents.SalesOutput](func(_ context.Context, in agents.SalesInput) agents.Result[agents.SalesOutput] {
			text := "Dạ, shop có thể giúp gì cho anh/chị ạ?"
			if in.SelectedCombo != nil {
				text = fmt.Sprintf("Dạ, %s giá %.0f₫, còn %d chiếc ạ.",
					in.SelectedCombo.Products[0], in.SelectedCombo.Price, in.SelectedCombo.Stock)
			}
			return agents.Result[agents.SalesOutput]{Output: agents.SalesOutput{ResponseText: text}}
		}),
		Guardrail: fixed[agents.GuardrailInput](agents.GuardrailOutput{Approved: true}),
	}
}

func run(t *testing.T, steps Steps, message string) (*Response, *fakeMemory) {
	t.Helper()
	mem := &fakeMemory{}
	o := NewOrchestrator(steps, demoCatalog(), nil)
	resp := o.HandleMessage(context.Background(), mem, Request{
		ConversationID: "conv-1",
		UserID:         "u1",
		Message:        message,
		Language:       "vi",
	})
	require.NotNil(t, resp)
	return resp, mem
}

func TestPriceQuestionMatchesOfferByKeywordFallback(t *testing.T) {
	resp, mem := run(t, happySteps(), "giá áo hoodie bao nhiêu")

	assert.Equal(t, agents.TaskSales, resp.Task)
	assert.False(t, resp.Escalated)
	assert.Equal(t, "DEMO-03", resp.SelectedCombo)
	assert.NotEmpty(t, resp.Text)
	assert.Contains(t, resp.Text, "499000")
	assert.Equal(t, "price_discussion", resp.SalesNode)

	// User turn in, assistant turn out.
	require.Len(t, mem.turns, 2)
	assert.Equal(t, models.RoleUser, mem.turns[0].Role)
	assert.Equal(t, models.RoleAssistant, mem.turns[1].Role)
	assert.Equal(t, resp.Text, mem.turns[1].Content)
}

func TestOfferFallbackOnlyFiresOnPriceKeywords(t *testing.T) {
	resp, _ := run(t, happySteps(), "cho mình xem vài mẫu đẹp")

	assert.Empty(t, resp.SelectedCombo)
}

func TestOfferFallbackMatchesByWordOverlap(t *testing.T) {
	// No full product name in the message; "hoodie" alone wins the overlap.
	resp, _ := run(t, happySteps(), "hoodie còn hàng không shop")

	assert.Equal(t, "DEMO-03", resp.SelectedCombo)
}

func TestStepSelectionWinsOverFallback(t *testing.T) {
	steps := happySteps()
	steps.Offer = fixed[agents.OfferInput](agents.OfferOutput{SelectedCombo: "DEMO-01"})

	resp, _ := run(t, steps, "giá áo hoodie bao nhiêu")

	assert.Equal(t, "DEMO-01", resp.SelectedCombo)
}

func TestHandoffRequiredAlwaysEscalates(t *testing.T) {
	steps := happySteps()
	steps.Handoff = fixed[agents.HandoffInput](agents.HandoffOutput{
		HandoffRequired: true,
		HandoffReason:   "khách yêu cầu gặp nhân viên",
		RiskLevel:       agents.RiskLow,
	})
	// The routing step disagrees; the deterministic rule must win.
	steps.Route = fixed[agents.RouteInput](agents.RouteOutput{Task: agents.TaskSales})

	resp, mem := run(t, steps, "tôi muốn gặp người thật")

	assert.Equal(t, agents.TaskHumanHandle, resp.Task)
	assert.True(t, resp.Escalated)
	assert.NotEmpty(t, resp.Text)
	assert.True(t, len(resp.Text) > len(escalationNotice))
	assert.True(t, strings.HasPrefix(resp.Text, escalationNotice), "notice leads the reply")

	assert.Equal(t, "khách yêu cầu gặp nhân viên", mem.handoffReason)
	assert.Equal(t, agents.TaskHumanHandle, mem.handoffTrace["task"])
}

func TestEscalationTriggers(t *testing.T) {
	tests := []struct {
		name     string
		handoff  agents.HandoffOutput
		escalate bool
	}{
		{"low risk clean", agents.HandoffOutput{RiskLevel: agents.RiskLow}, false},
		{"medium risk", agents.HandoffOutput{RiskLevel: agents.RiskMedium}, true},
		{"high risk", agents.HandoffOutput{RiskLevel: agents.RiskHigh}, true},
		{"handoff required", agents.HandoffOutput{RiskLevel: agents.RiskLow, HandoffRequired: true}, true},
		{"policy flag", agents.HandoffOutput{RiskLevel: agents.RiskLow, PolicyFlags: agents.PolicyFlags{Medical: true}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := happySteps()
			steps.Handoff = fixed[agents.HandoffInput](tt.handoff)

			resp, _ := run(t, steps, "xin chào")

			assert.Equal(t, tt.escalate, resp.Escalated)
		})
	}
}

func TestEscalatedConversationStillGetsSalesReply(t *testing.T) {
	steps := happySteps()
	steps.Handoff = fixed[agents.HandoffInput](agents.HandoffOutput{
		HandoffRequired: true,
		HandoffReason:   "khách bức xúc",
		RiskLevel:       agents.RiskHigh,
	})

	resp, mem := run(t, steps, "giá áo hoodie bao nhiêu")

	// human_handle flags the conversation, it does not stop it: the sales
	// flow still ran and the reply still quotes the offer.
	assert.True(t, resp.Escalated)
	assert.Contains(t, resp.Text, "499000")
	require.Len(t, mem.turns, 2)
}

func TestGuardrailRejectYieldsFixedFallback(t *testing.T) {
	steps := happySteps()
	steps.Guardrail = fixed[agents.GuardrailInput](agents.GuardrailOutput{
		Approved:      false,
		ReasonRecheck: "price mismatch",
	})

	resp, mem := run(t, steps, "giá áo hoodie bao nhiêu")

	assert.Equal(t, rejectionFallback, resp.Text)
	assert.Equal(t, rejectionFallback, mem.turns[1].Content)
}

func TestGuardrailModifiedTextReplacesResponse(t *testing.T) {
	steps := happySteps()
	steps.Guardrail = fixed[agents.GuardrailInput](agents.GuardrailOutput{
		Approved:     true,
		ModifiedText: "Dạ, áo hoodie giá 499000₫ ạ (đã gồm VAT).",
	})

	resp, _ := run(t, steps, "giá áo hoodie bao nhiêu")

	assert.Equal(t, "Dạ, áo hoodie giá 499000₫ ạ (đã gồm VAT).", resp.Text)
}

func TestEmptyGeneratedTextNeverReachesUser(t *testing.T) {
	steps := happySteps()
	steps.Sales = fixed[agents.SalesInput](agents.SalesOutput{ResponseText: ""})

	resp, _ := run(t, steps, "xin chào")

	assert.Equal(t, rejectionFallback, resp.Text)
}

func TestDegradedStepsAreReportedNotFatal(t *testing.T) {
	steps := happySteps()
	steps.Offer = stepFunc[agents.OfferInput, agents.OfferOutput](func(_ context.Context, _ agents.OfferInput) agents.Result[agents.OfferOutput] {
		return agents.Result[agents.OfferOutput]{Degraded: true, Reason: "llm call failed"}
	})

	resp, _ := run(t, steps, "giá áo hoodie bao nhiêu")

	assert.Contains(t, resp.DegradedSteps, "offer")
	assert.NotEmpty(t, resp.Text)
	// The keyword fallback still found the offer.
	assert.Equal(t, "DEMO-03", resp.SelectedCombo)
}

func TestConsultativeToneOnElevatedRisk(t *testing.T) {
	var seenTone string
	steps := happySteps()
	steps.Handoff = fixed[agents.HandoffInput](agents.HandoffOutput{RiskLevel: agents.RiskMedium})
	steps.Sales = stepFunc[agents.SalesInput, agents.SalesOutput](func(_ context.Context, in agents.SalesInput) agents.Result[agents.SalesOutput] {
		seenTone = in.TonePolicy
		return agents.Result[agents.SalesOutput]{Output: agents.SalesOutput{ResponseText: "Dạ vâng ạ."}}
	})

	run(t, steps, "sản phẩm này có bền không")

	assert.Equal(t, agents.ToneConsultative, seenTone)
}

func TestTraceFollowsStateMachine(t *testing.T) {
	resp, _ := run(t, happySteps(), "xin chào")
	assert.Equal(t, []string{StateReceived, StateAnalyzed, StateRouted, StateSalesFlow, StateResponded}, resp.Trace)

	steps := happySteps()
	steps.Handoff = fixed[agents.HandoffInput](agents.HandoffOutput{HandoffRequired: true})
	resp, _ = run(t, steps, "xin chào")
	assert.Equal(t, []string{StateReceived, StateAnalyzed, StateRouted, StateEscalated, StateSalesFlow, StateResponded}, resp.Trace)
}

func TestScratchContextUpdatedFromAnalysis(t *testing.T) {
	_, mem := run(t, happySteps(), "giá áo hoodie bao nhiêu")

	entities, ok := mem.scratch["extracted_entities"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "product_inquiry", entities["intent_code"])
	assert.Equal(t, "neutral", mem.scratch["user_mood"])
}
