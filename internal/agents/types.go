// Package agents contains the LLM-backed analysis steps of the sales
// pipeline. Every step has the same contract: typed input in, structurally
// valid typed output out. A step never returns an error to its caller — on
// any internal failure it produces its documented safe default and tags the
// result as degraded so callers can tell a confident result from a fallback.
package agents

import "github.com/vieroc/vieroc-backend/internal/models"

// Result wraps a step output with a degradation tag. Degraded results carry
// the documented safe default for the step plus the reason the real output
// could not be produced.
type Result[T any] struct {
	Output   T
	Degraded bool
	Reason   string
}

func ok[T any](output T) Result[T] {
	return Result[T]{Output: output}
}

func degraded[T any](output T, reason string) Result[T] {
	return Result[T]{Output: output, Degraded: true, Reason: reason}
}

// ShortTurn is the compact view of a conversation turn handed to steps that
// take recent history.
type ShortTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// IntentInput is the input for the intent-extraction step.
type IntentInput struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	RawMessage string `json:"raw_message"`
	Language   string `json:"language"`
}

// IntentOutput is the intent-extraction result.
type IntentOutput struct {
	UserID          string  `json:"user_id"`
	SessionName     string  `json:"session_name"`
	CleanIntentText string  `json:"clean_intent_text"`
	IntentCode      string  `json:"intent_code"`
	Confidence      float64 `json:"confidence"`
}

// PolicyFlags mark policy concerns detected in a message.
type PolicyFlags struct {
	Legal         bool `json:"legal"`
	Medical       bool `json:"medical"`
	FinancialRisk bool `json:"financial_risk"`
	HighTechnical bool `json:"high_technical"`
}

// Any reports whether any policy flag is set.
func (f PolicyFlags) Any() bool {
	return f.Legal || f.Medical || f.FinancialRisk || f.HighTechnical
}

// EmotionScore holds per-emotion intensities in [0,1].
type EmotionScore struct {
	Frustration float64 `json:"frustration"`
	Anger       float64 `json:"anger"`
	Sadness     float64 `json:"sadness"`
	Joy         float64 `json:"joy"`
	Fear        float64 `json:"fear"`
	Neutral     float64 `json:"neutral"`
}

// Risk levels reported by the handoff analysis.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// HandoffInput is the input for the handoff/risk analysis step.
type HandoffInput struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	RawMessage string `json:"raw_message"`
	Language   string `json:"language"`
}

// HandoffOutput is the handoff/risk analysis result.
type HandoffOutput struct {
	UserID          string       `json:"user_id"`
	PolicyFlags     PolicyFlags  `json:"policy_flags"`
	EmotionScore    EmotionScore `json:"emotion_score"`
	HandoffRequired bool         `json:"handoff_required"`
	HandoffReason   string       `json:"handoff_reason"`
	RiskLevel       string       `json:"risk_level"`
	Confidence      float64      `json:"confidence"`
}

// Routing tasks.
const (
	TaskSales       = "sales_task"
	TaskHumanHandle = "human_handle"
)

// RouteInput is the combined phase-1 output fed to the routing step.
type RouteInput struct {
	UserID          string       `json:"user_id"`
	CleanIntentText string       `json:"clean_intent_text"`
	IntentCode      string       `json:"intent_code"`
	PolicyFlags     PolicyFlags  `json:"policy_flags"`
	EmotionScore    EmotionScore `json:"emotion_score"`
	HandoffRequired bool         `json:"handoff_required"`
	HandoffReason   string       `json:"handoff_reason"`
	RiskLevel       string       `json:"risk_level"`
}

// RouteOutput is the routing step's judgment. It is a hint: the orchestrator
// applies deterministic override rules on top of it.
type RouteOutput struct {
	UserID          string       `json:"user_id"`
	Task            string       `json:"task"`
	CleanIntentText string       `json:"clean_intent_text"`
	IntentCode      string       `json:"intent_code"`
	PolicyFlags     PolicyFlags  `json:"policy_flags"`
	EmotionScore    EmotionScore `json:"emotion_score"`
	HandoffRequired bool         `json:"handoff_required"`
	HandoffReason   string       `json:"handoff_reason"`
	RiskLevel       string       `json:"risk_level"`
	TaskReason      string       `json:"task_reason"`
}

// RequirementInput is the input for requirement prediction.
type RequirementInput struct {
	LatestMessage string      `json:"latest_message"`
	ShortMemory   []ShortTurn `json:"short_memory"`
	SalesNode     string      `json:"sales_node"`
}

// RequirementOutput is the requirement-prediction result.
type RequirementOutput struct {
	ExplicitRequirements []string `json:"explicit_requirements"`
	ImplicitRequirements []string `json:"implicit_requirements"`
	ServiceType          string   `json:"service_type"`
}

// SalesGraph describes the sales-stage graph the conversation moves through.
type SalesGraph struct {
	Nodes       []string `json:"nodes"`
	CurrentNode string   `json:"current_node"`
}

// DefaultSalesNodes is the stage graph used when a shop has no custom
// pipeline configured.
func DefaultSalesNodes() []string {
	return []string{
		"greeting",
		"need_discovery",
		"solution_matching",
		"price_discussion",
		"objection_handling",
		"closing",
	}
}

// StageInput is the input for sales-stage classification.
type StageInput struct {
	CleanIntentText string     `json:"clean_intent_text"`
	SalesGraph      SalesGraph `json:"sales_graph"`
}

// StageOutput is the stage-classification result.
type StageOutput struct {
	CurrentSalesNode string   `json:"current_sales_node"`
	AllowedNextNodes []string `json:"allowed_next_nodes"`
	Reason           string   `json:"reason"`
	Confidence       float64  `json:"confidence"`
}

// HistoricalData summarizes a customer's purchase history.
type HistoricalData struct {
	TotalOrders      int     `json:"total_orders"`
	TotalSpend       float64 `json:"total_spend"`
	LastPurchaseDays int     `json:"last_purchase_days"`
}

// ProfileInput is the input for customer profiling.
type ProfileInput struct {
	UserID           string         `json:"user_id"`
	HistoricalData   HistoricalData `json:"historical_data"`
	LabelDefinitions []string       `json:"label_definitions"`
}

// ProfileOutput is the customer-profiling result.
type ProfileOutput struct {
	CustomerLabel string  `json:"customer_label"`
	Confidence    float64 `json:"confidence"`
	PriorityScore int     `json:"priority_score"`
}

// Requirements is the explicit/implicit requirement pair handed to the offer
// and response steps.
type Requirements struct {
	Explicit []string `json:"explicit"`
	Implicit []string `json:"implicit"`
}

// OfferInput is the input for up-sell/cross-sell offer selection.
type OfferInput struct {
	Requirements        Requirements   `json:"requirements"`
	AvailableCombos     []models.Offer `json:"available_combos"`
	ShortMemory         []ShortTurn    `json:"short_memory"`
	SummaryConversation string         `json:"summary_conversation,omitempty"`
}

// OfferOutput is the offer-selection result. SelectedCombo is empty when no
// offer matched.
type OfferOutput struct {
	SelectedCombo string `json:"selected_combo"`
	Reason        string `json:"reason"`
	ResponseText  string `json:"response_text"`
}

// Tone policies for response generation.
const (
	ToneProfessionalWarm = "professional_warm"
	ToneConsultative     = "consultative"
)

// SalesInput is the input for sales-response generation.
type SalesInput struct {
	CustomerLabel string        `json:"customer_label"`
	SalesNode     string        `json:"sales_node"`
	Requirements  Requirements  `json:"requirements"`
	SelectedCombo *models.Offer `json:"selected_combo,omitempty"`
	TonePolicy    string        `json:"tone_policy"`
	ShortMemory   []ShortTurn   `json:"short_memory"`
}

// SalesOutput is the generated assistant response.
type SalesOutput struct {
	ResponseText      string `json:"response_text"`
	NextExpectedInput string `json:"next_expected_input"`
	StayInSalesNode   bool   `json:"stay_in_sales_node"`
}

// GuardrailInput is the input for content validation.
type GuardrailInput struct {
	ResponseText string         `json:"response_text"`
	ProductData  []models.Offer `json:"product_data,omitempty"`
}

// GuardrailOutput is the validation verdict: approve as-is, approve with a
// replacement, or reject.
type GuardrailOutput struct {
	Approved         bool   `json:"approved"`
	ModifiedText     string `json:"modified_text"`
	SalesDoublecheck bool   `json:"sales_doublecheck"`
	ReasonRecheck    string `json:"reason_recheck"`
}

// IdentityOutput is the best-effort identity record extracted during
// compaction.
type IdentityOutput struct {
	Name        string                 `json:"name"`
	Phone       string                 `json:"phone"`
	Email       string                 `json:"email"`
	Preferences map[string]interface{} `json:"preferences"`
	Interests   []string               `json:"interests"`
}

// Empty reports whether extraction found nothing worth persisting.
func (o IdentityOutput) Empty() bool {
	return o.Name == "" && o.Phone == "" && o.Email == "" && len(o.Preferences) == 0
}

// SummaryOutput is the rolling conversation summary produced by compaction.
type SummaryOutput struct {
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	KeyTopics []string `json:"key_topics"`
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampEmotions(e *EmotionScore) {
	e.Frustration = clamp01(e.Frustration)
	e.Anger = clamp01(e.Anger)
	e.Sadness = clamp01(e.Sadness)
	e.Joy = clamp01(e.Joy)
	e.Fear = clamp01(e.Fear)
	e.Neutral = clamp01(e.Neutral)
}
