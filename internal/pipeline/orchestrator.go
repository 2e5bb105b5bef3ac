// Package pipeline sequences the analysis steps into the multi-phase sales
// pipeline: concurrent intent and risk analysis, deterministic routing, the
// sales-flow dependency chain, guardrail validation, and the memory
// write-back. Whatever fails along the way, the caller always receives a
// non-empty response.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vieroc/vieroc-backend/internal/agents"
	"github.com/vieroc/vieroc-backend/internal/models"
)

// Pipeline states, in transition order.
const (
	StateReceived  = "received"
	StateAnalyzed  = "analyzed"
	StateRouted    = "routed"
	StateSalesFlow = "sales_flow"
	StateEscalated = "escalated"
	StateResponded = "responded"
)

// rejectionFallback is the fixed safe reply delivered verbatim when the
// guardrail rejects the generated response.
const rejectionFallback = "Mình chưa thể trả lời chắc chắn nội dung này ngay lúc này. Mình sẽ chuyển cho nhân viên hỗ trợ tiếp nhé."

// escalationNotice is prepended to the reply when the conversation is
// flagged for human follow-up. Escalation never silences the assistant.
const escalationNotice = "(Mình đã ghi nhận để nhân viên hỗ trợ thêm)"

// shortMemoryTurns is how many recent turns the analysis steps see.
const shortMemoryTurns = 10

// Memory is the per-conversation memory manager the pipeline reads from and
// writes back to. Implemented by memory.Manager.
type Memory interface {
	ConversationID() string
	ReceiveInput(ctx context.Context, turn models.Turn) error
	RecentTurns(ctx context.Context, n int) ([]models.Turn, error)
	Summary(ctx context.Context) (string, error)
	SetScratchField(ctx context.Context, field string, value interface{}) error
	RecordHandoff(ctx context.Context, reason string, trace map[string]interface{}) error
}

// OfferSource provides the candidate offers for the sales flow.
// Implemented by catalog.Source.
type OfferSource interface {
	Offers(ctx context.Context) []models.Offer
}

// Step interfaces, one per analysis step, so the orchestrator only depends
// on the contract: typed input in, tagged result out, never an error.
type (
	IntentAnalyzer interface {
		Run(ctx context.Context, in agents.IntentInput) agents.Result[agents.IntentOutput]
	}
	HandoffAnalyzer interface {
		Run(ctx context.Context, in agents.HandoffInput) agents.Result[agents.HandoffOutput]
	}
	Router interface {
		Run(ctx context.Context, in agents.RouteInput) agents.Result[agents.RouteOutput]
	}
	RequirementPredictor interface {
		Run(ctx context.Context, in agents.RequirementInput) agents.Result[agents.RequirementOutput]
	}
	StageClassifier interface {
		Run(ctx context.Context, in agents.StageInput) agents.Result[agents.StageOutput]
	}
	Profiler interface {
		Run(ctx context.Context, in agents.ProfileInput) agents.Result[agents.ProfileOutput]
	}
	OfferSelector interface {
		Run(ctx context.Context, in agents.OfferInput) agents.Result[agents.OfferOutput]
	}
	ResponseGenerator interface {
		Run(ctx context.Context, in agents.SalesInput) agents.Result[agents.SalesOutput]
	}
	Guardrail interface {
		Run(ctx context.Context, in agents.GuardrailInput) agents.Result[agents.GuardrailOutput]
	}
)

// Steps bundles the analysis steps the orchestrator sequences.
type Steps struct {
	Intent      IntentAnalyzer
	Handoff     HandoffAnalyzer
	Route       Router
	Requirement RequirementPredictor
	Stage       StageClassifier
	Profile     Profiler
	Offer       OfferSelector
	Sales       ResponseGenerator
	Guardrail   Guardrail
}

// Request is one inbound user message.
type Request struct {
	ConversationID string
	UserID         string
	Message        string
	Language       string
}

// Response is the pipeline's terminal output for one message.
type Response struct {
	Text          string   `json:"text"`
	Task          string   `json:"task"`
	IntentCode    string   `json:"intent_code"`
	SalesNode     string   `json:"sales_node"`
	SelectedCombo string   `json:"selected_combo,omitempty"`
	Escalated     bool     `json:"escalated"`
	DegradedSteps []string `json:"degraded_steps,omitempty"`
	Trace         []string `json:"trace"`
}

// Orchestrator drives the pipeline state machine over one message at a time.
type Orchestrator struct {
	steps   Steps
	catalog OfferSource
	logger  *logrus.Logger
}

// NewOrchestrator creates the pipeline orchestrator
func NewOrchestrator(steps Steps, catalog OfferSource, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{steps: steps, catalog: catalog, logger: logger}
}

// HandleMessage runs one full pipeline pass: Received → Analyzed → Routed →
// SalesFlow/Escalated → Responded. The caller must hold the conversation's
// single-writer lock for the duration of the call.
func (o *Orchestrator) HandleMessage(ctx context.Context, mem Memory, req Request) *Response {
	run := &pipelineRun{orchestrator: o, memory: mem, request: req}

	run.receive(ctx)
	run.analyze(ctx)
	run.route(ctx)
	run.salesFlow(ctx)
	run.respond(ctx)

	return run.response()
}

// pipelineRun carries the intermediate state of one pass.
type pipelineRun struct {
	orchestrator *Orchestrator
	memory       Memory
	request      Request

	trace    []string
	degraded []string

	shortMemory []agents.ShortTurn
	intent      agents.IntentOutput
	handoff     agents.HandoffOutput
	task        string
	taskReason  string

	requirements agents.Requirements
	salesNode    string
	profile      agents.ProfileOutput
	offers       []models.Offer
	selected     *models.Offer

	finalText string
}

func (r *pipelineRun) log() *logrus.Logger { return r.orchestrator.logger }

func (r *pipelineRun) enter(state string) {
	r.trace = append(r.trace, state)
}

func (r *pipelineRun) check(step string, degraded bool, reason string) {
	if !degraded {
		return
	}
	r.degraded = append(r.degraded, step)
	r.log().WithFields(logrus.Fields{
		"conversation_id": r.memory.ConversationID(),
		"step":            step,
		"reason":          reason,
	}).Warn("analysis step degraded")
}

// receive records the inbound user turn and loads the short memory window.
// An eviction failure inside ReceiveInput is logged, not fatal: the turn is
// already buffered and the eviction retries on the next message.
func (r *pipelineRun) receive(ctx context.Context) {
	r.enter(StateReceived)

	turn := models.Turn{
		Role:      models.RoleUser,
		Content:   r.request.Message,
		Timestamp: time.Now().Unix(),
		Metadata:  models.TurnMetadata{Tokens: estimateTokens(r.request.Message)},
	}
	if err := r.memory.ReceiveInput(ctx, turn); err != nil {
		r.log().WithError(err).WithField("conversation_id", r.memory.ConversationID()).
			Warn("memory write reported a deferred eviction failure")
	}

	recent, err := r.memory.RecentTurns(ctx, shortMemoryTurns)
	if err != nil {
		r.log().WithError(err).WithField("conversation_id", r.memory.ConversationID()).
			Warn("failed to load short memory, steps run without history")
		recent = nil
	}
	r.shortMemory = shortTurns(recent)
}

// analyze runs intent extraction and handoff/risk analysis concurrently and
// joins both before advancing. Each step guarantees a structurally valid
// output, so this transition cannot fail.
func (r *pipelineRun) analyze(ctx context.Context) {
	var (
		wg            sync.WaitGroup
		intentResult  agents.Result[agents.IntentOutput]
		handoffResult agents.Result[agents.HandoffOutput]
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		intentResult = r.orchestrator.steps.Intent.Run(ctx, agents.IntentInput{
			UserID:     r.request.UserID,
			SessionID:  r.memory.ConversationID(),
			RawMessage: r.request.Message,
			Language:   r.request.Language,
		})
	}()
	go func() {
		defer wg.Done()
		handoffResult = r.orchestrator.steps.Handoff.Run(ctx, agents.HandoffInput{
			UserID:     r.request.UserID,
			SessionID:  r.memory.ConversationID(),
			RawMessage: r.request.Message,
			Language:   r.request.Language,
		})
	}()
	wg.Wait()

	r.check("intent", intentResult.Degraded, intentResult.Reason)
	r.check("handoff", handoffResult.Degraded, handoffResult.Reason)
	r.intent = intentResult.Output
	r.handoff = handoffResult.Output
	r.enter(StateAnalyzed)

	// Best-effort scratch updates; a miss here costs context, not the reply.
	if err := r.memory.SetScratchField(ctx, "extracted_entities", map[string]interface{}{
		"intent_code": r.intent.IntentCode,
		"confidence":  r.intent.Confidence,
	}); err != nil {
		r.log().WithError(err).Debug("failed to stash intent in scratch context")
	}
	if mood := dominantEmotion(r.handoff.EmotionScore); mood != "" {
		if err := r.memory.SetScratchField(ctx, "user_mood", mood); err != nil {
			r.log().WithError(err).Debug("failed to stash mood in scratch context")
		}
	}
}

// route consults the routing step, then applies the deterministic override:
// handoff required, medium/high risk, or any policy flag forces
// human_handle no matter what the step suggested. The step's output is a
// hint; the override is the contract.
func (r *pipelineRun) route(ctx context.Context) {
	result := r.orchestrator.steps.Route.Run(ctx, agents.RouteInput{
		UserID:          r.request.UserID,
		CleanIntentText: r.intent.CleanIntentText,
		IntentCode:      r.intent.IntentCode,
		PolicyFlags:     r.handoff.PolicyFlags,
		EmotionScore:    r.handoff.EmotionScore,
		HandoffRequired: r.handoff.HandoffRequired,
		HandoffReason:   r.handoff.HandoffReason,
		RiskLevel:       r.handoff.RiskLevel,
	})
	r.check("route", result.Degraded, result.Reason)

	r.task = result.Output.Task
	r.taskReason = result.Output.TaskReason

	if mustEscalate(r.handoff) {
		if r.task != agents.TaskHumanHandle {
			r.log().WithFields(logrus.Fields{
				"conversation_id": r.memory.ConversationID(),
				"hint":            r.task,
			}).Info("routing hint overridden by escalation rule")
		}
		r.task = agents.TaskHumanHandle
	}

	r.enter(StateRouted)
	if r.task == agents.TaskHumanHandle {
		r.enter(StateEscalated)
	}
}

// mustEscalate is the deterministic routing rule.
func mustEscalate(h agents.HandoffOutput) bool {
	return h.HandoffRequired ||
		h.RiskLevel == agents.RiskMedium ||
		h.RiskLevel == agents.RiskHigh ||
		h.PolicyFlags.Any()
}

// salesFlow runs for both routes: human_handle flags the conversation, it
// does not stop it. Dependency order: requirement prediction first, then
// stage classification, profiling and offer selection concurrently (they
// depend on the requirements, not on each other), then response generation.
func (r *pipelineRun) salesFlow(ctx context.Context) {
	r.enter(StateSalesFlow)

	latest := r.intent.CleanIntentText
	if latest == "" {
		latest = r.request.Message
	}

	reqResult := r.orchestrator.steps.Requirement.Run(ctx, agents.RequirementInput{
		LatestMessage: latest,
		ShortMemory:   r.shortMemory,
		SalesNode:     agents.DefaultSalesNodes()[0],
	})
	r.check("requirement", reqResult.Degraded, reqResult.Reason)
	r.requirements = agents.Requirements{
		Explicit: reqResult.Output.ExplicitRequirements,
		Implicit: reqResult.Output.ImplicitRequirements,
	}

	r.offers = r.orchestrator.catalog.Offers(ctx)
	summary, err := r.memory.Summary(ctx)
	if err != nil {
		r.log().WithError(err).Debug("failed to load conversation summary")
		summary = ""
	}

	var (
		wg            sync.WaitGroup
		stageResult   agents.Result[agents.StageOutput]
		profileResult agents.Result[agents.ProfileOutput]
		offerResult   agents.Result[agents.OfferOutput]
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		stageResult = r.orchestrator.steps.Stage.Run(ctx, agents.StageInput{
			CleanIntentText: latest,
			SalesGraph: agents.SalesGraph{
				Nodes:       agents.DefaultSalesNodes(),
				CurrentNode: agents.DefaultSalesNodes()[0],
			},
		})
	}()
	go func() {
		defer wg.Done()
		profileResult = r.orchestrator.steps.Profile.Run(ctx, agents.ProfileInput{
			UserID:           r.request.UserID,
			LabelDefinitions: agents.DefaultCustomerLabels(),
		})
	}()
	go func() {
		defer wg.Done()
		offerResult = r.orchestrator.steps.Offer.Run(ctx, agents.OfferInput{
			Requirements:        r.requirements,
			AvailableCombos:     r.offers,
			ShortMemory:         r.shortMemory,
			SummaryConversation: summary,
		})
	}()
	wg.Wait()

	r.check("stage", stageResult.Degraded, stageResult.Reason)
	r.check("profile", profileResult.Degraded, profileResult.Reason)
	r.check("offer", offerResult.Degraded, offerResult.Reason)

	r.salesNode = stageResult.Output.CurrentSalesNode
	r.profile = profileResult.Output

	comboID := offerResult.Output.SelectedCombo
	if comboID == "" && mentionsPriceOrStock(r.request.Message) {
		// Free-text offer matching is unreliable for direct price
		// questions; fall back to a keyword-overlap match against the
		// candidate names. A heuristic, not a guarantee.
		comboID = matchOfferByKeywords(r.request.Message, r.offers)
		if comboID != "" {
			r.log().WithFields(logrus.Fields{
				"conversation_id": r.memory.ConversationID(),
				"combo_id":        comboID,
			}).Debug("offer matched by keyword fallback")
		}
	}
	r.selected = findOffer(r.offers, comboID)

	tone := agents.ToneProfessionalWarm
	if r.handoff.RiskLevel == agents.RiskMedium || r.handoff.RiskLevel == agents.RiskHigh {
		tone = agents.ToneConsultative
	}

	salesResult := r.orchestrator.steps.Sales.Run(ctx, agents.SalesInput{
		CustomerLabel: r.profile.CustomerLabel,
		SalesNode:     r.salesNode,
		Requirements:  r.requirements,
		SelectedCombo: r.selected,
		TonePolicy:    tone,
		ShortMemory:   r.shortMemory,
	})
	r.check("sales", salesResult.Degraded, salesResult.Reason)
	r.finalText = salesResult.Output.ResponseText
}

// respond validates the generated text, applies the escalation notice, and
// writes the assistant turn back through memory. Every branch ends with a
// non-empty reply.
func (r *pipelineRun) respond(ctx context.Context) {
	verdict := r.orchestrator.steps.Guardrail.Run(ctx, agents.GuardrailInput{
		ResponseText: r.finalText,
		ProductData:  r.offers,
	})
	r.check("guardrail", verdict.Degraded, verdict.Reason)

	switch {
	case !verdict.Output.Approved:
		r.finalText = rejectionFallback
	case verdict.Output.ModifiedText != "":
		r.finalText = verdict.Output.ModifiedText
	}
	if r.finalText == "" {
		r.finalText = rejectionFallback
	}

	if r.task == agents.TaskHumanHandle {
		r.finalText = escalationNotice + "\n\n" + r.finalText
	}

	turn := models.Turn{
		Role:      models.RoleAssistant,
		Content:   r.finalText,
		Timestamp: time.Now().Unix(),
		Metadata: models.TurnMetadata{
			Tokens: estimateTokens(r.finalText),
			Intent: r.intent.IntentCode,
		},
	}
	if err := r.memory.ReceiveInput(ctx, turn); err != nil {
		r.log().WithError(err).WithField("conversation_id", r.memory.ConversationID()).
			Warn("failed to record assistant turn")
	}

	// The response is already decided; the durable handoff trace is
	// best-effort and never changes what the user sees.
	if r.task == agents.TaskHumanHandle {
		reason := r.handoff.HandoffReason
		if reason == "" {
			reason = r.taskReason
		}
		if reason == "" {
			reason = "flagged for human follow-up"
		}
		trace := map[string]interface{}{
			"intent_code":      r.intent.IntentCode,
			"confidence":       r.intent.Confidence,
			"risk_level":       r.handoff.RiskLevel,
			"handoff_required": r.handoff.HandoffRequired,
			"policy_flags":     r.handoff.PolicyFlags,
			"task":             r.task,
			"task_reason":      r.taskReason,
		}
		if err := r.memory.RecordHandoff(ctx, reason, trace); err != nil {
			r.log().WithError(err).WithField("conversation_id", r.memory.ConversationID()).
				Warn("failed to persist handoff trace")
		}
	}

	r.enter(StateResponded)
}

func (r *pipelineRun) response() *Response {
	resp := &Response{
		Text:          r.finalText,
		Task:          r.task,
		IntentCode:    r.intent.IntentCode,
		SalesNode:     r.salesNode,
		Escalated:     r.task == agents.TaskHumanHandle,
		DegradedSteps: r.degraded,
		Trace:         r.trace,
	}
	if r.selected != nil {
		resp.SelectedCombo = r.selected.ComboID
	}
	return resp
}

func shortTurns(turns []models.Turn) []agents.ShortTurn {
	out := make([]agents.ShortTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, agents.ShortTurn{Role: t.Role, Content: t.Content})
	}
	return out
}

func findOffer(offers []models.Offer, comboID string) *models.Offer {
	if comboID == "" {
		return nil
	}
	for i := range offers {
		if offers[i].ComboID == comboID {
			return &offers[i]
		}
	}
	return nil
}

// estimateTokens is a rough whitespace-based count used for the scratch
// token counter; exact counts are not needed for the TTL and bound checks.
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}

var priceKeywords = []string{"giá", "bao nhiêu", "price", "cost", "tiền", "còn hàng", "còn không"}

func mentionsPriceOrStock(message string) bool {
	lower := strings.ToLower(message)
	for _, kw := range priceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// matchOfferByKeywords picks the candidate whose product names overlap the
// message the most. Full-name containment wins outright; otherwise the offer
// with the highest word overlap is taken, first-seen on ties.
func matchOfferByKeywords(message string, offers []models.Offer) string {
	lower := strings.ToLower(message)

	for _, offer := range offers {
		for _, name := range offer.Products {
			if strings.Contains(lower, strings.ToLower(name)) {
				return offer.ComboID
			}
		}
	}

	best := ""
	bestScore := 0
	for _, offer := range offers {
		score := 0
		for _, name := range offer.Products {
			for _, word := range strings.Fields(strings.ToLower(name)) {
				if strings.Contains(lower, word) {
					score++
				}
			}
		}
		if score > bestScore {
			best = offer.ComboID
			bestScore = score
		}
	}
	return best
}

func dominantEmotion(e agents.EmotionScore) string {
	type entry struct {
		name  string
		score float64
	}
	entries := []entry{
		{"frustration", e.Frustration},
		{"anger", e.Anger},
		{"sadness", e.Sadness},
		{"joy", e.Joy},
		{"fear", e.Fear},
		{"neutral", e.Neutral},
	}
	best := ""
	bestScore := 0.0
	for _, en := range entries {
		if en.score > bestScore {
			best = en.name
			bestScore = en.score
		}
	}
	return best
}
