package models

import "encoding/json"

// Message roles. Append order is the sole ordering key for turns: no two
// turns are ever reordered relative to each other.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// Turn is a single conversation turn as held in the hot buffer.
// Immutable once written.
type Turn struct {
	Role      string       `json:"role"`
	Content   string       `json:"content"`
	Timestamp int64        `json:"timestamp"`
	Metadata  TurnMetadata `json:"metadata"`
}

// TurnMetadata carries per-turn bookkeeping alongside the content.
type TurnMetadata struct {
	Tokens    int             `json:"tokens"`
	Intent    string          `json:"intent,omitempty"`
	ToolCalls json.RawMessage `json:"tool_calls,omitempty"`
}

// ScratchContext is the small mutable per-conversation record kept next to
// the hot buffer: current goal, extracted entities, last tool used, mood and
// a running token count.
type ScratchContext struct {
	CurrentGoal       string                 `json:"current_goal,omitempty"`
	ExtractedEntities map[string]interface{} `json:"extracted_entities,omitempty"`
	LastToolUsed      string                 `json:"last_tool_used,omitempty"`
	UserMood          string                 `json:"user_mood,omitempty"`
	TotalTokens       int                    `json:"total_tokens"`
	CreatedAt         int64                  `json:"created_at,omitempty"`
	UpdatedAt         int64                  `json:"updated_at,omitempty"`
}
