package chat

import (
	"encoding/json"
	"time"
)

type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

type SessionStatus string

const (
	StatusActive   SessionStatus = "active"
	StatusArchived SessionStatus = "archived"
)

// Mode selects the tool set the agent may use for a turn.
type Mode string

const (
	ModeProspecting Mode = "prospecting"
	ModeAll         Mode = "all"
)

// Session is one conversation as returned by the sessions API.
type Session struct {
	ID            string         `json:"session_uuid"              yaml:"session_uuid"`
	Title         string         `json:"title,omitempty"           yaml:"title,omitempty"`
	ClientTag     string         `json:"client_tag,omitempty"      yaml:"client_tag,omitempty"`
	Status        SessionStatus  `json:"status,omitempty"          yaml:"status,omitempty"`
	Messages      []Message      `json:"messages"                  yaml:"messages"`
	ICPDraft      map[string]any `json:"current_icp_draft"         yaml:"current_icp_draft"`
	Metadata      Metadata       `json:"session_metadata"          yaml:"session_metadata"`
	Usage         `yaml:",inline"`
	CreatedAt     time.Time      `json:"created_at"                yaml:"created_at"`
	LastMessageAt *time.Time     `json:"last_message_at,omitempty" yaml:"last_message_at,omitempty"`
}

// Metadata carries server-maintained session annotations.
type Metadata struct {
	LastSearch     *LastSearch     `json:"last_apollo_search,omitempty" yaml:"last_apollo_search,omitempty"`
	LastEnrichment *LastEnrichment `json:"last_enrichment,omitempty"    yaml:"last_enrichment,omitempty"`
}

// LastEnrichment summarises the most recent company enrichment run.
type LastEnrichment struct {
	CompanyIDs  []string `json:"company_ids"  yaml:"company_ids"`
	EmailsFound int      `json:"emails_found" yaml:"emails_found"`
	Completed   int      `json:"completed"    yaml:"completed"`
}

// LastSearch summarises the most recent search a session ran.
type LastSearch struct {
	Type      string         `json:"type"                 yaml:"type"`
	Count     int            `json:"count"                yaml:"count"`
	Returned  int            `json:"returned"             yaml:"returned"`
	EntityIDs []string       `json:"entity_ids,omitempty" yaml:"entity_ids,omitempty"`
	Params    map[string]any `json:"params,omitempty"     yaml:"params,omitempty"`
}

// Usage holds the cumulative, server-computed counters of a session.
type Usage struct {
	TotalCostUSD float64 `json:"total_cost_usd"             yaml:"total_cost_usd"`
	MessageCount int     `json:"message_count"              yaml:"message_count"`
	APICredits   int     `json:"total_apollo_credits"       yaml:"total_apollo_credits"`
	InputTokens  int     `json:"total_claude_input_tokens"  yaml:"total_claude_input_tokens"`
	OutputTokens int     `json:"total_claude_output_tokens" yaml:"total_claude_output_tokens"`
}

type Message struct {
	Role          Role            `json:"role"                     yaml:"role"`
	Content       string          `json:"content"                  yaml:"content"`
	ToolCalls     json.RawMessage `json:"tool_calls,omitempty"     yaml:"-"`
	ToolResults   json.RawMessage `json:"tool_results,omitempty"   yaml:"-"`
	InputTokens   int             `json:"input_tokens,omitempty"   yaml:"input_tokens,omitempty"`
	OutputTokens  int             `json:"output_tokens,omitempty"  yaml:"output_tokens,omitempty"`
	HasAttachment bool            `json:"has_attachment,omitempty" yaml:"has_attachment,omitempty"`
	CreatedAt     time.Time       `json:"created_at"               yaml:"created_at"`
}

// ToolExecution is the tool currently running on the server for a turn.
type ToolExecution struct {
	Tool  string         `json:"tool"  yaml:"tool"`
	Input map[string]any `json:"input" yaml:"input"`
}

// ApolloResults is the structured search snapshot delivered beside the text.
type ApolloResults struct {
	Results      []map[string]any `json:"results"       yaml:"results"`
	Total        int              `json:"total"         yaml:"total"`
	SearchType   string           `json:"search_type"   yaml:"search_type"`
	Returned     int              `json:"returned"      yaml:"returned"`
	SearchParams map[string]any   `json:"search_params" yaml:"search_params"`
}

// TurnUsage is the token usage the server reports at the end of a turn.
type TurnUsage struct {
	InputTokens  int `json:"input_tokens"  yaml:"input_tokens"`
	OutputTokens int `json:"output_tokens" yaml:"output_tokens"`
}

// TurnRequest is the body of one streamed turn.
type TurnRequest struct {
	SessionID   string `json:"-"`
	Message     string `json:"message"`
	FileContent string `json:"file_content,omitempty"`
	Mode        Mode   `json:"mode,omitempty"`
}

type CreateSessionRequest struct {
	Title     string `json:"title,omitempty"`
	ClientTag string `json:"client_tag,omitempty"`
}

// ListOptions filters the session listing. Zero values are omitted.
type ListOptions struct {
	ClientTag string
	Status    SessionStatus
	Limit     int
	Offset    int
}

// Upload is the text the server extracted from an uploaded document.
type Upload struct {
	Filename string `json:"filename" yaml:"filename"`
	Content  string `json:"content"  yaml:"content"`
}
