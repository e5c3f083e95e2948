package providers

import "context"

// ChatMessage is one turn of an analysis conversation. Follow-up requests
// replay the full transcript; no conversation state lives server-side.
type ChatMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// AnalysisRequest carries everything one completion call needs. The API
// key arrives with the request and is dropped when the call returns.
type AnalysisRequest struct {
	APIKey   string        `json:"api_key"`
	Model    string        `json:"model"`
	System   string        `json:"system"`
	Messages []ChatMessage `json:"messages"`
}

// TokenUsage reports the token counts billed for one completion.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Analysis is the normalized completion from either AI backend.
type Analysis struct {
	Text  string     `json:"analysis"`
	Model string     `json:"model"`
	Usage TokenUsage `json:"usage"`
}

// Analyzer is implemented by both AI clients so the aggregation layer can
// fan out to them without knowing which backend it is talking to.
type Analyzer interface {
	Name() string
	Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error)
}
