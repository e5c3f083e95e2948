package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
	anthropicDefaultModel = "claude-sonnet-4-20250514"
	llmMaxTokens          = 4096
)

// AnthropicClient wraps the Anthropic Messages API.
type AnthropicClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewAnthropic returns a client against the public API endpoint.
func NewAnthropic() *AnthropicClient {
	return &AnthropicClient{
		BaseURL:    anthropicBaseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name labels responses in the side-by-side analysis view.
func (c *AnthropicClient) Name() string { return "claude" }

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Analyze sends the transcript to the Messages API and returns the
// assistant's reply with token usage.
func (c *AnthropicClient) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	if req.APIKey == "" {
		return nil, newFailure(FailureAuth, "Anthropic API key is required")
	}
	model := req.Model
	if model == "" {
		model = anthropicDefaultModel
	}
	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		messages = append(messages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}
	payload, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: llmMaxTokens,
		System:    req.System,
		Messages:  messages,
	})
	if err != nil {
		return nil, newFailure(FailureUpstream, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, newFailure(FailureUpstream, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", req.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, failureFromTransport("Anthropic", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failureFromTransport("Anthropic", ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("Anthropic", resp.StatusCode, body)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newFailure(FailureMalformed, "invalid JSON from Anthropic: %v", err)
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, newFailure(FailureMalformed, "Anthropic response contained no text content")
	}
	return &Analysis{
		Text:  text.String(),
		Model: parsed.Model,
		Usage: TokenUsage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}
