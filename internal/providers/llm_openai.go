package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"
)

const (
	openaiBaseURL      = "https://api.openai.com/v1"
	openaiDefaultModel = "gpt-4o"
	openaiTemperature  = 0.3
)

// OpenAIClient wraps the OpenAI Chat Completions API.
type OpenAIClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAI returns a client against the public API endpoint.
func NewOpenAI() *OpenAIClient {
	return &OpenAIClient{
		BaseURL:    openaiBaseURL,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Name labels responses in the side-by-side analysis view.
func (c *OpenAIClient) Name() string { return "openai" }

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message openaiMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Analyze sends the transcript to the Chat Completions API. The system
// prompt travels as the first message, per the OpenAI convention.
func (c *OpenAIClient) Analyze(ctx context.Context, req AnalysisRequest) (*Analysis, error) {
	if req.APIKey == "" {
		return nil, newFailure(FailureAuth, "OpenAI API key is required")
	}
	model := req.Model
	if model == "" {
		model = openaiDefaultModel
	}
	messages := make([]openaiMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openaiMessage{Role: "system", Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, openaiMessage{Role: msg.Role, Content: msg.Content})
	}
	payload, err := json.Marshal(openaiRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   llmMaxTokens,
		Temperature: openaiTemperature,
	})
	if err != nil {
		return nil, newFailure(FailureUpstream, "marshal request: %v", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, newFailure(FailureUpstream, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, failureFromTransport("OpenAI", ctx, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, failureFromTransport("OpenAI", ctx, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, failureFromStatus("OpenAI", resp.StatusCode, body)
	}

	var parsed openaiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newFailure(FailureMalformed, "invalid JSON from OpenAI: %v", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, newFailure(FailureMalformed, "OpenAI response contained no choices")
	}
	return &Analysis{
		Text:  parsed.Choices[0].Message.Content,
		Model: parsed.Model,
		Usage: TokenUsage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}
