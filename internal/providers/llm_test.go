package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAnthropicAnalyze(t *testing.T) {
	var gotReq anthropicRequest
	var gotKey, gotVersion string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Write([]byte(`{
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "The page "}, {"type": "text", "text": "looks slow."}],
			"usage": {"input_tokens": 900, "output_tokens": 120}
		}`))
	}))
	defer srv.Close()

	client := NewAnthropic()
	client.BaseURL = srv.URL
	analysis, err := client.Analyze(context.Background(), AnalysisRequest{
		APIKey: "sk-ant-test",
		System: "You are a performance engineer.",
		Messages: []ChatMessage{
			{Role: "user", Content: "Analyze this."},
		},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if gotKey != "sk-ant-test" || gotVersion == "" {
		t.Fatalf("headers: key=%q version=%q", gotKey, gotVersion)
	}
	if gotReq.System != "You are a performance engineer." || gotReq.MaxTokens != 4096 {
		t.Fatalf("request = %+v", gotReq)
	}
	// Text blocks concatenate in order.
	if analysis.Text != "The page looks slow." {
		t.Fatalf("text = %q", analysis.Text)
	}
	if analysis.Usage.InputTokens != 900 || analysis.Usage.OutputTokens != 120 {
		t.Fatalf("usage = %+v", analysis.Usage)
	}
}

func TestOpenAIAnalyzePlacesSystemFirst(t *testing.T) {
	var gotReq openaiRequest
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &gotReq)
		w.Write([]byte(`{
			"model": "gpt-4o",
			"choices": [{"message": {"role": "assistant", "content": "Looks fine."}}],
			"usage": {"prompt_tokens": 800, "completion_tokens": 90}
		}`))
	}))
	defer srv.Close()

	client := NewOpenAI()
	client.BaseURL = srv.URL
	analysis, err := client.Analyze(context.Background(), AnalysisRequest{
		APIKey: "sk-test",
		System: "system prompt",
		Messages: []ChatMessage{
			{Role: "user", Content: "q1"},
			{Role: "assistant", Content: "a1"},
			{Role: "user", Content: "q2"},
		},
	})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if len(gotReq.Messages) != 4 || gotReq.Messages[0].Role != "system" {
		t.Fatalf("messages = %+v", gotReq.Messages)
	}
	if analysis.Text != "Looks fine." || analysis.Usage.InputTokens != 800 {
		t.Fatalf("analysis = %+v", analysis)
	}
}

func TestLLMFailureMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		want   FailureKind
	}{
		{"unauthorized", http.StatusUnauthorized, FailureAuth},
		{"rate limited", http.StatusTooManyRequests, FailureRateLimit},
		{"server error", http.StatusInternalServerError, FailureUpstream},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			anthropic := NewAnthropic()
			anthropic.BaseURL = srv.URL
			_, err := anthropic.Analyze(context.Background(), AnalysisRequest{
				APIKey:   "k",
				Messages: []ChatMessage{{Role: "user", Content: "x"}},
			})
			var failure *Failure
			if !errors.As(err, &failure) || failure.Kind != tc.want {
				t.Fatalf("anthropic: want %s, got %v", tc.want, err)
			}

			openai := NewOpenAI()
			openai.BaseURL = srv.URL
			_, err = openai.Analyze(context.Background(), AnalysisRequest{
				APIKey:   "k",
				Messages: []ChatMessage{{Role: "user", Content: "x"}},
			})
			if !errors.As(err, &failure) || failure.Kind != tc.want {
				t.Fatalf("openai: want %s, got %v", tc.want, err)
			}
		})
	}
}

func TestLLMMissingKeyIsAuthError(t *testing.T) {
	var failure *Failure
	if _, err := NewAnthropic().Analyze(context.Background(), AnalysisRequest{}); !errors.As(err, &failure) || failure.Kind != FailureAuth {
		t.Fatalf("anthropic: want AuthError, got %v", err)
	}
	if _, err := NewOpenAI().Analyze(context.Background(), AnalysisRequest{}); !errors.As(err, &failure) || failure.Kind != FailureAuth {
		t.Fatalf("openai: want AuthError, got %v", err)
	}
}
