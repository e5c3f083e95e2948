package monitor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"perfwatch/internal/providers"
)

// LLMCredentials select the model and key for one AI backend. Either
// backend may be left out of a request; only configured ones are called.
type LLMCredentials struct {
	APIKey string `json:"api_key"`
	Model  string `json:"model,omitempty"`
}

// AnalyzeRequest gathers live provider data for one URL and asks both AI
// backends for an assessment. All credentials are request-scoped.
type AnalyzeRequest struct {
	URL string `json:"url"`

	NewRelic *struct {
		providers.NewRelicCredentials
		AppName   string `json:"app_name"`
		TimeRange string `json:"time_range,omitempty"`
	} `json:"newrelic,omitempty"`

	Azure *struct {
		providers.AzureCredentials
		StartDate string `json:"start_date"`
		EndDate   string `json:"end_date"`
		SiteName  string `json:"site_name,omitempty"`
	} `json:"azure,omitempty"`

	Claude LLMCredentials `json:"claude"`
	OpenAI LLMCredentials `json:"openai"`
}

// FollowUpRequest continues a conversation. The caller resends the context
// from the original analysis plus the full transcript each turn; the
// server keeps no session.
type FollowUpRequest struct {
	Question string                  `json:"question"`
	Context  json.RawMessage         `json:"context"`
	History  []providers.ChatMessage `json:"history"`

	Claude LLMCredentials `json:"claude"`
	OpenAI LLMCredentials `json:"openai"`
}

// AnalysisContext is the merged provider data handed to the models and
// echoed back to the caller for follow-up turns. Sections a provider was
// not configured for (or failed on) carry an error note instead of data.
type AnalysisContext struct {
	URL           string                      `json:"url"`
	GatheredAt    time.Time                   `json:"gathered_at"`
	CoreWebVitals *providers.CoreWebVitals    `json:"core_web_vitals,omitempty"`
	VitalsError   string                      `json:"vitals_error,omitempty"`
	LogSummary    *providers.DashboardSummary `json:"log_summary,omitempty"`
	SlowRequests  []map[string]any            `json:"slow_requests,omitempty"`
	LogsError     string                      `json:"logs_error,omitempty"`
}

// ProviderAnswer is one AI backend's response (or failure) in the
// side-by-side view.
type ProviderAnswer struct {
	Provider string              `json:"provider"`
	Success  bool                `json:"success"`
	Analysis *providers.Analysis `json:"analysis,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// AnalyzeResponse pairs the assembled context with both AI answers.
type AnalyzeResponse struct {
	Context *AnalysisContext `json:"context"`
	Answers []ProviderAnswer `json:"answers"`
}

// Analyze gathers New Relic Core Web Vitals and Azure log data for the
// URL, then asks both AI backends concurrently. A slow or failing backend
// never blocks or masks the other's answer.
func (s *Service) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	analysisCtx := s.gatherContext(ctx, req)
	contextJSON, err := json.Marshal(analysisCtx)
	if err != nil {
		return nil, err
	}
	messages := []providers.ChatMessage{
		{Role: "user", Content: buildAnalysisMessage(req.URL, contextJSON)},
	}
	answers := s.fanOut(ctx, analysisSystemPrompt, messages, req.Claude, req.OpenAI)
	return &AnalyzeResponse{Context: analysisCtx, Answers: answers}, nil
}

// FollowUp replays the prior transcript with a new question against both
// backends.
func (s *Service) FollowUp(ctx context.Context, req FollowUpRequest) (*AnalyzeResponse, error) {
	messages := make([]providers.ChatMessage, 0, len(req.History)+2)
	if len(req.Context) > 0 {
		messages = append(messages, providers.ChatMessage{
			Role:    "user",
			Content: buildFollowUpContext(req.Context),
		})
		messages = append(messages, providers.ChatMessage{
			Role:    "assistant",
			Content: "Understood. I have the performance data for this page and will answer follow-up questions about it.",
		})
	}
	messages = append(messages, req.History...)
	messages = append(messages, providers.ChatMessage{Role: "user", Content: req.Question})
	answers := s.fanOut(ctx, analysisSystemPrompt, messages, req.Claude, req.OpenAI)
	return &AnalyzeResponse{Answers: answers}, nil
}

// gatherContext collects the live provider data sequentially. Each
// provider's failure is recorded in its section; analysis proceeds with
// whatever data was available.
func (s *Service) gatherContext(ctx context.Context, req AnalyzeRequest) *AnalysisContext {
	analysisCtx := &AnalysisContext{URL: req.URL, GatheredAt: time.Now().UTC()}

	if req.NewRelic != nil {
		vitals, err := s.NewRelic.GetCoreWebVitals(ctx, req.NewRelic.NewRelicCredentials, providers.CoreWebVitalsRequest{
			AppName:   req.NewRelic.AppName,
			PageURL:   req.URL,
			TimeRange: req.NewRelic.TimeRange,
		})
		if err != nil {
			analysisCtx.VitalsError = providers.AsFailure(err).Message
		} else {
			analysisCtx.CoreWebVitals = vitals
		}
	}

	if req.Azure != nil {
		summary, err := s.Azure.GetDashboardSummary(ctx, req.Azure.AzureCredentials, providers.SummaryParams{
			StartDate: req.Azure.StartDate,
			EndDate:   req.Azure.EndDate,
			SiteName:  req.Azure.SiteName,
		})
		if err != nil {
			analysisCtx.LogsError = providers.AsFailure(err).Message
		} else {
			analysisCtx.LogSummary = summary
		}
		if analysisCtx.LogsError == "" {
			logs, err := s.Azure.SearchLogs(ctx, req.Azure.AzureCredentials, providers.LogSearchParams{
				StartDate: req.Azure.StartDate,
				EndDate:   req.Azure.EndDate,
				URLFilter: exactPathFilter(req.URL),
				SiteName:  req.Azure.SiteName,
				Limit:     25,
			})
			if err != nil {
				analysisCtx.LogsError = providers.AsFailure(err).Message
			} else {
				analysisCtx.SlowRequests = logs.Logs
			}
		}
	}
	return analysisCtx
}

// fanOut queries both backends in parallel and joins on both. Answers keep
// their provider label regardless of completion order.
func (s *Service) fanOut(ctx context.Context, system string, messages []providers.ChatMessage, claude, openai LLMCredentials) []ProviderAnswer {
	creds := map[string]LLMCredentials{"claude": claude, "openai": openai}
	answers := make([]ProviderAnswer, len(s.Analyzers))

	var wg sync.WaitGroup
	for i, analyzer := range s.Analyzers {
		cred, ok := creds[analyzer.Name()]
		if !ok || cred.APIKey == "" {
			answers[i] = ProviderAnswer{
				Provider: analyzer.Name(),
				Error:    "no API key supplied for this provider",
			}
			continue
		}
		wg.Add(1)
		go func(i int, analyzer providers.Analyzer, cred LLMCredentials) {
			defer wg.Done()
			analysis, err := analyzer.Analyze(ctx, providers.AnalysisRequest{
				APIKey:   cred.APIKey,
				Model:    cred.Model,
				System:   system,
				Messages: messages,
			})
			if err != nil {
				answers[i] = ProviderAnswer{
					Provider: analyzer.Name(),
					Error:    providers.AsFailure(err).Message,
				}
				return
			}
			answers[i] = ProviderAnswer{Provider: analyzer.Name(), Success: true, Analysis: analysis}
		}(i, analyzer, cred)
	}
	wg.Wait()
	return answers
}
