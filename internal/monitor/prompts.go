package monitor

import (
	"encoding/json"
	"fmt"
	"net/url"
)

const analysisSystemPrompt = `You are a senior web performance engineer reviewing production telemetry for a single page.
You are given real user monitoring percentiles (Core Web Vitals from New Relic), IIS server log
statistics from Azure Log Analytics, and the slowest recent requests for the page.

Structure your answer as:
1. Overall assessment of the page's health.
2. The most likely bottlenecks, tied to specific numbers from the data.
3. Concrete, prioritized recommendations.

Be specific and quantitative. If a data section is missing or carries an error note, say so and
work with what remains rather than speculating.`

// buildAnalysisMessage assembles the first user turn: a short framing line
// followed by the gathered telemetry as a JSON block.
func buildAnalysisMessage(pageURL string, contextJSON []byte) string {
	return fmt.Sprintf(`Analyze the performance of %s using the telemetry below.

Telemetry (JSON):
%s`, pageURL, string(contextJSON))
}

// buildFollowUpContext re-introduces the original telemetry at the start
// of a follow-up conversation, since no context survives server-side
// between turns.
func buildFollowUpContext(contextJSON json.RawMessage) string {
	return fmt.Sprintf(`Here is the performance telemetry gathered earlier for this page. Use it to answer the questions that follow.

Telemetry (JSON):
%s`, string(contextJSON))
}

// exactPathFilter extracts the path of the page URL for matching against
// csUriStem in the IIS logs. A bare host maps to "/".
func exactPathFilter(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Path == "" {
		return "/"
	}
	return parsed.Path
}
