package evaluator

import (
	"context"
	"fmt"

	"github.com/sral/selfrefine/internal/llm"
)

const llmEvaluationPromptTemplate = `You are scoring a generated artifact against a rubric.

Rubric: %v

Artifact:
%s

Respond with JSON only: {"score": <0-100>, "reasoning": "...", "strengths": ["..."], "improvements": ["..."]}`

// llmEvaluationHandler asks the configured model to score the artifact and
// applies the layered JSON/regex/default fallback to whatever it returns.
func llmEvaluationHandler(client llm.Client) Handler {
	return func(ctx context.Context, artifact []byte, cfg map[string]interface{}) (TestResult, error) {
		if client == nil {
			return TestResult{}, fmt.Errorf("llm_evaluation: no model client configured")
		}

		prompt := fmt.Sprintf(llmEvaluationPromptTemplate, cfg["rubric"], string(artifact))
		resp, err := client.GenerateResponse(ctx, prompt, nil)
		if err != nil {
			return TestResult{}, fmt.Errorf("llm_evaluation: model call: %w", err)
		}

		verdict := llm.ParseEvaluationVerdict(resp.Content)
		result := TestResult{Score: verdict.Score}
		if verdict.ParseError != "" {
			result.Error = verdict.ParseError
		}
		return result, nil
	}
}
