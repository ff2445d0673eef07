// Package evaluator computes a single weighted quality score for one
// artifact against a scorecard composed of heterogeneous test kinds, with
// per-test fault isolation so one broken test never aborts the request.
package evaluator

import (
	"context"
	"fmt"

	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/llm"
)

// TestResult is one test's outcome, keyed into Details by testType.
type TestResult struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
	Extra map[string]interface{} `json:"-"`
}

// Handler scores artifact bytes under one test's config. A Handler must
// never panic on malformed input; Evaluate recovers regardless, but a
// well-behaved handler returns an error instead.
type Handler func(ctx context.Context, artifact []byte, cfg map[string]interface{}) (TestResult, error)

// Evaluator runs a scorecard against artifact bytes and combines the
// per-test results into one weighted quality score.
type Evaluator struct {
	handlers map[string]Handler
}

// New returns an Evaluator with the standard linter and llm_evaluation
// handlers registered. llmClient may be nil only if the scorecard never
// references llm_evaluation.
func New(llmClient llm.Client) *Evaluator {
	e := &Evaluator{handlers: make(map[string]Handler)}
	e.Register("linter", lintHandler)
	e.Register("llm_evaluation", llmEvaluationHandler(llmClient))
	return e
}

// Register installs (or overrides) the handler for a test type.
func (e *Evaluator) Register(testType string, h Handler) {
	e.handlers[testType] = h
}

// Evaluate scores artifact against every test in scorecard and combines the
// results into a single weighted quality_score. An empty scorecard scores 0.
func (e *Evaluator) Evaluate(ctx context.Context, artifact []byte, scorecard domain.Scorecard) domain.EvaluationResponse {
	details := make(map[string]interface{}, len(scorecard.Tests))

	var weightedSum, weightTotal float64
	for _, test := range scorecard.Tests {
		result := e.runTest(ctx, artifact, test)
		details[test.TestType] = result
		weightedSum += test.Weight * result.Score
		weightTotal += test.Weight
	}

	var score float64
	if weightTotal > 0 {
		score = weightedSum / weightTotal
	}

	return domain.EvaluationResponse{QualityScore: score, Details: details}
}

func (e *Evaluator) runTest(ctx context.Context, artifact []byte, test domain.ScorecardTest) (result TestResult) {
	defer func() {
		if r := recover(); r != nil {
			result = TestResult{Score: 0, Error: fmt.Sprintf("test handler panicked: %v", r)}
		}
	}()

	handler, ok := e.handlers[test.TestType]
	if !ok {
		return TestResult{Score: 0, Error: "unknown test type"}
	}

	result, err := handler(ctx, artifact, test.Config)
	if err != nil {
		return TestResult{Score: 0, Error: err.Error()}
	}
	return result
}
