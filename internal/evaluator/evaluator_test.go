package evaluator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/llm"
)

func TestLintHandlerEmptyInputPasses(t *testing.T) {
	result, err := lintHandler(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.Score)
}

func TestLintHandlerPenalizesErrorsAndWarnings(t *testing.T) {
	input := []byte("line one\nerror: bad thing\nwarning: minor thing\nfine line")
	result, err := lintHandler(context.Background(), input, nil)
	require.NoError(t, err)
	assert.Equal(t, 88.0, result.Score)
}

func TestLintHandlerFloorsAtZero(t *testing.T) {
	var lines string
	for i := 0; i < 20; i++ {
		lines += "error: broken\n"
	}
	result, err := lintHandler(context.Background(), []byte(lines), nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)
}

func TestEvaluateWeightedCombination(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetResponses(`{"score": 80, "reasoning": "solid"}`)

	e := New(mock)
	scorecard := domain.Scorecard{Tests: []domain.ScorecardTest{
		{TestType: "linter", Weight: 0.4},
		{TestType: "llm_evaluation", Weight: 0.6},
	}}

	resp := e.Evaluate(context.Background(), []byte("clean artifact"), scorecard)
	assert.InDelta(t, 88.0, resp.QualityScore, 0.001)
	assert.Contains(t, resp.Details, "linter")
	assert.Contains(t, resp.Details, "llm_evaluation")
}

func TestEvaluateEmptyScorecardScoresZero(t *testing.T) {
	e := New(nil)
	resp := e.Evaluate(context.Background(), []byte("anything"), domain.Scorecard{})
	assert.Equal(t, 0.0, resp.QualityScore)
	assert.Empty(t, resp.Details)
}

func TestEvaluateUnknownTestType(t *testing.T) {
	e := New(nil)
	scorecard := domain.Scorecard{Tests: []domain.ScorecardTest{{TestType: "mystery", Weight: 1}}}
	resp := e.Evaluate(context.Background(), []byte("x"), scorecard)
	assert.Equal(t, 0.0, resp.QualityScore)
	result := resp.Details["mystery"].(TestResult)
	assert.Equal(t, "unknown test type", result.Error)
}

func TestEvaluateLLMFailureIsolatedToOneTest(t *testing.T) {
	mock := llm.NewMockClient()
	mock.SetError(assertError("boom"))

	e := New(mock)
	scorecard := domain.Scorecard{Tests: []domain.ScorecardTest{
		{TestType: "linter", Weight: 0.5},
		{TestType: "llm_evaluation", Weight: 0.5},
	}}
	resp := e.Evaluate(context.Background(), []byte(""), scorecard)
	// linter scores 100 on empty input, llm fails and scores 0: weighted avg 50.
	assert.Equal(t, 50.0, resp.QualityScore)
}

type assertError string

func (e assertError) Error() string { return string(e) }
