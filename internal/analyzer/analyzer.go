// Package analyzer fans a wave's artifacts out to the Evaluator under a
// concurrency cap, ranks the results, and synthesizes a free-form learnings
// document from the top performers.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/llm"
)

const defaultMaxConcurrency = 16

const synthesisPromptTemplate = `You are analyzing the top-performing artifacts from one generation wave.

%s

Write concise, actionable markdown that generalizes the patterns observed in these top performers, so the next wave's prompts can build on what worked.`

// Analyzer evaluates a wave's artifacts against a scorecard, ranks them, and
// synthesizes learnings from the best.
type Analyzer struct {
	evaluatorURL   string
	httpClient     *http.Client
	blobs          *blobstore.Store
	llmClient      llm.Client
	logger         core.Logger
	maxConcurrency int
}

// New wires an Analyzer against the Evaluator's base URL, a blob store for
// fetching top-K artifact bytes, and a model client for learnings synthesis.
func New(evaluatorURL string, blobs *blobstore.Store, llmClient llm.Client, logger core.Logger) *Analyzer {
	return &Analyzer{
		evaluatorURL:   evaluatorURL,
		httpClient:     core.InstrumentedHTTPClient(30 * time.Second),
		blobs:          blobs,
		llmClient:      llmClient,
		logger:         logger,
		maxConcurrency: defaultMaxConcurrency,
	}
}

// SetMaxConcurrency overrides the default fan-out cap of 16.
func (a *Analyzer) SetMaxConcurrency(n int) {
	if n <= 0 {
		n = 1
	}
	a.maxConcurrency = n
}

// Analyze runs the fan-out/fan-in evaluation, ranking, and synthesis
// pipeline for one wave's artifacts.
func (a *Analyzer) Analyze(ctx context.Context, artifacts []domain.ArtifactRef, scorecard domain.Scorecard) domain.ReportAnalysisRequest {
	results := a.evaluateAll(ctx, artifacts, scorecard)

	blobPaths := make(map[string]string, len(artifacts))
	for _, ref := range artifacts {
		blobPaths[ref.ID] = ref.BlobPath
	}

	topK := selectTopK(results)
	learnings, err := a.synthesize(ctx, topK, blobPaths)
	if err != nil {
		a.logger.Warn("analyzer: synthesis failed, reporting scores without learnings", "error", err)
		learnings = ""
	}

	return domain.ReportAnalysisRequest{Results: results, LearningsMD: learnings}
}

// evaluateAll fans every artifact out to the Evaluator under the
// concurrency cap and fans the responses back in, in the original artifact
// order. A per-artifact failure degrades to a zero score rather than
// aborting the wave.
func (a *Analyzer) evaluateAll(ctx context.Context, artifacts []domain.ArtifactRef, scorecard domain.Scorecard) []domain.EvaluationResult {
	results := make([]domain.EvaluationResult, len(artifacts))
	semaphore := make(chan struct{}, a.maxConcurrency)
	done := make(chan int, len(artifacts))

	for i, artifact := range artifacts {
		i, artifact := i, artifact
		go func() {
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			results[i] = a.evaluateOne(ctx, artifact, scorecard)
			done <- i
		}()
	}

	for range artifacts {
		<-done
	}

	return results
}

func (a *Analyzer) evaluateOne(ctx context.Context, artifact domain.ArtifactRef, scorecard domain.Scorecard) domain.EvaluationResult {
	req := domain.EvaluationRequest{ArtifactPath: artifact.BlobPath, Scorecard: scorecard}
	body, err := json.Marshal(req)
	if err != nil {
		return failedResult(artifact.ID, fmt.Sprintf("marshal request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.evaluatorURL, bytes.NewReader(body))
	if err != nil {
		return failedResult(artifact.ID, fmt.Sprintf("build request: %v", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		a.logger.Warn("analyzer: evaluator call failed", "artifactId", artifact.ID, "error", err)
		return failedResult(artifact.ID, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return failedResult(artifact.ID, fmt.Sprintf("evaluator returned status %d", resp.StatusCode))
	}

	var evalResp domain.EvaluationResponse
	if err := json.NewDecoder(resp.Body).Decode(&evalResp); err != nil {
		return failedResult(artifact.ID, fmt.Sprintf("decode response: %v", err))
	}

	return domain.EvaluationResult{ArtifactID: artifact.ID, QualityScore: evalResp.QualityScore, Details: evalResp.Details}
}

func failedResult(artifactID, errMsg string) domain.EvaluationResult {
	return domain.EvaluationResult{
		ArtifactID:   artifactID,
		QualityScore: 0,
		Details:      map[string]interface{}{"error": errMsg},
	}
}

// selectTopK picks K = min(5, ceil(0.2*N)) results by descending
// qualityScore, breaking ties by ascending artifactId for determinism.
func selectTopK(results []domain.EvaluationResult) []domain.EvaluationResult {
	n := len(results)
	if n == 0 {
		return nil
	}

	k := (n + 4) / 5 // ceil(0.2*n)
	if k > 5 {
		k = 5
	}
	if k > n {
		k = n
	}

	sorted := make([]domain.EvaluationResult, n)
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].QualityScore != sorted[j].QualityScore {
			return sorted[i].QualityScore > sorted[j].QualityScore
		}
		return sorted[i].ArtifactID < sorted[j].ArtifactID
	})

	return sorted[:k]
}

// synthesize fetches the bytes of the top-K artifacts and asks the model
// for a learnings document. The model's text is treated as opaque markdown.
func (a *Analyzer) synthesize(ctx context.Context, topK []domain.EvaluationResult, blobPaths map[string]string) (string, error) {
	if len(topK) == 0 {
		return "", nil
	}

	var section bytes.Buffer
	for _, r := range topK {
		content, err := a.blobs.Get(ctx, blobPaths[r.ArtifactID])
		if err != nil {
			a.logger.Warn("analyzer: fetch top artifact failed", "artifactId", r.ArtifactID, "error", err)
			continue
		}
		fmt.Fprintf(&section, "## Artifact %s (score %.1f)\n%s\n\n", r.ArtifactID, r.QualityScore, string(content))
	}

	prompt := fmt.Sprintf(synthesisPromptTemplate, section.String())
	resp, err := a.llmClient.GenerateResponse(ctx, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("synthesis model call: %w", err)
	}
	return resp.Content, nil
}
