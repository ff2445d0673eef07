package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

const metaPromptTemplate = `%s

## Learnings from the previous wave
%s

## Human guidance
%s`

// affordable reports whether dispatching one more wave of
// GeneratorCountPerWave artifacts, at the configured default token estimate,
// stays within the project's maxCostUSD termination condition.
func (p *project) affordable() bool {
	max := p.state.TerminationConditions.MaxCostUSD
	if max == nil {
		return true
	}
	estimate := float64(p.deps.cfg.GeneratorCountPerWave) * float64(p.deps.cfg.DefaultTokensPerArtifact) * p.deps.cfg.UnitPriceUSD
	return p.state.CostTracker.EstimatedCostUSD+estimate <= *max
}

func (p *project) loadSpec(ctx context.Context) (string, error) {
	data, err := p.deps.blobs.Get(ctx, p.state.Config.SpecBlobPath)
	if err != nil {
		return "", fmt.Errorf("load spec: %w", err)
	}
	return string(data), nil
}

func (p *project) loadScorecard(ctx context.Context) (domain.Scorecard, error) {
	var sc domain.Scorecard
	data, err := p.deps.blobs.Get(ctx, p.state.Config.ScorecardBlobPath)
	if err != nil {
		return sc, fmt.Errorf("load scorecard: %w", err)
	}
	if err := json.Unmarshal(data, &sc); err == nil {
		return sc, nil
	}
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return sc, fmt.Errorf("parse scorecard as JSON or YAML: %w", err)
	}
	return sc, nil
}

func (p *project) buildMetaPrompt(ctx context.Context, spec string) string {
	guidance := ""
	if p.state.HumanGuidanceBlobPath != "" {
		if data, err := p.deps.blobs.Get(ctx, p.state.HumanGuidanceBlobPath); err == nil {
			guidance = string(data)
		} else {
			p.deps.logger.Warn("orchestrator: fetch human guidance failed", "error", err)
		}
	}
	return fmt.Sprintf(metaPromptTemplate, spec, p.state.LatestLearnings, guidance)
}

// dispatchWave runs the affordability check and, if it passes, fans out
// GeneratorCountPerWave generation jobs for the current wave. Each dispatch
// POST runs concurrently; a synchronous dispatch failure marks that job
// failed immediately with no retry, feeding back through the same
// reportGeneration reconciliation path a real callback would use.
func (p *project) dispatchWave(ctx context.Context) {
	if !p.affordable() {
		p.state.Status = domain.StatusCompletedBudgetExceeded
		if err := p.persist(); err != nil {
			p.deps.logger.Error("orchestrator: persist budget-exceeded state failed", "error", err)
		}
		return
	}

	spec, err := p.loadSpec(ctx)
	if err != nil {
		p.deps.logger.Error("orchestrator: load spec failed", "error", err)
		p.state.Status = domain.StatusFailed
		_ = p.persist()
		return
	}
	metaPrompt := p.buildMetaPrompt(ctx, spec)

	wave := p.state.CurrentWave
	n := p.deps.cfg.GeneratorCountPerWave
	for i := 1; i <= n; i++ {
		artifactID := fmt.Sprintf("w%d-a%d", wave, i)
		outputPath := fmt.Sprintf("artifacts/%s/wave-%d/%s.html", p.state.ProjectID, wave, artifactID)

		record := &domain.ArtifactRecord{
			ID:         artifactID,
			ProjectID:  p.state.ProjectID,
			WaveNumber: wave,
			Status:     domain.ArtifactPending,
			CreatedAt:  time.Now(),
		}
		if err := p.deps.store.UpsertArtifact(ctx, record); err != nil {
			p.deps.logger.Error("orchestrator: persist artifact failed", "artifactId", artifactID, "error", err)
			continue
		}

		job := &domain.DispatchedJob{
			JobID:      uuid.New().String(),
			ProjectID:  p.state.ProjectID,
			ArtifactID: artifactID,
			WaveNumber: wave,
			Kind:       domain.JobGeneration,
			Status:     domain.JobPending,
			CreatedAt:  time.Now(),
			DeadlineAt: time.Now().Add(p.deps.cfg.GenerationTimeout),
		}
		if err := p.deps.store.UpsertDispatchedJob(ctx, job); err != nil {
			p.deps.logger.Error("orchestrator: persist job failed", "jobId", job.JobID, "error", err)
			continue
		}
		p.genJobByArtifact[artifactID] = job.JobID
		p.armTimer(job.JobID, p.deps.cfg.GenerationTimeout)

		go p.postGenerate(ctx, artifactID, outputPath, metaPrompt)
	}

	_ = p.persist()
}

// postGenerate sends one generation dispatch. A failure reports back
// through the mailbox as if the Generator itself had reported FAILED,
// keeping all job-completion bookkeeping in one place.
func (p *project) postGenerate(ctx context.Context, artifactID, outputPath, metaPrompt string) {
	req := domain.GenerateRequest{
		OrchestratorID: p.state.ProjectID,
		ArtifactID:     artifactID,
		MetaPrompt:     metaPrompt,
		OutputBlobPath: outputPath,
		CallbackURL:    p.deps.peers.OrchestratorURL + "/report/generation",
	}
	err := p.doDispatch(ctx, p.deps.peers.GeneratorURL, req)
	if err != nil {
		p.deps.logger.Warn("orchestrator: generation dispatch failed", "artifactId", artifactID, "error", err)
		p.post(mailboxEvent{
			kind: eventReportGeneration,
			reportGenerationReq: domain.ReportGenerationRequest{
				ArtifactID: artifactID,
				Status:     "FAILED",
			},
		})
	}
}

// dispatchAnalysis sends every successfully-generated artifact in the
// current wave to the Analyzer once every generation job is terminal.
func (p *project) dispatchAnalysis(ctx context.Context) {
	wave := p.state.CurrentWave
	records, err := p.deps.store.ListArtifactsByWave(ctx, p.state.ProjectID, wave)
	if err != nil {
		p.deps.logger.Error("orchestrator: list artifacts failed", "error", err)
		p.state.Status = domain.StatusFailed
		_ = p.persist()
		return
	}

	var refs []domain.ArtifactRef
	for _, r := range records {
		if r.Status == domain.ArtifactSuccess {
			refs = append(refs, domain.ArtifactRef{ID: r.ID, BlobPath: r.BlobPath})
		}
	}

	scorecard, err := p.loadScorecard(ctx)
	if err != nil {
		p.deps.logger.Error("orchestrator: load scorecard failed", "error", err)
		p.state.Status = domain.StatusFailed
		_ = p.persist()
		return
	}

	job := &domain.DispatchedJob{
		JobID:      uuid.New().String(),
		ProjectID:  p.state.ProjectID,
		WaveNumber: wave,
		Kind:       domain.JobAnalysis,
		Status:     domain.JobPending,
		CreatedAt:  time.Now(),
		DeadlineAt: time.Now().Add(p.deps.cfg.AnalysisTimeout),
	}
	if err := p.deps.store.UpsertDispatchedJob(ctx, job); err != nil {
		p.deps.logger.Error("orchestrator: persist analysis job failed", "error", err)
		p.state.Status = domain.StatusFailed
		_ = p.persist()
		return
	}
	p.analysisJobID = job.JobID
	p.armTimer(job.JobID, p.deps.cfg.AnalysisTimeout)
	_ = p.persist()

	go p.postAnalyze(ctx, refs, scorecard)
}

func (p *project) postAnalyze(ctx context.Context, refs []domain.ArtifactRef, scorecard domain.Scorecard) {
	req := domain.AnalyzeRequest{
		OrchestratorID: p.state.ProjectID,
		CallbackURL:    p.deps.peers.OrchestratorURL + "/report/analysis",
		Artifacts:      refs,
		Scorecard:      scorecard,
	}
	if err := p.doDispatch(ctx, p.deps.peers.AnalyzerURL, req); err != nil {
		p.deps.logger.Warn("orchestrator: analysis dispatch failed", "error", err)
		p.post(mailboxEvent{kind: eventAnalysisDispatchFailed})
	}
}

// doDispatch POSTs body to url under circuit breaker protection. A single
// attempt only — retry-on-dispatch-failure is deliberately not performed
// here; the caller's own job bookkeeping (timeout/retry for generation,
// fail-wave for analysis) is the recovery path.
func (p *project) doDispatch(ctx context.Context, url string, body interface{}) error {
	ctx, span := core.StartSpan(ctx, "selfrefine/orchestrator", "wave.dispatch")
	defer span.End()

	data, err := json.Marshal(body)
	if err != nil {
		core.RecordSpanError(ctx, err)
		return fmt.Errorf("marshal dispatch body: %w", err)
	}

	err = p.deps.breaker.Execute(ctx, func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
		if err != nil {
			return fmt.Errorf("build dispatch request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := p.deps.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("dispatch request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("dispatch returned status %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil {
		core.RecordSpanError(ctx, err)
	}
	return err
}
