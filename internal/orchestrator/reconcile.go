package orchestrator

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

// handleReportGeneration reconciles one generation callback (real or
// synthesized from a synchronous dispatch failure) against the job it
// belongs to. Duplicate or stale callbacks for an already-terminal job are
// accepted and ignored rather than erroring, since at-least-once delivery
// from the Generator is assumed.
func (p *project) handleReportGeneration(ctx context.Context, req domain.ReportGenerationRequest) eventReply {
	jobID, ok := p.genJobByArtifact[req.ArtifactID]
	if !ok {
		return eventReply{state: cloneState(p.state)}
	}

	job, err := p.deps.store.GetDispatchedJob(ctx, jobID)
	if err != nil || job.Status.IsTerminal() {
		return eventReply{state: cloneState(p.state)}
	}

	p.cancelTimer(jobID)
	delete(p.genJobByArtifact, req.ArtifactID)

	job.Status = domain.JobComplete
	if req.Status != "SUCCESS" || req.BlobPath == nil {
		job.Status = domain.JobFailed
	}
	_ = p.deps.store.UpsertDispatchedJob(ctx, job)

	artifact, err := p.deps.store.GetArtifact(ctx, req.ArtifactID)
	if err == nil {
		if req.Status == "SUCCESS" && req.BlobPath != nil {
			artifact.Status = domain.ArtifactSuccess
			artifact.BlobPath = *req.BlobPath
		} else {
			artifact.Status = domain.ArtifactFailed
		}
		_ = p.deps.store.UpsertArtifact(ctx, artifact)
	}

	tokens := req.CostMetrics.PromptTokens + req.CostMetrics.CompletionTokens
	p.state.CostTracker.TotalTokens += tokens
	p.state.CostTracker.EstimatedCostUSD += float64(tokens) * p.deps.cfg.UnitPriceUSD

	if err := p.persist(); err != nil {
		p.deps.logger.Error("orchestrator: persist after generation report failed", "error", err)
	}

	p.checkWaveComplete(ctx)

	return eventReply{state: cloneState(p.state)}
}

// checkWaveComplete dispatches analysis once every generation job in the
// current wave is terminal, or fails the project outright if every artifact
// in the wave failed.
func (p *project) checkWaveComplete(ctx context.Context) {
	if p.state.Status != domain.StatusGenerating {
		return
	}

	jobs, err := p.deps.store.ListJobsByWave(ctx, p.state.ProjectID, p.state.CurrentWave)
	if err != nil {
		p.deps.logger.Error("orchestrator: list jobs failed", "error", err)
		return
	}
	for _, j := range jobs {
		if j.Kind == domain.JobGeneration && !j.Status.IsTerminal() {
			return
		}
	}

	records, err := p.deps.store.ListArtifactsByWave(ctx, p.state.ProjectID, p.state.CurrentWave)
	if err != nil {
		p.deps.logger.Error("orchestrator: list artifacts failed", "error", err)
		return
	}
	allFailed := true
	for _, r := range records {
		if r.Status == domain.ArtifactSuccess {
			allFailed = false
			break
		}
	}
	if allFailed && len(records) > 0 {
		p.state.Status = domain.StatusFailed
		_ = p.persist()
		return
	}

	p.state.Status = domain.StatusAnalyzing
	_ = p.persist()
	p.dispatchAnalysis(ctx)
}

func (p *project) handleAnalysisDispatchFailed(ctx context.Context) eventReply {
	if p.analysisJobID != "" {
		p.cancelTimer(p.analysisJobID)
		if job, err := p.deps.store.GetDispatchedJob(ctx, p.analysisJobID); err == nil {
			job.Status = domain.JobFailed
			_ = p.deps.store.UpsertDispatchedJob(ctx, job)
		}
		p.analysisJobID = ""
	}
	p.state.Status = domain.StatusFailed
	_ = p.persist()
	return eventReply{state: cloneState(p.state)}
}

// handleReportAnalysis folds a wave's evaluation results and learnings into
// state, then evaluates the termination conditions in their fixed order.
func (p *project) handleReportAnalysis(ctx context.Context, req domain.ReportAnalysisRequest) eventReply {
	if p.state.Status != domain.StatusAnalyzing {
		return eventReply{state: cloneState(p.state)}
	}

	if p.analysisJobID != "" {
		p.cancelTimer(p.analysisJobID)
		if job, err := p.deps.store.GetDispatchedJob(ctx, p.analysisJobID); err == nil {
			job.Status = domain.JobComplete
			_ = p.deps.store.UpsertDispatchedJob(ctx, job)
		}
		p.analysisJobID = ""
	}

	var best float64
	for i, r := range req.Results {
		artifact, err := p.deps.store.GetArtifact(ctx, r.ArtifactID)
		if err == nil {
			score := r.QualityScore
			artifact.QualityScore = &score
			if details, err := json.Marshal(r.Details); err == nil {
				artifact.EvaluationDetails = string(details)
			}
			_ = p.deps.store.UpsertArtifact(ctx, artifact)
		}
		if i == 0 || r.QualityScore > best {
			best = r.QualityScore
		}
	}
	p.state.QualityHistory = append(p.state.QualityHistory, best)

	p.state.ProposedLearnings = &domain.ProposedLearnings{
		AnalysisSummary: req.LearningsMD,
		TopArtifacts:    topArtifacts(req.Results),
	}

	if err := p.persist(); err != nil {
		p.deps.logger.Error("orchestrator: persist after analysis report failed", "error", err)
	}

	p.evaluateTermination(ctx)
	return eventReply{state: cloneState(p.state)}
}

// evaluateTermination runs the five termination checks in their fixed
// order; the first one that matches wins.
func (p *project) evaluateTermination(ctx context.Context) {
	tc := p.state.TerminationConditions

	if tc.ManualApproval {
		p.state.Status = domain.StatusAwaitingApproval
		_ = p.persist()
		return
	}

	if tc.MaxCostUSD != nil && p.state.CostTracker.EstimatedCostUSD >= *tc.MaxCostUSD {
		p.state.Status = domain.StatusCompletedBudgetExceeded
		_ = p.persist()
		return
	}

	if tc.MaxWaves != nil && p.state.CurrentWave >= *tc.MaxWaves {
		p.commitLearnings()
		p.state.Status = domain.StatusCompleted
		_ = p.persist()
		return
	}

	if tc.QualityPlateau != nil && qualityPlateaued(p.state.QualityHistory, tc.QualityPlateau.Waves, tc.QualityPlateau.Delta) {
		p.commitLearnings()
		p.state.Status = domain.StatusCompleted
		_ = p.persist()
		return
	}

	if tc.MinViableCandidates != nil {
		count, err := p.deps.store.CountViableArtifacts(ctx, p.state.ProjectID, p.deps.cfg.ViabilityThreshold)
		if err == nil && count >= *tc.MinViableCandidates {
			p.commitLearnings()
			p.state.Status = domain.StatusCompleted
			_ = p.persist()
			return
		}
	}

	p.commitAndAdvance(ctx)
}

// qualityPlateaued reports whether the best score over the last `waves`
// entries of history has improved by less than delta.
func qualityPlateaued(history []float64, waves int, delta float64) bool {
	if len(history) <= waves {
		return false
	}
	window := history[len(history)-waves-1:]
	best := window[len(window)-1]
	for _, v := range window[1:] {
		if v > best {
			best = v
		}
	}
	return best-window[0] < delta
}

// commitLearnings folds the proposed learnings into the committed
// LatestLearnings field without advancing the wave, used when a project is
// completing rather than continuing.
func (p *project) commitLearnings() {
	if p.state.ProposedLearnings != nil {
		p.state.LatestLearnings = p.state.ProposedLearnings.AnalysisSummary
		p.state.ProposedLearnings = nil
	}
}

// commitAndAdvance commits proposed learnings, advances to the next wave
// and re-enters GENERATING. Shared by the no-termination-matched loop case
// and by approve() resuming from AWAITING_APPROVAL.
func (p *project) commitAndAdvance(ctx context.Context) {
	p.commitLearnings()
	p.state.CurrentWave++
	p.state.Status = domain.StatusGenerating
	_ = p.persist()
	p.dispatchWave(ctx)
}

// handleApprove resumes a project sitting in AWAITING_APPROVAL.
func (p *project) handleApprove(ctx context.Context, req domain.ApproveRequest) eventReply {
	if p.state.Status != domain.StatusAwaitingApproval {
		return eventReply{state: cloneState(p.state), err: core.ErrNoPendingApproval}
	}
	if req.HumanGuidanceBlobPath != "" {
		p.state.HumanGuidanceBlobPath = req.HumanGuidanceBlobPath
	}
	p.commitAndAdvance(ctx)
	return eventReply{state: cloneState(p.state)}
}

// handleTimeout retries or finalizes a job whose deadline has passed. A
// timeout is the only condition that triggers a retry; reported failures
// never are.
func (p *project) handleTimeout(ctx context.Context, jobID string) eventReply {
	job, err := p.deps.store.GetDispatchedJob(ctx, jobID)
	if err != nil || job.Status.IsTerminal() {
		return eventReply{state: cloneState(p.state)}
	}

	if job.Retries < p.deps.cfg.MaxRetries {
		job.Retries++
		job.DeadlineAt = job.DeadlineAt.Add(p.timeoutFor(job.Kind))
		_ = p.deps.store.UpsertDispatchedJob(ctx, job)
		p.armTimer(jobID, p.timeoutFor(job.Kind))

		if job.Kind == domain.JobGeneration {
			spec, err := p.loadSpec(ctx)
			if err == nil {
				metaPrompt := p.buildMetaPrompt(ctx, spec)
				outputPath := artifactBlobPath(p.state.ProjectID, job.WaveNumber, job.ArtifactID)
				go p.postGenerate(ctx, job.ArtifactID, outputPath, metaPrompt)
			}
		} else {
			records, err := p.deps.store.ListArtifactsByWave(ctx, p.state.ProjectID, job.WaveNumber)
			if err == nil {
				var refs []domain.ArtifactRef
				for _, r := range records {
					if r.Status == domain.ArtifactSuccess {
						refs = append(refs, domain.ArtifactRef{ID: r.ID, BlobPath: r.BlobPath})
					}
				}
				if scorecard, err := p.loadScorecard(ctx); err == nil {
					go p.postAnalyze(ctx, refs, scorecard)
				}
			}
		}
		return eventReply{state: cloneState(p.state)}
	}

	job.Status = domain.JobTimedOut
	_ = p.deps.store.UpsertDispatchedJob(ctx, job)

	if job.Kind == domain.JobGeneration {
		delete(p.genJobByArtifact, job.ArtifactID)
		if artifact, err := p.deps.store.GetArtifact(ctx, job.ArtifactID); err == nil {
			artifact.Status = domain.ArtifactFailed
			_ = p.deps.store.UpsertArtifact(ctx, artifact)
		}
		_ = p.persist()
		p.checkWaveComplete(ctx)
	} else {
		p.analysisJobID = ""
		p.state.Status = domain.StatusFailed
		_ = p.persist()
	}

	return eventReply{state: cloneState(p.state)}
}

func (p *project) timeoutFor(kind domain.JobKind) (d time.Duration) {
	if kind == domain.JobAnalysis {
		return p.deps.cfg.AnalysisTimeout
	}
	return p.deps.cfg.GenerationTimeout
}

func artifactBlobPath(projectID string, wave int, artifactID string) string {
	return "artifacts/" + projectID + "/wave-" + strconv.Itoa(wave) + "/" + artifactID + ".html"
}

// topArtifacts selects the same K = min(5, ceil(0.2*N)) ranking the
// Analyzer itself uses, so AWAITING_APPROVAL review shows the same subset
// the learnings document was synthesized from.
func topArtifacts(results []domain.EvaluationResult) []domain.EvaluationResult {
	n := len(results)
	if n == 0 {
		return nil
	}
	k := (n + 4) / 5
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
