package domain

// This file holds the JSON wire shapes exchanged between services (§6 of
// the design document). Internal records in project.go are richer than
// these; handlers translate between the two.

// StartRequest is POSTed to the Gateway to kick off a new project.
type StartRequest struct {
	SpecContentB64      string                 `json:"spec_content_b64"`
	ScorecardContentB64 string                 `json:"scorecard_content_b64"`
	TerminationOverrides *TerminationConditions `json:"termination_conditions,omitempty"`
}

// StartResponse is returned by both the Gateway and the Orchestrator's
// start endpoint.
type StartResponse struct {
	ProjectID      string `json:"projectId"`
	StatusEndpoint string `json:"status_endpoint"`
}

// ReportGenerationRequest is POSTed by the Generator back to the
// Orchestrator once a generation attempt finishes (successfully or not).
type ReportGenerationRequest struct {
	ArtifactID  string      `json:"artifact_id"`
	BlobPath    *string     `json:"r2_path"`
	Status      string      `json:"status"`
	CostMetrics TokenUsage  `json:"cost_metrics"`
}

// ReportAnalysisRequest is POSTed by the Analyzer back to the Orchestrator
// once a wave's evaluations and learnings synthesis complete.
type ReportAnalysisRequest struct {
	Results      []EvaluationResult `json:"results"`
	LearningsMD  string             `json:"learnings_md"`
}

// ApproveRequest resumes a project sitting in AWAITING_APPROVAL.
type ApproveRequest struct {
	HumanGuidanceBlobPath string `json:"human_guidance_r2_path,omitempty"`
}

// GenerateRequest is POSTed by the Orchestrator to the Generator for each
// artifact dispatched in a wave.
type GenerateRequest struct {
	OrchestratorID string `json:"orchestrator_id"`
	ArtifactID     string `json:"artifact_id"`
	MetaPrompt     string `json:"meta_prompt"`
	OutputBlobPath string `json:"output_r2_path"`
	CallbackURL    string `json:"callback_url"`
}

// ArtifactRef is a single artifact as handed from the Orchestrator to the
// Analyzer for evaluation.
type ArtifactRef struct {
	ID       string `json:"id"`
	BlobPath string `json:"r2_path"`
}

// AnalyzeRequest is POSTed by the Orchestrator to the Analyzer once every
// generation job in a wave is terminal.
type AnalyzeRequest struct {
	OrchestratorID string        `json:"orchestrator_id"`
	CallbackURL    string        `json:"callback_url"`
	Artifacts      []ArtifactRef `json:"artifacts"`
	Scorecard      Scorecard     `json:"scorecard"`
}

// EvaluationRequest is POSTed by the Analyzer to the Evaluator for a single
// artifact.
type EvaluationRequest struct {
	ArtifactPath string    `json:"artifact_path"`
	Scorecard    Scorecard `json:"scorecard"`
}

// EvaluationResponse is the Evaluator's scoring result for one artifact.
type EvaluationResponse struct {
	QualityScore float64                `json:"quality_score"`
	Details      map[string]interface{} `json:"details"`
}

// ErrorResponse is the uniform error body returned by every service.
type ErrorResponse struct {
	Error string `json:"error"`
}
