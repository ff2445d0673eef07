// Package domain holds the data model shared by every service: the wave
// state machine's persisted shape, artifact and job records, and the
// scorecard/termination-condition documents that travel between them.
package domain

import "time"

// Status is the Orchestrator's wave state machine position for one project.
type Status string

const (
	StatusIdle                    Status = "IDLE"
	StatusGenerating              Status = "GENERATING"
	StatusAnalyzing               Status = "ANALYZING"
	StatusAwaitingApproval        Status = "AWAITING_APPROVAL"
	StatusCompleted               Status = "COMPLETED"
	StatusFailed                  Status = "FAILED"
	StatusCompletedBudgetExceeded Status = "COMPLETED_BUDGET_EXCEEDED"
)

// IsTerminal reports whether a project in this status can never transition
// further.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompletedBudgetExceeded:
		return true
	default:
		return false
	}
}

// TerminationConditions are the optional stop rules evaluated in a fixed
// order at the end of each wave's analysis.
type TerminationConditions struct {
	MaxWaves            *int             `json:"maxWaves,omitempty" yaml:"maxWaves,omitempty"`
	MaxCostUSD          *float64         `json:"maxCostUSD,omitempty" yaml:"maxCostUSD,omitempty"`
	MinViableCandidates *int             `json:"minViableCandidates,omitempty" yaml:"minViableCandidates,omitempty"`
	QualityPlateau      *QualityPlateau  `json:"qualityPlateau,omitempty" yaml:"qualityPlateau,omitempty"`
	ManualApproval      bool             `json:"manualApproval,omitempty" yaml:"manualApproval,omitempty"`
}

// QualityPlateau triggers completion when the best score hasn't improved by
// at least Delta over the last Waves waves.
type QualityPlateau struct {
	Waves int     `json:"waves" yaml:"waves"`
	Delta float64 `json:"delta" yaml:"delta"`
}

// CostTracker accumulates token usage and its estimated dollar cost across
// every generation job that has reported completion.
type CostTracker struct {
	TotalTokens      int64   `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUSD"`
}

// ProposedLearnings is stashed on the project when it enters
// AWAITING_APPROVAL so a human can review it before the next wave starts.
type ProposedLearnings struct {
	AnalysisSummary string              `json:"analysisSummary"`
	TopArtifacts    []EvaluationResult  `json:"topArtifacts"`
}

// ProjectConfig records where the immutable inputs for a project live in
// the blob store.
type ProjectConfig struct {
	SpecBlobPath      string `json:"specBlobPath"`
	ScorecardBlobPath string `json:"scorecardBlobPath"`
}

// OrchestratorState is the single row of durable state per project. Every
// field mutation is written atomically before the triggering HTTP handler
// returns.
type OrchestratorState struct {
	ProjectID              string                  `json:"projectId"`
	Status                 Status                  `json:"status"`
	CurrentWave            int                     `json:"currentWave"`
	Config                 ProjectConfig           `json:"config"`
	TerminationConditions  TerminationConditions   `json:"terminationConditions"`
	CostTracker            CostTracker             `json:"costTracker"`
	LatestLearnings        string                  `json:"latestLearnings"`
	HumanGuidanceBlobPath  string                  `json:"humanGuidanceBlobPath,omitempty"`
	QualityHistory         []float64               `json:"qualityHistory"`
	ProposedLearnings      *ProposedLearnings      `json:"proposedLearningsForReview,omitempty"`
	CreatedAt              time.Time               `json:"createdAt"`
	UpdatedAt              time.Time               `json:"updatedAt"`
}

// ArtifactStatus is the lifecycle of one generated artifact.
type ArtifactStatus string

const (
	ArtifactPending ArtifactStatus = "pending"
	ArtifactSuccess ArtifactStatus = "SUCCESS"
	ArtifactFailed  ArtifactStatus = "FAILED"
)

// ArtifactRecord is one produced (or attempted) artifact. Once inserted it
// is never deleted; analysis only fills in the score fields.
type ArtifactRecord struct {
	ID                string          `json:"id"`
	ProjectID         string          `json:"projectId"`
	WaveNumber        int             `json:"waveNumber"`
	BlobPath          string          `json:"blobPath,omitempty"`
	Status            ArtifactStatus  `json:"status"`
	QualityScore      *float64        `json:"qualityScore"`
	EvaluationDetails string          `json:"evaluationDetails,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// JobKind distinguishes the two outbound dispatch shapes the Orchestrator
// tracks for timeout/retry purposes.
type JobKind string

const (
	JobGeneration JobKind = "generation"
	JobAnalysis   JobKind = "analysis"
)

// JobStatus is the lifecycle of one DispatchedJob.
type JobStatus string

const (
	JobPending  JobStatus = "pending"
	JobComplete JobStatus = "complete"
	JobFailed   JobStatus = "failed"
	JobTimedOut JobStatus = "timed_out"
)

// DispatchedJob tracks one outgoing HTTP dispatch (generation or analysis)
// for timeout detection and bounded retry.
type DispatchedJob struct {
	JobID      string    `json:"jobId"`
	ProjectID  string    `json:"projectId"`
	ArtifactID string    `json:"artifactId,omitempty"`
	WaveNumber int       `json:"waveNumber"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Retries    int       `json:"retries"`
	CreatedAt  time.Time `json:"createdAt"`
	DeadlineAt time.Time `json:"deadlineAt"`
}

// IsTerminal reports whether this job will never change state again.
func (j JobStatus) IsTerminal() bool {
	return j == JobComplete || j == JobFailed || j == JobTimedOut
}

// ScorecardTest is one weighted test within a Scorecard.
type ScorecardTest struct {
	TestType string                 `json:"testType" yaml:"testType"`
	Weight   float64                `json:"weight" yaml:"weight"`
	Config   map[string]interface{} `json:"config,omitempty" yaml:"config,omitempty"`
}

// Scorecard is the immutable, ordered list of tests used to score every
// artifact in a project.
type Scorecard struct {
	Tests []ScorecardTest `json:"tests" yaml:"tests"`
}

// EvaluationResult is one artifact's score as reported by the Analyzer after
// fanning out to the Evaluator.
type EvaluationResult struct {
	ArtifactID string                 `json:"artifactId"`
	QualityScore float64              `json:"qualityScore"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// TokenUsage is the prompt/completion token accounting reported by a
// generation job.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}
