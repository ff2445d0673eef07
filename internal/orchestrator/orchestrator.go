// Package orchestrator owns the wave state machine for one project at a
// time (this deployment's Non-goal is distributed coordination across
// replicas — one Orchestrator process, addressed by a single static URL,
// governs a single in-flight project). Every state transition is applied by
// a single per-project mailbox actor (see project.go) so reports, timeouts
// and user commands are observed in a strict total order, then persisted
// durably before the triggering request returns.
package orchestrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/store"
	"github.com/sral/selfrefine/resilience"
)

// Orchestrator is the process-level wrapper around at most one active
// project actor.
type Orchestrator struct {
	deps deps

	mu      chan struct{} // 1-buffered mutex guarding project creation
	project *project
}

// New constructs an Orchestrator from its durable stores and the shared
// configuration; it does not yet own a project until Start or Rehydrate is
// called.
func New(cfg *core.Config, st *store.Store, snap *store.SnapshotStore, blobs *blobstore.Store, logger core.Logger) (*Orchestrator, error) {
	breaker, err := resilience.NewCircuitBreaker(mapCircuitBreakerConfig(cfg, logger))
	if err != nil {
		return nil, fmt.Errorf("orchestrator: circuit breaker: %w", err)
	}

	o := &Orchestrator{
		deps: deps{
			store:      st,
			snapshot:   snap,
			blobs:      blobs,
			httpClient: core.InstrumentedHTTPClient(30 * time.Second),
			breaker:    breaker,
			cfg:        cfg.Orchestrator,
			peers:      cfg.Peers,
			logger:     logger,
		},
		mu: make(chan struct{}, 1),
	}
	o.mu <- struct{}{}
	return o, nil
}

func mapCircuitBreakerConfig(cfg *core.Config, logger core.Logger) *resilience.CircuitBreakerConfig {
	rc := cfg.Resilience.CircuitBreaker
	c := resilience.DefaultConfig()
	c.Name = "orchestrator-dispatch"
	c.Logger = logger
	if rc.Threshold > 0 {
		c.VolumeThreshold = rc.Threshold
	}
	if rc.Timeout > 0 {
		c.SleepWindow = rc.Timeout
	}
	if rc.HalfOpenRequests > 0 {
		c.HalfOpenRequests = rc.HalfOpenRequests
	}
	return c
}

func (o *Orchestrator) lock()   { <-o.mu }
func (o *Orchestrator) unlock() { o.mu <- struct{}{} }

// Rehydrate restores the last in-flight project (if any) from the snapshot
// store on process startup, rebuilding in-flight job bookkeeping and
// re-arming timeouts from their stored deadlines rather than assuming any
// in-process timer survived the restart.
func (o *Orchestrator) Rehydrate(ctx context.Context) error {
	ids, err := o.deps.snapshot.ListProjectIDs()
	if err != nil {
		return fmt.Errorf("orchestrator: list snapshots: %w", err)
	}

	for _, id := range ids {
		state, err := o.deps.snapshot.Load(id)
		if err != nil {
			o.deps.logger.Error("orchestrator: load snapshot failed", "projectId", id, "error", err)
			continue
		}
		if state.Status.IsTerminal() {
			continue
		}

		o.lock()
		if o.project != nil {
			o.unlock()
			o.deps.logger.Warn("orchestrator: multiple non-terminal projects found on disk; keeping the first", "projectId", id)
			continue
		}
		p := newProject(o.deps, state)
		o.rearm(ctx, p)
		go p.run()
		o.project = p
		o.unlock()
	}
	return nil
}

// rearm rebuilds in-memory job tracking and re-schedules timeout events for
// a project's still-pending jobs, computing each remaining deadline as
// max(0, deadlineAt-now) so a restart never silently drops a timeout.
func (o *Orchestrator) rearm(ctx context.Context, p *project) {
	jobs, err := o.deps.store.ListPendingJobsByProject(ctx, p.state.ProjectID)
	if err != nil {
		o.deps.logger.Error("orchestrator: list pending jobs failed", "error", err)
		return
	}
	now := time.Now()
	for _, j := range jobs {
		if j.Kind == domain.JobGeneration {
			p.genJobByArtifact[j.ArtifactID] = j.JobID
		} else {
			p.analysisJobID = j.JobID
		}
		remaining := j.DeadlineAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		p.armTimer(j.JobID, remaining)
	}
}

// Start begins a new project, or — if one is already active — returns its
// current status, making the call idempotent under at-least-once delivery
// from the Gateway.
func (o *Orchestrator) Start(ctx context.Context, req domain.StartRequest) (domain.StartResponse, error) {
	o.lock()
	if o.project != nil {
		activeID := o.project.state.ProjectID
		o.unlock()
		return domain.StartResponse{ProjectID: activeID, StatusEndpoint: "/status"}, nil
	}

	specBytes, err := base64.StdEncoding.DecodeString(req.SpecContentB64)
	if err != nil {
		o.unlock()
		return domain.StartResponse{}, fmt.Errorf("orchestrator: decode spec content: %w", err)
	}
	scorecardBytes, err := base64.StdEncoding.DecodeString(req.ScorecardContentB64)
	if err != nil {
		o.unlock()
		return domain.StartResponse{}, fmt.Errorf("orchestrator: decode scorecard content: %w", err)
	}

	projectID := uuid.New().String()
	specPath := fmt.Sprintf("projects/%s/spec.md", projectID)
	scorecardPath := fmt.Sprintf("projects/%s/scorecard.json", projectID)
	if err := o.deps.blobs.Put(ctx, specPath, specBytes); err != nil {
		o.unlock()
		return domain.StartResponse{}, fmt.Errorf("orchestrator: store spec: %w", err)
	}
	if err := o.deps.blobs.Put(ctx, scorecardPath, scorecardBytes); err != nil {
		o.unlock()
		return domain.StartResponse{}, fmt.Errorf("orchestrator: store scorecard: %w", err)
	}

	var tc domain.TerminationConditions
	if req.TerminationOverrides != nil {
		tc = *req.TerminationOverrides
	}

	now := time.Now()
	state := &domain.OrchestratorState{
		ProjectID: projectID,
		Status:    domain.StatusIdle,
		Config: domain.ProjectConfig{
			SpecBlobPath:      specPath,
			ScorecardBlobPath: scorecardPath,
		},
		TerminationConditions: tc,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	p := newProject(o.deps, state)
	o.project = p
	o.unlock()

	state.CurrentWave = 1
	state.Status = domain.StatusGenerating
	if err := p.persist(); err != nil {
		o.deps.logger.Error("orchestrator: persist initial state failed", "error", err)
	}
	p.dispatchWave(ctx)

	// The actor starts only after the first wave is dispatched, so callbacks
	// that arrive meanwhile wait on the mailbox instead of racing Start.
	go p.run()

	return domain.StartResponse{ProjectID: projectID, StatusEndpoint: "/status"}, nil
}

// Status returns a snapshot of the active project's state.
func (o *Orchestrator) Status(ctx context.Context) (*domain.OrchestratorState, error) {
	p := o.activeProject()
	if p == nil {
		return nil, core.ErrProjectNotFound
	}
	reply := p.send(mailboxEvent{kind: eventStatus, reply: newReply()})
	return reply.state, reply.err
}

// ReportGeneration reconciles a Generator callback against the active
// project.
func (o *Orchestrator) ReportGeneration(ctx context.Context, req domain.ReportGenerationRequest) (*domain.OrchestratorState, error) {
	p := o.activeProject()
	if p == nil {
		return nil, core.ErrProjectNotFound
	}
	reply := p.send(mailboxEvent{kind: eventReportGeneration, reportGenerationReq: req, reply: newReply()})
	return reply.state, reply.err
}

// ReportAnalysis reconciles an Analyzer callback against the active
// project.
func (o *Orchestrator) ReportAnalysis(ctx context.Context, req domain.ReportAnalysisRequest) (*domain.OrchestratorState, error) {
	p := o.activeProject()
	if p == nil {
		return nil, core.ErrProjectNotFound
	}
	reply := p.send(mailboxEvent{kind: eventReportAnalysis, reportAnalysisReq: req, reply: newReply()})
	return reply.state, reply.err
}

// Approve resumes the active project from AWAITING_APPROVAL.
func (o *Orchestrator) Approve(ctx context.Context, req domain.ApproveRequest) (*domain.OrchestratorState, error) {
	p := o.activeProject()
	if p == nil {
		return nil, core.ErrProjectNotFound
	}
	reply := p.send(mailboxEvent{kind: eventApprove, approveReq: req, reply: newReply()})
	return reply.state, reply.err
}

func (o *Orchestrator) activeProject() *project {
	o.lock()
	defer o.unlock()
	return o.project
}

// Close stops the active project's actor and its timers, used on graceful
// shutdown.
func (o *Orchestrator) Close() {
	o.lock()
	defer o.unlock()
	if o.project != nil {
		o.project.close()
	}
}
