package orchestrator

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/store"
	"github.com/sral/selfrefine/resilience"
)

// deps bundles a project's dependencies so they can be constructed once at
// the Orchestrator level and shared by every project actor.
type deps struct {
	store      *store.Store
	snapshot   *store.SnapshotStore
	blobs      *blobstore.Store
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	cfg        core.OrchestratorConfig
	peers      core.PeerConfig
	logger     core.Logger
}

// project is the per-project mailbox actor: a single worker goroutine owns
// state and applies every mailboxEvent to it in arrival order, so reports,
// timeouts and user commands are never applied concurrently against the
// same project.
type project struct {
	deps deps

	mailbox chan mailboxEvent

	state *domain.OrchestratorState

	// genJobByArtifact maps an in-flight generation artifactId to the
	// DispatchedJob id tracking it, so a ReportGenerationRequest (which
	// carries only the artifactId) can find its job for idempotency and
	// timer cancellation.
	genJobByArtifact map[string]string

	// analysisJobID is the single in-flight analysis job for the current
	// wave, if any.
	analysisJobID string

	timers   map[string]*time.Timer
	timersMu sync.Mutex

	stop chan struct{}
}

func newProject(d deps, state *domain.OrchestratorState) *project {
	return &project{
		deps:             d,
		mailbox:          make(chan mailboxEvent, 64),
		state:            state,
		genJobByArtifact: make(map[string]string),
		timers:           make(map[string]*time.Timer),
		stop:             make(chan struct{}),
	}
}

// run is the actor's only goroutine touching p.state directly.
func (p *project) run() {
	for {
		select {
		case <-p.stop:
			return
		case ev := <-p.mailbox:
			reply := p.handle(context.Background(), ev)
			ev.reply <- reply
		}
	}
}

func (p *project) close() {
	close(p.stop)
	p.timersMu.Lock()
	for _, t := range p.timers {
		t.Stop()
	}
	p.timersMu.Unlock()
}

// send delivers an event to the actor and blocks for its reply. Internal
// callers (dispatch failures, timers) use a buffered reply channel and do
// not wait.
func (p *project) send(ev mailboxEvent) eventReply {
	p.mailbox <- ev
	return <-ev.reply
}

// post delivers an internally-generated event without waiting for a reply,
// used by dispatch goroutines and timer callbacks so they never block on
// the actor.
func (p *project) post(ev mailboxEvent) {
	ev.reply = newReply()
	select {
	case p.mailbox <- ev:
	case <-p.stop:
	}
}

func (p *project) handle(ctx context.Context, ev mailboxEvent) eventReply {
	switch ev.kind {
	case eventReportGeneration:
		return p.handleReportGeneration(ctx, ev.reportGenerationReq)
	case eventReportAnalysis:
		return p.handleReportAnalysis(ctx, ev.reportAnalysisReq)
	case eventApprove:
		return p.handleApprove(ctx, ev.approveReq)
	case eventTimeout:
		return p.handleTimeout(ctx, ev.timeoutJobID)
	case eventAnalysisDispatchFailed:
		return p.handleAnalysisDispatchFailed(ctx)
	case eventStatus:
		return eventReply{state: cloneState(p.state)}
	default:
		return eventReply{state: cloneState(p.state), err: nil}
	}
}

func cloneState(s *domain.OrchestratorState) *domain.OrchestratorState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.QualityHistory = append([]float64(nil), s.QualityHistory...)
	return &cp
}

// persist writes state to both the SQL-adjacent snapshot store and bumps
// UpdatedAt, before the triggering handler returns — every transition is
// durable before it is acted upon further.
func (p *project) persist() error {
	p.state.UpdatedAt = time.Now()
	return p.deps.snapshot.Save(p.state)
}

// armTimer schedules a timeout event for jobID after d, replacing any
// existing timer for the same job.
func (p *project) armTimer(jobID string, d time.Duration) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if existing, ok := p.timers[jobID]; ok {
		existing.Stop()
	}
	p.timers[jobID] = time.AfterFunc(d, func() {
		p.post(mailboxEvent{kind: eventTimeout, timeoutJobID: jobID})
	})
}

func (p *project) cancelTimer(jobID string) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if t, ok := p.timers[jobID]; ok {
		t.Stop()
		delete(p.timers, jobID)
	}
}
