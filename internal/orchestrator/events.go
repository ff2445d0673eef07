package orchestrator

import "github.com/sral/selfrefine/internal/domain"

// eventKind identifies what a mailboxEvent carries. Every mutation a
// project's state undergoes arrives as one of these, serialized through the
// project's single worker goroutine so no two events are ever applied
// concurrently.
type eventKind int

const (
	eventReportGeneration eventKind = iota
	eventReportAnalysis
	eventApprove
	eventTimeout
	eventStatus
	eventAnalysisDispatchFailed
)

// mailboxEvent is the envelope placed on a project's mailbox channel. reply
// is buffered with capacity 1 so a sender that stops listening (an
// internally-generated event with no external caller) never blocks the
// actor goroutine.
type mailboxEvent struct {
	kind eventKind

	reportGenerationReq domain.ReportGenerationRequest
	reportAnalysisReq   domain.ReportAnalysisRequest
	approveReq          domain.ApproveRequest
	timeoutJobID        string

	reply chan eventReply
}

// eventReply is the actor's response to one mailboxEvent.
type eventReply struct {
	state *domain.OrchestratorState
	err   error
}

func newReply() chan eventReply {
	return make(chan eventReply, 1)
}
