// Package generator turns one meta-prompt into one artifact: accept the
// request, return 202 immediately, and do the model call, blob write, and
// callback POST on a background goroutine. There is no task queue or
// persisted task state — a lost callback is the Orchestrator's problem to
// detect via its own dispatch timeout, not the Generator's to retry.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
	"github.com/sral/selfrefine/internal/llm"
)

// Service is the Generator's HTTP surface plus its background worker. The
// blob store has no content-type concept of its own; every artifact it
// writes here is HTML text, exactly as Analyzer/Evaluator expect to read it
// back.

type Service struct {
	llmClient  llm.Client
	blobs      *blobstore.Store
	httpClient *http.Client
	logger     core.Logger
}

// NewService wires a Generator against a model client and a blob store.
func NewService(llmClient llm.Client, blobs *blobstore.Store, logger core.Logger) *Service {
	return &Service{
		llmClient:  llmClient,
		blobs:      blobs,
		httpClient: core.InstrumentedHTTPClient(30 * time.Second),
		logger:     logger,
	}
}

// Register mounts the Generator's single endpoint on base.
func (s *Service) Register(base *core.BaseService) {
	base.HandleFunc("/", s.handleGenerate)
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrchestratorID == "" || req.ArtifactID == "" || req.MetaPrompt == "" || req.OutputBlobPath == "" || req.CallbackURL == "" {
		writeError(w, http.StatusBadRequest, "missing required field")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go s.generate(context.Background(), req)
}

// generate runs the full generate-write-report pipeline. It never returns an
// error to a caller; every failure is surfaced as a ReportGenerationRequest
// with status FAILED, and any error posting that report is logged and
// dropped.
func (s *Service) generate(ctx context.Context, req domain.GenerateRequest) {
	report := domain.ReportGenerationRequest{ArtifactID: req.ArtifactID, Status: "FAILED"}

	resp, err := s.llmClient.GenerateResponse(ctx, req.MetaPrompt, nil)
	if err != nil {
		s.logger.Error("generator: model call failed", "artifactId", req.ArtifactID, "error", err)
		s.reportResult(ctx, req.CallbackURL, report)
		return
	}

	if err := s.blobs.Put(ctx, req.OutputBlobPath, []byte(resp.Content)); err != nil {
		s.logger.Error("generator: blob write failed", "artifactId", req.ArtifactID, "error", err)
		s.reportResult(ctx, req.CallbackURL, report)
		return
	}

	blobPath := req.OutputBlobPath
	report.Status = "SUCCESS"
	report.BlobPath = &blobPath
	report.CostMetrics = domain.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	s.reportResult(ctx, req.CallbackURL, report)
}

func (s *Service) reportResult(ctx context.Context, callbackURL string, report domain.ReportGenerationRequest) {
	body, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("generator: marshal report failed", "artifactId", report.ArtifactID, "error", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("generator: build callback request failed", "artifactId", report.ArtifactID, "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.Warn("generator: callback delivery failed", "artifactId", report.ArtifactID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("generator: callback returned non-2xx", "artifactId", report.ArtifactID, "status", resp.StatusCode)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: msg})
}
