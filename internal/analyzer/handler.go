package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

// Service is the Analyzer's HTTP surface: accept a wave's artifacts,
// return 202, run the evaluate/rank/synthesize pipeline in the background,
// and report the result back to the callback URL.
type Service struct {
	analyzer   *Analyzer
	httpClient *http.Client
	logger     core.Logger
}

// NewService wires an Analyzer into an HTTP-accepting Service.
func NewService(analyzer *Analyzer, logger core.Logger) *Service {
	return &Service{analyzer: analyzer, httpClient: &http.Client{Timeout: 30 * time.Second}, logger: logger}
}

// Register mounts the Analyzer's single endpoint on base.
func (s *Service) Register(base *core.BaseService) {
	base.HandleFunc("/", s.handleAnalyze)
}

func (s *Service) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OrchestratorID == "" || req.CallbackURL == "" {
		writeError(w, http.StatusBadRequest, "missing required field")
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go s.run(context.Background(), req)
}

func (s *Service) run(ctx context.Context, req domain.AnalyzeRequest) {
	report := s.analyzer.Analyze(ctx, req.Artifacts, req.Scorecard)
	s.reportResult(ctx, req.CallbackURL, report)
}

func (s *Service) reportResult(ctx context.Context, callbackURL string, report domain.ReportAnalysisRequest) {
	body, err := json.Marshal(report)
	if err != nil {
		s.logger.Error("analyzer: marshal report failed", "error", err)
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("analyzer: build callback request failed", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.logger.Warn("analyzer: callback delivery failed", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		s.logger.Warn("analyzer: callback returned non-2xx", "status", resp.StatusCode)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: msg})
}
