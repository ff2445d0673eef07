package orchestrator

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

// Service is the Orchestrator's HTTP surface.
type Service struct {
	orch   *Orchestrator
	logger core.Logger
}

// NewService wires an Orchestrator into an HTTP-accepting Service.
func NewService(orch *Orchestrator, logger core.Logger) *Service {
	return &Service{orch: orch, logger: logger}
}

// Register mounts every Orchestrator endpoint on base.
func (s *Service) Register(base *core.BaseService) {
	base.HandleFunc("/start", s.handleStart)
	base.HandleFunc("/report/generation", s.handleReportGeneration)
	base.HandleFunc("/report/analysis", s.handleReportAnalysis)
	base.HandleFunc("/status", s.handleStatus)
	base.HandleFunc("/approve", s.handleApprove)
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.orch.Start(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleReportGeneration(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.ReportGenerationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := s.orch.ReportGeneration(r.Context(), req)
	s.respondState(w, state, err)
}

func (s *Service) handleReportAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.ReportAnalysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := s.orch.ReportAnalysis(r.Context(), req)
	s.respondState(w, state, err)
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state, err := s.orch.Status(r.Context())
	s.respondState(w, state, err)
}

func (s *Service) handleApprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req domain.ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	state, err := s.orch.Approve(r.Context(), req)
	s.respondState(w, state, err)
}

func (s *Service) respondState(w http.ResponseWriter, state *domain.OrchestratorState, err error) {
	if err != nil {
		switch {
		case errors.Is(err, core.ErrProjectNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, core.ErrNoPendingApproval):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: msg})
}
