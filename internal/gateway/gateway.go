// Package gateway is the thin external entry point: it owns no state of its
// own and does nothing but validate a StartRequest body and forward it to
// the Orchestrator's static base URL, applying the same ambient middleware
// stack (CORS, structured logging, panic recovery) as every other service.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/domain"
)

// Service forwards start requests to the Orchestrator.
type Service struct {
	orchestratorURL string
	httpClient      *http.Client
	logger          core.Logger
}

// NewService wires a Gateway against the Orchestrator's base URL.
func NewService(orchestratorURL string, logger core.Logger) *Service {
	return &Service{
		orchestratorURL: orchestratorURL,
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger,
	}
}

// Register mounts the Gateway's single endpoint on base.
func (s *Service) Register(base *core.BaseService) {
	base.HandleFunc("/start", s.handleStart)
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
	if req.SpecContentB64 == "" || req.ScorecardContentB64 == "" {
		writeError(w, http.StatusBadRequest, "missing required field")
		return
	}

	resp, err := s.forward(r.Context(), req)
	if err != nil {
		s.logger.Error("gateway: forward start failed", "error", err)
		writeError(w, http.StatusBadGateway, "orchestrator unreachable")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// forward relays a StartRequest to the Orchestrator verbatim and decodes its
// StartResponse. The Gateway does not mint a projectId itself: in this
// deployment a single Orchestrator instance owns exactly one project, and
// it is the Orchestrator that mints the id on acceptance.
func (s *Service) forward(ctx context.Context, req domain.StartRequest) (domain.StartResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.StartResponse{}, fmt.Errorf("gateway: marshal start request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.orchestratorURL+"/start", bytes.NewReader(body))
	if err != nil {
		return domain.StartResponse{}, fmt.Errorf("gateway: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return domain.StartResponse{}, fmt.Errorf("gateway: dispatch to orchestrator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.StartResponse{}, fmt.Errorf("gateway: orchestrator responded %d", resp.StatusCode)
	}

	var out domain.StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.StartResponse{}, fmt.Errorf("gateway: decode orchestrator response: %w", err)
	}
	return out, nil
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
