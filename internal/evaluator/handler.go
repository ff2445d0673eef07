package evaluator

import (
	"encoding/json"
	"net/http"

	"github.com/sral/selfrefine/core"
	"github.com/sral/selfrefine/internal/blobstore"
	"github.com/sral/selfrefine/internal/domain"
)

// Service is the Evaluator's HTTP surface: a single POST endpoint that
// scores one artifact against one scorecard.
type Service struct {
	eval   *Evaluator
	blobs  *blobstore.Store
	logger core.Logger
}

// NewService wires an Evaluator to a blob store for artifact retrieval.
func NewService(eval *Evaluator, blobs *blobstore.Store, logger core.Logger) *Service {
	return &Service{eval: eval, blobs: blobs, logger: logger}
}

// Register mounts the Evaluator's single endpoint on base.
func (s *Service) Register(base *core.BaseService) {
	base.HandleFunc("/", s.handleEvaluate)
}

func (s *Service) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req domain.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	artifact, err := s.blobs.Get(r.Context(), req.ArtifactPath)
	if err != nil {
		if blobstore.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.logger.Error("evaluator: fetch artifact failed", "path", req.ArtifactPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read artifact")
		return
	}

	resp := s.eval.Evaluate(r.Context(), artifact, req.Scorecard)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(domain.ErrorResponse{Error: msg})
}
