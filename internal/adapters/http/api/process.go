package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/pkg/logger"
)

type processRequest struct {
	ResponseID string `json:"responseId"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}

type processResponse struct {
	ResponseID    string `json:"responseId"`
	Transcription string `json:"transcription"`
	Score         int    `json:"score"`
	Roast         string `json:"roast"`
	PrizeEligible bool   `json:"prizeEligible"`
}

// ProcessHandler triggers scoring.
type ProcessHandler struct {
	deps ProcessDependencies
	log  logger.Logger
}

// NewProcessHandler creates a new process handler.
func NewProcessHandler(deps ProcessDependencies, log logger.Logger) *ProcessHandler {
	return &ProcessHandler{deps: deps, log: log}
}

// HandleProcess handles POST /process.
func (h *ProcessHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	const op = "api.process"

	var req processRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(&req); err != nil {
		h.log.Debug(r.Context(), "process body rejected", logger.Error(WrapKind(op, ErrBadRequest, err)))
		writeInvalid(w, "responseId is required")
		return
	}
	req.ResponseID = strings.TrimSpace(req.ResponseID)
	if req.ResponseID == "" {
		writeInvalid(w, "responseId is required")
		return
	}

	out, err := h.deps.Process(r.Context(), scoring.Request{ID: req.ResponseID, CreatedAtMillis: req.Timestamp})
	if err != nil {
		h.writeProcessError(w, r, op, req.ResponseID, err)
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		ResponseID:    out.SubmissionID,
		Transcription: out.Transcript,
		Score:         out.Score,
		Roast:         out.Roast,
		PrizeEligible: out.PrizeEligible,
	})
}

func (h *ProcessHandler) writeProcessError(w http.ResponseWriter, r *http.Request, op, id string, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   "Response not found",
			Details: []string{"No record found with the provided responseId"},
		})
	case errors.Is(err, model.ErrAlreadyClaimed):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "Submission is already being processed", ResponseID: id,
		})
	case errors.Is(err, model.ErrTerminal):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error: "Submission already failed", ResponseID: id,
		})
	default:
		resp := errorResponse{Error: "Processing failed", Message: err.Error(), ResponseID: id}
		var pe *scoring.ProcessError
		if errors.As(err, &pe) {
			resp.Stage = pe.Stage
			resp.Message = pe.Err.Error()
		}
		h.log.Error(r.Context(), "processing failed", logger.String("id", id), logger.Error(Wrap(op, err)))
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}
