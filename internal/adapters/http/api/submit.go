package api

import (
	"encoding/json"
	"net/http"

	"github.com/okian/roastboard/internal/domain/validation"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

const maxJSONBody = 64 << 10

// submitRequest keeps raw JSON values so the validator can tell a missing
// field from one of the wrong type.
type submitRequest struct {
	Name        any `json:"name"`
	AudioFormat any `json:"audioFormat"`
	AudioSize   any `json:"audioSize"`
}

type submitResponse struct {
	ResponseID string `json:"responseId"`
	UploadURL  string `json:"uploadUrl"`
	ExpiresIn  int    `json:"expiresIn"`
	S3Key      string `json:"s3Key"`
	Timestamp  int64  `json:"timestamp"`
}

// SubmitHandler handles submission creation.
type SubmitHandler struct {
	deps SubmitDependencies
	log  logger.Logger
}

// NewSubmitHandler creates a new submit handler.
func NewSubmitHandler(deps SubmitDependencies, log logger.Logger) *SubmitHandler {
	return &SubmitHandler{deps: deps, log: log}
}

// HandleSubmit handles POST /submit.
func (h *SubmitHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit"

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		h.log.Debug(r.Context(), "submit body rejected", logger.Error(WrapKind(op, ErrBadRequest, err)))
		writeInvalid(w, "Request body must be a JSON object")
		return
	}

	acc, violations := validation.Validate(validation.Input{
		Name:        req.Name,
		AudioFormat: req.AudioFormat,
		AudioSize:   req.AudioSize,
	})
	if len(violations) > 0 {
		metrics.RecordValidationRejection()
		h.log.Info(r.Context(), "validation rejected", logger.Int("violations", len(violations)))
		writeInvalid(w, violations...)
		return
	}

	auth, err := h.deps.Issue(r.Context(), acc)
	if err != nil {
		h.log.Error(r.Context(), "submission create failed", logger.Error(Wrap(op, err)))
		writeError(w, http.StatusInternalServerError, "Internal server error", err)
		return
	}

	metrics.RecordSubmissionCreated(string(acc.Format))
	writeJSON(w, http.StatusOK, submitResponse{
		ResponseID: auth.ID,
		UploadURL:  auth.UploadURL,
		ExpiresIn:  auth.ExpiresIn,
		S3Key:      auth.ObjectKey,
		Timestamp:  auth.CreatedAtMillis,
	})
}
