package api

import (
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/roastboard/internal/adapters/objectstore"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/upload"
	"github.com/okian/roastboard/pkg/logger"
	"github.com/okian/roastboard/pkg/metrics"
)

type uploadResponse struct {
	S3Key string `json:"s3Key"`
	Size  int64  `json:"size"`
}

// UploadHandler accepts audio bodies for authorized object keys.
type UploadHandler struct {
	deps UploadDependencies
	log  logger.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(deps UploadDependencies, log logger.Logger) *UploadHandler {
	return &UploadHandler{deps: deps, log: log}
}

// HandleUpload handles PUT /uploads/{key}?token=...
func (h *UploadHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	const op = "api.upload"
	key := chi.URLParam(r, "*")

	c, err := h.deps.VerifyUpload(r.URL.Query().Get("token"), key)
	if err != nil {
		h.reject(w, r, op, "capability", err)
		return
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != c.ContentType {
		h.reject(w, r, op, "content_type", NewKind(op, ErrUnsupportedMedia))
		return
	}
	if r.ContentLength > c.MaxBytes {
		h.reject(w, r, op, "too_large", NewKind(op, ErrTooLarge))
		return
	}

	res, err := h.deps.ReceiveUpload(r.Context(), c, r.Body)
	if err != nil {
		h.reject(w, r, op, "store", err)
		return
	}

	h.log.Info(r.Context(), "audio uploaded",
		logger.String("id", c.ID),
		logger.String("key", res.Key),
		logger.Int64("size", res.Size),
	)
	writeJSON(w, http.StatusOK, uploadResponse{S3Key: res.Key, Size: res.Size})
}

func (h *UploadHandler) reject(w http.ResponseWriter, r *http.Request, op, reason string, err error) {
	metrics.RecordUploadRejection(reason)
	status, title := uploadStatus(err)
	logged := err
	if kind := uploadKind(status); kind != nil {
		logged = WrapKind(op, kind, err)
	}
	if status >= statusInternalError {
		h.log.Error(r.Context(), "upload failed", logger.Error(Wrap(op, err)))
	} else {
		h.log.Debug(r.Context(), "upload rejected", logger.String("reason", reason), logger.Error(logged))
	}
	writeError(w, status, title, err)
}

func uploadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, upload.ErrCapabilityExpired), errors.Is(err, upload.ErrKeyMismatch):
		return http.StatusForbidden, "Upload not permitted"
	case errors.Is(err, upload.ErrInvalidCapability):
		return http.StatusUnauthorized, "Invalid upload token"
	case errors.Is(err, ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType, "Content type does not match the submission"
	case errors.Is(err, ErrTooLarge), errors.Is(err, objectstore.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Audio exceeds the size limit"
	case errors.Is(err, objectstore.ErrEmptyObject):
		return http.StatusBadRequest, "Audio body is empty"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "Response not found"
	case errors.Is(err, model.ErrAlreadyClaimed), errors.Is(err, model.ErrTerminal):
		return http.StatusConflict, "Submission no longer accepts audio"
	default:
		return http.StatusInternalServerError, "Upload failed"
	}
}

// uploadKind names the API kind for the statuses whose cause comes from
// another package. Local kinds are already attached at the call site.
func uploadKind(status int) error {
	switch status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusConflict:
		return ErrConflict
	default:
		return nil
	}
}
