package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	mw "github.com/artify-labs/artify/internal/api/middleware"
	"github.com/artify-labs/artify/internal/api/response"
	"github.com/artify-labs/artify/internal/jobs"
	"github.com/artify-labs/artify/internal/queue"
	"github.com/artify-labs/artify/pkg/models"
)

// multipartOverhead is the allowance for boundaries and part headers on top
// of the image itself.
const multipartOverhead = 64 << 10

// Submitter defines the interface the process handler depends on.
type Submitter interface {
	Submit(ctx context.Context, req jobs.SubmitRequest) (*models.Record, error)
}

// NewProcessHandler returns an http.HandlerFunc for POST /process. The image
// is read from multipart field "file".
func NewProcessHandler(svc Submitter, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxUploadBytes+multipartOverhead {
			payloadTooLarge(w, maxUploadBytes)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes+multipartOverhead)

		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				payloadTooLarge(w, maxUploadBytes)
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Expected a multipart/form-data body", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		file, header, err := r.FormFile("file")
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "file field is required", nil)
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes+1))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Failed to read uploaded file", nil)
			return
		}

		rec, err := svc.Submit(r.Context(), jobs.SubmitRequest{
			OwnerID:     mw.GetOwnerID(r),
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Data:        data,
		})
		if err != nil {
			switch {
			case errors.Is(err, jobs.ErrEmptyPayload):
				response.Error(w, http.StatusBadRequest, response.CodeEmptyPayload, "Uploaded file is empty", nil)
			case errors.Is(err, jobs.ErrPayloadTooLarge):
				payloadTooLarge(w, maxUploadBytes)
			case errors.Is(err, jobs.ErrUnsupportedMediaType):
				response.Error(w, http.StatusBadRequest, response.CodeUnsupportedMediaType, err.Error(), nil)
			case errors.Is(err, queue.ErrQueueUnavailable):
				response.Error(w, http.StatusInternalServerError, response.CodeQueueUnavailable,
					"The job could not be queued", nil)
			default:
				slog.Error("submit failed", "error", err)
				response.Internal(w)
			}
			return
		}

		response.Accepted(w, submitResponse{ID: rec.ID.String(), Status: string(rec.Status)})
	}
}

type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func payloadTooLarge(w http.ResponseWriter, limit int64) {
	response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
		"Uploaded file exceeds the size limit", map[string]any{"max_bytes": limit})
}
