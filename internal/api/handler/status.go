package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	mw "github.com/artify-labs/artify/internal/api/middleware"
	"github.com/artify-labs/artify/internal/api/response"
	"github.com/artify-labs/artify/internal/jobs"
	"github.com/artify-labs/artify/internal/store"
	"github.com/artify-labs/artify/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// StatusReader defines the interface the status handler depends on.
type StatusReader interface {
	GetStatus(ctx context.Context, id uuid.UUID) (*models.Record, error)
}

// HistoryLister defines the interface the history handler depends on.
type HistoryLister interface {
	ListHistory(ctx context.Context, q jobs.HistoryQuery) (*jobs.History, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /status/{id}.
// Records that are still pending or queued are returned as-is.
func NewStatusHandler(svc StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidJobID, "Invalid job ID format", nil)
			return
		}

		rec, err := svc.GetStatus(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, response.CodeJobNotFound, "Job not found", nil)
				return
			}
			slog.Error("status lookup failed", "job_id", id, "error", err)
			response.Internal(w)
			return
		}

		response.JSON(w, rec)
	}
}

// NewHistoryHandler returns an http.HandlerFunc for GET /history. Results are
// scoped to the caller.
func NewHistoryHandler(svc HistoryLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := jobs.HistoryQuery{
			OwnerID: mw.GetOwnerID(r),
			Status:  models.Status(r.URL.Query().Get("status")),
		}
		var ok bool
		if q.Page, ok = intParam(r, "page"); !ok {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidQuery, "page must be a non-negative integer", nil)
			return
		}
		if q.Limit, ok = intParam(r, "limit"); !ok {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidQuery, "limit must be a non-negative integer", nil)
			return
		}

		h, err := svc.ListHistory(r.Context(), q)
		if err != nil {
			if errors.Is(err, jobs.ErrInvalidQuery) {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidQuery, "Invalid history query", nil)
				return
			}
			slog.Error("history lookup failed", "owner_id", q.OwnerID, "error", err)
			response.Internal(w)
			return
		}

		response.Collection(w, h.Records, response.PaginationMeta{
			Page:    h.Page,
			Limit:   h.Limit,
			Total:   h.Total,
			HasNext: h.HasNext,
		})
	}
}

func intParam(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
