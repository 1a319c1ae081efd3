package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/vdogen/internal/api/response"
	"github.com/kiranshivaraju/vdogen/internal/status"
)

// StatusResolver defines the interface the status handler depends on.
type StatusResolver interface {
	Resolve(ctx context.Context, id int64) (status.Resolution, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /status?id=.
func NewStatusHandler(resolver StatusResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseVideoID(r.URL.Query().Get("id"))
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a positive integer", nil)
			return
		}

		res, err := resolver.Resolve(r.Context(), id)
		if err != nil {
			if errors.Is(err, status.ErrVideoNotFound) {
				response.Error(w, http.StatusBadRequest, "VIDEO_NOT_FOUND", "No video with this id", nil)
				return
			}
			slog.Error("status lookup failed", "video_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, res)
	}
}

func parseVideoID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
