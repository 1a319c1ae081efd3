package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/vdogen/internal/api/response"
	"github.com/kiranshivaraju/vdogen/internal/manifest"
)

// PlaylistSource defines the interface the manifest handler depends on.
type PlaylistSource interface {
	Playlist(ctx context.Context, videoID int64) ([]byte, error)
}

// NewManifestHandler returns an http.HandlerFunc for GET /video/{id}/manifest.
func NewManifestHandler(src PlaylistSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseVideoID(chi.URLParam(r, "id"))
		if !ok {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "id must be a positive integer", nil)
			return
		}

		body, err := src.Playlist(r.Context(), id)
		if err != nil {
			if errors.Is(err, manifest.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "MANIFEST_NOT_FOUND",
					"The requested video manifest does not exist", nil)
				return
			}
			slog.Error("manifest rewrite failed", "video_id", id, "error", err)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to process the video manifest", nil)
			return
		}

		response.Raw(w, http.StatusOK, manifest.ContentType, body)
	}
}
