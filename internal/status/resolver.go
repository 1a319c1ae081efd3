// Package status answers "what is happening to video N" for polling clients, following
// a failed video to the attempt that replaced it.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

var ErrVideoNotFound = errors.New("video not found")

// maxChain bounds how many regenerations are followed for one lookup.
const maxChain = 10

// Resolution is the answer to a status query. ID differs from the requested id when the
// requested video failed and was replaced.
type Resolution struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

// Resolver reads the cache first and falls back to the durable store, which holds the
// authoritative successor link.
type Resolver struct {
	store  store.Store
	cache  cache.Cache
	logger *slog.Logger
}

func NewResolver(st store.Store, ca cache.Cache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: st, cache: ca, logger: logger}
}

func (r *Resolver) Resolve(ctx context.Context, id int64) (Resolution, error) {
	log := r.logger.With("video_id", id)

	status, found, err := r.cache.GetVideoStatus(ctx, id)
	if err != nil {
		log.Warn("cache status read failed, using store", "error", err)
		found = false
	}
	if found && status != models.VideoStatusError {
		return Resolution{ID: id, Status: status}, nil
	}
	if found {
		replacement, ok, err := r.cache.GetReplacement(ctx, id)
		if err != nil {
			log.Warn("cache replacement read failed, using store", "error", err)
		}
		if ok {
			return Resolution{ID: replacement, Status: models.VideoStatusProcessing}, nil
		}
	}

	video, err := r.store.GetVideo(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return Resolution{}, ErrVideoNotFound
	}
	if err != nil {
		return Resolution{}, fmt.Errorf("loading video %d: %w", id, err)
	}
	return r.follow(ctx, video)
}

// follow walks predecessor links from a video in the store. A failed video without a
// successor is reported as Error; a successor still waiting for the worker is reported
// as Processing, matching what the cache path answers.
func (r *Resolver) follow(ctx context.Context, video *models.Video) (Resolution, error) {
	for range maxChain {
		if video.Status != models.VideoStatusError {
			break
		}
		successor, err := r.store.GetSuccessor(ctx, video.ID)
		if errors.Is(err, store.ErrNotFound) {
			return Resolution{ID: video.ID, Status: models.VideoStatusError}, nil
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("loading successor of %d: %w", video.ID, err)
		}
		if successor.Status == models.VideoStatusInitiated {
			successor.Status = models.VideoStatusProcessing
		}
		video = successor
	}
	return Resolution{ID: video.ID, Status: video.Status}, nil
}
