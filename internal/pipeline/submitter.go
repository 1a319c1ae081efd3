package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

var (
	// ErrEnqueue means the video row exists but could not be handed to the worker.
	ErrEnqueue              = errors.New("video created but not queued")
	ErrConversationNotFound = errors.New("conversation not found")
)

// Submission is a validated request for a new video. A nil ConversationID starts a new
// conversation.
type Submission struct {
	ConversationID *uuid.UUID
	Prompt         string
	Specs          models.VideoSpecs
	UserID         string
}

// Submitter is the front door of the pipeline.
type Submitter struct {
	store     store.Store
	cache     cache.Cache
	jobs      queue.Producer
	metrics   *Metrics
	statusTTL time.Duration
	logger    *slog.Logger
}

func NewSubmitter(st store.Store, ca cache.Cache, jobs queue.Producer, metrics *Metrics, statusTTL time.Duration, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewNoopMetrics()
	}
	return &Submitter{store: st, cache: ca, jobs: jobs, metrics: metrics, statusTTL: statusTTL, logger: logger}
}

// Submit creates the video (and its conversation when new) in status Initiated, caches
// the status and queues the generation request, in that order. When caching or queueing
// fails the created video is returned together with an ErrEnqueue error; the row is kept.
func (s *Submitter) Submit(ctx context.Context, sub Submission) (*models.Video, error) {
	if sub.ConversationID != nil {
		exists, err := s.store.ConversationExists(ctx, *sub.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("checking conversation: %w", err)
		}
		if !exists {
			return nil, ErrConversationNotFound
		}
	}

	video, err := s.store.CreateVideo(ctx, store.NewVideo{
		ConversationID: sub.ConversationID,
		Prompt:         sub.Prompt,
		Specs:          sub.Specs,
		UserID:         sub.UserID,
	})
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("creating video: %w", err)
	}

	log := s.logger.With("video_id", video.ID, "conversation_id", video.ConversationID)

	if err := s.cache.SetVideoStatus(ctx, video.ID, models.VideoStatusInitiated, s.statusTTL); err != nil {
		log.Error("caching new video status failed", "error", err)
		return video, fmt.Errorf("%w: caching status: %v", ErrEnqueue, err)
	}

	req := models.GenerationRequest{
		ID:             video.ID,
		ConversationID: video.ConversationID,
		Prompt:         video.Prompt,
		Specs:          video.VideoSpecs,
		UserID:         video.UserID,
	}
	if err := s.jobs.Enqueue(ctx, req, 0); err != nil {
		log.Error("queueing generation request failed", "error", err)
		return video, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	s.metrics.RecordSubmission(ctx, sub.ConversationID == nil)
	log.Info("video submitted")
	return video, nil
}
