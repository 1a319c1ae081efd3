package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/render"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// PollerConfig tunes the render-status poller.
type PollerConfig struct {
	StatusTTL    time.Duration
	PollInterval time.Duration
}

// PollerDeps are the collaborators of a Poller.
type PollerDeps struct {
	Store       store.Store
	Cache       cache.Cache
	Runner      render.Runner
	Generations queue.Producer
	Polls       queue.Producer
	Metrics     *Metrics
	Logger      *slog.Logger
}

// Poller watches render jobs until they finish, fail or run out of time.
type Poller struct {
	store       store.Store
	cache       cache.Cache
	runner      render.Runner
	generations queue.Producer
	polls       queue.Producer
	metrics     *Metrics
	cfg         PollerConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewPoller(deps PollerDeps, cfg PollerConfig) *Poller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewNoopMetrics()
	}
	return &Poller{
		store:       deps.Store,
		cache:       deps.Cache,
		runner:      deps.Runner,
		generations: deps.Generations,
		polls:       deps.Polls,
		metrics:     deps.Metrics,
		cfg:         cfg,
		logger:      deps.Logger,
		now:         time.Now,
	}
}

// Handle is the queue.Handler for the render-status queue.
func (p *Poller) Handle(ctx context.Context, msg *queue.Message) error {
	var req models.StatusPollRequest
	if err := msg.Decode(&req); err != nil {
		p.logger.Error("dropping undecodable status poll", "message_id", msg.ID, "error", err)
		return nil
	}
	return p.Poll(ctx, req)
}

// Poll observes one render job and acts on what it sees. Only videos still in
// Processing are acted on, so a redelivered poll for a settled video is a no-op.
func (p *Poller) Poll(ctx context.Context, req models.StatusPollRequest) (err error) {
	log := p.logger.With("video_id", req.ID, "job_name", req.JobName, "attempt", req.Attempt)

	video, err := p.store.GetVideo(ctx, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("status poll for unknown video, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading video %d: %w", req.ID, err)
	}
	if video.Status != models.VideoStatusProcessing {
		log.Info("video no longer processing, skipping poll", "status", video.Status)
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in status poll", "error", r)
			_ = p.settle(ctx, log, req.ID, models.VideoStatusFailed, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	pollErr := p.poll(ctx, log, req)
	var se *settleError
	switch {
	case pollErr == nil:
	case errors.As(pollErr, &se):
		// The outcome is known but could not be recorded; poll again later.
		return pollErr
	default:
		log.Error("status poll failed", "error", pollErr)
		_ = p.settle(ctx, log, req.ID, models.VideoStatusFailed, pollErr.Error())
	}
	return nil
}

// settleError is a failure to record a final status that was already decided.
type settleError struct {
	status string
	err    error
}

func (e *settleError) Error() string {
	return fmt.Sprintf("recording status %s: %v", e.status, e.err)
}

func (e *settleError) Unwrap() error { return e.err }

// recordOutcome settles the video and converts a store failure into a settleError. A
// video that already left Processing was settled by another delivery.
func (p *Poller) recordOutcome(ctx context.Context, log *slog.Logger, videoID int64, status, message string) (bool, error) {
	err := p.settle(ctx, log, videoID, status, message)
	if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, &settleError{status: status, err: err}
	}
	return true, nil
}

func (p *Poller) poll(ctx context.Context, log *slog.Logger, req models.StatusPollRequest) error {
	state, err := p.runner.JobStatus(ctx, req.JobName)
	if err != nil {
		return fmt.Errorf("reading job status: %w", err)
	}

	decision := DecidePoll(state, req, p.now())
	log.Debug("job observed", "action", decision.Action.String(), "reason", state.Reason)

	switch decision.Action {
	case PollComplete:
		if ok, err := p.recordOutcome(ctx, log, req.ID, models.VideoStatusComplete, ""); !ok {
			return err
		}
		p.metrics.RecordRender(ctx, models.VideoStatusComplete)
		log.Info("render complete")
	case PollRenderFailed:
		return p.renderFailed(ctx, log, req)
	case PollTimeout:
		if ok, err := p.recordOutcome(ctx, log, req.ID, models.VideoStatusTimeout, TimeoutMessage); !ok {
			return err
		}
		if err := p.runner.DeleteJob(ctx, req.JobName); err != nil {
			log.Warn("deleting timed out job failed", "error", err)
		}
		p.metrics.RecordPollTimeout(ctx)
		log.Warn("render timed out", "deadline", req.Deadline)
	default:
		if err := p.polls.Enqueue(ctx, decision.Next, p.cfg.PollInterval); err != nil {
			return fmt.Errorf("queueing next poll: %w", err)
		}
	}
	return nil
}

// renderFailed retries the video with the renderer's error output as feedback when the
// pod log carries any. The replacement is created and queued before the failed video is
// settled, so a crash in between leaves a poll that can finish the job.
func (p *Poller) renderFailed(ctx context.Context, log *slog.Logger, req models.StatusPollRequest) error {
	podLog, err := p.runner.PodLogs(ctx, req.JobName)
	if err != nil {
		log.Warn("reading pod logs failed, treating as no evidence", "error", err)
		podLog = ""
	}

	if plan, ok := PlanRegeneration(req, podLog); ok {
		successor, err := p.createSuccessor(ctx, plan)
		if err != nil {
			return err
		}
		log = log.With("successor_id", successor.ID)

		if err := p.cache.SetReplacement(ctx, req.ID, successor.ID, p.cfg.StatusTTL); err != nil {
			log.Warn("caching replacement link failed", "error", err)
		}
		setStatus(ctx, p.cache, log, successor.ID, models.VideoStatusInitiated, p.cfg.StatusTTL)
		if err := p.generations.Enqueue(ctx, plan.Request(successor.ID), 0); err != nil {
			return fmt.Errorf("queueing regeneration: %w", err)
		}
		p.metrics.RecordRegeneration(ctx)
		log.Info("render failed, regenerating")
	} else {
		log.Info("render failed without renderer output, not regenerating")
	}

	if ok, err := p.recordOutcome(ctx, log, req.ID, models.VideoStatusError, ScriptErrorMessage); !ok {
		return err
	}
	p.metrics.RecordRender(ctx, models.VideoStatusError)
	return nil
}

// createSuccessor creates the replacement video, reusing the one an earlier delivery of
// the same poll already created.
func (p *Poller) createSuccessor(ctx context.Context, plan RegenerationPlan) (*models.Video, error) {
	video, err := p.store.CreateVideo(ctx, plan.NewVideo())
	if errors.Is(err, store.ErrAlreadyExists) {
		video, err = p.store.GetSuccessor(ctx, plan.PredecessorID)
	}
	if err != nil {
		return nil, fmt.Errorf("creating replacement video: %w", err)
	}
	return video, nil
}

// settle moves the video to a final status and mirrors it into the cache. It returns
// the store error, already logged, so callers can skip follow-up work.
func (p *Poller) settle(ctx context.Context, log *slog.Logger, videoID int64, status, message string) error {
	var opts []store.VideoUpdateOption
	if message != "" {
		opts = append(opts, store.WithErrorMessage(message))
	}
	if err := p.store.UpdateVideoStatus(ctx, videoID, status, opts...); err != nil {
		log.Error("updating video status failed", "status", status, "error", err)
		return err
	}
	setStatus(ctx, p.cache, log, videoID, status, p.cfg.StatusTTL)
	return nil
}
