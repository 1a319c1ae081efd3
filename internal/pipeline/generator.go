package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/blob"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/render"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
	"github.com/sethvargo/go-retry"
)

// GeneratorConfig tunes the generation worker.
type GeneratorConfig struct {
	SystemPrompt     string
	SeedPrompt       string
	MaxTokens        int
	InferenceTimeout time.Duration
	StatusTTL        time.Duration
	InitialPollDelay time.Duration
	ActiveDeadline   time.Duration
	PollGrace        time.Duration
}

// Generator turns a generation request into generated code and a running render job.
type Generator struct {
	store   store.Store
	cache   cache.Cache
	blobs   blob.Store
	oracle  models.Oracle
	runner  render.Runner
	polls   queue.Producer
	metrics *Metrics
	cfg     GeneratorConfig
	logger  *slog.Logger
	now     func() time.Time
}

// GeneratorDeps are the collaborators of a Generator.
type GeneratorDeps struct {
	Store   store.Store
	Cache   cache.Cache
	Blobs   blob.Store
	Oracle  models.Oracle
	Runner  render.Runner
	Polls   queue.Producer
	Metrics *Metrics
	Logger  *slog.Logger
}

func NewGenerator(deps GeneratorDeps, cfg GeneratorConfig) *Generator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewNoopMetrics()
	}
	return &Generator{
		store:   deps.Store,
		cache:   deps.Cache,
		blobs:   deps.Blobs,
		oracle:  deps.Oracle,
		runner:  deps.Runner,
		polls:   deps.Polls,
		metrics: deps.Metrics,
		cfg:     cfg,
		logger:  deps.Logger,
		now:     time.Now,
	}
}

// Handle is the queue.Handler for the generation queue.
func (g *Generator) Handle(ctx context.Context, msg *queue.Message) error {
	var req models.GenerationRequest
	if err := msg.Decode(&req); err != nil {
		g.logger.Error("dropping undecodable generation request", "message_id", msg.ID, "error", err)
		return nil
	}
	return g.Process(ctx, req)
}

// Process runs one generation attempt. Every failure of the attempt itself ends in a
// terminal status on the video; an error is returned only when the video could not be
// read or a lost status poll could not be re-queued, so the delivery is retried later.
func (g *Generator) Process(ctx context.Context, req models.GenerationRequest) (err error) {
	log := g.logger.With("video_id", req.ID, "conversation_id", req.ConversationID)

	video, err := g.store.GetVideo(ctx, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		log.Warn("generation request for unknown video, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading video %d: %w", req.ID, err)
	}
	if video.Status == models.VideoStatusProcessing && video.CodeObjectKey != nil {
		return g.resumePolling(ctx, log, req)
	}
	if !store.CanTransition(video.Status, models.VideoStatusProcessing) {
		if models.IsTerminalStatus(video.Status) {
			log.Info("video already settled, skipping", "status", video.Status)
		} else {
			log.Warn("video processing without code, skipping", "status", video.Status)
		}
		return nil
	}

	var jobName string
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in generation", "error", r)
			g.fail(ctx, log, req.ID, jobName, fmt.Sprintf("panic: %v", r))
			err = nil
		}
	}()

	if genErr := g.generate(ctx, log, req, &jobName); genErr != nil {
		g.fail(ctx, log, req.ID, jobName, genErr.Error())
	}
	return nil
}

// resumePolling queues the first status poll for a video whose job was launched by an
// earlier delivery that stopped before queueing it. A duplicate poll is harmless since
// the poller skips videos that already left Processing.
func (g *Generator) resumePolling(ctx context.Context, log *slog.Logger, req models.GenerationRequest) error {
	jobName := render.JobName(req.ID)
	poll := FirstPoll(req, jobName, g.now(), g.cfg.InitialPollDelay, g.cfg.ActiveDeadline, g.cfg.PollGrace)
	if err := g.polls.Enqueue(ctx, poll, g.cfg.InitialPollDelay); err != nil {
		return fmt.Errorf("requeueing status poll: %w", err)
	}
	log.Warn("video already processing, requeued status poll", "job_name", jobName, "deadline", poll.Deadline)
	return nil
}

// generate runs the attempt. jobName is set as soon as a render job exists so a later
// failure can remove it.
func (g *Generator) generate(ctx context.Context, log *slog.Logger, req models.GenerationRequest, jobName *string) error {
	turns, err := g.buildTurns(ctx, req)
	if err != nil {
		return fmt.Errorf("building context: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.InferenceTimeout)
	out, err := g.oracle.Generate(callCtx, models.GenerationPrompt{
		System:    g.cfg.SystemPrompt,
		Turns:     turns,
		MaxTokens: g.cfg.MaxTokens,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("generating code: %w", err)
	}

	text, ok := out.FirstText()
	if !ok || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: response has no text", models.ErrInvalidResponse)
	}

	if strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), RefusalPrefix) {
		return g.reject(ctx, log, req.ID, text)
	}

	key := CodeObjectKey(req.ID, req.ConversationID)
	if err := g.storeCode(ctx, log, key, StripCodeFence(text)); err != nil {
		return err
	}
	if err := g.store.SetCodeObject(ctx, req.ID, key); err != nil {
		return fmt.Errorf("recording code object: %w", err)
	}

	name, err := g.launch(ctx, req, key)
	if err != nil {
		return err
	}
	*jobName = name
	log = log.With("job_name", name)

	if err := g.store.UpdateVideoStatus(ctx, req.ID, models.VideoStatusProcessing); err != nil {
		return fmt.Errorf("marking processing: %w", err)
	}
	setStatus(ctx, g.cache, log, req.ID, models.VideoStatusProcessing, g.cfg.StatusTTL)

	poll := FirstPoll(req, name, g.now(), g.cfg.InitialPollDelay, g.cfg.ActiveDeadline, g.cfg.PollGrace)
	if err := g.polls.Enqueue(ctx, poll, g.cfg.InitialPollDelay); err != nil {
		return fmt.Errorf("queueing status poll: %w", err)
	}

	g.metrics.RecordGeneration(ctx, models.VideoStatusProcessing)
	log.Info("render job launched", "deadline", poll.Deadline)
	return nil
}

// buildTurns assembles the oracle conversation: the seed prompt, every earlier prompt of
// the conversation oldest first, the code of the latest earlier attempt that produced
// some, and finally the new prompt. Videos created after this one are not context.
func (g *Generator) buildTurns(ctx context.Context, req models.GenerationRequest) ([]models.Turn, error) {
	turns := []models.Turn{{Role: models.RoleUser, Content: g.cfg.SeedPrompt}}

	history, err := g.store.ListConversationVideos(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}

	var lastCode *string
	for _, v := range history {
		if v.ID == req.ID {
			break
		}
		turns = append(turns, models.Turn{Role: models.RoleUser, Content: v.Prompt})
		if v.CodeObjectKey != nil {
			lastCode = v.CodeObjectKey
		}
	}

	if lastCode != nil {
		code, err := g.blobs.Download(ctx, *lastCode)
		if err != nil {
			return nil, fmt.Errorf("loading previous code: %w", err)
		}
		turns = append(turns, models.Turn{Role: models.RoleAssistant, Content: string(code)})
	}

	return append(turns, models.Turn{Role: models.RoleUser, Content: req.Prompt}), nil
}

// storeCode uploads the script without overwriting. An existing object means an earlier
// delivery of this request already stored it, and that copy is the one a job may be
// running, so it is kept.
func (g *Generator) storeCode(ctx context.Context, log *slog.Logger, key, code string) error {
	err := retryImmediately(ctx, func(ctx context.Context) error {
		err := g.blobs.Upload(ctx, key, []byte(code), blob.UploadOptions{
			ContentType:  "text/x-python",
			FailIfExists: true,
		})
		if err != nil && !errors.Is(err, blob.ErrAlreadyExists) {
			return retry.RetryableError(err)
		}
		return err
	})
	if errors.Is(err, blob.ErrAlreadyExists) {
		log.Info("code object already stored, keeping it", "key", key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("uploading code after %d attempts: %w", immediateAttempts, err)
	}
	return nil
}

func (g *Generator) launch(ctx context.Context, req models.GenerationRequest, key string) (string, error) {
	var jobName string
	err := retryImmediately(ctx, func(ctx context.Context) error {
		name, err := g.runner.CreateJob(ctx, render.JobSpec{VideoID: req.ID, CodeObject: key, Specs: req.Specs})
		if err != nil {
			return retry.RetryableError(err)
		}
		jobName = name
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("creating render job after %d attempts: %w", immediateAttempts, err)
	}
	return jobName, nil
}

func (g *Generator) reject(ctx context.Context, log *slog.Logger, videoID int64, message string) error {
	err := g.store.UpdateVideoStatus(ctx, videoID, models.VideoStatusInvalidPrompt, store.WithErrorMessage(message))
	if err != nil {
		return fmt.Errorf("marking invalid prompt: %w", err)
	}
	setStatus(ctx, g.cache, log, videoID, models.VideoStatusInvalidPrompt, g.cfg.StatusTTL)
	g.metrics.RecordGeneration(ctx, models.VideoStatusInvalidPrompt)
	log.Info("oracle refused prompt")
	return nil
}

// fail marks the video Failed and removes its render job if one was already launched.
func (g *Generator) fail(ctx context.Context, log *slog.Logger, videoID int64, jobName, message string) {
	log.Error("generation failed", "error", message)
	if jobName != "" {
		if err := g.runner.DeleteJob(ctx, jobName); err != nil {
			log.Warn("deleting render job of failed video", "job_name", jobName, "error", err)
		}
	}
	err := g.store.UpdateVideoStatus(ctx, videoID, models.VideoStatusFailed, store.WithErrorMessage(message))
	if err != nil {
		log.Error("marking video failed", "error", err)
		return
	}
	setStatus(ctx, g.cache, log, videoID, models.VideoStatusFailed, g.cfg.StatusTTL)
	g.metrics.RecordGeneration(ctx, models.VideoStatusFailed)
}
