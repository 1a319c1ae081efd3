package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vdogen/internal/render"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// RegenerationPlan describes the video that replaces a failed render.
type RegenerationPlan struct {
	PredecessorID  int64
	ConversationID uuid.UUID
	Prompt         string
	Specs          models.VideoSpecs
	UserID         string
}

// PlanRegeneration decides whether a failed render is retried. It is retried only when
// the pod log carries renderer output between the markers; that output becomes the
// feedback prompt for the new attempt.
func PlanRegeneration(req models.StatusPollRequest, podLog string) (RegenerationPlan, bool) {
	evidence, ok := render.ExtractRenderLog(podLog)
	if !ok {
		return RegenerationPlan{}, false
	}
	return RegenerationPlan{
		PredecessorID:  req.ID,
		ConversationID: req.ConversationID,
		Prompt:         RegenerationPrefix + evidence,
		Specs:          req.Specs,
		UserID:         req.UserID,
	}, true
}

// NewVideo is the row to create for the plan.
func (p RegenerationPlan) NewVideo() store.NewVideo {
	conversationID := p.ConversationID
	predecessorID := p.PredecessorID
	return store.NewVideo{
		ConversationID: &conversationID,
		Prompt:         p.Prompt,
		Specs:          p.Specs,
		UserID:         p.UserID,
		PredecessorID:  &predecessorID,
	}
}

// Request is the generation request for the plan's new video.
func (p RegenerationPlan) Request(videoID int64) models.GenerationRequest {
	return models.GenerationRequest{
		ID:             videoID,
		ConversationID: p.ConversationID,
		Prompt:         p.Prompt,
		Specs:          p.Specs,
		UserID:         p.UserID,
	}
}

type PollAction int

const (
	PollRequeue PollAction = iota
	PollComplete
	PollRenderFailed
	PollTimeout
)

func (a PollAction) String() string {
	switch a {
	case PollComplete:
		return "complete"
	case PollRenderFailed:
		return "failed"
	case PollTimeout:
		return "timeout"
	default:
		return "requeue"
	}
}

// PollDecision is what the poller does after observing a job.
type PollDecision struct {
	Action PollAction
	// Next is the follow-up poll when Action is PollRequeue.
	Next models.StatusPollRequest
}

// DecidePoll maps an observed job state to the next step. Terminal job states win over
// the deadline; a job still running at or after req.Deadline times out.
func DecidePoll(state render.JobState, req models.StatusPollRequest, now time.Time) PollDecision {
	switch {
	case state.Succeeded:
		return PollDecision{Action: PollComplete}
	case state.Failed:
		return PollDecision{Action: PollRenderFailed}
	case !req.Deadline.IsZero() && !now.Before(req.Deadline):
		return PollDecision{Action: PollTimeout}
	}
	next := req
	next.Attempt++
	return PollDecision{Action: PollRequeue, Next: next}
}

// FirstPoll builds the initial poll for a launched job. The deadline leaves room for the
// scheduling delay, the job's own active deadline and a grace period.
func FirstPoll(req models.GenerationRequest, jobName string, now time.Time, initialDelay, activeDeadline, grace time.Duration) models.StatusPollRequest {
	return models.StatusPollRequest{
		JobName:        jobName,
		ID:             req.ID,
		ConversationID: req.ConversationID,
		Specs:          req.Specs,
		UserID:         req.UserID,
		Attempt:        1,
		Deadline:       now.Add(initialDelay + activeDeadline + grace),
	}
}
