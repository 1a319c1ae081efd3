package models

import (
	"time"

	"github.com/google/uuid"
)

// GenerationRequest asks the generation worker to produce and launch code for a video.
// It carries everything needed to run without reading the video row first.
type GenerationRequest struct {
	ID             int64      `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Prompt         string     `json:"prompt"`
	Specs          VideoSpecs `json:"specs"`
	UserID         string     `json:"userId"`
}

// StatusPollRequest asks the poller to check a render job. Attempt counts polls for the
// job, starting at 1; Deadline is the instant after which a still-running job times out.
type StatusPollRequest struct {
	JobName        string     `json:"k8sJobName"`
	ID             int64      `json:"id"`
	ConversationID uuid.UUID  `json:"conversationId"`
	Specs          VideoSpecs `json:"specs"`
	UserID         string     `json:"userId"`
	Attempt        int        `json:"attempt"`
	Deadline       time.Time  `json:"deadline"`
}
