package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrAlreadyExists = errors.New("resource already exists")
var ErrInvalidTransition = errors.New("invalid video status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	ConversationExists(ctx context.Context, id uuid.UUID) (bool, error)

	// CreateVideo inserts a video in status Initiated. When params.ConversationID is nil a
	// conversation is created in the same transaction.
	CreateVideo(ctx context.Context, params NewVideo) (*models.Video, error)
	GetVideo(ctx context.Context, id int64) (*models.Video, error)
	// ListConversationVideos returns the conversation's videos oldest first.
	ListConversationVideos(ctx context.Context, conversationID uuid.UUID) ([]*models.Video, error)
	// GetSuccessor returns the video regenerated after predecessorID failed. A predecessor
	// has at most one successor; CreateVideo returns ErrAlreadyExists for a second one.
	GetSuccessor(ctx context.Context, predecessorID int64) (*models.Video, error)
	SetCodeObject(ctx context.Context, id int64, key string) error
	UpdateVideoStatus(ctx context.Context, id int64, status string, opts ...VideoUpdateOption) error
}

// NewVideo describes a video row to create.
type NewVideo struct {
	ConversationID *uuid.UUID
	Prompt         string
	Specs          models.VideoSpecs
	UserID         string
	PredecessorID  *int64
}

// VideoUpdate carries the optional fields of a status update.
type VideoUpdate struct {
	ErrorMessage *string
}

type VideoUpdateOption func(*VideoUpdate)

func WithErrorMessage(msg string) VideoUpdateOption {
	return func(p *VideoUpdate) {
		p.ErrorMessage = &msg
	}
}

var validTransitions = map[string][]string{
	models.VideoStatusInitiated: {
		models.VideoStatusProcessing,
		models.VideoStatusFailed,
		models.VideoStatusInvalidPrompt,
	},
	models.VideoStatusProcessing: {
		models.VideoStatusComplete,
		models.VideoStatusError,
		models.VideoStatusFailed,
		models.VideoStatusTimeout,
	},
}

// allowedSources lists the statuses a video may be in to move to target.
func allowedSources(target string) []string {
	var from []string
	for src, targets := range validTransitions {
		for _, t := range targets {
			if t == target {
				from = append(from, src)
			}
		}
	}
	return from
}

// CanTransition reports whether a video in status from may move to status to.
func CanTransition(from, to string) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
