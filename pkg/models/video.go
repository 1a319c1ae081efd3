// Package models contains shared data models used across the vdogen codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	VideoStatusInitiated     = "Initiated"
	VideoStatusProcessing    = "Processing"
	VideoStatusComplete      = "Complete"
	VideoStatusError         = "Error"
	VideoStatusFailed        = "Failed"
	VideoStatusInvalidPrompt = "InvalidPrompt"
	VideoStatusTimeout       = "Timeout"
)

// IsErrorStatus reports whether status is one that carries isError=true.
func IsErrorStatus(status string) bool {
	switch status {
	case VideoStatusError, VideoStatusFailed, VideoStatusInvalidPrompt, VideoStatusTimeout:
		return true
	}
	return false
}

// IsTerminalStatus reports whether no further pipeline work happens for a video in status.
func IsTerminalStatus(status string) bool {
	return status == VideoStatusComplete || IsErrorStatus(status)
}

// VideoSpecs are the render parameters chosen at submission. Every field is a closed
// enumeration; the validate tags are the source of truth for the allowed values.
type VideoSpecs struct {
	Duration    string `json:"duration"    validate:"required,oneof=5 10 15 30 60 120"`
	FPS         string `json:"fps"         validate:"required,oneof=24 30 60"`
	AspectRatio string `json:"aspectRatio" validate:"required,oneof=16:9 9:16 4:3"`
	Resolution  string `json:"resolution"  validate:"required,oneof=360p 480p 720p 1080p"`
}

// Video is one generation attempt. A regenerated attempt points back at the failed one
// through PredecessorID.
type Video struct {
	ID             int64     `db:"id"              json:"id"`
	ConversationID uuid.UUID `db:"conversation_id" json:"conversationId"`
	Prompt         string    `db:"prompt"          json:"prompt"`
	VideoSpecs
	Status        string    `db:"status"         json:"status"`
	IsError       bool      `db:"is_error"       json:"isError"`
	ErrorMessage  *string   `db:"error_message"  json:"errorMessage,omitempty"`
	CodeObjectKey *string   `db:"code_object"    json:"-"`
	PredecessorID *int64    `db:"predecessor_id" json:"predecessorId,omitempty"`
	UserID        string    `db:"user_id"        json:"userId"`
	CreatedAt     time.Time `db:"created_at"     json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at"     json:"-"`
}
