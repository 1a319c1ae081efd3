package models

import (
	"time"

	"github.com/google/uuid"
)

// Conversation groups the videos generated from one chat-like thread of prompts.
// It is created with the first submission and never modified afterwards.
type Conversation struct {
	ID          uuid.UUID `db:"id"           json:"id"`
	FirstPrompt string    `db:"first_prompt" json:"firstPrompt"`
	UserID      string    `db:"user_id"      json:"userId"`
	CreatedAt   time.Time `db:"created_at"   json:"createdAt"`
}
