// Package pipeline implements the generate → render → poll workflow: the submission
// front door, the generation worker and the render-status poller.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/sethvargo/go-retry"
)

const (
	// Queue names.
	GenerationQueue = "generation"
	StatusQueue     = "render-status"

	// RefusalPrefix marks an oracle response that declines the prompt.
	RefusalPrefix = "I'm sorry"

	// RegenerationPrefix starts the prompt built from a failed render's log.
	RegenerationPrefix = "got error from your previous response resolve it error: "

	// ScriptErrorMessage is recorded on a video whose render job failed.
	ScriptErrorMessage = "script error"

	// TimeoutMessage is recorded on a video whose render job outlived its deadline.
	TimeoutMessage = "render timed out"

	// immediateAttempts bounds in-process retries of uploads and job submissions.
	immediateAttempts = 3
)

// CodeObjectKey is the blob key holding the generated script for a video.
func CodeObjectKey(videoID int64, conversationID uuid.UUID) string {
	return fmt.Sprintf("code/%d_%s", videoID, conversationID)
}

// StripCodeFence removes a leading ```python (or bare ```) line and a trailing ```
// from an oracle response.
func StripCodeFence(s string) string {
	for _, open := range []string{"```python\n", "```\n"} {
		if strings.HasPrefix(s, open) {
			s = strings.TrimPrefix(s, open)
			break
		}
	}
	trimmed := strings.TrimRight(s, " \t\r\n")
	if strings.HasSuffix(trimmed, "```") {
		s = strings.TrimSuffix(trimmed, "```")
	}
	return s
}

// retryImmediately runs fn up to immediateAttempts times with no delay between
// attempts. Errors wrapped with retry.RetryableError are retried; others return at once.
func retryImmediately(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(immediateAttempts-1, retry.BackoffFunc(func() (time.Duration, bool) {
		return 0, false
	}))
	return retry.Do(ctx, backoff, fn)
}

// setStatus writes a status to the cache. The cache is advisory, so failures are
// logged and swallowed.
func setStatus(ctx context.Context, c cache.Cache, log *slog.Logger, videoID int64, status string, ttl time.Duration) {
	if err := c.SetVideoStatus(ctx, videoID, status, ttl); err != nil {
		log.Warn("cache status write failed", "video_id", videoID, "status", status, "error", err)
	}
}
