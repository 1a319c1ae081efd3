package cache

import "fmt"

// VideoStatusKey holds the last known status of a video.
func VideoStatusKey(videoID int64) string {
	return fmt.Sprintf("video:%d", videoID)
}

// ReplacementKey maps a failed video to the video regenerated in its place.
func ReplacementKey(videoID int64) string {
	return fmt.Sprintf("newVideo:%d", videoID)
}

func RateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}
