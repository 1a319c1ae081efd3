package render

import "strings"

const (
	LogStartMarker = "manin_log_start"
	LogEndMarker   = "manin_log_end"
)

// ExtractRenderLog returns the renderer output printed between the start and end
// markers. ok is false when either marker is missing or nothing but whitespace lies
// between them.
func ExtractRenderLog(raw string) (string, bool) {
	_, after, found := strings.Cut(raw, LogStartMarker)
	if !found {
		return "", false
	}
	between, _, found := strings.Cut(after, LogEndMarker)
	if !found {
		return "", false
	}
	between = strings.TrimSpace(between)
	if between == "" {
		return "", false
	}
	return between, true
}
