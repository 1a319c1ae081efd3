// Package manifest serves HLS playlists of rendered videos with every object reference
// replaced by a time-limited signed URL.
package manifest

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/kiranshivaraju/vdogen/internal/blob"
)

const (
	ContentType = "application/vnd.apple.mpegurl"

	KeyURLTTL     = 5 * time.Minute
	SegmentURLTTL = 60 * time.Minute
)

var ErrNotFound = errors.New("manifest not found")

var keyLine = regexp.MustCompile(`#EXT-X-KEY:METHOD=AES-128,URI=".*?",IV=(0x[0-9a-fA-F]+)`)

// Signer issues signed URLs for stored objects. blob.Store satisfies it.
type Signer interface {
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

func objectPrefix(videoID int64) string {
	return fmt.Sprintf("videos/video_%d/", videoID)
}

func PlaylistObject(videoID int64) string { return objectPrefix(videoID) + "playlist.m3u8" }

func KeyObject(videoID int64) string { return objectPrefix(videoID) + "enc.key" }

func SegmentObject(videoID int64, segment string) string { return objectPrefix(videoID) + segment }

// Rewrite copies the playlist from r to w one line at a time. The first AES-128 key line
// gets a signed key URL with its IV kept; every other non-blank, non-comment line is a
// segment name and becomes a signed URL to that segment. Everything else, including
// line endings, is copied unchanged.
func Rewrite(ctx context.Context, r io.Reader, w io.Writer, videoID int64, signer Signer) error {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	keySigned := false

	for {
		line, readErr := br.ReadString('\n')
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			return fmt.Errorf("reading playlist: %w", readErr)
		}
		if line == "" {
			break
		}

		body, eol := splitEOL(line)
		out := body
		switch {
		case strings.TrimSpace(body) == "":
		case strings.HasPrefix(body, "#"):
			if keySigned {
				break
			}
			m := keyLine.FindStringSubmatchIndex(body)
			if m == nil {
				break
			}
			url, err := signer.SignedURL(ctx, KeyObject(videoID), KeyURLTTL)
			if err != nil {
				return fmt.Errorf("signing key: %w", err)
			}
			iv := body[m[2]:m[3]]
			out = body[:m[0]] + `#EXT-X-KEY:METHOD=AES-128,URI="` + url + `",IV=` + iv + body[m[1]:]
			keySigned = true
		default:
			segment := strings.TrimSpace(body)
			url, err := signer.SignedURL(ctx, SegmentObject(videoID, segment), SegmentURLTTL)
			if err != nil {
				return fmt.Errorf("signing segment %s: %w", segment, err)
			}
			out = url
		}

		if _, err := bw.WriteString(out + eol); err != nil {
			return err
		}
		if readErr != nil {
			break
		}
	}
	return bw.Flush()
}

func splitEOL(line string) (string, string) {
	if strings.HasSuffix(line, "\r\n") {
		return line[:len(line)-2], "\r\n"
	}
	if strings.HasSuffix(line, "\n") {
		return line[:len(line)-1], "\n"
	}
	return line, ""
}

// Service loads stored playlists and rewrites them for delivery.
type Service struct {
	blobs blob.Store
}

func NewService(blobs blob.Store) *Service {
	return &Service{blobs: blobs}
}

// Playlist returns the signed playlist for a video, or ErrNotFound when the video has no
// stored playlist.
func (s *Service) Playlist(ctx context.Context, videoID int64) ([]byte, error) {
	raw, err := s.blobs.Download(ctx, PlaylistObject(videoID))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading playlist: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(raw) * 4)
	if err := Rewrite(ctx, bytes.NewReader(raw), &buf, videoID, s.blobs); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
