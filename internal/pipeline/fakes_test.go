package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/vdogen/internal/cache"
	"github.com/kiranshivaraju/vdogen/internal/queue"
	"github.com/kiranshivaraju/vdogen/internal/render"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// --- store ---

type fakeStore struct {
	mu            sync.Mutex
	nextID        int64
	conversations map[uuid.UUID]bool
	videos        map[int64]*models.Video
	clock         time.Time

	getErr    error
	createErr error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		nextID:        100,
		conversations: make(map[uuid.UUID]bool),
		videos:        make(map[int64]*models.Video),
		clock:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (s *fakeStore) Ping(context.Context) error { return nil }

func (s *fakeStore) ConversationExists(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversations[id], nil
}

func (s *fakeStore) CreateVideo(_ context.Context, params store.NewVideo) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}

	conversationID := uuid.New()
	if params.ConversationID != nil {
		conversationID = *params.ConversationID
		if !s.conversations[conversationID] {
			return nil, store.ErrNotFound
		}
	}
	if params.PredecessorID != nil {
		for _, v := range s.videos {
			if v.PredecessorID != nil && *v.PredecessorID == *params.PredecessorID {
				return nil, store.ErrAlreadyExists
			}
		}
	}
	s.conversations[conversationID] = true

	s.nextID++
	s.clock = s.clock.Add(time.Second)
	v := &models.Video{
		ID:             s.nextID,
		ConversationID: conversationID,
		Prompt:         params.Prompt,
		VideoSpecs:     params.Specs,
		Status:         models.VideoStatusInitiated,
		PredecessorID:  params.PredecessorID,
		UserID:         params.UserID,
		CreatedAt:      s.clock,
		UpdatedAt:      s.clock,
	}
	s.videos[v.ID] = v
	return copyVideo(v), nil
}

// put stores a video as-is, registering its conversation.
func (s *fakeStore) put(v *models.Video) *models.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[v.ConversationID] = true
	if v.CreatedAt.IsZero() {
		s.clock = s.clock.Add(time.Second)
		v.CreatedAt = s.clock
	}
	s.videos[v.ID] = v
	return v
}

func (s *fakeStore) GetVideo(_ context.Context, id int64) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	v, ok := s.videos[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyVideo(v), nil
}

func (s *fakeStore) ListConversationVideos(_ context.Context, conversationID uuid.UUID) ([]*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Video
	for _, v := range s.videos {
		if v.ConversationID == conversationID {
			out = append(out, copyVideo(v))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) GetSuccessor(_ context.Context, predecessorID int64) (*models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.videos {
		if v.PredecessorID != nil && *v.PredecessorID == predecessorID {
			return copyVideo(v), nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *fakeStore) SetCodeObject(_ context.Context, id int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	v.CodeObjectKey = &key
	return nil
}

func (s *fakeStore) UpdateVideoStatus(_ context.Context, id int64, status string, opts ...store.VideoUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	v, ok := s.videos[id]
	if !ok {
		return store.ErrNotFound
	}
	if !store.CanTransition(v.Status, status) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, v.Status, status)
	}
	var update store.VideoUpdate
	for _, opt := range opts {
		opt(&update)
	}
	v.Status = status
	v.IsError = models.IsErrorStatus(status)
	if update.ErrorMessage != nil {
		v.ErrorMessage = update.ErrorMessage
	}
	return nil
}

func (s *fakeStore) video(id int64) *models.Video {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.videos[id]; ok {
		return copyVideo(v)
	}
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.videos)
}

func copyVideo(v *models.Video) *models.Video {
	c := *v
	return &c
}

var _ store.Store = (*fakeStore)(nil)

// --- cache ---

type fakeCache struct {
	mu           sync.Mutex
	statuses     map[int64]string
	replacements map[int64]int64
	setErr       error
}

func newFakeCache() *fakeCache {
	return &fakeCache{statuses: make(map[int64]string), replacements: make(map[int64]int64)}
}

func (c *fakeCache) Ping(context.Context) error { return nil }

func (c *fakeCache) SetVideoStatus(_ context.Context, videoID int64, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.statuses[videoID] = status
	return nil
}

func (c *fakeCache) GetVideoStatus(_ context.Context, videoID int64) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.statuses[videoID]
	return s, ok, nil
}

func (c *fakeCache) SetReplacement(_ context.Context, videoID, replacementID int64, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.replacements[videoID] = replacementID
	return nil
}

func (c *fakeCache) GetReplacement(_ context.Context, videoID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.replacements[videoID]
	return id, ok, nil
}

func (c *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func (c *fakeCache) status(videoID int64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[videoID]
}

var _ cache.Cache = (*fakeCache)(nil)

// --- queue ---

type enqueued struct {
	payload json.RawMessage
	delay   time.Duration
}

type fakeProducer struct {
	mu    sync.Mutex
	items []enqueued
	err   error
	hook  func()
}

func (p *fakeProducer) Enqueue(_ context.Context, payload any, delay time.Duration) error {
	if p.hook != nil {
		p.hook()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.items = append(p.items, enqueued{payload: data, delay: delay})
	return nil
}

func (p *fakeProducer) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

func (p *fakeProducer) last() enqueued {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.items[len(p.items)-1]
}

var _ queue.Producer = (*fakeProducer)(nil)

// message wraps a payload the way a consumer hands it to a handler.
func message(payload any) *queue.Message {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return &queue.Message{ID: "msg-1", Payload: data, Delivery: 1}
}

// --- render ---

type fakeRunner struct {
	mu         sync.Mutex
	createErrs []error
	creates    []render.JobSpec
	createHook func(render.JobSpec)

	state    render.JobState
	stateErr error
	logs     string
	logsErr  error
	deleted  []string
}

func (r *fakeRunner) CreateJob(_ context.Context, spec render.JobSpec) (string, error) {
	if r.createHook != nil {
		r.createHook(spec)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, spec)
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	return render.JobName(spec.VideoID), nil
}

func (r *fakeRunner) JobStatus(context.Context, string) (render.JobState, error) {
	return r.state, r.stateErr
}

func (r *fakeRunner) PodLogs(context.Context, string) (string, error) {
	return r.logs, r.logsErr
}

func (r *fakeRunner) DeleteJob(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, name)
	return nil
}

func (r *fakeRunner) deletedJobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

func (r *fakeRunner) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creates)
}

var _ render.Runner = (*fakeRunner)(nil)

var errBoom = errors.New("boom")

var testSpecs = models.VideoSpecs{Duration: "10", FPS: "30", AspectRatio: "16:9", Resolution: "720p"}
