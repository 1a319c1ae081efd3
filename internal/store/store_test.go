package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vdogen/internal/store"
	"github.com/kiranshivaraju/vdogen/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vdogen_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func testSpecs() models.VideoSpecs {
	return models.VideoSpecs{Duration: "10", FPS: "30", AspectRatio: "16:9", Resolution: "720p"}
}

func createVideo(t *testing.T, s store.Store, conversationID *uuid.UUID, prompt string) *models.Video {
	t.Helper()
	v, err := s.CreateVideo(context.Background(), store.NewVideo{
		ConversationID: conversationID,
		Prompt:         prompt,
		Specs:          testSpecs(),
		UserID:         "user_1",
	})
	require.NoError(t, err)
	return v
}

// --- Video Tests ---

func TestCreateVideo_NewConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "draw a circle")
	assert.NotZero(t, v.ID)
	assert.NotEqual(t, uuid.Nil, v.ConversationID)
	assert.Equal(t, models.VideoStatusInitiated, v.Status)
	assert.False(t, v.IsError)
	assert.Nil(t, v.ErrorMessage)
	assert.Nil(t, v.CodeObjectKey)
	assert.Equal(t, testSpecs(), v.VideoSpecs)

	exists, err := s.ConversationExists(ctx, v.ConversationID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreateVideo_ExistingConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	first := createVideo(t, s, nil, "draw a circle")
	second := createVideo(t, s, &first.ConversationID, "now make it red")

	assert.Equal(t, first.ConversationID, second.ConversationID)
	assert.Greater(t, second.ID, first.ID)
}

func TestCreateVideo_UnknownConversation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	missing := uuid.New()
	_, err := s.CreateVideo(context.Background(), store.NewVideo{
		ConversationID: &missing,
		Prompt:         "hello",
		Specs:          testSpecs(),
		UserID:         "user_1",
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestConversationExists_Unknown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	exists, err := s.ConversationExists(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestGetVideo_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetVideo(context.Background(), 999999)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListConversationVideos_OldestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	first := createVideo(t, s, nil, "one")
	createVideo(t, s, &first.ConversationID, "two")
	createVideo(t, s, &first.ConversationID, "three")
	createVideo(t, s, nil, "other conversation")

	videos, err := s.ListConversationVideos(context.Background(), first.ConversationID)
	require.NoError(t, err)
	require.Len(t, videos, 3)
	assert.Equal(t, "one", videos[0].Prompt)
	assert.Equal(t, "two", videos[1].Prompt)
	assert.Equal(t, "three", videos[2].Prompt)
}

func TestSetCodeObject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "hello")
	require.NoError(t, s.SetCodeObject(ctx, v.ID, "code/1_abc"))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CodeObjectKey)
	assert.Equal(t, "code/1_abc", *got.CodeObjectKey)

	assert.ErrorIs(t, s.SetCodeObject(ctx, 999999, "x"), store.ErrNotFound)
}

// --- Status Transition Tests ---

func TestUpdateVideoStatus_ValidTransitions(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "hello")

	require.NoError(t, s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusProcessing))
	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusProcessing, got.Status)
	assert.False(t, got.IsError)

	require.NoError(t, s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusComplete))
	got, err = s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusComplete, got.Status)
}

func TestUpdateVideoStatus_ErrorSetsFlagAndMessage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "hello")
	require.NoError(t, s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusInvalidPrompt,
		store.WithErrorMessage("I'm sorry, I can't help with that")))

	got, err := s.GetVideo(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VideoStatusInvalidPrompt, got.Status)
	assert.True(t, got.IsError)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "I'm sorry, I can't help with that", *got.ErrorMessage)
}

func TestUpdateVideoStatus_InvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "hello")

	// Initiated cannot jump straight to Complete.
	err := s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusComplete)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Terminal statuses never move again.
	require.NoError(t, s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusFailed, store.WithErrorMessage("boom")))
	err = s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusProcessing)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	// Nothing transitions into Initiated.
	err = s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusInitiated)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestUpdateVideoStatus_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	err := s.UpdateVideoStatus(context.Background(), 999999, models.VideoStatusProcessing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateVideoStatus_ConcurrentSingleWinner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	v := createVideo(t, s, nil, "hello")

	const n = 8
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.UpdateVideoStatus(ctx, v.ID, models.VideoStatusProcessing)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, store.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins)
}

// --- Successor Tests ---

func TestGetSuccessor(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	original := createVideo(t, s, nil, "hello")
	_, err := s.GetSuccessor(ctx, original.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	successor, err := s.CreateVideo(ctx, store.NewVideo{
		ConversationID: &original.ConversationID,
		Prompt:         "got error from your previous response resolve it error: boom",
		Specs:          testSpecs(),
		UserID:         "user_1",
		PredecessorID:  &original.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, successor.PredecessorID)
	assert.Equal(t, original.ID, *successor.PredecessorID)

	got, err := s.GetSuccessor(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, successor.ID, got.ID)
}

func TestCreateVideo_SecondSuccessorRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	original := createVideo(t, s, nil, "hello")
	params := store.NewVideo{
		ConversationID: &original.ConversationID,
		Prompt:         "retry",
		Specs:          testSpecs(),
		UserID:         "user_1",
		PredecessorID:  &original.ID,
	}
	_, err := s.CreateVideo(ctx, params)
	require.NoError(t, err)

	_, err = s.CreateVideo(ctx, params)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("vdogen_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))
}
