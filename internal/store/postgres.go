package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/vdogen/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const videoColumns = `id, conversation_id, prompt, duration, fps, aspect_ratio, resolution,
	status, is_error, error_message, code_object, predecessor_id, user_id, created_at, updated_at`

func scanVideo(row pgx.Row) (*models.Video, error) {
	var v models.Video
	err := row.Scan(&v.ID, &v.ConversationID, &v.Prompt, &v.Duration, &v.FPS, &v.AspectRatio, &v.Resolution,
		&v.Status, &v.IsError, &v.ErrorMessage, &v.CodeObjectKey, &v.PredecessorID, &v.UserID,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// --- Conversations ---

func (s *PostgresStore) ConversationExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM conversations WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check conversation: %w", err)
	}
	return exists, nil
}

// --- Videos ---

func (s *PostgresStore) CreateVideo(ctx context.Context, params NewVideo) (*models.Video, error) {
	var video *models.Video
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var conversationID uuid.UUID
		if params.ConversationID != nil {
			conversationID = *params.ConversationID
		} else {
			conversationID = uuid.New()
			_, err := tx.Exec(ctx,
				`INSERT INTO conversations (id, first_prompt, user_id, created_at) VALUES ($1, $2, $3, $4)`,
				conversationID, params.Prompt, params.UserID, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("insert conversation: %w", err)
			}
		}

		row := tx.QueryRow(ctx,
			`INSERT INTO videos (conversation_id, prompt, duration, fps, aspect_ratio, resolution,
				status, predecessor_id, user_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			 RETURNING `+videoColumns,
			conversationID, params.Prompt, params.Specs.Duration, params.Specs.FPS,
			params.Specs.AspectRatio, params.Specs.Resolution, models.VideoStatusInitiated,
			params.PredecessorID, params.UserID)
		v, err := scanVideo(row)
		if err != nil {
			return err
		}
		video = v
		return nil
	})
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrAlreadyExists
		}
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("create video: %w", err)
	}
	return video, nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id int64) (*models.Video, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) ListConversationVideos(ctx context.Context, conversationID uuid.UUID) ([]*models.Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE conversation_id = $1 ORDER BY created_at ASC, id ASC`,
		conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation videos: %w", err)
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (s *PostgresStore) GetSuccessor(ctx context.Context, predecessorID int64) (*models.Video, error) {
	v, err := scanVideo(s.pool.QueryRow(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE predecessor_id = $1`, predecessorID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get successor: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) SetCodeObject(ctx context.Context, id int64, key string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE videos SET code_object = $2, updated_at = NOW() WHERE id = $1`, id, key)
	if err != nil {
		return fmt.Errorf("set code object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateVideoStatus moves a video to status. The transition is checked and applied in a
// single statement so concurrent deliveries of the same message cannot both win.
func (s *PostgresStore) UpdateVideoStatus(ctx context.Context, id int64, status string, opts ...VideoUpdateOption) error {
	params := &VideoUpdate{}
	for _, opt := range opts {
		opt(params)
	}

	from := allowedSources(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %q", ErrInvalidTransition, status)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE videos
		 SET status = $2, is_error = $3, error_message = COALESCE($4, error_message), updated_at = NOW()
		 WHERE id = $1 AND status = ANY($5)`,
		id, status, models.IsErrorStatus(status), params.ErrorMessage, from)
	if err != nil {
		return fmt.Errorf("update video status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM videos WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get video status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
