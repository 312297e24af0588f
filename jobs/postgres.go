package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tutortoise/object-detection-service/errs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps job records in PostgreSQL so they survive restarts.
type PostgresStore struct {
	pool *pgxpool.Pool
}

const jobColumns = `id, state, input_path, output_path, conf_threshold, total_frames,
	processed_frames, error, created_at, started_at, finished_at`

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_jobs (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			input_path TEXT NOT NULL,
			output_path TEXT NOT NULL,
			conf_threshold REAL NOT NULL,
			total_frames INT NOT NULL DEFAULT 0,
			processed_frames INT NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS video_jobs_state_idx ON video_jobs (state);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO video_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, string(job.State), job.InputPath, job.OutputPath, job.ConfThreshold, job.TotalFrames,
		job.ProcessedFrames, job.Error, job.CreatedAt, job.StartedAt, job.FinishedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return errs.ErrJobExists
	}
	return err
}

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	var state string
	err := row.Scan(&job.ID, &state, &job.InputPath, &job.OutputPath, &job.ConfThreshold,
		&job.TotalFrames, &job.ProcessedFrames, &job.Error, &job.CreatedAt, &job.StartedAt, &job.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, errs.ErrJobNotFound
	}
	if err != nil {
		return Job{}, err
	}
	job.State = State(state)
	return job, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Job, error) {
	return scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = $1`, id))
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn func(*Job) error) (Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Job{}, err
	}
	defer tx.Rollback(ctx)

	job, err := scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM video_jobs WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Job{}, err
	}
	if err := fn(&job); err != nil {
		return Job{}, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE video_jobs SET state = $2, input_path = $3, output_path = $4, conf_threshold = $5,
			total_frames = $6, processed_frames = $7, error = $8, started_at = $9, finished_at = $10
		WHERE id = $1
	`, id, string(job.State), job.InputPath, job.OutputPath, job.ConfThreshold,
		job.TotalFrames, job.ProcessedFrames, job.Error, job.StartedAt, job.FinishedAt)
	if err != nil {
		return Job{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Job{}, err
	}
	job.ID = id
	return job, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM video_jobs ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteFinishedBefore(ctx context.Context, t time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM video_jobs
		WHERE (state IN ($1, $2) AND finished_at < $4)
		   OR (state = $3 AND created_at < $4)
	`, string(StateSucceeded), string(StateFailed), string(StateUploaded), t)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
