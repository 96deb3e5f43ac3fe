package catalog

import (
	"context"
	"database/sql"
	"errors"

	"github.com/movieshorts/movieshorts/internal/db"
)

type Repository interface {
	CreateVideo(ctx context.Context, video *Video) error
	GetVideo(ctx context.Context, id string) (*Video, error)
	ListVideos(ctx context.Context, limit int) ([]*Video, error)
	UpdateVideoDuration(ctx context.Context, id string, duration float64) error
	CountVideos(ctx context.Context) (int, error)

	CreateCut(ctx context.Context, cut *Cut) error
	GetCut(ctx context.Context, id string) (*Cut, error)
	ListCutsByVideo(ctx context.Context, videoID string) ([]*Cut, error)
	CountCuts(ctx context.Context) (int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	ListPendingJobs(ctx context.Context) ([]*Job, error)
	CountJobsByStatus(ctx context.Context, status string) (int, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress int) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// SQLRepository implements Repository on sqlite or postgres. Lookups of a
// missing row return (nil, nil).
type SQLRepository struct {
	db *db.DB
}

func NewRepository(database *db.DB) *SQLRepository {
	return &SQLRepository{db: database}
}

const videoColumns = `id, original_name, media_type, size, duration, created_at`

func (r *SQLRepository) CreateVideo(ctx context.Context, v *Video) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
	`, v.ID, v.OriginalName, v.MediaType, v.Size, v.Duration, db.FormatTime(v.CreatedAt))
	return err
}

func (r *SQLRepository) GetVideo(ctx context.Context, id string) (*Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return v, err
}

func (r *SQLRepository) ListVideos(ctx context.Context, limit int) ([]*Video, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+videoColumns+` FROM videos ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

func (r *SQLRepository) UpdateVideoDuration(ctx context.Context, id string, duration float64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE videos SET duration = ? WHERE id = ?", duration, id)
	return err
}

func (r *SQLRepository) CountVideos(ctx context.Context) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM videos")
}

const cutColumns = `id, video_id, start_s, end_s, mode, media_type, size, created_at`

func (r *SQLRepository) CreateCut(ctx context.Context, c *Cut) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cuts (`+cutColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.VideoID, c.Start, c.End, c.Mode, c.MediaType, c.Size, db.FormatTime(c.CreatedAt))
	return err
}

func (r *SQLRepository) GetCut(ctx context.Context, id string) (*Cut, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+cutColumns+` FROM cuts WHERE id = ?`, id)
	c, err := scanCut(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return c, err
}

// ListCutsByVideo returns the cuts of a video, most recent first.
func (r *SQLRepository) ListCutsByVideo(ctx context.Context, videoID string) ([]*Cut, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+cutColumns+` FROM cuts WHERE video_id = ? ORDER BY created_at DESC, id DESC
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cuts []*Cut
	for rows.Next() {
		c, err := scanCut(rows)
		if err != nil {
			return nil, err
		}
		cuts = append(cuts, c)
	}
	return cuts, rows.Err()
}

func (r *SQLRepository) CountCuts(ctx context.Context) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM cuts")
}

const jobColumns = `id, type, status, video_id, progress, error, created_at, updated_at`

func (r *SQLRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, j.VideoID, j.Progress, j.Error,
		db.FormatTime(j.CreatedAt), db.FormatTime(j.UpdatedAt))
	return err
}

func (r *SQLRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return j, err
}

func (r *SQLRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLRepository) ListPendingJobs(ctx context.Context) ([]*Job, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

func (r *SQLRepository) CountJobsByStatus(ctx context.Context, status string) (int, error) {
	return r.count(ctx, "SELECT COUNT(*) FROM jobs WHERE status = ?", status)
}

func (r *SQLRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = ? WHERE id = ?
	`, status, errorMsg, db.Now(), id)
	return err
}

func (r *SQLRepository) UpdateJobProgress(ctx context.Context, id string, progress int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = ? WHERE id = ?
	`, progress, db.Now(), id)
	return err
}

func (r *SQLRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *SQLRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func (r *SQLRepository) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, query, args...).Scan(&n)
	return n, err
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanVideo(s scanner) (*Video, error) {
	var v Video
	var createdAt string
	if err := s.Scan(&v.ID, &v.OriginalName, &v.MediaType, &v.Size, &v.Duration, &createdAt); err != nil {
		return nil, err
	}
	v.CreatedAt = db.ParseTime(createdAt)
	return &v, nil
}

func scanCut(s scanner) (*Cut, error) {
	var c Cut
	var createdAt string
	if err := s.Scan(&c.ID, &c.VideoID, &c.Start, &c.End, &c.Mode, &c.MediaType, &c.Size, &createdAt); err != nil {
		return nil, err
	}
	c.CreatedAt = db.ParseTime(createdAt)
	return &c, nil
}

func scanJob(s scanner) (*Job, error) {
	var j Job
	var createdAt, updatedAt string
	if err := s.Scan(&j.ID, &j.Type, &j.Status, &j.VideoID, &j.Progress, &j.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	j.CreatedAt = db.ParseTime(createdAt)
	j.UpdatedAt = db.ParseTime(updatedAt)
	return &j, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
