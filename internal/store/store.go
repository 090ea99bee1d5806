package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/focusedad/internal/pipeline"
	"github.com/andresmejia3/focusedad/internal/utils"
)

// Store manages the PostgreSQL connection and pgvector operations.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the tables and the vector extension if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			width INT,
			height INT,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS runs (
			id UUID PRIMARY KEY,
			sample_frames INT NOT NULL,
			start_frame INT NOT NULL,
			detection_threshold DOUBLE PRECISION NOT NULL,
			match_threshold DOUBLE PRECISION NOT NULL,
			started_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS descriptions (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID REFERENCES runs(id) ON DELETE CASCADE,
			video_id TEXT REFERENCES video_metadata(id),
			scene_id TEXT NOT NULL,
			status TEXT NOT NULL,
			stage TEXT,
			error TEXT,
			prompt TEXT,
			regions JSONB,
			matches JSONB,
			frame_indices INT[],
			description TEXT,
			text_prior TEXT,
			duration_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS gallery_embeddings (
			hash TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			embedding VECTOR NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS descriptions_video_id_idx ON descriptions (video_id);
		CREATE INDEX IF NOT EXISTS descriptions_run_id_idx ON descriptions (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// RunConfig is the tuning a batch was run with.
type RunConfig struct {
	SampleFrames       int
	StartFrame         int
	DetectionThreshold float64
	MatchThreshold     float64
}

// CreateRun registers a batch before any of its outcomes are recorded.
func (s *Store) CreateRun(ctx context.Context, runID string, cfg RunConfig) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO runs (id, sample_frames, start_frame, detection_threshold, match_threshold)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, runID, cfg.SampleFrames, cfg.StartFrame, cfg.DetectionThreshold, cfg.MatchThreshold)
	return err
}

// upsertVideo registers the video. If it exists, it updates the timestamp.
const upsertVideo = `
	INSERT INTO video_metadata (id, path, width, height, indexed_at)
	VALUES ($1, $2, NULLIF($3, 0), NULLIF($4, 0), NOW())
	ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), path = EXCLUDED.path,
		width = COALESCE(EXCLUDED.width, video_metadata.width),
		height = COALESCE(EXCLUDED.height, video_metadata.height)
`

// videoID is the content-derived id of the outcome's video, or a scene-scoped
// one when the file cannot be stat'ed.
func videoID(o pipeline.Outcome) string {
	if id, err := utils.GenerateVideoID(o.Scene.VideoPath); err == nil {
		return id
	}
	return "scene:" + o.Scene.ID
}

// RecordOutcome stores one video's result, failed or not.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o pipeline.Outcome) error {
	vid := videoID(o)
	var w, h int
	if o.Resolution != nil {
		w, h = o.Resolution.Width, o.Resolution.Height
	}

	regions, err := json.Marshal(o.Prompt.Regions)
	if err != nil {
		return err
	}
	matches, err := json.Marshal(o.Matches)
	if err != nil {
		return err
	}
	frames := make([]int32, len(o.FrameIndices))
	for i, f := range o.FrameIndices {
		frames[i] = int32(f)
	}

	status, stage, errText := "described", "", ""
	if o.Err != nil {
		status, errText = "failed", o.Err.Error()
		var se *pipeline.StageError
		if errors.As(o.Err, &se) {
			stage = se.Stage
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, upsertVideo, vid, o.Scene.VideoPath, w, h); err != nil {
		return fmt.Errorf("video metadata: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO descriptions (run_id, video_id, scene_id, status, stage, error, prompt, regions, matches,
			frame_indices, description, text_prior, duration_ms)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8::jsonb, $9::jsonb, $10, $11, $12, $13)
	`, runID, vid, o.Scene.ID, status, stage, errText, o.Prompt.Text, string(regions), string(matches),
		frames, o.Description, o.Scene.TextPrior, o.Duration.Milliseconds()); err != nil {
		return fmt.Errorf("description: %w", err)
	}

	return tx.Commit(ctx)
}

// DescriptionRow is one stored outcome as shown by `list`.
type DescriptionRow struct {
	RunID       string
	SceneID     string
	VideoPath   string
	Status      string
	Stage       string
	Error       string
	Prompt      string
	Description string
	Duration    time.Duration
	CreatedAt   time.Time
}

// ListDescriptions returns the most recent outcomes, newest first.
func (s *Store) ListDescriptions(ctx context.Context, limit int) ([]DescriptionRow, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT d.run_id::text, d.scene_id, v.path, d.status, COALESCE(d.stage, ''), COALESCE(d.error, ''),
			COALESCE(d.prompt, ''), COALESCE(d.description, ''), d.duration_ms, d.created_at
		FROM descriptions d
		JOIN video_metadata v ON v.id = d.video_id
		ORDER BY d.created_at DESC, d.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DescriptionRow
	for rows.Next() {
		var r DescriptionRow
		var ms int64
		if err := rows.Scan(&r.RunID, &r.SceneID, &r.VideoPath, &r.Status, &r.Stage, &r.Error,
			&r.Prompt, &r.Description, &ms, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// vecToString formats a float slice into a PostgreSQL vector string format "[1.0,2.0,...]"
func vecToString(vec []float64) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(v, 'f', -1, 64))
	}
	b.WriteByte(']')
	return b.String()
}

// parseVector is the inverse of vecToString for pgvector's text output.
func parseVector(s string) ([]float64, error) {
	s = strings.Trim(s, "[]")
	if s == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("vector element %d: %w", i, err)
		}
		vec[i] = v
	}
	return vec, nil
}

// GalleryEmbedding returns the cached embedding of a reference image by content hash.
func (s *Store) GalleryEmbedding(ctx context.Context, hash string) ([]float64, bool, error) {
	var vecStr string
	err := s.conn.QueryRow(ctx, "SELECT embedding::text FROM gallery_embeddings WHERE hash = $1", hash).Scan(&vecStr)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := parseVector(vecStr)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

// SaveGalleryEmbedding caches the embedding of a reference image.
func (s *Store) SaveGalleryEmbedding(ctx context.Context, hash, name string, embedding []float64) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO gallery_embeddings (hash, name, embedding)
		VALUES ($1, $2, $3::vector)
		ON CONFLICT (hash) DO UPDATE SET name = EXCLUDED.name
	`, hash, name, vecToString(embedding))
	return err
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS descriptions CASCADE;
		DROP TABLE IF EXISTS runs CASCADE;
		DROP TABLE IF EXISTS gallery_embeddings CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
