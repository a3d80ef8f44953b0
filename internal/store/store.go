package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/glint/internal/geometry"
)

// ErrRunNotFound is returned when a run id does not exist.
var ErrRunNotFound = errors.New("run not found")

// Store manages the PostgreSQL connection holding the annotation run log.
type Store struct {
	conn *pgx.Conn
}

// Run is one batch annotation invocation.
type Run struct {
	ID           int64
	Name         string
	ManifestPath string
	ManifestID   string
	InputDir     string
	OutputDir    string
	StartedAt    time.Time
	FinishedAt   *time.Time
	Total        int
	Processed    int
	Failed       int
}

// Annotation is one manifest row written by a run.
type Annotation struct {
	Seq          int
	FileName     string
	MaskFileName string
	FaceFound    bool
	Glints       []geometry.ImagePoint
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

// initSchema creates the run log tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS annotation_runs (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			manifest_path TEXT NOT NULL,
			manifest_id TEXT NOT NULL,
			input_dir TEXT NOT NULL,
			output_dir TEXT NOT NULL,
			started_at TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			total INT NOT NULL DEFAULT 0,
			processed INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS annotations (
			run_id BIGINT REFERENCES annotation_runs(id) ON DELETE CASCADE,
			seq INT NOT NULL,
			file_name TEXT NOT NULL,
			mask_file_name TEXT NOT NULL,
			face_found BOOLEAN NOT NULL,
			glints INT[] NOT NULL DEFAULT '{}',
			PRIMARY KEY (run_id, seq)
		);
		CREATE INDEX IF NOT EXISTS annotation_runs_manifest_id_idx ON annotation_runs (manifest_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// CreateRun registers a new run and returns its id.
func (s *Store) CreateRun(ctx context.Context, r Run) (int64, error) {
	var id int64
	err := s.conn.QueryRow(ctx, `
		INSERT INTO annotation_runs (name, manifest_path, manifest_id, input_dir, output_dir, total)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, r.Name, r.ManifestPath, r.ManifestID, r.InputDir, r.OutputDir, r.Total).Scan(&id)
	return id, err
}

// InsertAnnotation records one written mask.
func (s *Store) InsertAnnotation(ctx context.Context, runID int64, a Annotation) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO annotations (run_id, seq, file_name, mask_file_name, face_found, glints)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID, a.Seq, a.FileName, a.MaskFileName, a.FaceFound, flatten(a.Glints))
	return err
}

// FinishRun stores the final counters of a run.
func (s *Store) FinishRun(ctx context.Context, runID int64, processed, failed int) error {
	tag, err := s.conn.Exec(ctx, `
		UPDATE annotation_runs SET processed = $1, failed = $2, finished_at = NOW() WHERE id = $3
	`, processed, failed, runID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT id, name, manifest_path, manifest_id, input_dir, output_dir, started_at, finished_at, total, processed, failed
		FROM annotation_runs ORDER BY id DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Name, &r.ManifestPath, &r.ManifestID, &r.InputDir, &r.OutputDir,
			&r.StartedAt, &r.FinishedAt, &r.Total, &r.Processed, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Annotations returns the rows written by a run in manifest order.
func (s *Store) Annotations(ctx context.Context, runID int64) ([]Annotation, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT seq, file_name, mask_file_name, face_found, glints
		FROM annotations WHERE run_id = $1 ORDER BY seq
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var a Annotation
		var flat []int32
		if err := rows.Scan(&a.Seq, &a.FileName, &a.MaskFileName, &a.FaceFound, &flat); err != nil {
			return nil, err
		}
		a.Glints = unflatten(flat)
		out = append(out, a)
	}
	return out, rows.Err()
}

// RenameRun updates the name of a run.
func (s *Store) RenameRun(ctx context.Context, id int64, newName string) error {
	tag, err := s.conn.Exec(ctx, "UPDATE annotation_runs SET name = $1 WHERE id = $2", newName, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Reset drops all application tables to clear the database state.
// The schema is recreated on the next connection.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS annotations CASCADE;
		DROP TABLE IF EXISTS annotation_runs CASCADE;
	`)
	return err
}

// flatten packs points as x0,y0,x1,y1,... for the INT[] column.
func flatten(pts []geometry.ImagePoint) []int32 {
	out := make([]int32, 0, len(pts)*2)
	for _, p := range pts {
		out = append(out, int32(p.X), int32(p.Y))
	}
	return out
}

func unflatten(flat []int32) []geometry.ImagePoint {
	if len(flat) == 0 {
		return nil
	}
	pts := make([]geometry.ImagePoint, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		pts = append(pts, geometry.ImagePoint{X: int(flat[i]), Y: int(flat[i+1])})
	}
	return pts
}
