package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/joeychilson/colorvision/pkg/postprocess"
)

// Run is one recorded detection run
type Run struct {
	ID         int64
	RunID      string
	Source     string
	Outcome    string
	Width      int
	Height     int
	CreatedAt  time.Time
	Detections []postprocess.Detection
}

// History stores detection runs in SQLite
type History struct {
	conn *sql.DB
	mu   sync.RWMutex
}

// OpenHistory opens or creates the history database at path
func OpenHistory(path string) (*History, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	h := &History{conn: conn}

	if err := h.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return h, nil
}

// migrate creates the necessary tables if they don't exist.
func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		outcome TEXT NOT NULL,
		width INTEGER DEFAULT 0,
		height INTEGER DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS detections (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		class INTEGER NOT NULL,
		score REAL NOT NULL,
		box_left REAL NOT NULL,
		box_top REAL NOT NULL,
		box_right REAL NOT NULL,
		box_bottom REAL NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_detections_run_id ON detections(run_id);
	`

	_, err := h.conn.Exec(schema)
	return err
}

// Record stores a run and its detections in a single transaction
func (h *History) Record(run *Run) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	tx, err := h.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(`
		INSERT INTO runs (run_id, source, outcome, width, height, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.RunID, run.Source, run.Outcome, run.Width, run.Height, run.CreatedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to insert run: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, class, score, box_left, box_top, box_right, box_bottom)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare detection statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range run.Detections {
		if _, err := stmt.Exec(id, d.Class, d.Score, d.Box.Left, d.Box.Top, d.Box.Right, d.Box.Bottom); err != nil {
			return 0, fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	run.ID = id
	return id, nil
}

// Recent returns up to limit runs, newest first, with their detections in
// the order they were recorded.
func (h *History) Recent(limit int) ([]Run, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	rows, err := h.conn.Query(`
		SELECT id, run_id, source, outcome, width, height, created_at
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.RunID, &r.Source, &r.Outcome, &r.Width, &r.Height, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}

	for i := range runs {
		detections, err := h.detections(runs[i].ID)
		if err != nil {
			return nil, err
		}
		runs[i].Detections = detections
	}
	return runs, nil
}

// detections retrieves all detections for a given run row.
func (h *History) detections(id int64) ([]postprocess.Detection, error) {
	rows, err := h.conn.Query(`
		SELECT class, score, box_left, box_top, box_right, box_bottom
		FROM detections WHERE run_id = ? ORDER BY id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []postprocess.Detection
	for rows.Next() {
		var d postprocess.Detection
		if err := rows.Scan(&d.Class, &d.Score, &d.Box.Left, &d.Box.Top, &d.Box.Right, &d.Box.Bottom); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// Close closes the database connection.
func (h *History) Close() error {
	return h.conn.Close()
}
