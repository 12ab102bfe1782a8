package stepengine

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Repository persists Step rows in the ledger database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository builds a Repository bound to the ledger database connection.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("repo", "step").Logger()}
}

const stepColumns = `id, class, arguments, block_uuid, child_block_uuid, idx, status, attempts, result, error, created_at, updated_at`

func scanStep(row interface{ Scan(...interface{}) error }) (*Step, error) {
	var s Step
	var status, createdAt, updatedAt string
	if err := row.Scan(&s.ID, &s.Class, &s.Arguments, &s.BlockUUID, &s.ChildBlockUUID, &s.Index,
		&status, &s.Attempts, &s.Result, &s.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	s.Status = Status(status)
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

// CreateBlock persists every step of a Builder as one unit. Steps already
// carry their block_uuid/index/child_block_uuid; CreateBlock only assigns
// database IDs and timestamps.
func (r *Repository) CreateBlock(steps []Step) error {
	for i := range steps {
		id, err := r.create(&steps[i])
		if err != nil {
			return fmt.Errorf("create step %s[%d]: %w", steps[i].Class, steps[i].Index, err)
		}
		steps[i].ID = id
	}
	return nil
}

func (r *Repository) create(s *Step) (int64, error) {
	res, err := r.db.Exec(`INSERT INTO steps
		(class, arguments, block_uuid, child_block_uuid, idx, status, attempts, result, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.Class, s.Arguments, s.BlockUUID, s.ChildBlockUUID, s.Index, string(s.Status), s.Attempts, s.Result, s.Error)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListBlock returns every step of a block, ordered by index.
func (r *Repository) ListBlock(blockUUID string) ([]*Step, error) {
	rows, err := r.db.Query(`SELECT `+stepColumns+` FROM steps WHERE block_uuid = ? ORDER BY idx, id`, blockUUID)
	if err != nil {
		return nil, fmt.Errorf("list block %s: %w", blockUUID, err)
	}
	defer rows.Close()

	var out []*Step
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListPendingRootBlocks returns the block_uuid of every block that has at
// least one non-terminal step and isn't itself the child_block_uuid of
// another step — the dispatcher's discovery query for blocks a correction
// Enqueuer persisted but nothing has driven through RunBlock yet. Child
// blocks are excluded because they're only ever entered via their parent's
// recursive RunBlock call, never directly.
func (r *Repository) ListPendingRootBlocks(limit int) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT s.block_uuid FROM steps s
		WHERE s.status IN (?, ?)
		AND s.block_uuid NOT IN (SELECT child_block_uuid FROM steps WHERE child_block_uuid != '')
		ORDER BY s.block_uuid
		LIMIT ?`, string(StatusPending), string(StatusRunning), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending root blocks: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uuid string
		if err := rows.Scan(&uuid); err != nil {
			return nil, fmt.Errorf("scan block uuid: %w", err)
		}
		out = append(out, uuid)
	}
	return out, rows.Err()
}

// Get loads one step by ID, used to re-read status before a retry.
func (r *Repository) Get(id int64) (*Step, error) {
	row := r.db.QueryRow(`SELECT `+stepColumns+` FROM steps WHERE id = ?`, id)
	s, err := scanStep(row)
	if err != nil {
		return nil, fmt.Errorf("get step %d: %w", id, err)
	}
	return s, nil
}

// MarkRunning transitions a step to running and bumps attempts, the first
// write of each attempt — makes a crash mid-attempt visible on replay.
func (r *Repository) MarkRunning(id int64) error {
	_, err := r.db.Exec(`UPDATE steps SET status = ?, attempts = attempts + 1, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		string(StatusRunning), id)
	if err != nil {
		return fmt.Errorf("mark step %d running: %w", id, err)
	}
	return nil
}

// Finish records a step's terminal outcome.
func (r *Repository) Finish(id int64, status Status, result, errMsg string) error {
	_, err := r.db.Exec(`UPDATE steps SET status = ?, result = ?, error = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now') WHERE id = ?`,
		string(status), result, errMsg, id)
	if err != nil {
		return fmt.Errorf("finish step %d: %w", id, err)
	}
	return nil
}
