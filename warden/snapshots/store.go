package snapshots

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrInvalidTransition is returned when a requested status change is not an
// edge in the snapshot lifecycle.
var ErrInvalidTransition = errors.New("invalid snapshot status transition")

// ConflictError is returned when a compare-and-set status transition loses
// the race: the persisted status was no longer the expected one by the time
// the update ran.
type ConflictError struct {
	WorldID string
	From    Status
	To      Status
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("world %s: snapshot status is no longer %q, cannot move to %q", e.WorldID, e.From, e.To)
}

// WorldSnapshot is a world's snapshot record. At most one record exists per
// world; a world with no record has never been loaded into an instance.
type WorldSnapshot struct {
	ID             string  `db:"id"`
	WorldID        string  `db:"world_id"`
	Status         Status  `db:"status"`
	InstanceID     *string `db:"instance_id"`
	InstanceURL    *string `db:"instance_url"`
	SnapshotURL    *string `db:"snapshot_url"`
	LastSnapshotAt *int64  `db:"last_snapshot_at"`
	CreatedAt      int64   `db:"created_at"`
	UpdatedAt      int64   `db:"updated_at"`
}

const snapshotSchema = `
CREATE TABLE IF NOT EXISTS world_snapshots (
	id TEXT PRIMARY KEY,
	world_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	instance_id TEXT,
	instance_url TEXT,
	snapshot_url TEXT,
	last_snapshot_at INTEGER,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Store persists world snapshot records. All status changes go through
// compare-and-set updates so that two actors racing on the same world cannot
// both win.
type Store struct {
	db *sqlx.DB
}

// NewStore creates a snapshot store and initializes its schema.
func NewStore(db *sqlx.DB) (*Store, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// DBInit initializes the world snapshot table.
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(snapshotSchema)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_world_snapshots_status ON world_snapshots(status)`)
	return err
}

// FindByWorldID returns the snapshot record for a world, or nil if the world
// has never been loaded.
func (s *Store) FindByWorldID(worldID string) (*WorldSnapshot, error) {
	var snap WorldSnapshot
	err := s.db.Get(&snap,
		"SELECT * FROM world_snapshots WHERE world_id = $1", worldID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// CreateLoading inserts a new snapshot record directly in the loading status.
// This is the only way a record comes into existence: the first launch of a
// world claims it by creating the row.
func (s *Store) CreateLoading(worldID string) (*WorldSnapshot, error) {
	now := time.Now().UTC().Unix()
	snap := &WorldSnapshot{
		ID:        uuid.New().String(),
		WorldID:   worldID,
		Status:    StatusLoading,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(`
		INSERT INTO world_snapshots (id, world_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		snap.ID, snap.WorldID, snap.Status, snap.CreatedAt, snap.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Transition atomically moves a world's snapshot from one status to another.
// It fails with ErrInvalidTransition if the edge is not in the lifecycle, and
// with *ConflictError if the persisted status was no longer `from`.
func (s *Store) Transition(worldID string, from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	result, err := s.db.Exec(`
		UPDATE world_snapshots SET status = $1, updated_at = $2
		WHERE world_id = $3 AND status = $4`,
		to, time.Now().UTC().Unix(), worldID, from)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &ConflictError{WorldID: worldID, From: from, To: to}
	}
	return nil
}

// AttachInstance records which live instance currently owns the world's data.
func (s *Store) AttachInstance(worldID, instanceID, instanceURL string) error {
	_, err := s.db.Exec(`
		UPDATE world_snapshots SET instance_id = $1, instance_url = $2, updated_at = $3
		WHERE world_id = $4`,
		instanceID, instanceURL, time.Now().UTC().Unix(), worldID)
	return err
}

// DetachInstance clears the instance association once the world's data is
// back in storage.
func (s *Store) DetachInstance(worldID string) error {
	_, err := s.db.Exec(`
		UPDATE world_snapshots SET instance_id = NULL, instance_url = NULL, updated_at = $1
		WHERE world_id = $2`,
		time.Now().UTC().Unix(), worldID)
	return err
}

// RecordSnapshot stores the location and time of the latest exported archive.
func (s *Store) RecordSnapshot(worldID, snapshotURL string, takenAt time.Time) error {
	_, err := s.db.Exec(`
		UPDATE world_snapshots SET snapshot_url = $1, last_snapshot_at = $2, updated_at = $3
		WHERE world_id = $4`,
		snapshotURL, takenAt.UTC().Unix(), time.Now().UTC().Unix(), worldID)
	return err
}

// UpdateSnapshotURL rewrites the archive location without touching the
// snapshot timestamp. Used when an existing archive is moved between storage
// locations.
func (s *Store) UpdateSnapshotURL(worldID, snapshotURL string) error {
	_, err := s.db.Exec(`
		UPDATE world_snapshots SET snapshot_url = $1, updated_at = $2
		WHERE world_id = $3`,
		snapshotURL, time.Now().UTC().Unix(), worldID)
	return err
}

// ListByStatus returns all snapshot records currently in the given status.
func (s *Store) ListByStatus(status Status) ([]WorldSnapshot, error) {
	var snaps []WorldSnapshot
	err := s.db.Select(&snaps,
		"SELECT * FROM world_snapshots WHERE status = $1 ORDER BY world_id", status)
	return snaps, err
}

// ResetOrphaned forces every record stuck in a transitional or live status
// back to stored and clears its instance association. It is the recovery path
// for records left behind by a crashed supervisor, so it deliberately skips
// the transition table. Returns the ids of the worlds that were reset.
func (s *Store) ResetOrphaned() ([]string, error) {
	var worldIDs []string
	err := s.db.Select(&worldIDs, `
		SELECT world_id FROM world_snapshots
		WHERE status IN ($1, $2, $3, $4) ORDER BY world_id`,
		StatusLoading, StatusActive, StatusSaving, StatusMigrating)
	if err != nil {
		return nil, err
	}
	if len(worldIDs) == 0 {
		return nil, nil
	}
	_, err = s.db.Exec(`
		UPDATE world_snapshots
		SET status = $1, instance_id = NULL, instance_url = NULL, updated_at = $2
		WHERE status IN ($3, $4, $5, $6)`,
		StatusStored, time.Now().UTC().Unix(),
		StatusLoading, StatusActive, StatusSaving, StatusMigrating)
	if err != nil {
		return nil, err
	}
	return worldIDs, nil
}
