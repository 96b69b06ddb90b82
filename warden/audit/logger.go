package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// EventType represents the type of audit event
type EventType string

const (
	EventWorldLaunch     EventType = "world_launch"
	EventWorldShutdown   EventType = "world_shutdown"
	EventWorldRestart    EventType = "world_restart"
	EventWorldImport     EventType = "world_import"
	EventEditRejected    EventType = "edit_rejected"
	EventSnapshotExport  EventType = "snapshot_export"
	EventSnapshotMigrate EventType = "snapshot_migrate"
	EventOrphanReset     EventType = "orphan_reset"
)

// AuditEvent represents an audit log entry in the database
type AuditEvent struct {
	ID         string `db:"id"`
	EventType  string `db:"event_type"`
	Timestamp  int64  `db:"timestamp"`
	WorldID    string `db:"world_id"`
	InstanceID string `db:"instance_id"` // empty for events without a live instance
	Detail     string `db:"detail"`
}

// Logger handles audit logging for world lifecycle and lock events
type Logger struct {
	db *sqlx.DB
}

// NewLogger creates a new audit logger instance
func NewLogger(db *sqlx.DB) (*Logger, error) {
	if err := DBInit(db); err != nil {
		return nil, err
	}
	return &Logger{
		db: db,
	}, nil
}

// DBInit initializes the audit events database table
func DBInit(db *sqlx.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS audit_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		world_id TEXT NOT NULL,
		instance_id TEXT,
		detail TEXT
	)
	`)
	if err != nil {
		return err
	}

	// Create indexes for common queries
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_world_id ON audit_events(world_id)`)
	if err != nil {
		return err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type)`)
	return err
}

// insertEvent is a helper method to insert an audit event into the database
func (l *Logger) insertEvent(event *AuditEvent) error {
	_, err := l.db.Exec(`
		INSERT INTO audit_events (
			id, event_type, timestamp, world_id, instance_id, detail
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID,
		event.EventType,
		event.Timestamp,
		event.WorldID,
		event.InstanceID,
		event.Detail,
	)
	return err
}

func newEvent(eventType EventType, worldID string) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		EventType: string(eventType),
		Timestamp: time.Now().UTC().Unix(),
		WorldID:   worldID,
	}
}

// LogWorldLaunch logs a world booting into a live instance
func (l *Logger) LogWorldLaunch(worldID, instanceID string) error {
	event := newEvent(EventWorldLaunch, worldID)
	event.InstanceID = instanceID
	return l.insertEvent(event)
}

// LogWorldShutdown logs a world's instance being stopped
func (l *Logger) LogWorldShutdown(worldID, instanceID string) error {
	event := newEvent(EventWorldShutdown, worldID)
	event.InstanceID = instanceID
	return l.insertEvent(event)
}

// LogWorldRestart logs a world's instance being restarted in place
func (l *Logger) LogWorldRestart(worldID, instanceID string) error {
	event := newEvent(EventWorldRestart, worldID)
	event.InstanceID = instanceID
	return l.insertEvent(event)
}

// LogWorldImport logs world data being replaced from an uploaded archive
func (l *Logger) LogWorldImport(worldID, detail string) error {
	event := newEvent(EventWorldImport, worldID)
	event.Detail = detail
	return l.insertEvent(event)
}

// LogEditRejected logs an edit attempt refused because the world was locked
func (l *Logger) LogEditRejected(worldID, reason string) error {
	event := newEvent(EventEditRejected, worldID)
	event.Detail = reason
	return l.insertEvent(event)
}

// LogSnapshotExport logs a world's data being archived back to storage
func (l *Logger) LogSnapshotExport(worldID, snapshotURL string) error {
	event := newEvent(EventSnapshotExport, worldID)
	event.Detail = snapshotURL
	return l.insertEvent(event)
}

// LogSnapshotMigrate logs a stored archive being moved to a new location
func (l *Logger) LogSnapshotMigrate(worldID, snapshotURL string) error {
	event := newEvent(EventSnapshotMigrate, worldID)
	event.Detail = snapshotURL
	return l.insertEvent(event)
}

// LogOrphanReset logs a stale snapshot record being forced back to stored
// during startup reconciliation
func (l *Logger) LogOrphanReset(worldID string) error {
	return l.insertEvent(newEvent(EventOrphanReset, worldID))
}

// GetEventsByWorldID retrieves audit events for a specific world
func (l *Logger) GetEventsByWorldID(worldID string, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events WHERE world_id = $1 ORDER BY timestamp DESC LIMIT $2",
		worldID, limit)
	return events, err
}

// GetEventsByType retrieves audit events of a specific type
func (l *Logger) GetEventsByType(eventType EventType, limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events WHERE event_type = $1 ORDER BY timestamp DESC LIMIT $2",
		string(eventType), limit)
	return events, err
}

// GetRecentEvents retrieves the most recent audit events
func (l *Logger) GetRecentEvents(limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	err := l.db.Select(&events,
		"SELECT * FROM audit_events ORDER BY timestamp DESC LIMIT $1",
		limit)
	return events, err
}

// DeleteOldEvents deletes audit events older than the specified duration
func (l *Logger) DeleteOldEvents(olderThan time.Duration) (int64, error) {
	threshold := time.Now().UTC().Add(-olderThan).Unix()
	result, err := l.db.Exec("DELETE FROM audit_events WHERE timestamp < $1", threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
