package instances

import (
	"sync"
	"time"
)

// EngineLogEntry represents a single captured output line from an engine
// process.
type EngineLogEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Source    string    `json:"source"` // "stdout" or "stderr"
	Message   string    `json:"message"`
	PID       int       `json:"pid"`
}

// LogBuffer maintains a circular buffer of recent engine output so operators
// can inspect a world's boot and session logs without shell access to the
// host.
type LogBuffer struct {
	mu       sync.RWMutex
	entries  []EngineLogEntry
	capacity int
	nextID   int64
}

// NewLogBuffer creates a new log buffer with the specified capacity
func NewLogBuffer(capacity int) *LogBuffer {
	return &LogBuffer{
		entries:  make([]EngineLogEntry, 0, capacity),
		capacity: capacity,
		nextID:   1,
	}
}

// AddEntry adds a new log entry to the buffer, evicting the oldest entry once
// the buffer is full.
func (lb *LogBuffer) AddEntry(level, source, message string, pid int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	entry := EngineLogEntry{
		ID:        lb.nextID,
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		PID:       pid,
	}

	if len(lb.entries) >= lb.capacity {
		lb.entries = lb.entries[1:]
	}
	lb.entries = append(lb.entries, entry)
	lb.nextID++
}

// GetEntriesFromID returns all log entries with ID greater than the specified ID
func (lb *LogBuffer) GetEntriesFromID(fromID int64) []EngineLogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	result := make([]EngineLogEntry, 0)
	for _, entry := range lb.entries {
		if entry.ID > fromID {
			result = append(result, entry)
		}
	}
	return result
}

// GetLatestEntries returns the most recent N log entries
func (lb *LogBuffer) GetLatestEntries(count int) []EngineLogEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if count <= 0 || len(lb.entries) == 0 {
		return []EngineLogEntry{}
	}

	start := len(lb.entries) - count
	if start < 0 {
		start = 0
	}

	result := make([]EngineLogEntry, len(lb.entries)-start)
	copy(result, lb.entries[start:])
	return result
}

// GetLatestID returns the ID of the most recent log entry
func (lb *LogBuffer) GetLatestID() int64 {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if len(lb.entries) == 0 {
		return 0
	}
	return lb.entries[len(lb.entries)-1].ID
}
