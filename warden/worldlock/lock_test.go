package worldlock

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/runewick/worldsmith/warden/snapshots"
)

// stubFinder serves canned snapshot records keyed by world id.
type stubFinder struct {
	records map[string]*snapshots.WorldSnapshot
	err     error
}

func (f *stubFinder) FindByWorldID(worldID string) (*snapshots.WorldSnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records[worldID], nil
}

func recordWithStatus(worldID string, status snapshots.Status) *snapshots.WorldSnapshot {
	return &snapshots.WorldSnapshot{
		ID:      "snap-" + worldID,
		WorldID: worldID,
		Status:  status,
	}
}

func TestWorldEditabilityNeverLoaded(t *testing.T) {
	service := NewService(&stubFinder{records: map[string]*snapshots.WorldSnapshot{}})

	lock, err := service.WorldEditability("fresh-world")
	if err != nil {
		t.Fatalf("WorldEditability failed: %v", err)
	}
	if !lock.Editable {
		t.Error("Expected a never-loaded world to be editable")
	}
	if lock.Status != snapshots.StatusNeverLoaded {
		t.Errorf("Expected status %q, got %q", snapshots.StatusNeverLoaded, lock.Status)
	}
	if lock.InstanceID != "" || lock.InstanceURL != "" {
		t.Error("Expected no instance reference for a never-loaded world")
	}
}

func TestWorldEditabilityByStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   snapshots.Status
		editable bool
		phrase   string
	}{
		{"Stored", snapshots.StatusStored, true, "free to edit"},
		{"Loading", snapshots.StatusLoading, false, "booting"},
		{"Active", snapshots.StatusActive, false, "live session"},
		{"Saving", snapshots.StatusSaving, false, "syncing"},
		{"Migrating", snapshots.StatusMigrating, false, "migrating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			finder := &stubFinder{records: map[string]*snapshots.WorldSnapshot{
				"ravenholm": recordWithStatus("ravenholm", tt.status),
			}}
			lock, err := NewService(finder).WorldEditability("ravenholm")
			if err != nil {
				t.Fatalf("WorldEditability failed: %v", err)
			}
			if lock.Editable != tt.editable {
				t.Errorf("Status %s: expected editable=%v, got %v", tt.status, tt.editable, lock.Editable)
			}
			if lock.Status != tt.status {
				t.Errorf("Expected status %q, got %q", tt.status, lock.Status)
			}
			if lock.Reason == "" {
				t.Error("Expected a human reason")
			}
			if !strings.Contains(strings.ToLower(lock.Reason), tt.phrase) {
				t.Errorf("Expected reason mentioning %q, got %q", tt.phrase, lock.Reason)
			}
		})
	}
}

func TestWorldEditabilityAttachesInstance(t *testing.T) {
	instanceID := "inst-42"
	instanceURL := "http://host:30000/play/ravenholm"
	record := recordWithStatus("ravenholm", snapshots.StatusActive)
	record.InstanceID = &instanceID
	record.InstanceURL = &instanceURL

	finder := &stubFinder{records: map[string]*snapshots.WorldSnapshot{"ravenholm": record}}
	lock, err := NewService(finder).WorldEditability("ravenholm")
	if err != nil {
		t.Fatalf("WorldEditability failed: %v", err)
	}
	if lock.InstanceID != instanceID {
		t.Errorf("Expected instanceId %q, got %q", instanceID, lock.InstanceID)
	}
	if lock.InstanceURL != instanceURL {
		t.Errorf("Expected instanceUrl %q, got %q", instanceURL, lock.InstanceURL)
	}
}

func TestAssertEditablePasses(t *testing.T) {
	finder := &stubFinder{records: map[string]*snapshots.WorldSnapshot{
		"stored-world": recordWithStatus("stored-world", snapshots.StatusStored),
	}}
	service := NewService(finder)

	if err := service.AssertEditable("stored-world"); err != nil {
		t.Errorf("Expected stored world to pass, got %v", err)
	}
	if err := service.AssertEditable("fresh-world"); err != nil {
		t.Errorf("Expected never-loaded world to pass, got %v", err)
	}
}

func TestAssertEditableLocked(t *testing.T) {
	finder := &stubFinder{records: map[string]*snapshots.WorldSnapshot{
		"ravenholm": recordWithStatus("ravenholm", snapshots.StatusActive),
	}}
	service := NewService(finder)

	err := service.AssertEditable("ravenholm")
	if err == nil {
		t.Fatal("Expected AssertEditable to fail for an active world")
	}

	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("Expected *LockedError, got %T: %v", err, err)
	}
	if locked.Code != http.StatusLocked {
		t.Errorf("Expected code %d, got %d", http.StatusLocked, locked.Code)
	}
	if locked.WorldID != "ravenholm" {
		t.Errorf("Expected worldId 'ravenholm', got %q", locked.WorldID)
	}

	// The carried payload must match the verdict exactly.
	lock, err2 := service.WorldEditability("ravenholm")
	if err2 != nil {
		t.Fatalf("WorldEditability failed: %v", err2)
	}
	if locked.Lock != lock {
		t.Errorf("LockedError payload %+v differs from verdict %+v", locked.Lock, lock)
	}
}

func TestIsWorldLive(t *testing.T) {
	tests := []struct {
		name   string
		record *snapshots.WorldSnapshot
		live   bool
	}{
		{"NoRecord", nil, false},
		{"Stored", recordWithStatus("w", snapshots.StatusStored), false},
		{"Loading", recordWithStatus("w", snapshots.StatusLoading), false},
		{"Active", recordWithStatus("w", snapshots.StatusActive), true},
		{"Saving", recordWithStatus("w", snapshots.StatusSaving), true},
		{"Migrating", recordWithStatus("w", snapshots.StatusMigrating), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records := map[string]*snapshots.WorldSnapshot{}
			if tt.record != nil {
				records["w"] = tt.record
			}
			live, err := NewService(&stubFinder{records: records}).IsWorldLive("w")
			if err != nil {
				t.Fatalf("IsWorldLive failed: %v", err)
			}
			if live != tt.live {
				t.Errorf("Expected live=%v, got %v", tt.live, live)
			}
		})
	}
}

func TestFinderErrorPropagates(t *testing.T) {
	boom := errors.New("database locked")
	service := NewService(&stubFinder{err: boom})

	if _, err := service.WorldEditability("w"); !errors.Is(err, boom) {
		t.Errorf("WorldEditability should propagate finder error, got %v", err)
	}
	if err := service.AssertEditable("w"); !errors.Is(err, boom) {
		t.Errorf("AssertEditable should propagate finder error, got %v", err)
	}
	if _, err := service.IsWorldLive("w"); !errors.Is(err, boom) {
		t.Errorf("IsWorldLive should propagate finder error, got %v", err)
	}
}

func TestEditLockMessagesAreDistinct(t *testing.T) {
	statuses := []snapshots.Status{
		snapshots.StatusNeverLoaded,
		snapshots.StatusStored,
		snapshots.StatusLoading,
		snapshots.StatusActive,
		snapshots.StatusSaving,
		snapshots.StatusMigrating,
	}

	seen := map[string]snapshots.Status{}
	for _, status := range statuses {
		msg := EditLockMessage(status)
		if msg == "" {
			t.Errorf("Status %s: empty message", status)
		}
		if prev, ok := seen[msg]; ok {
			t.Errorf("Statuses %s and %s share message %q", prev, status, msg)
		}
		seen[msg] = status
	}
}
