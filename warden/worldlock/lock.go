package worldlock

import (
	"fmt"
	"net/http"

	"github.com/runewick/worldsmith/warden/snapshots"
)

// LockStatus is the editability verdict for a world, derived from its
// persisted snapshot status. When the world is locked by a live instance the
// instance's id and access URL are attached so UIs can link to it.
type LockStatus struct {
	Editable    bool             `json:"editable"`
	Status      snapshots.Status `json:"status"`
	Reason      string           `json:"reason,omitempty"`
	InstanceURL string           `json:"instanceUrl,omitempty"`
	InstanceID  string           `json:"instanceId,omitempty"`
}

// LockedError is returned when a mutation is attempted on a world that is not
// editable. Code is the HTTP status API boundaries should surface (423).
type LockedError struct {
	WorldID string
	Code    int
	Lock    LockStatus
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("world %s is locked: %s", e.WorldID, e.Lock.Reason)
}

// SnapshotFinder is the single read the lock service performs. Satisfied by
// *snapshots.Store.
type SnapshotFinder interface {
	FindByWorldID(worldID string) (*snapshots.WorldSnapshot, error)
}

// Service answers "may this world be edited right now" from persisted
// snapshot state. It never mutates anything; actual status transitions are
// compare-and-set updates in the snapshot store, so a verdict can go stale
// but a stale writer still loses.
type Service struct {
	snapshots SnapshotFinder
}

func NewService(finder SnapshotFinder) *Service {
	return &Service{snapshots: finder}
}

// WorldEditability returns the lock status for a world. A world with no
// snapshot record has never been loaded and is freely editable.
func (s *Service) WorldEditability(worldID string) (LockStatus, error) {
	snap, err := s.snapshots.FindByWorldID(worldID)
	if err != nil {
		return LockStatus{}, err
	}
	if snap == nil {
		return LockStatus{
			Editable: true,
			Status:   snapshots.StatusNeverLoaded,
			Reason:   EditLockMessage(snapshots.StatusNeverLoaded),
		}, nil
	}

	lock := LockStatus{
		Status: snap.Status,
		Reason: EditLockMessage(snap.Status),
	}
	if snap.Status == snapshots.StatusStored {
		lock.Editable = true
		return lock, nil
	}
	if snap.InstanceID != nil {
		lock.InstanceID = *snap.InstanceID
	}
	if snap.InstanceURL != nil {
		lock.InstanceURL = *snap.InstanceURL
	}
	return lock, nil
}

// AssertEditable returns nil when the world may be edited and a *LockedError
// carrying the full lock status otherwise.
func (s *Service) AssertEditable(worldID string) error {
	lock, err := s.WorldEditability(worldID)
	if err != nil {
		return err
	}
	if lock.Editable {
		return nil
	}
	return &LockedError{WorldID: worldID, Code: http.StatusLocked, Lock: lock}
}

// IsWorldLive reports whether a live process, rather than stored data, is the
// current source of truth for the world. That is the case while an instance
// is active and while its session data is still being saved back.
func (s *Service) IsWorldLive(worldID string) (bool, error) {
	snap, err := s.snapshots.FindByWorldID(worldID)
	if err != nil {
		return false, err
	}
	if snap == nil {
		return false, nil
	}
	return snap.Status == snapshots.StatusActive || snap.Status == snapshots.StatusSaving, nil
}

// EditLockMessage returns the fixed user-facing sentence for a snapshot
// status.
func EditLockMessage(status snapshots.Status) string {
	switch status {
	case snapshots.StatusNeverLoaded:
		return "This world has not been loaded yet and is free to edit."
	case snapshots.StatusStored:
		return "This world is in storage and free to edit."
	case snapshots.StatusLoading:
		return "This world is booting into a live instance; editing is locked until it finishes starting."
	case snapshots.StatusActive:
		return "A live session is in progress; the running instance owns this world's data."
	case snapshots.StatusSaving:
		return "This world is syncing its latest session data back to storage; try again shortly."
	case snapshots.StatusMigrating:
		return "This world's snapshot is migrating to new storage; editing is locked until the move completes."
	}
	return "This world is not editable right now."
}
