package snapshots

// Status represents the lifecycle state of a world snapshot. A world whose
// data lives only in cold storage is "stored"; while a game engine instance
// owns the data the snapshot moves through "loading", "active" and "saving".
type Status string

const (
	// StatusNeverLoaded is the implied state of a world with no snapshot
	// record. It is never persisted.
	StatusNeverLoaded Status = "never_loaded"
	StatusStored      Status = "stored"
	StatusLoading     Status = "loading"
	StatusActive      Status = "active"
	StatusSaving      Status = "saving"
	StatusMigrating   Status = "migrating"
)

// Valid reports whether s is a known snapshot status.
func (s Status) Valid() bool {
	switch s {
	case StatusNeverLoaded, StatusStored, StatusLoading, StatusActive, StatusSaving, StatusMigrating:
		return true
	}
	return false
}

// transitions is the set of allowed status edges. Orphan recovery bypasses
// this table on purpose; see Store.ResetOrphaned.
var transitions = map[Status][]Status{
	StatusNeverLoaded: {StatusLoading},
	StatusStored:      {StatusLoading, StatusMigrating},
	StatusLoading:     {StatusActive, StatusStored},
	StatusActive:      {StatusSaving},
	StatusSaving:      {StatusStored},
	StatusMigrating:   {StatusStored},
}

// CanTransition reports whether a snapshot may move from one status to
// another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
