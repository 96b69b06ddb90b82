package snapshots

import "testing"

func TestStatusValid(t *testing.T) {
	valid := []Status{StatusNeverLoaded, StatusStored, StatusLoading, StatusActive, StatusSaving, StatusMigrating}
	for _, s := range valid {
		if !s.Valid() {
			t.Errorf("Expected %q to be valid", s)
		}
	}

	if Status("paused").Valid() {
		t.Error("Expected unknown status to be invalid")
	}
	if Status("").Valid() {
		t.Error("Expected empty status to be invalid")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{"FirstLaunch", StatusNeverLoaded, StatusLoading, true},
		{"Relaunch", StatusStored, StatusLoading, true},
		{"BootComplete", StatusLoading, StatusActive, true},
		{"BootFailed", StatusLoading, StatusStored, true},
		{"ShutdownBegins", StatusActive, StatusSaving, true},
		{"ExportComplete", StatusSaving, StatusStored, true},
		{"MigrateStored", StatusStored, StatusMigrating, true},
		{"MigrateActive", StatusActive, StatusMigrating, false},
		{"MigrateComplete", StatusMigrating, StatusStored, true},
		{"SkipLoading", StatusStored, StatusActive, false},
		{"ActiveBackToLoading", StatusActive, StatusLoading, false},
		{"SavingToActive", StatusSaving, StatusActive, false},
		{"MigratingToActive", StatusMigrating, StatusActive, false},
		{"StoredToSaving", StatusStored, StatusSaving, false},
		{"SelfLoop", StatusActive, StatusActive, false},
		{"UnknownFrom", Status("paused"), StatusStored, false},
		{"UnknownTo", StatusStored, Status("paused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.allowed {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.allowed)
			}
		})
	}
}
