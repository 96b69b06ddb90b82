package instances

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/runewick/worldsmith/warden/audit"
	"github.com/runewick/worldsmith/warden/snapshots"
	"github.com/runewick/worldsmith/warden/worldlock"
)

// Registry tracks every engine instance this supervisor owns, one controller
// per world. It serializes lifecycle operations per world, allocates ports,
// and drives each world's snapshot record through its lifecycle so the lock
// service always reflects what is actually running.
type Registry struct {
	store     *snapshots.Store
	archiver  *snapshots.Archiver
	locks     *worldlock.Service
	audit     *audit.Logger
	launcher  *Launcher
	prober    Prober
	defaults  InstanceDefaults
	gamePorts *PortAllocator
	apiPorts  *PortAllocator
	stopGrace time.Duration
	logger    *slog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller

	worldLocks keyedMutex
}

// RegistryConfig carries the registry's collaborators. Store, GamePorts and
// APIPorts are required; Archiver and Audit may be nil to disable snapshot
// archiving and audit recording.
type RegistryConfig struct {
	Store     *snapshots.Store
	Archiver  *snapshots.Archiver
	Audit     *audit.Logger
	Launcher  *Launcher
	Prober    Prober
	Defaults  InstanceDefaults
	GamePorts *PortAllocator
	APIPorts  *PortAllocator
	StopGrace time.Duration
	Logger    *slog.Logger
}

// NewRegistry creates an instance registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	launcher := cfg.Launcher
	if launcher == nil {
		launcher = &Launcher{}
	}
	return &Registry{
		store:       cfg.Store,
		archiver:    cfg.Archiver,
		locks:       worldlock.NewService(cfg.Store),
		audit:       cfg.Audit,
		launcher:    launcher,
		prober:      cfg.Prober,
		defaults:    cfg.Defaults,
		gamePorts:   cfg.GamePorts,
		apiPorts:    cfg.APIPorts,
		stopGrace:   cfg.StopGrace,
		logger:      logger.With("component", "InstanceRegistry"),
		controllers: make(map[string]*Controller),
	}
}

// Locks returns the lock service backed by the same snapshot store the
// registry writes through.
func (r *Registry) Locks() *worldlock.Service {
	return r.locks
}

// StartInstance launches an engine instance for a world and blocks until it
// is healthy. Starting a world that is already running returns the running
// instance's info. The world's snapshot record moves stored -> loading ->
// active along the way; a world that is busy elsewhere surfaces as a
// *snapshots.ConflictError.
func (r *Registry) StartInstance(ctx context.Context, cfg InstanceConfig) (InstanceInfo, error) {
	if cfg.WorldID == "" {
		return InstanceInfo{}, &ConfigurationError{Field: "worldId", Reason: "must not be empty"}
	}

	unlock := r.worldLocks.lock(cfg.WorldID)
	defer unlock()

	if existing := r.getController(cfg.WorldID); existing != nil {
		switch existing.Status() {
		case StatusRunning:
			r.logger.Info("World already running", "worldId", cfg.WorldID)
			return existing.Info(), nil
		case StatusStarting:
			return InstanceInfo{}, ErrStartInProgress
		case StatusStopping:
			return InstanceInfo{}, ErrStopInProgress
		}
		// A stopped or errored controller is replaced by this launch.
		r.removeController(cfg.WorldID)
		r.releasePorts(existing.Config())
	}

	resolved, err := cfg.withDefaults(r.defaults, r.gamePorts, r.apiPorts)
	if err != nil {
		return InstanceInfo{}, err
	}

	if err := r.beginLoading(resolved.WorldID); err != nil {
		r.releasePorts(resolved)
		return InstanceInfo{}, err
	}

	ctrl := NewController(resolved, ControllerOptions{
		Launcher:  r.launcher,
		Prober:    r.prober,
		StopGrace: r.stopGrace,
		Logger:    r.logger,
	})
	r.setController(resolved.WorldID, ctrl)

	info, err := ctrl.Start(ctx)
	if err != nil {
		r.removeController(resolved.WorldID)
		r.releasePorts(resolved)
		if revertErr := r.store.Transition(resolved.WorldID, snapshots.StatusLoading, snapshots.StatusStored); revertErr != nil {
			r.logger.Error("Failed to revert snapshot status after boot failure", "worldId", resolved.WorldID, "error", revertErr)
		}
		return InstanceInfo{}, err
	}

	if err := r.activateWorld(resolved.WorldID, ctrl.ID(), resolved.PublicURL()); err != nil {
		r.logger.Error("Failed to mark world active, shutting instance back down", "worldId", resolved.WorldID, "error", err)
		if stopErr := ctrl.Stop(context.Background()); stopErr != nil {
			r.logger.Error("Failed to stop instance after activation failure", "worldId", resolved.WorldID, "error", stopErr)
		}
		r.removeController(resolved.WorldID)
		r.releasePorts(resolved)
		if detachErr := r.store.DetachInstance(resolved.WorldID); detachErr != nil {
			r.logger.Error("Failed to detach instance after activation failure", "worldId", resolved.WorldID, "error", detachErr)
		}
		if revertErr := r.store.Transition(resolved.WorldID, snapshots.StatusLoading, snapshots.StatusStored); revertErr != nil {
			r.logger.Error("Failed to revert snapshot status after activation failure", "worldId", resolved.WorldID, "error", revertErr)
		}
		return InstanceInfo{}, err
	}

	r.logger.Info("World launched", "worldId", resolved.WorldID, "instanceId", ctrl.ID(), "pid", info.PID, "url", info.URL)
	if r.audit != nil {
		if err := r.audit.LogWorldLaunch(resolved.WorldID, ctrl.ID()); err != nil {
			r.logger.Error("Failed to write audit event", "error", err)
		}
	}
	return info, nil
}

// beginLoading claims the world's snapshot record for this launch. The first
// launch of a world creates the record; after that the claim is a
// compare-and-set from stored, so a world that is live or mid-operation
// anywhere refuses the claim atomically.
func (r *Registry) beginLoading(worldID string) error {
	snap, err := r.store.FindByWorldID(worldID)
	if err != nil {
		return err
	}
	if snap == nil {
		_, err := r.store.CreateLoading(worldID)
		return err
	}
	return r.store.Transition(worldID, snapshots.StatusStored, snapshots.StatusLoading)
}

func (r *Registry) activateWorld(worldID, instanceID, url string) error {
	if err := r.store.AttachInstance(worldID, instanceID, url); err != nil {
		return err
	}
	return r.store.Transition(worldID, snapshots.StatusLoading, snapshots.StatusActive)
}

// StopInstance gracefully stops a world's instance, exports its data back to
// a snapshot archive and releases its ports. The snapshot record moves
// active -> saving -> stored.
func (r *Registry) StopInstance(ctx context.Context, worldID string) error {
	unlock := r.worldLocks.lock(worldID)
	defer unlock()

	ctrl := r.getController(worldID)
	if ctrl == nil {
		return &NotFoundError{WorldID: worldID}
	}

	if err := r.stopAndRelease(ctx, ctrl); err != nil {
		return err
	}

	r.logger.Info("World stopped", "worldId", worldID, "instanceId", ctrl.ID())
	if r.audit != nil {
		if err := r.audit.LogWorldShutdown(worldID, ctrl.ID()); err != nil {
			r.logger.Error("Failed to write audit event", "error", err)
		}
	}
	return nil
}

// stopAndRelease is the shutdown choreography shared by StopInstance and
// StopAll. Caller holds the world's keyed lock.
func (r *Registry) stopAndRelease(ctx context.Context, ctrl *Controller) error {
	cfg := ctrl.Config()
	worldID := cfg.WorldID

	snap, err := r.store.FindByWorldID(worldID)
	if err != nil {
		return err
	}

	persisted := snapshots.StatusNeverLoaded
	if snap != nil {
		persisted = snap.Status
	}

	// Flag the save before the process goes down so editors see "syncing"
	// rather than a world that looks free while its data is still in flight.
	if persisted == snapshots.StatusActive {
		if err := r.store.Transition(worldID, snapshots.StatusActive, snapshots.StatusSaving); err != nil {
			return err
		}
		persisted = snapshots.StatusSaving
	}

	if err := ctrl.Stop(ctx); err != nil {
		return err
	}

	r.removeController(worldID)
	r.releasePorts(cfg)

	switch persisted {
	case snapshots.StatusSaving:
		r.exportAndStore(cfg)
	case snapshots.StatusLoading:
		// Boot never completed; the data never left the directory.
		if err := r.store.DetachInstance(worldID); err != nil {
			r.logger.Error("Failed to detach instance", "worldId", worldID, "error", err)
		}
		if err := r.store.Transition(worldID, snapshots.StatusLoading, snapshots.StatusStored); err != nil {
			r.logger.Error("Failed to revert snapshot status", "worldId", worldID, "error", err)
		}
	}
	return nil
}

// exportAndStore archives the world's data directory and settles the snapshot
// record back to stored. An export failure is logged but does not block the
// release: the data directory on disk remains the authoritative copy, the
// archive is a recovery artifact.
func (r *Registry) exportAndStore(cfg InstanceConfig) {
	worldID := cfg.WorldID
	if r.archiver != nil && cfg.DataPath != "" {
		url, err := r.archiver.Export(worldID, cfg.DataPath)
		if err != nil {
			r.logger.Error("Failed to export world snapshot", "worldId", worldID, "error", err)
		} else {
			if err := r.store.RecordSnapshot(worldID, url, time.Now()); err != nil {
				r.logger.Error("Failed to record snapshot location", "worldId", worldID, "error", err)
			}
			r.logger.Info("World snapshot exported", "worldId", worldID, "url", url)
			if r.audit != nil {
				if err := r.audit.LogSnapshotExport(worldID, url); err != nil {
					r.logger.Error("Failed to write audit event", "error", err)
				}
			}
		}
	}
	if err := r.store.Transition(worldID, snapshots.StatusSaving, snapshots.StatusStored); err != nil {
		r.logger.Error("Failed to settle snapshot status", "worldId", worldID, "error", err)
	}
	if err := r.store.DetachInstance(worldID); err != nil {
		r.logger.Error("Failed to detach instance", "worldId", worldID, "error", err)
	}
}

// RestartInstance stops and relaunches a world's engine process in place:
// same ports, same instance id, same data directory. The world stays active
// for the duration, so editors keep seeing it as locked.
func (r *Registry) RestartInstance(ctx context.Context, worldID string) (InstanceInfo, error) {
	unlock := r.worldLocks.lock(worldID)
	defer unlock()

	ctrl := r.getController(worldID)
	if ctrl == nil {
		return InstanceInfo{}, &NotFoundError{WorldID: worldID}
	}

	info, err := ctrl.Restart(ctx)
	if err != nil {
		r.logger.Error("Failed to restart instance", "worldId", worldID, "error", err)
		return InstanceInfo{}, err
	}

	r.logger.Info("World restarted", "worldId", worldID, "instanceId", ctrl.ID(), "pid", info.PID)
	if r.audit != nil {
		if err := r.audit.LogWorldRestart(worldID, ctrl.ID()); err != nil {
			r.logger.Error("Failed to write audit event", "error", err)
		}
	}
	return info, nil
}

// GetInstance returns the info for a world's registered instance.
func (r *Registry) GetInstance(worldID string) (InstanceInfo, error) {
	ctrl := r.getController(worldID)
	if ctrl == nil {
		return InstanceInfo{}, &NotFoundError{WorldID: worldID}
	}
	return ctrl.Info(), nil
}

// InstanceLogs returns captured engine output for a world's instance,
// starting after the given log entry id.
func (r *Registry) InstanceLogs(worldID string, afterID int64) ([]EngineLogEntry, error) {
	ctrl := r.getController(worldID)
	if ctrl == nil {
		return nil, &NotFoundError{WorldID: worldID}
	}
	return ctrl.Logs(afterID), nil
}

// Instances returns the info of every registered instance, ordered by world.
func (r *Registry) Instances() []InstanceInfo {
	r.mu.RLock()
	infos := make([]InstanceInfo, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		infos = append(infos, ctrl.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].WorldID < infos[j].WorldID
	})
	return infos
}

// RunningCount returns the number of instances currently healthy.
func (r *Registry) RunningCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, ctrl := range r.controllers {
		if ctrl.IsRunning() {
			count++
		}
	}
	return count
}

// StopAll stops every registered instance in parallel. Used for supervisor
// shutdown; each world still runs the full stop choreography including its
// snapshot export.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.RLock()
	ctrls := make([]*Controller, 0, len(r.controllers))
	for _, ctrl := range r.controllers {
		ctrls = append(ctrls, ctrl)
	}
	r.mu.RUnlock()

	if len(ctrls) == 0 {
		return
	}
	r.logger.Info("Stopping all instances", "count", len(ctrls))

	var wg sync.WaitGroup
	for _, ctrl := range ctrls {
		wg.Add(1)
		go func(ctrl *Controller) {
			defer wg.Done()
			worldID := ctrl.Config().WorldID
			if err := r.StopInstance(ctx, worldID); err != nil {
				var notFound *NotFoundError
				if !errors.As(err, &notFound) {
					r.logger.Error("Failed to stop instance during shutdown", "worldId", worldID, "error", err)
				}
			}
		}(ctrl)
	}
	wg.Wait()

	r.logger.Info("All instances stopped")
}

// Reconcile forces snapshot records left in a transitional or live status by
// an earlier crash back to stored. Run once at supervisor startup, before any
// instance is launched. Returns the ids of the worlds that were reset.
func (r *Registry) Reconcile() ([]string, error) {
	worldIDs, err := r.store.ResetOrphaned()
	if err != nil {
		return nil, err
	}
	for _, worldID := range worldIDs {
		r.logger.Warn("Reset orphaned world snapshot record", "worldId", worldID)
		if r.audit != nil {
			if err := r.audit.LogOrphanReset(worldID); err != nil {
				r.logger.Error("Failed to write audit event", "error", err)
			}
		}
	}
	return worldIDs, nil
}

// MigrateWorld moves a world's stored snapshot archive to a different
// directory and updates the record to point at it. The record passes through
// migrating, so the world cannot be launched or imported mid-move.
func (r *Registry) MigrateWorld(worldID, destDir string) (string, error) {
	unlock := r.worldLocks.lock(worldID)
	defer unlock()

	if r.archiver == nil {
		return "", fmt.Errorf("snapshot archiving is not configured")
	}

	snap, err := r.store.FindByWorldID(worldID)
	if err != nil {
		return "", err
	}
	if snap == nil || snap.SnapshotURL == nil {
		return "", fmt.Errorf("world %s has no stored snapshot to migrate", worldID)
	}

	if err := r.store.Transition(worldID, snapshots.StatusStored, snapshots.StatusMigrating); err != nil {
		return "", err
	}

	newURL, err := r.archiver.Relocate(*snap.SnapshotURL, destDir)
	if err != nil {
		if revertErr := r.store.Transition(worldID, snapshots.StatusMigrating, snapshots.StatusStored); revertErr != nil {
			r.logger.Error("Failed to revert snapshot status after migration failure", "worldId", worldID, "error", revertErr)
		}
		return "", err
	}

	if err := r.store.UpdateSnapshotURL(worldID, newURL); err != nil {
		r.logger.Error("Failed to record migrated snapshot location", "worldId", worldID, "url", newURL, "error", err)
	}
	if err := r.store.Transition(worldID, snapshots.StatusMigrating, snapshots.StatusStored); err != nil {
		r.logger.Error("Failed to settle snapshot status after migration", "worldId", worldID, "error", err)
	}

	r.logger.Info("World snapshot migrated", "worldId", worldID, "url", newURL)
	if r.audit != nil {
		if err := r.audit.LogSnapshotMigrate(worldID, newURL); err != nil {
			r.logger.Error("Failed to write audit event", "error", err)
		}
	}
	return newURL, nil
}

// ImportWorldData replaces a world's data directory with the contents of an
// uploaded archive. The editability check and the restore run under the same
// per-world lock, so a concurrent launch cannot slip between them.
func (r *Registry) ImportWorldData(worldID, archivePath string) error {
	unlock := r.worldLocks.lock(worldID)
	defer unlock()

	if r.archiver == nil {
		return fmt.Errorf("snapshot archiving is not configured")
	}

	if err := r.locks.AssertEditable(worldID); err != nil {
		var locked *worldlock.LockedError
		if errors.As(err, &locked) && r.audit != nil {
			if auditErr := r.audit.LogEditRejected(worldID, locked.Lock.Reason); auditErr != nil {
				r.logger.Error("Failed to write audit event", "error", auditErr)
			}
		}
		return err
	}

	dataDir := WorldDataPath(r.defaults.DataRoot, worldID)
	if err := r.archiver.Restore(archivePath, dataDir); err != nil {
		return err
	}

	r.logger.Info("World data imported", "worldId", worldID, "dataDir", dataDir)
	if r.audit != nil {
		if err := r.audit.LogWorldImport(worldID, archivePath); err != nil {
			r.logger.Error("Failed to write audit event", "error", err)
		}
	}
	return nil
}

func (r *Registry) getController(worldID string) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.controllers[worldID]
}

func (r *Registry) setController(worldID string, ctrl *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[worldID] = ctrl
}

func (r *Registry) removeController(worldID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.controllers, worldID)
}

func (r *Registry) releasePorts(cfg InstanceConfig) {
	if r.gamePorts != nil {
		r.gamePorts.Release(cfg.Port)
	}
	if r.apiPorts != nil {
		r.apiPorts.Release(cfg.APIPort)
	}
}

// keyedMutex serializes operations per key. Mutexes are retained for the
// process lifetime; the key space is the set of worlds this supervisor has
// touched, which stays small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutex for key and returns its unlock func.
func (km *keyedMutex) lock(key string) func() {
	km.mu.Lock()
	if km.locks == nil {
		km.locks = make(map[string]*sync.Mutex)
	}
	m, ok := km.locks[key]
	if !ok {
		m = &sync.Mutex{}
		km.locks[key] = m
	}
	km.mu.Unlock()

	m.Lock()
	return m.Unlock
}
