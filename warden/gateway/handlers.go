package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/runewick/worldsmith/warden/httputils"
	"github.com/runewick/worldsmith/warden/instances"
)

// ServiceTokenRequest is the request payload for minting a service token.
type ServiceTokenRequest struct {
	Service string `json:"service"`
}

// ServiceTokenResponse carries a freshly minted service token.
type ServiceTokenResponse struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"`
}

// MigrateRequest names the directory a world's snapshot archive moves to.
type MigrateRequest struct {
	DestinationDir string `json:"destinationDir"`
}

// LogsResponse is the response payload for the engine log endpoint. LatestID
// is the cursor for the next poll.
type LogsResponse struct {
	Entries  []instances.EngineLogEntry `json:"entries"`
	LatestID int64                      `json:"latestId"`
}

// handleStatus handles GET /api/status for gateway liveness checks.
func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request, traceID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	httputils.HandleAPIResponse(w, r, map[string]interface{}{
		"status":           "ok",
		"runningInstances": g.registry.RunningCount(),
	}, nil, http.StatusOK)
}

// handleInstances handles GET /api/instances listing every registered world.
func (g *Gateway) handleInstances(w http.ResponseWriter, r *http.Request, traceID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	httputils.HandleAPIResponse(w, r, map[string]interface{}{
		"instances": g.registry.Instances(),
	}, nil, http.StatusOK)
}

// handleIssueServiceToken handles POST /api/auth/service_token. Tokens can
// only be minted by a caller presenting the platform internal secret.
func (g *Gateway) handleIssueServiceToken(w http.ResponseWriter, r *http.Request, traceID string, internalCaller bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !internalCaller {
		httputils.HandleAPIResponse(w, r, nil,
			fmt.Errorf("service tokens can only be minted with the platform secret"), http.StatusForbidden)
		return
	}
	if g.tokens == nil {
		httputils.HandleAPIResponse(w, r, nil,
			fmt.Errorf("service tokens are not configured"), http.StatusInternalServerError)
		return
	}

	var req ServiceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("error parsing request: %v", err), http.StatusBadRequest)
		return
	}
	if req.Service == "" {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("missing required field: service"), http.StatusBadRequest)
		return
	}

	token, expiresAt, err := g.tokens.Issue(req.Service)
	if err != nil {
		httputils.HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}

	g.logger.Info("Service token issued", "traceId", traceID, "service", req.Service)
	httputils.HandleAPIResponse(w, r, ServiceTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt.Unix(),
	}, nil, http.StatusOK)
}

// handleLaunchWorld handles POST /api/worlds/{id}/launch. The body may carry
// instance config overrides; the world id always comes from the path.
func (g *Gateway) handleLaunchWorld(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg instances.InstanceConfig
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("error parsing request: %v", err), http.StatusBadRequest)
			return
		}
	}
	cfg.WorldID = worldID

	info, err := g.registry.StartInstance(r.Context(), cfg)
	if err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	g.logger.Info("Launch request completed", "traceId", traceID, "worldId", worldID, "pid", info.PID)
	httputils.HandleAPIResponse(w, r, info, nil, http.StatusOK)
}

// handleShutdownWorld handles POST /api/worlds/{id}/shutdown.
func (g *Gateway) handleShutdownWorld(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := g.registry.StopInstance(r.Context(), worldID); err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	g.logger.Info("Shutdown request completed", "traceId", traceID, "worldId", worldID)
	httputils.HandleAPIResponse(w, r, map[string]interface{}{
		"status":  "success",
		"worldId": worldID,
	}, nil, http.StatusOK)
}

// handleRestartWorld handles POST /api/worlds/{id}/restart.
func (g *Gateway) handleRestartWorld(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := g.registry.RestartInstance(r.Context(), worldID)
	if err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	g.logger.Info("Restart request completed", "traceId", traceID, "worldId", worldID, "pid", info.PID)
	httputils.HandleAPIResponse(w, r, info, nil, http.StatusOK)
}

// handleWorldInstance handles GET /api/worlds/{id}/instance.
func (g *Gateway) handleWorldInstance(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info, err := g.registry.GetInstance(worldID)
	if err != nil {
		g.respondError(w, r, traceID, err)
		return
	}
	httputils.HandleAPIResponse(w, r, info, nil, http.StatusOK)
}

// handleWorldLock handles GET /api/worlds/{id}/lock, reporting whether the
// world's persisted data may be edited right now.
func (g *Gateway) handleWorldLock(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	lock, err := g.registry.Locks().WorldEditability(worldID)
	if err != nil {
		httputils.HandleAPIResponse(w, r, nil, err, http.StatusInternalServerError)
		return
	}
	httputils.HandleAPIResponse(w, r, lock, nil, http.StatusOK)
}

// handleWorldLogs handles GET /api/worlds/{id}/logs?after=N, returning
// captured engine output newer than the given id.
func (g *Gateway) handleWorldLogs(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	afterID := int64(0)
	if v := r.URL.Query().Get("after"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("invalid after parameter: %v", err), http.StatusBadRequest)
			return
		}
		afterID = parsed
	}

	entries, err := g.registry.InstanceLogs(worldID, afterID)
	if err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	latestID := afterID
	if len(entries) > 0 {
		latestID = entries[len(entries)-1].ID
	}
	httputils.HandleAPIResponse(w, r, LogsResponse{
		Entries:  entries,
		LatestID: latestID,
	}, nil, http.StatusOK)
}

// handleMigrateWorld handles POST /api/worlds/{id}/migrate, relocating the
// world's stored snapshot archive to another storage directory.
func (g *Gateway) handleMigrateWorld(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("error parsing request: %v", err), http.StatusBadRequest)
		return
	}
	if req.DestinationDir == "" {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("missing required field: destinationDir"), http.StatusBadRequest)
		return
	}

	newURL, err := g.registry.MigrateWorld(worldID, req.DestinationDir)
	if err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	g.logger.Info("Migrate request completed", "traceId", traceID, "worldId", worldID, "snapshotUrl", newURL)
	httputils.HandleAPIResponse(w, r, map[string]interface{}{
		"status":      "success",
		"worldId":     worldID,
		"snapshotUrl": newURL,
	}, nil, http.StatusOK)
}

// handleImportWorldData handles POST /api/worlds/{id}/data. The body is a zip
// archive of the world's data directory; the import is refused with a 423
// response while a live instance owns the world.
func (g *Gateway) handleImportWorldData(w http.ResponseWriter, r *http.Request, traceID, worldID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.ContentLength == 0 {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("missing archive body"), http.StatusBadRequest)
		return
	}

	tmpFile, err := os.CreateTemp("", "worldsmith-import-*.zip")
	if err != nil {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("failed to stage upload: %v", err), http.StatusInternalServerError)
		return
	}
	defer os.Remove(tmpFile.Name())

	if _, err := io.Copy(tmpFile, r.Body); err != nil {
		tmpFile.Close()
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("error reading archive upload: %v", err), http.StatusBadRequest)
		return
	}
	if err := tmpFile.Close(); err != nil {
		httputils.HandleAPIResponse(w, r, nil, fmt.Errorf("failed to stage upload: %v", err), http.StatusInternalServerError)
		return
	}

	if err := g.registry.ImportWorldData(worldID, tmpFile.Name()); err != nil {
		g.respondError(w, r, traceID, err)
		return
	}

	g.logger.Info("Import request completed", "traceId", traceID, "worldId", worldID)
	httputils.HandleAPIResponse(w, r, map[string]interface{}{
		"status":  "success",
		"worldId": worldID,
	}, nil, http.StatusOK)
}
