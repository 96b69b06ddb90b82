// Package gateway exposes the warden over HTTP: the world lifecycle API for
// operator tooling, the edit-lock and log endpoints, and the /play/ reverse
// proxy that routes player traffic to the running engine process for a world.
package gateway

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/runewick/worldsmith/warden/gateway/access"
	"github.com/runewick/worldsmith/warden/gateway/middleware"
	"github.com/runewick/worldsmith/warden/httputils"
	"github.com/runewick/worldsmith/warden/instances"
	"github.com/runewick/worldsmith/warden/snapshots"
	"github.com/runewick/worldsmith/warden/worldlock"
)

// Gateway is the HTTP server in front of the instance registry. It terminates
// TLS when certificates are configured, authenticates API callers with either
// the platform internal secret or a service token, and proxies /play/ traffic
// to backend engine processes over plain HTTP.
type Gateway struct {
	listenAddr     string
	certFile       string
	keyFile        string
	internalSecret string
	tokens         *access.TokenService
	registry       *instances.Registry
	logger         *slog.Logger
	server         *http.Server
	transport      *http.Transport
}

// Config carries the dependencies for a Gateway. Registry is required;
// CertFile/KeyFile switch the server to TLS when both are set.
type Config struct {
	ListenAddr     string
	CertFile       string
	KeyFile        string
	InternalSecret string
	Tokens         *access.TokenService
	Registry       *instances.Registry
	Logger         *slog.Logger
}

func New(cfg Config) *Gateway {
	dialer := net.Dialer{
		Timeout:   600 * time.Second,
		KeepAlive: 600 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		Dial:                dialer.Dial,
		TLSHandshakeTimeout: 180 * time.Second,
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Gateway{
		listenAddr:     cfg.ListenAddr,
		certFile:       cfg.CertFile,
		keyFile:        cfg.KeyFile,
		internalSecret: cfg.InternalSecret,
		tokens:         cfg.Tokens,
		registry:       cfg.Registry,
		logger:         logger.With("component", "Gateway"),
		transport:      transport,
	}
}

// Handler returns the root handler so tests can drive the gateway without a
// listening socket.
func (g *Gateway) Handler() http.Handler {
	return http.HandlerFunc(g.handleRequest)
}

// Start runs the server until it is shut down or fails. It serves TLS when
// certificate files are configured, plain HTTP otherwise.
func (g *Gateway) Start(contextFn func(net.Listener) context.Context) error {
	g.server = &http.Server{
		BaseContext: contextFn,
		Addr:        g.listenAddr,
		Handler:     g.Handler(),
		ReadTimeout: 60 * time.Second,
		// A launch request blocks until the engine reports healthy, so the
		// write timeout must exceed the longest configured boot window.
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if g.certFile != "" && g.keyFile != "" {
		cert, err := tls.LoadX509KeyPair(g.certFile, g.keyFile)
		if err != nil {
			g.logger.Error("Error loading TLS certificate", "error", err)
			return err
		}
		g.server.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		g.logger.Info("Starting HTTPS gateway server", "addr", g.listenAddr)
		return g.server.ListenAndServeTLS("", "") // Cert and key are in TLSConfig
	}

	g.logger.Info("Starting HTTP gateway server", "addr", g.listenAddr)
	return g.server.ListenAndServe()
}

// Stop gracefully shuts down the gateway server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		g.logger.Info("Gateway server was not running, nothing to stop")
		return nil
	}
	g.logger.Info("Stopping gateway server")
	return g.server.Shutdown(ctx)
}

func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	traceID := uuid.New().String()

	// Player traffic goes straight to the world's engine process.
	if strings.HasPrefix(r.URL.Path, "/play/") {
		g.handlePlayProxy(w, r, traceID)
		return
	}

	if !strings.HasPrefix(r.URL.Path, "/api/") {
		http.Error(w, "Not Found", http.StatusNotFound)
		g.logger.Info("No route found", "traceId", traceID, "method", r.Method, "path", r.URL.Path)
		return
	}

	// Validate authorization for API endpoints
	internalCaller := false
	if r.Method != http.MethodOptions {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			g.logger.Info("Unauthorized request", "traceId", traceID, "path", r.URL.Path, "reason", "missing token")
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")

		internalCaller = g.internalSecret != "" && token == g.internalSecret
		valid := internalCaller
		if !valid && g.tokens != nil {
			claims, err := g.tokens.Validate(token)
			if err == nil {
				valid = true
				r = r.WithContext(context.WithValue(r.Context(), access.ClaimsKey, claims))
			}
		}
		if !valid {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			g.logger.Info("Unauthorized request", "traceId", traceID, "path", r.URL.Path, "reason", "invalid token")
			return
		}
	}

	if r.URL.Path == "/api/status" {
		middleware.CorsMiddleware(w, r, func(w http.ResponseWriter, r *http.Request) {
			g.handleStatus(w, r, traceID)
		})
		return
	}
	if r.URL.Path == "/api/instances" {
		middleware.CorsMiddleware(w, r, func(w http.ResponseWriter, r *http.Request) {
			g.handleInstances(w, r, traceID)
		})
		return
	}
	if r.URL.Path == "/api/auth/service_token" {
		middleware.CorsMiddleware(w, r, func(w http.ResponseWriter, r *http.Request) {
			g.handleIssueServiceToken(w, r, traceID, internalCaller)
		})
		return
	}

	if strings.HasPrefix(r.URL.Path, "/api/worlds/") {
		g.handleWorldRoute(w, r, traceID)
		return
	}

	http.Error(w, "Not Found", http.StatusNotFound)
	g.logger.Info("No route found", "traceId", traceID, "method", r.Method, "path", r.URL.Path)
}

// handleWorldRoute dispatches /api/worlds/{worldId}/{op} requests.
func (g *Gateway) handleWorldRoute(w http.ResponseWriter, r *http.Request, traceID string) {
	path := strings.TrimPrefix(r.URL.Path, "/api/worlds/")
	parts := strings.Split(path, "/")
	worldID := parts[0]
	if worldID == "" {
		http.Error(w, "Missing world ID", http.StatusBadRequest)
		return
	}
	if len(parts) != 2 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	var handler func(w http.ResponseWriter, r *http.Request, traceID, worldID string)
	switch parts[1] {
	case "launch":
		handler = g.handleLaunchWorld
	case "shutdown":
		handler = g.handleShutdownWorld
	case "restart":
		handler = g.handleRestartWorld
	case "instance":
		handler = g.handleWorldInstance
	case "lock":
		handler = g.handleWorldLock
	case "logs":
		handler = g.handleWorldLogs
	case "migrate":
		handler = g.handleMigrateWorld
	case "data":
		handler = g.handleImportWorldData
	default:
		http.Error(w, "Not Found", http.StatusNotFound)
		g.logger.Info("No route found", "traceId", traceID, "method", r.Method, "path", r.URL.Path)
		return
	}

	middleware.CorsMiddleware(w, r, func(w http.ResponseWriter, r *http.Request) {
		handler(w, r, traceID, worldID)
	})
}

// respondError translates the warden error taxonomy into HTTP statuses. A
// locked world renders its full lock status as the 423 response body so
// callers can show who owns the world.
func (g *Gateway) respondError(w http.ResponseWriter, r *http.Request, traceID string, err error) {
	var locked *worldlock.LockedError
	if errors.As(err, &locked) {
		g.logger.Info("Request rejected: world is locked",
			"traceId", traceID,
			"path", r.URL.Path,
			"worldId", locked.WorldID,
			"status", locked.Lock.Status)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(locked.Code)
		if encodeErr := json.NewEncoder(w).Encode(locked.Lock); encodeErr != nil {
			g.logger.Error("Failed to encode lock response", "traceId", traceID, "error", encodeErr)
		}
		return
	}

	status := http.StatusInternalServerError
	var notFound *instances.NotFoundError
	var conflict *snapshots.ConflictError
	var confErr *instances.ConfigurationError
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
	case errors.As(err, &conflict):
		status = http.StatusConflict
	case errors.As(err, &confErr):
		status = http.StatusBadRequest
	case errors.Is(err, instances.ErrStartInProgress), errors.Is(err, instances.ErrStopInProgress):
		status = http.StatusConflict
	}
	g.logger.Info("API request failed", "traceId", traceID, "path", r.URL.Path, "status", status, "error", err)
	httputils.HandleAPIResponse(w, r, nil, err, status)
}

// handlePlayProxy proxies /play/{worldId}/... requests to the world's running
// engine process. Engines serve under their route prefix, so the original path
// is forwarded unmodified.
func (g *Gateway) handlePlayProxy(w http.ResponseWriter, r *http.Request, traceID string) {
	parts := strings.Split(r.URL.Path, "/")
	if len(parts) < 3 || parts[2] == "" {
		http.Error(w, "Missing world ID", http.StatusNotFound)
		return
	}
	worldID := parts[2]

	info, err := g.registry.GetInstance(worldID)
	if err != nil {
		http.Error(w, "No instance for world "+worldID, http.StatusNotFound)
		g.logger.Info("Play request for unknown world", "traceId", traceID, "worldId", worldID, "path", r.URL.Path)
		return
	}
	if info.Status != instances.StatusRunning.String() {
		http.Error(w, "Instance unavailable for world "+worldID, http.StatusServiceUnavailable)
		g.logger.Info("Play request for instance that is not running",
			"traceId", traceID, "worldId", worldID, "status", info.Status)
		return
	}

	targetURL := &url.URL{
		Scheme: "http", // Backend engines are HTTP
		Host:   "localhost:" + strconv.Itoa(info.Port),
	}

	reverseProxy := httputil.NewSingleHostReverseProxy(targetURL)
	reverseProxy.Transport = g.transport
	r.Host = targetURL.Host
	r.Header.Add("X-Trace-ID", traceID)

	g.logger.Info("Proxying play request",
		"traceId", traceID, "worldId", worldID, "path", r.URL.Path, "target", targetURL.String())
	reverseProxy.ServeHTTP(w, r)
}
