package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	server "holdfast/server"
	"holdfast/server/internal/backend"
	"holdfast/server/internal/discovery"
	"holdfast/server/logging"
	lognetwork "holdfast/server/logging/network"
	"holdfast/server/logging/sinks"
)

const (
	discoveryHeartbeat    = 5 * time.Second
	discoveryRetryLimit   = 5
	discoveryRetryBackoff = 2 * time.Second
)

// Config carries the process-level wiring. Zero values fall back to
// environment variables and defaults.
type Config struct {
	Addr   string
	Logger *log.Logger
}

// Run boots the hub, the HTTP surface, and the optional discovery and
// backend integrations, then blocks until ctx is cancelled.
func Run(ctx context.Context, cfg Config) error {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	addr := cfg.Addr
	if addr == "" {
		addr = envOr("HOLDFAST_ADDR", ":8080")
	}

	logConfig := logging.DefaultConfig()
	namedSinks := []logging.NamedSink{
		{Name: logging.SinkConsole, Sink: sinks.NewConsoleSink(os.Stdout)},
	}
	if path := os.Getenv("HOLDFAST_EVENT_LOG"); path != "" {
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open event log %s: %w", path, err)
		}
		defer file.Close()
		logConfig.EnabledSinks = append(logConfig.EnabledSinks, logging.SinkJSON)
		namedSinks = append(namedSinks, logging.NamedSink{
			Name: logging.SinkJSON,
			Sink: sinks.NewJSON(file, logConfig.JSON.FlushInterval),
		})
	}

	router, err := logging.NewRouter(logging.SystemClock{}, logConfig, namedSinks)
	if err != nil {
		return fmt.Errorf("failed to construct logging router: %w", err)
	}
	defer func() {
		if cerr := router.Close(context.Background()); cerr != nil {
			logger.Printf("failed to close logging router: %v", cerr)
		}
	}()

	hubCfg := server.DefaultHubConfig()
	hubCfg.Logger = logger
	hubCfg.Publisher = router
	if raw := os.Getenv("HOLDFAST_MAX_PEERS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			hubCfg.MaxPeers = value
		} else {
			logger.Printf("invalid HOLDFAST_MAX_PEERS=%q", raw)
		}
	}
	if raw := os.Getenv("HOLDFAST_WIN_WAVE"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			hubCfg.WinWave = value
		} else {
			logger.Printf("invalid HOLDFAST_WIN_WAVE=%q", raw)
		}
	}

	var hub *server.Hub
	backendURL := os.Getenv("HOLDFAST_BACKEND_URL")
	backendSecret := os.Getenv("HOLDFAST_BACKEND_SECRET")
	if backendURL != "" && backendSecret != "" {
		serverID := envOr("HOLDFAST_SERVER_ID", "holdfast-host")
		hubCfg.Commit = backend.NewClient(backendURL, backend.NewSigner([]byte(backendSecret), serverID), router,
			func() uint64 {
				if hub == nil {
					return 0
				}
				return hub.CurrentTick()
			})
	}
	hub = server.NewHub(hubCfg)
	return runServer(ctx, logger, router, hub, addr)
}

func runServer(ctx context.Context, logger *log.Logger, router *logging.Router, hub *server.Hub, addr string) error {
	srv := &http.Server{Addr: addr, Handler: server.Handler(hub)}

	group, ctx := errgroup.WithContext(ctx)

	stop := make(chan struct{})
	group.Go(func() error {
		hub.RunSimulation(stop)
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		close(stop)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	group.Go(func() error {
		logger.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	if rendezvous := os.Getenv("HOLDFAST_DISCOVERY_ADDR"); rendezvous != "" {
		group.Go(func() error {
			return advertise(ctx, logger, router, hub, rendezvous, addr)
		})
	}

	return group.Wait()
}

// advertise registers the session with the rendezvous service and keeps a
// heartbeat going. Registration failure after bounded retries takes the
// whole process down; a host nobody can find is not worth running.
func advertise(ctx context.Context, logger *log.Logger, pub logging.Publisher, hub *server.Hub, rendezvous, addr string) error {
	client := discovery.NewClient(rendezvous)

	session := discovery.Session{
		Name:       envOr("HOLDFAST_SESSION_NAME", "holdfast"),
		HostIP:     envOr("HOLDFAST_ADVERTISE_IP", "127.0.0.1"),
		HostPort:   portOf(addr),
		MaxPlayers: 4,
	}

	var sessionID string
	var err error
	for attempt := 1; attempt <= discoveryRetryLimit; attempt++ {
		sessionID, err = client.Register(ctx, session)
		if err == nil {
			break
		}
		lognetwork.DiscoveryFailed(ctx, pub, lognetwork.DiscoveryFailedPayload{Op: "register", Error: err.Error()})
		logger.Printf("discovery register attempt %d/%d failed: %v", attempt, discoveryRetryLimit, err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(discoveryRetryBackoff):
		}
	}
	if err != nil {
		return fmt.Errorf("discovery registration failed after %d attempts: %w", discoveryRetryLimit, err)
	}
	logger.Printf("registered with rendezvous as session %s", sessionID)

	ticker := time.NewTicker(discoveryHeartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			unregCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := client.Unregister(unregCtx, sessionID); err != nil {
				lognetwork.DiscoveryFailed(unregCtx, pub, lognetwork.DiscoveryFailedPayload{Op: "unregister", Error: err.Error()})
			}
			return nil
		case <-ticker.C:
			state := discovery.HeartbeatState{
				SessionID: sessionID,
				Players:   hub.PeerCount(),
				Wave:      hub.Director().Wave(),
			}
			if err := client.Heartbeat(ctx, state); err != nil {
				lognetwork.DiscoveryFailed(ctx, pub, lognetwork.DiscoveryFailedPayload{Op: "heartbeat", Error: err.Error()})
			}
		}
	}
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func portOf(addr string) int {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return 8080
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 8080
	}
	return port
}
