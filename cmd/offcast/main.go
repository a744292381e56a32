package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/offcast/offcast/internal/auth"
	"github.com/offcast/offcast/internal/config"
	"github.com/offcast/offcast/internal/connectivity"
	"github.com/offcast/offcast/internal/credentials"
	"github.com/offcast/offcast/internal/database"
	"github.com/offcast/offcast/internal/downloader"
	"github.com/offcast/offcast/internal/events"
	"github.com/offcast/offcast/internal/logging"
	"github.com/offcast/offcast/internal/media"
	"github.com/offcast/offcast/internal/offline"
	"github.com/offcast/offcast/internal/playback"
	"github.com/offcast/offcast/internal/prefs"
	"github.com/offcast/offcast/internal/session"
	"github.com/offcast/offcast/internal/socket"
	"github.com/offcast/offcast/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI flags
var (
	port         int
	bind         string
	allowSubnet  string
	apiToken     string
	dataDir      string
	downloadsDir string
	maxDownloads int
	verbosity    int

	// Timeout flags (advanced)
	httpTimeout   time.Duration
	websocketPing time.Duration
	discoveryWait time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "offcast",
		Short: "Offcast - headless Jellyfin companion daemon",
		Long:  `Offcast keeps a Jellyfin session alive, mirrors server state over an event stream, and manages offline downloads of your media.`,
		RunE:  run,
	}

	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP API port (required, or set PORT env var)")
	rootCmd.Flags().StringVarP(&bind, "bind", "b", "", "IP address to bind to (e.g., 127.0.0.1, 0.0.0.0)")
	rootCmd.Flags().StringVarP(&allowSubnet, "allow-subnet", "a", "", "CIDR subnet allowed to connect (e.g., 192.168.1.0/24)")
	rootCmd.Flags().StringVar(&apiToken, "api-token", "", "Token required on API requests (or set OFFCAST_API_TOKEN env var)")
	rootCmd.Flags().StringVarP(&dataDir, "data-dir", "d", "./offcast-data", "Directory for the database, credentials and logs (or set OFFCAST_DATA env var)")
	rootCmd.Flags().StringVar(&downloadsDir, "downloads-dir", "", "Directory for downloaded media (default: <data-dir>/downloads)")
	rootCmd.Flags().IntVar(&maxDownloads, "max-downloads", 2, "Maximum concurrent downloads")
	rootCmd.Flags().CountVarP(&verbosity, "verbose", "v", "Increase verbosity (-v debug, -vv trace)")

	// Advanced timeout flags
	rootCmd.Flags().DurationVar(&httpTimeout, "http-timeout", 30*time.Second, "Timeout for HTTP requests to the media server")
	rootCmd.Flags().DurationVar(&websocketPing, "websocket-ping", 30*time.Second, "Interval between WebSocket keepalive pings")
	rootCmd.Flags().DurationVar(&discoveryWait, "discovery-wait", 3*time.Second, "How long LAN server discovery listens for replies")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("offcast %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Check for PORT env var if flag not set
	if port == 0 {
		if envPort := os.Getenv("PORT"); envPort != "" {
			if _, err := fmt.Sscanf(envPort, "%d", &port); err != nil {
				return fmt.Errorf("invalid PORT environment variable %q: %w", envPort, err)
			}
		}
	}
	if dataDir == "./offcast-data" {
		if envData := os.Getenv("OFFCAST_DATA"); envData != "" {
			dataDir = envData
		}
	}
	if apiToken == "" {
		apiToken = os.Getenv("OFFCAST_API_TOKEN")
	}

	if port == 0 {
		return fmt.Errorf("--port flag or PORT environment variable is required")
	}
	if bind != "" {
		if ip := net.ParseIP(bind); ip == nil {
			return fmt.Errorf("invalid bind address: %s", bind)
		}
	}

	var allowedNet *net.IPNet
	if allowSubnet != "" {
		_, parsedNet, err := net.ParseCIDR(allowSubnet)
		if err != nil {
			return fmt.Errorf("invalid allow-subnet CIDR: %s", allowSubnet)
		}
		allowedNet = parsedNet
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if downloadsDir == "" {
		downloadsDir = filepath.Join(dataDir, "downloads")
	}

	logging.Apply(levelName(verbosity), logging.DefaultFileConfig(dataDir))

	config.SetGlobalTimeouts(&config.TimeoutConfig{
		HTTPClient:    httpTimeout,
		WebSocketPing: websocketPing,
		Discovery:     discoveryWait,
	})

	// One daemon per data directory
	lock := flock.New(filepath.Join(dataDir, "offcast.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire data directory lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another offcast instance is already using %s", dataDir)
	}
	defer lock.Unlock()

	if (bind == "" || bind == "0.0.0.0" || bind == "::") && allowSubnet == "" && apiToken == "" {
		log.Warn().Msg("API is accessible from all interfaces without authentication. Consider --bind, --allow-subnet or --api-token.")
	}

	log.Info().
		Str("version", version).
		Int("port", port).
		Str("bind", bind).
		Str("allow_subnet", allowSubnet).
		Str("data_dir", dataDir).
		Str("downloads_dir", downloadsDir).
		Msg("Starting Offcast")

	db, err := database.New(filepath.Join(dataDir, "offcast.db"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	creds, err := credentials.Open(filepath.Join(dataDir, "credentials"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open credential store")
	}
	p, err := prefs.Open(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open preferences")
	}

	deviceID, err := loadOrCreateDeviceID(dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to establish device identity")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	monitor := connectivity.New()
	monitor.Start()
	defer monitor.Stop()

	offlineMgr := offline.New(p, monitor)
	offlineMgr.Start()
	defer offlineMgr.Stop()

	bus := events.NewBus()
	defer bus.Close()

	sessions := session.NewManager(db, creds, p, deviceID)
	authRepo := auth.NewRepository(db, creds, sessions, deviceID)

	mediaRepo := media.NewRepository(sessions, bus)
	mediaRepo.Start(ctx)
	defer mediaRepo.Stop()

	pipeline := socket.NewPipeline(sessions, bus)
	pipeline.Start(ctx)
	defer pipeline.Stop()

	downloadConfig := downloader.DefaultConfig(downloadsDir)
	if maxDownloads > 0 {
		downloadConfig.MaxConcurrent = maxDownloads
	}
	downloads := downloader.New(db, sessions, bus, p, monitor, downloadConfig)
	if err := downloads.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start download manager")
	}
	defer downloads.Stop()

	playbackMgr := playback.NewManager(sessions, bus)
	userData := playback.NewUserDataRepository(sessions, bus)

	// Validate the stored session in the background so startup never blocks
	// on an unreachable server
	go authRepo.RestoreAuthenticationState(ctx)

	server := web.NewServer(web.Config{
		Port:       port,
		Bind:       bind,
		APIToken:   apiToken,
		AllowedNet: allowedNet,
	}, web.Deps{
		Auth:      authRepo,
		Sessions:  sessions,
		Downloads: downloads,
		Media:     mediaRepo,
		Playback:  playbackMgr,
		UserData:  userData,
		Pipeline:  pipeline,
		Network:   monitor,
		Offline:   offlineMgr,
		Prefs:     p,
		Bus:       bus,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	if err := server.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}

	log.Info().Msg("Offcast stopped")
	return nil
}

func levelName(verbosity int) string {
	switch verbosity {
	case 0:
		return "info"
	case 1:
		return "debug"
	default:
		return "trace"
	}
}

// loadOrCreateDeviceID keeps a stable device identity across restarts so the
// server sees one device instead of a new one per run
func loadOrCreateDeviceID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "device_id")
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
