package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seekbot/internal/config"
	"seekbot/internal/docker"
	"seekbot/internal/downloader"
	"seekbot/internal/logger"
	"seekbot/internal/slskd"
	"seekbot/internal/spotify"
	"seekbot/internal/telegram"
	"seekbot/internal/utils"
	"seekbot/internal/web"
	"seekbot/internal/worker"
	"seekbot/pkg/models"
)

const connectAttempts = 6

// loginAttempts bounds how often startup polls for a Soulseek login.
const loginAttempts = 30

var rootCmd = &cobra.Command{
	Use:   "seekbot",
	Short: "Chat bot that finds and downloads tracks from Soulseek",
	Long: `Seekbot answers "/download Artist - Title" chat commands by searching the Soulseek
network through slskd, picking the fastest peer offering a 320 kbps MP3 and downloading it.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Telegram bot and the HTTP API",
	RunE:  runServe,
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [Artist - Title]",
	Short: "Search and download a single track, printing progress to stdout",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runFetch,
}

var slskdCmd = &cobra.Command{
	Use:   "slskd",
	Short: "Manage the local slskd container",
}

var slskdUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Create and start the slskd container",
	RunE:  runSlskdUp,
}

var slskdDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the slskd container",
	RunE:  runSlskdDown,
}

var slskdStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the slskd container and Soulseek connection state",
	RunE:  runSlskdStatus,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(slskdCmd)
	slskdCmd.AddCommand(slskdUpCmd, slskdDownCmd, slskdStatusCmd)

	// Global flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode for detailed logging")
	rootCmd.PersistentFlags().String("config-dir", "", "Configuration directory (default ~/.seekbot)")
	rootCmd.PersistentFlags().String("working-dir", "", "Working directory for slskd state")
	rootCmd.PersistentFlags().String("download-dir", "", "Directory finished MP3s are moved to")
	rootCmd.PersistentFlags().String("slskd-url", "", "slskd base URL")
	rootCmd.PersistentFlags().String("slskd-api-key", "", "slskd API key")
	rootCmd.PersistentFlags().String("spotify-id", "", "Spotify API client ID")
	rootCmd.PersistentFlags().String("spotify-secret", "", "Spotify API client secret")
	rootCmd.PersistentFlags().Duration("search-timeout", 0, "How long slskd collects search responses (default 20s)")

	// Serve command flags
	serveCmd.Flags().String("telegram-token", "", "Telegram bot token")
	serveCmd.Flags().Int("port", 0, "Port to serve the HTTP API on (default 8080)")
}

func loadAndValidateConfig(cmd *cobra.Command, required config.Requirement) (*models.Config, error) {
	// Set up debug mode first
	debug, _ := cmd.Flags().GetBool("debug")
	logger.SetDebugMode(debug)

	configDir, _ := cmd.Flags().GetString("config-dir")
	config.SetConfigDir(configDir)

	logger.Debug("Loading configuration...")

	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var flags config.Flags
	flags.WorkingDir, _ = cmd.Flags().GetString("working-dir")
	flags.DownloadDir, _ = cmd.Flags().GetString("download-dir")
	flags.SlskdURL, _ = cmd.Flags().GetString("slskd-url")
	flags.SlskdAPIKey, _ = cmd.Flags().GetString("slskd-api-key")
	flags.SpotifyID, _ = cmd.Flags().GetString("spotify-id")
	flags.SpotifySecret, _ = cmd.Flags().GetString("spotify-secret")
	flags.SearchTimeout, _ = cmd.Flags().GetDuration("search-timeout")
	if cmd.Flags().Lookup("telegram-token") != nil {
		flags.TelegramToken, _ = cmd.Flags().GetString("telegram-token")
		flags.WebPort, _ = cmd.Flags().GetInt("port")
	}

	// Priority: flags > config file > environment variables
	config.MergeWithFlags(cfg, flags)

	if err := config.ResolvePaths(cfg); err != nil {
		return nil, err
	}

	if err := config.ValidateConfig(cfg, required); err != nil {
		return nil, err
	}

	logger.Debug("Configuration loaded - slskd: %s, downloads: %s, music: %s",
		cfg.Slskd.URL, cfg.Slskd.DownloadsDir, cfg.DownloadDir)
	return cfg, nil
}

// newSlskdClient prefers the API key over a username/password session.
func newSlskdClient(cfg *models.Config) *slskd.Client {
	opts := []slskd.Option{
		slskd.WithDownloadsDir(cfg.Slskd.DownloadsDir),
		slskd.WithSearchGrace(cfg.Slskd.SearchGrace),
	}
	if cfg.Slskd.APIKey != "" {
		opts = append(opts, slskd.WithAPIKey(cfg.Slskd.APIKey))
	} else if cfg.Slskd.Username != "" {
		opts = append(opts, slskd.WithCredentials(cfg.Slskd.Username, cfg.Slskd.Password))
	}
	return slskd.NewClient(cfg.Slskd.URL, opts...)
}

// connectSlskd returns a client that has reached slskd and, when
// credentials are configured, holds a session.
func connectSlskd(ctx context.Context, cfg *models.Config) (*slskd.Client, error) {
	client := newSlskdClient(cfg)

	if err := client.WaitForConnection(ctx, connectAttempts); err != nil {
		return nil, err
	}

	if cfg.Slskd.APIKey == "" && cfg.Slskd.Username != "" {
		if err := client.Login(ctx); err != nil {
			return nil, fmt.Errorf("failed to log in to slskd: %w", err)
		}
	}

	state, err := client.WaitForSoulseekLogin(ctx, loginAttempts)
	if err != nil {
		return nil, err
	}
	logger.Info("slskd is connected to Soulseek at %s", state.Address)

	return client, nil
}

func newWorker(cfg *models.Config, client *slskd.Client) *worker.Worker {
	opts := []worker.Option{worker.WithSearchTimeout(cfg.Slskd.SearchTimeout)}
	if cfg.HasSpotify() {
		logger.Debug("Spotify track links enabled")
		opts = append(opts, worker.WithResolver(spotify.NewClient(cfg.Spotify.ClientID, cfg.Spotify.ClientSecret)))
	}
	return worker.New(client, downloader.New(client, cfg.DownloadDir), opts...)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadAndValidateConfig(cmd, config.RequireTelegram|config.RequireSlskd)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connectCtx, connectCancel := context.WithTimeout(ctx, 5*time.Minute)
	client, err := connectSlskd(connectCtx, cfg)
	connectCancel()
	if err != nil {
		logger.Error("Failed to connect to slskd: %v", err)
		return err
	}

	w := newWorker(cfg, client)

	bot, err := telegram.Connect(cfg.Telegram.Token, w, cfg.Telegram.AllowedChats)
	if err != nil {
		logger.Error("%v", err)
		return err
	}

	server := web.NewServer(cfg, w, client)
	if manager, err := docker.NewManager(); err != nil {
		logger.Debug("Docker unavailable, container status disabled: %v", err)
	} else {
		defer manager.Close()
		server.WithContainer(manager)
	}

	// Handle interrupt signals
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	botDone := make(chan error, 1)
	go func() {
		botDone <- bot.Run(ctx)
	}()

	logger.Info("Seekbot is running; send /download Artist - Title")

	var runErr error
	select {
	case <-signalChan:
		logger.Info("Received interrupt signal, shutting down...")
	case err := <-serverErr:
		logger.Error("Server error: %v", err)
		runErr = fmt.Errorf("server error: %w", err)
	case err := <-botDone:
		if err == nil {
			err = errors.New("update channel closed")
		}
		logger.Error("Telegram updates stopped: %v", err)
		runErr = fmt.Errorf("telegram updates stopped: %w", err)
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during shutdown: %v", err)
	}

	// Requests are never cancelled; give them until a second signal.
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("All requests finished")
	case <-signalChan:
		logger.Warn("Second interrupt, abandoning in-flight requests")
	}

	return runErr
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadAndValidateConfig(cmd, config.RequireSlskd)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := connectSlskd(ctx, cfg)
	if err != nil {
		logger.Error("Failed to connect to slskd: %v", err)
		return err
	}

	result := newWorker(cfg, client).Handle(ctx, strings.Join(args, " "), func(text string) {
		fmt.Println(text)
	})

	switch result.State {
	case worker.StateCompleted:
		return nil
	case worker.StateNoMatch:
		return fmt.Errorf("no suitable file for %q", result.Query.Raw)
	default:
		return result.Err
	}
}

func runSlskdUp(cmd *cobra.Command, args []string) error {
	cfg, err := loadAndValidateConfig(cmd, config.RequireSoulseek)
	if err != nil {
		logger.Error("Failed to load configuration: %v", err)
		return err
	}

	manager, err := docker.NewManager()
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	containerID, err := manager.EnsureSlskd(ctx, cfg)
	if err != nil {
		return err
	}

	fmt.Printf("slskd container %s started (%s)\n", docker.ContainerName, containerID[:min(12, len(containerID))])
	fmt.Printf("  Web API: %s\n", cfg.Slskd.URL)
	fmt.Printf("  Downloads: %s\n", cfg.Slskd.DownloadsDir)
	fmt.Printf("  Shared: %s\n", cfg.DownloadDir)
	return nil
}

func runSlskdDown(cmd *cobra.Command, args []string) error {
	if _, err := loadAndValidateConfig(cmd, 0); err != nil {
		return err
	}

	manager, err := docker.NewManager()
	if err != nil {
		return err
	}
	defer manager.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := manager.StopSlskd(ctx); err != nil {
		if errors.Is(err, docker.ErrNotFound) {
			fmt.Println("slskd container is not running")
			return nil
		}
		return err
	}

	fmt.Printf("slskd container %s removed\n", docker.ContainerName)
	return nil
}

func runSlskdStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadAndValidateConfig(cmd, 0)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	manager, err := docker.NewManager()
	if err != nil {
		logger.Warn("Docker unavailable: %v", err)
	} else {
		defer manager.Close()

		status, err := manager.SlskdStatus(ctx)
		if err != nil {
			logger.Error("Failed to get container status: %v", err)
			status = "error"
		}
		fmt.Printf("Container: %s\n", docker.ContainerName)
		fmt.Printf("  Status: %s\n", status)

		if status == "running" {
			if info, err := utils.GetSlskdInfo(ctx, manager, "", cfg.Slskd.Username); err == nil {
				fmt.Printf("  Web interface: %s\n", info.URL)
			}
		}
	}

	state, err := newSlskdClient(cfg).CheckSoulseekConnection(ctx)
	if err != nil {
		fmt.Printf("Soulseek: unknown (%v)\n", err)
		return nil
	}
	fmt.Printf("Soulseek: %s\n", state.State)
	fmt.Printf("  Server: %s\n", state.Address)
	fmt.Printf("  Logged in: %t\n", state.IsLoggedIn)
	return nil
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		logger.Sync()
		os.Exit(1)
	}
}
