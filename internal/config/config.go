package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"seekbot/internal/logger"
	"seekbot/pkg/models"
)

const (
	DefaultWorkingDir    = "~/seekbot"
	DefaultSlskdURL      = "http://localhost:5030"
	DefaultSearchTimeout = 20 * time.Second
	DefaultSearchGrace   = 10 * time.Second
	DefaultWebPort       = 8080

	ConfigDir  = ".seekbot"
	ConfigFile = "seekbot.yml"
	EnvFile    = ".env"
)

var configDirOverride string

// SetConfigDir replaces ~/.seekbot, e.g. from --config-dir.
func SetConfigDir(dir string) {
	configDirOverride = dir
}

func GetConfigDir() (string, error) {
	if configDirOverride != "" {
		return ExpandHome(configDirOverride)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ConfigDir), nil
}

func EnsureConfigDir() error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(configDir, 0755)
}

// LoadConfig reads the config file, creating it with defaults when missing,
// and fills whatever it leaves empty from the environment. A .env file in
// the config directory or the current directory is loaded first; it never
// overrides variables that are already set.
func LoadConfig() (*models.Config, error) {
	if err := EnsureConfigDir(); err != nil {
		return nil, err
	}

	configDir, err := GetConfigDir()
	if err != nil {
		return nil, err
	}

	if err := loadEnvFiles(filepath.Join(configDir, EnvFile), EnvFile); err != nil {
		return nil, err
	}

	configPath := filepath.Join(configDir, ConfigFile)
	config := &models.Config{}

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		config.WorkingDir = DefaultWorkingDir
		config.Slskd.URL = DefaultSlskdURL
		if err := SaveConfig(config); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	applyDefaults(config)

	return config, nil
}

func loadEnvFiles(paths ...string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		logger.Debug("Loaded environment from %s", path)
	}
	return nil
}

func SaveConfig(config *models.Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return err
	}

	configPath := filepath.Join(configDir, ConfigFile)
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0600)
}

// fromEnv sets *field from the environment when the config left it empty
// or at its default.
func fromEnv(field *string, key, def string) {
	if *field != "" && *field != def {
		return
	}
	if value := os.Getenv(key); value != "" {
		*field = value
	}
}

func applyEnv(config *models.Config) error {
	fromEnv(&config.WorkingDir, "WORKING_DIR", DefaultWorkingDir)
	fromEnv(&config.DownloadDir, "DOWNLOAD_DIR", "")
	fromEnv(&config.Telegram.Token, "TELEGRAM_TOKEN", "")
	fromEnv(&config.Slskd.URL, "SLSKD_URL", DefaultSlskdURL)
	fromEnv(&config.Slskd.APIKey, "SLSKD_API_KEY", "")
	fromEnv(&config.Slskd.Username, "SLSKD_USERNAME", "")
	fromEnv(&config.Slskd.Password, "SLSKD_PASSWORD", "")
	fromEnv(&config.Slskd.DownloadsDir, "SLSKD_DOWNLOADS_DIR", "")
	fromEnv(&config.Soulseek.Username, "SLSK_USER", "")
	fromEnv(&config.Soulseek.Password, "SLSK_PASS", "")
	fromEnv(&config.Spotify.ClientID, "SPOTIFY_ID", "")
	fromEnv(&config.Spotify.ClientSecret, "SPOTIFY_SECRET", "")

	if len(config.Telegram.AllowedChats) == 0 {
		if value := os.Getenv("TELEGRAM_ALLOWED_CHATS"); value != "" {
			chats, err := ParseChatIDs(value)
			if err != nil {
				return fmt.Errorf("invalid TELEGRAM_ALLOWED_CHATS: %w", err)
			}
			config.Telegram.AllowedChats = chats
		}
	}

	return nil
}

func applyDefaults(config *models.Config) {
	if config.WorkingDir == "" {
		config.WorkingDir = DefaultWorkingDir
	}
	if config.Slskd.URL == "" {
		config.Slskd.URL = DefaultSlskdURL
	}
	if config.Slskd.SearchTimeout <= 0 {
		config.Slskd.SearchTimeout = DefaultSearchTimeout
	}
	if config.Slskd.SearchGrace <= 0 {
		config.Slskd.SearchGrace = DefaultSearchGrace
	}
	if config.Web.Port == 0 {
		config.Web.Port = DefaultWebPort
	}
}

// ParseChatIDs parses a comma separated list of chat IDs.
func ParseChatIDs(value string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Flags holds command line overrides. Zero values leave the config as is.
type Flags struct {
	TelegramToken string
	SlskdURL      string
	SlskdAPIKey   string
	WorkingDir    string
	DownloadDir   string
	SpotifyID     string
	SpotifySecret string
	WebPort       int
	SearchTimeout time.Duration
}

// MergeWithFlags applies command line flags on top of the loaded config
// Priority: flags > config file > environment variables
func MergeWithFlags(config *models.Config, flags Flags) {
	set := func(field *string, value string) {
		if value != "" {
			*field = value
		}
	}
	set(&config.Telegram.Token, flags.TelegramToken)
	set(&config.Slskd.URL, flags.SlskdURL)
	set(&config.Slskd.APIKey, flags.SlskdAPIKey)
	set(&config.WorkingDir, flags.WorkingDir)
	set(&config.DownloadDir, flags.DownloadDir)
	set(&config.Spotify.ClientID, flags.SpotifyID)
	set(&config.Spotify.ClientSecret, flags.SpotifySecret)

	if flags.WebPort != 0 {
		config.Web.Port = flags.WebPort
	}
	if flags.SearchTimeout > 0 {
		config.Slskd.SearchTimeout = flags.SearchTimeout
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~")), nil
}

// ResolvePaths expands ~ in every directory and derives the ones left
// empty from the working directory.
func ResolvePaths(config *models.Config) error {
	var err error
	if config.WorkingDir, err = ExpandHome(config.WorkingDir); err != nil {
		return err
	}

	if config.DownloadDir == "" {
		config.DownloadDir = filepath.Join(config.WorkingDir, "music")
	}
	if config.DownloadDir, err = ExpandHome(config.DownloadDir); err != nil {
		return err
	}

	if config.Slskd.DownloadsDir == "" {
		config.Slskd.DownloadsDir = filepath.Join(config.WorkingDir, "incoming")
	}
	if config.Slskd.DownloadsDir, err = ExpandHome(config.Slskd.DownloadsDir); err != nil {
		return err
	}

	return nil
}

// Requirement names a group of settings a command cannot run without.
type Requirement int

const (
	RequireTelegram Requirement = 1 << iota
	RequireSlskd
	RequireSoulseek
)

func ValidateConfig(config *models.Config, required Requirement) error {
	if required&RequireTelegram != 0 && config.Telegram.Token == "" {
		return fmt.Errorf("telegram token is required (--telegram-token, config file, or TELEGRAM_TOKEN env var)")
	}

	if required&RequireSlskd != 0 {
		if config.Slskd.URL == "" {
			return fmt.Errorf("slskd URL is required (--slskd-url, config file, or SLSKD_URL env var)")
		}
		if config.Slskd.DownloadsDir == "" {
			return fmt.Errorf("slskd downloads directory is required (config file or SLSKD_DOWNLOADS_DIR env var)")
		}
		if config.Slskd.APIKey == "" && (config.Slskd.Username == "" || config.Slskd.Password == "") {
			logger.Warn("No slskd API key or credentials provided (SLSKD_API_KEY or SLSKD_USERNAME/SLSKD_PASSWORD). Requests may be rejected.")
		}
	}

	if required&RequireSoulseek != 0 {
		if config.Soulseek.Username == "" {
			return fmt.Errorf("soulseek username is required (config file or SLSK_USER env var)")
		}
		if config.Soulseek.Password == "" {
			return fmt.Errorf("soulseek password is required (config file or SLSK_PASS env var)")
		}
	}

	return nil
}
