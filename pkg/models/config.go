package models

import (
	"time"
)

type Config struct {
	WorkingDir  string         `yaml:"working_dir"`
	DownloadDir string         `yaml:"download_dir"`
	Telegram    TelegramConfig `yaml:"telegram"`
	Slskd       SlskdConfig    `yaml:"slskd"`
	Soulseek    SoulseekConfig `yaml:"soulseek"`
	Spotify     SpotifyConfig  `yaml:"spotify"`
	Web         WebConfig      `yaml:"web"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token"`
	AllowedChats []int64 `yaml:"allowed_chats,omitempty"`
}

type SlskdConfig struct {
	URL           string        `yaml:"url"`
	APIKey        string        `yaml:"api_key,omitempty"`
	Username      string        `yaml:"username,omitempty"`
	Password      string        `yaml:"password,omitempty"`
	DownloadsDir  string        `yaml:"downloads_dir"`
	SearchTimeout time.Duration `yaml:"search_timeout"`
	// SearchGrace is how long past SearchTimeout slskd may take to finish.
	SearchGrace time.Duration `yaml:"search_grace"`
}

// SoulseekConfig holds the network account handed to the slskd container.
type SoulseekConfig struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

type SpotifyConfig struct {
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`
}

type WebConfig struct {
	Port int `yaml:"port"`
}

// HasSpotify reports whether Spotify link resolution can be enabled.
func (c *Config) HasSpotify() bool {
	return c.Spotify.ClientID != "" && c.Spotify.ClientSecret != ""
}
