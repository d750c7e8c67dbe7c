// Package config loads the orgsync client configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server  ServerConfig  `toml:"server"`
	Channel ChannelConfig `toml:"channel"`
	Journal JournalConfig `toml:"journal"`
	User    UserConfig    `toml:"user"`
}

type ServerConfig struct {
	URL     string        `toml:"url"`
	Token   string        `toml:"token"`
	Timeout time.Duration `toml:"timeout"`
}

type ChannelConfig struct {
	// URL overrides the websocket endpoint; when empty it is derived from
	// the server URL.
	URL           string        `toml:"url"`
	DialTimeout   time.Duration `toml:"dial_timeout"`
	RetryInterval time.Duration `toml:"retry_interval"`
	CloseGrace    time.Duration `toml:"close_grace"`
}

type JournalConfig struct {
	Path string `toml:"path"`
}

type UserConfig struct {
	// ID is the authenticated user's id, used to gate toast notifications
	// to the user whose action triggered an operation.
	ID string `toml:"id"`
}

// Load reads the config from path, or from the first existing candidate
// path when path is empty. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Timeout: 30 * time.Second,
		},
		Channel: ChannelConfig{
			DialTimeout:   4 * time.Second,
			RetryInterval: 2 * time.Second,
			CloseGrace:    5 * time.Second,
		},
		Journal: JournalConfig{
			Path: expandHome("~/.local/share/orgsync/events.db"),
		},
	}

	if path == "" {
		candidates := []string{
			expandHome("~/.config/orgsync/config.toml"),
			"./orgsync.toml",
		}
		for _, c := range candidates {
			if _, err := os.Stat(c); err == nil {
				path = c
				break
			}
		}
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	return cfg, nil
}

// SocketURL returns the websocket endpoint, deriving ws(s):// from the
// server URL when no explicit channel URL is configured.
func (c *Config) SocketURL() (string, error) {
	if c.Channel.URL != "" {
		return c.Channel.URL, nil
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/notifications"
	return u.String(), nil
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
