package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	DeviceID    int    `toml:"device_id"`
	Title       string `toml:"title"`       // listing header, PETSCII
	LocalLabel  string `toml:"local_label"` // name of the root entry in listings
	LogLevel    string `toml:"log_level"`
	LogJSON     bool   `toml:"log_json"`
	HistoryPath string `toml:"history_path"`
	MetricsAddr string `toml:"metrics_addr"` // empty disables /metrics

	Bus       Bus       `toml:"bus"`
	Backend   Backend   `toml:"backend"`
	Schedules Schedules `toml:"schedules"`
}

type Bus struct {
	Port string `toml:"port"` // empty means detect
	Baud int    `toml:"baud"`
}

type Backend struct {
	Type string `toml:"type"` // local, sftp, ftp
	Path string `toml:"path"`
	Auth *Auth  `toml:"auth,omitempty"`
}

type Auth struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

// Schedules are cron specs; an empty spec disables the job.
type Schedules struct {
	KeepAlive    string `toml:"keepalive"`
	HistoryFlush string `toml:"history_flush"`
	ConfigReload string `toml:"config_reload"`
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		DeviceID:    8,
		Title:       "IECDRIVE",
		LocalLabel:  "SD",
		LogLevel:    "info",
		HistoryPath: "history.json",
		Bus:         Bus{Baud: 115200},
		Backend:     Backend{Type: "local", Path: "."},
		Schedules: Schedules{
			KeepAlive:    "@every 1m",
			HistoryFlush: "@every 5m",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.DeviceID < 4 || c.DeviceID > 30 {
		return fmt.Errorf("device_id %d out of range 4-30", c.DeviceID)
	}
	if c.Bus.Baud <= 0 {
		return fmt.Errorf("bus baud %d must be positive", c.Bus.Baud)
	}
	switch c.Backend.Type {
	case "local":
	case "sftp", "ftp":
		if c.Backend.Auth == nil {
			return fmt.Errorf("auth required for %s", c.Backend.Type)
		}
		if c.Backend.Auth.Host == "" {
			return fmt.Errorf("%s backend has no host", c.Backend.Type)
		}
	default:
		return fmt.Errorf("unknown backend type: %s", c.Backend.Type)
	}
	return nil
}
