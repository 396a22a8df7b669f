// Package config provides YAML-based configuration loading for Murmur.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Murmur configuration, loaded from murmur.yaml.
type Config struct {
	Database DatabaseConfig      `yaml:"database"`
	Server   ServerConfig        `yaml:"server"`
	Client   ClientConfig        `yaml:"client"`
	Images   map[string][]string `yaml:"images"` // show_image category -> candidate filenames, in preference order
}

// DatabaseConfig selects and addresses the relational backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds settings for the HTTP backend.
type ServerConfig struct {
	Port               int         `yaml:"port"`
	UploadDir          string      `yaml:"upload_dir"`
	RetentionCron      string      `yaml:"retention_cron"`
	GuestRetentionDays int         `yaml:"guest_retention_days"`
	Admin              AdminConfig `yaml:"admin"`
}

// AdminConfig seeds the super-user allowed to call /admin endpoints.
type AdminConfig struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// ClientConfig holds settings for the chat client session engine.
type ClientConfig struct {
	BackendURL      string          `yaml:"backend_url"` // empty: persist directly through the database
	APIToken        string          `yaml:"api_token"`   // empty: guest session
	Identity        string          `yaml:"identity"`    // local participant identity on the transport
	ReplyTimeoutSec int             `yaml:"reply_timeout_sec"`
	Greeting        string          `yaml:"greeting"`
	DefaultTitle    string          `yaml:"default_title"`
	TimeoutMessage  string          `yaml:"timeout_message"`
	PresetPrompt    string          `yaml:"preset_prompt"`
	Timezone        string          `yaml:"timezone"`
	Transport       TransportConfig `yaml:"transport"`
}

// TransportConfig selects the real-time transport the client talks to the agent over.
type TransportConfig struct {
	Platform string        `yaml:"platform"` // "realtime", "slack" or "discord"
	URL      string        `yaml:"url"`
	Token    string        `yaml:"token"`
	Channel  string        `yaml:"channel"`
	Slack    SlackConfig   `yaml:"slack"`
	Discord  DiscordConfig `yaml:"discord"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord Gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// Default values applied when the config omits them.
const (
	DefaultReplyTimeoutSec    = 60
	DefaultGreeting           = "Hello! How can I help you today?"
	DefaultTitle              = "New chat"
	DefaultTimeoutMessage     = "Request timed out. Please try again."
	DefaultRetentionCron      = "0 3 * * *"
	DefaultGuestRetentionDays = 7
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ReplyTimeout returns the watchdog deadline for agent replies.
func (c *Config) ReplyTimeout() time.Duration {
	return time.Duration(c.Client.ReplyTimeoutSec) * time.Second
}

// Location returns the display location for live timestamps.
func (c *Config) Location() *time.Location {
	if c.Client.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Client.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// IsGuest reports whether the client runs without an authenticated identity.
func (c *Config) IsGuest() bool {
	return c.Client.APIToken == ""
}

// applyEnv lets secrets come from the environment instead of the YAML file.
func (c *Config) applyEnv() {
	overrides := []struct {
		key string
		dst *string
	}{
		{"MURMUR_API_TOKEN", &c.Client.APIToken},
		{"MURMUR_TRANSPORT_TOKEN", &c.Client.Transport.Token},
		{"MURMUR_SLACK_APP_TOKEN", &c.Client.Transport.Slack.AppToken},
		{"MURMUR_SLACK_BOT_TOKEN", &c.Client.Transport.Slack.BotToken},
		{"MURMUR_DISCORD_BOT_TOKEN", &c.Client.Transport.Discord.BotToken},
		{"MURMUR_DB_PASSWORD", &c.Database.Password},
	}
	for _, o := range overrides {
		if v, ok := os.LookupEnv(o.key); ok && *o.dst == "" {
			*o.dst = v
		}
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "./data/murmur.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.UploadDir == "" {
		c.Server.UploadDir = "./data/uploads"
	}
	if c.Server.RetentionCron == "" {
		c.Server.RetentionCron = DefaultRetentionCron
	}
	if c.Server.GuestRetentionDays == 0 {
		c.Server.GuestRetentionDays = DefaultGuestRetentionDays
	}
	if c.Client.ReplyTimeoutSec == 0 {
		c.Client.ReplyTimeoutSec = DefaultReplyTimeoutSec
	}
	if c.Client.Greeting == "" {
		c.Client.Greeting = DefaultGreeting
	}
	if c.Client.DefaultTitle == "" {
		c.Client.DefaultTitle = DefaultTitle
	}
	if c.Client.TimeoutMessage == "" {
		c.Client.TimeoutMessage = DefaultTimeoutMessage
	}
	if c.Client.Identity == "" {
		c.Client.Identity = "local-user"
	}
	if c.Client.Transport.Platform == "" {
		c.Client.Transport.Platform = "realtime"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (sqlite, mysql)", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
	}
	if c.Server.GuestRetentionDays < 0 {
		errs = append(errs, "server.guest_retention_days must be >= 0")
	}
	if c.Client.ReplyTimeoutSec < 0 {
		errs = append(errs, "client.reply_timeout_sec must be >= 0")
	}
	if c.Client.Timezone != "" {
		if _, err := time.LoadLocation(c.Client.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("client.timezone %q is invalid", c.Client.Timezone))
		}
	}
	tr := c.Client.Transport
	switch tr.Platform {
	case "realtime":
	case "slack":
		if tr.Slack.AppToken == "" || tr.Slack.BotToken == "" {
			errs = append(errs, "client.transport.slack requires app_token and bot_token")
		}
		if tr.Channel == "" {
			errs = append(errs, "client.transport.channel is required for slack")
		}
	case "discord":
		if tr.Discord.BotToken == "" {
			errs = append(errs, "client.transport.discord.bot_token is required")
		}
		if tr.Channel == "" {
			errs = append(errs, "client.transport.channel is required for discord")
		}
	default:
		errs = append(errs, fmt.Sprintf("client.transport.platform %q is not supported (realtime, slack, discord)", tr.Platform))
	}
	for name, files := range c.Images {
		if len(files) == 0 {
			errs = append(errs, fmt.Sprintf("images.%s has no files", name))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
