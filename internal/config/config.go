package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr      string `mapstructure:"addr" yaml:"addr"`
	AdminAddr string `mapstructure:"admin_addr" yaml:"admin_addr"`
	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`

	MaxUsers            int           `mapstructure:"max_users" yaml:"max_users"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold" yaml:"inactivity_threshold"`
	PresenceInterval    time.Duration `mapstructure:"presence_interval" yaml:"presence_interval"`

	MaxFrameSize   uint32        `mapstructure:"max_frame_size" yaml:"max_frame_size"`
	OutboundBuffer int           `mapstructure:"outbound_buffer" yaml:"outbound_buffer"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// RateLimit is requests per second per session; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`

	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultPort is the chat port used when none is configured.
const DefaultPort = "8080"

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:                ":" + DefaultPort,
		AdminAddr:           ":9090",
		LogLevel:            "info",
		MaxUsers:            100,
		InactivityThreshold: 60 * time.Second,
		PresenceInterval:    time.Second,
		MaxFrameSize:        64 * 1024,
		OutboundBuffer:      64,
		WriteTimeout:        10 * time.Second,
		RateLimit:           20,
		RateBurst:           40,
		ReadHeaderTimeout:   5 * time.Second,
		ShutdownTimeout:     5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.AdminAddr != "" {
		c.AdminAddr = other.AdminAddr
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.MaxUsers != 0 {
		c.MaxUsers = other.MaxUsers
	}
	if other.InactivityThreshold != 0 {
		c.InactivityThreshold = other.InactivityThreshold
	}
	if other.PresenceInterval != 0 {
		c.PresenceInterval = other.PresenceInterval
	}
	if other.MaxFrameSize != 0 {
		c.MaxFrameSize = other.MaxFrameSize
	}
	if other.OutboundBuffer != 0 {
		c.OutboundBuffer = other.OutboundBuffer
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.RateLimit != 0 {
		c.RateLimit = other.RateLimit
	}
	if other.RateBurst != 0 {
		c.RateBurst = other.RateBurst
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return errInvalid("addr must not be empty")
	case c.MaxUsers < 1:
		return errInvalid("max_users must be at least 1")
	case c.InactivityThreshold <= 0:
		return errInvalid("inactivity_threshold must be positive")
	case c.PresenceInterval <= 0:
		return errInvalid("presence_interval must be positive")
	case c.RateLimit < 0:
		return errInvalid("rate_limit must not be negative")
	}
	return nil
}
