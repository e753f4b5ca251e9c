// Package config holds the proxy configuration, loaded via viper.
package config

import (
	"errors"
	"fmt"
)

// Config is the root configuration.
type Config struct {
	// Bind is the address the proxy listens on for Minecraft clients.
	Bind string `mapstructure:"bind"`

	Proxy  Proxy  `mapstructure:"proxy"`
	Server Server `mapstructure:"server"`

	// CommandPrefix marks chat messages handled as wrapper commands.
	CommandPrefix string `mapstructure:"command-prefix"`

	// HiddenOps are usernames never included in the status player sample.
	HiddenOps []string `mapstructure:"hidden-ops"`

	// ReadTimeout and ConnectionTimeout are in milliseconds.
	ReadTimeout       int `mapstructure:"read-timeout"`
	ConnectionTimeout int `mapstructure:"connection-timeout"`

	// CompressionThreshold applies to the client connection after login.
	CompressionThreshold int `mapstructure:"compression-threshold"`

	// LoginsPerSecond caps session-server logins per client IP. 0 disables.
	LoginsPerSecond float64 `mapstructure:"logins-per-second"`

	Debug bool `mapstructure:"debug"`
}

// Proxy holds the behaviour switches of the client session handler.
type Proxy struct {
	// OnlineMode enables the encryption handshake and session-server auth.
	OnlineMode bool `mapstructure:"online-mode"`
	// SpigotMode encodes client ip and uuid into the upstream handshake
	// host field (BungeeCord style ip forwarding).
	SpigotMode bool `mapstructure:"spigot-mode"`
}

// Server locates the co-hosted upstream server.
type Server struct {
	Host string `mapstructure:"host"`
	Port uint16 `mapstructure:"port"`
	// Icon is the path of the server icon image, resized to 64x64.
	Icon string `mapstructure:"icon"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Bind:                 "0.0.0.0:25566",
		CommandPrefix:        "/",
		ReadTimeout:          30000,
		ConnectionTimeout:    5000,
		CompressionThreshold: 256,
		Server: Server{
			Host: "localhost",
			Port: 25565,
		},
	}
}

// Validate checks the configuration before the proxy starts.
func Validate(c *Config) error {
	if c == nil {
		return errors.New("config must not be nil")
	}
	if c.Bind == "" {
		return errors.New("bind address must not be empty")
	}
	if c.CommandPrefix == "" {
		return errors.New("command-prefix must not be empty")
	}
	if c.Server.Port == 0 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.CompressionThreshold < 0 {
		return fmt.Errorf("invalid compression threshold %d", c.CompressionThreshold)
	}
	return nil
}
