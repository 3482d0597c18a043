package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// ClientConfig drives the command-line call client.
type ClientConfig struct {
	ServerURL       string        `mapstructure:"server_url"`
	Token           string        `mapstructure:"token"`
	LogLevel        string        `mapstructure:"log_level"`
	STUNServers     []string      `mapstructure:"stun_servers"`
	TURNServers     []string      `mapstructure:"turn_servers"`
	TURNUsername    string        `mapstructure:"turn_username"`
	TURNPassword    string        `mapstructure:"turn_password"`
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
	// JWTSecret is only needed by the token command.
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LoadClient merges defaults, the client config file, VOICECALL_* env and
// flags. Dashed flag names map to the underscored keys.
func LoadClient(flags *pflag.FlagSet) (*ClientConfig, error) {
	v := newViper("VOICECALL")

	v.SetDefault("server_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("log_level", "info")
	v.SetDefault("stun_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("turn_servers", []string{})
	v.SetDefault("recovery_timeout", "15s")

	readFile(v, "client")

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server_url: %w", err)
	}
	if cfg.RecoveryTimeout <= 0 {
		return nil, fmt.Errorf("recovery_timeout must be positive")
	}
	return &cfg, nil
}
