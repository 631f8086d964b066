package config

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/viper"
)

type Config struct {
	APIBaseURL   string
	WSURL        string
	CachePath    string
	DebugAddr    string
	SessionToken string
	SigningKey   []byte
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(base64Secret)
}

// NewConfig validates the raw settings and decodes the base64 signing
// secret used to verify session tokens.
func NewConfig(apiBaseURL, wsURL, cachePath, debugAddr, sessionToken, base64Secret string) (*Config, error) {
	if apiBaseURL == "" {
		return nil, fmt.Errorf("api base url cannot be empty")
	}
	if wsURL == "" {
		return nil, fmt.Errorf("websocket url cannot be empty")
	}
	if cachePath == "" {
		return nil, fmt.Errorf("cache path cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		APIBaseURL:   apiBaseURL,
		WSURL:        wsURL,
		CachePath:    cachePath,
		DebugAddr:    debugAddr,
		SessionToken: sessionToken,
		SigningKey:   signingKey,
	}, nil
}

// Load reads settings from an optional YAML file and FITCHAT_* env
// vars, env taking precedence, then validates them via NewConfig.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("fitchat")

	for _, key := range []string{"api_base_url", "ws_url", "cache_path", "debug_addr", "session_token", "signing_secret"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	return NewConfig(
		v.GetString("api_base_url"),
		v.GetString("ws_url"),
		v.GetString("cache_path"),
		v.GetString("debug_addr"),
		v.GetString("session_token"),
		v.GetString("signing_secret"),
	)
}
