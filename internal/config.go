package internal

import (
	"fmt"
	"strings"
)

// Config defines the client environment variables.
type Config struct {
	ServerURL    string `env:"CHAT_SERVER_URL,default=http://localhost:8000"`
	ChannelURL   string `env:"CHAT_CHANNEL_URL"`
	AuthToken    string `env:"CHAT_AUTH_TOKEN,required=true"`
	CachePath    string `env:"CHAT_CACHE_PATH"`
	HistoryLimit *int   `env:"CHAT_HISTORY_LIMIT"`
	LogLevel     string `env:"LOG_LEVEL,required=true"`
}

// WebsocketURL returns the duplex endpoint base. When CHAT_CHANNEL_URL is
// not set it is derived from the server URL by swapping the scheme.
func (c Config) WebsocketURL() (string, error) {
	if c.ChannelURL != "" {
		return c.ChannelURL, nil
	}
	switch {
	case strings.HasPrefix(c.ServerURL, "https://"):
		return "wss://" + strings.TrimPrefix(c.ServerURL, "https://"), nil
	case strings.HasPrefix(c.ServerURL, "http://"):
		return "ws://" + strings.TrimPrefix(c.ServerURL, "http://"), nil
	}
	return "", fmt.Errorf("cannot derive websocket URL from %q", c.ServerURL)
}
