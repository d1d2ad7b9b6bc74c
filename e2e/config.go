package e2e

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// E2E_SERVER_URL points the suite at a real deployment instead of the
	// in-process server
	ServerURL string `envconfig:"E2E_SERVER_URL"`
	AuthToken string `envconfig:"E2E_AUTH_TOKEN"`
	// E2E_DEBUG_JSON allows dumping full request/response bodies as JSON
	DebugJSON bool `envconfig:"E2E_DEBUG_JSON" default:"false"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	err := envconfig.Process("", &cfg)
	return cfg, err
}
