package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/heyjinjung/rmafh-sub000/internal/apiclient"
)

// ClientConfig holds the settings of the `vault-admin call` command. The
// server does not read them.
type ClientConfig struct {
	// APIBase is the default call target. Optional here; the command may
	// take it from a flag instead.
	APIBase       string `envconfig:"API_BASE"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`
	// KeyStrength selects generated idempotency keys: uuid or timestamp.
	KeyStrength string        `envconfig:"APICLIENT_KEY_STRENGTH" default:"uuid"`
	Timeout     time.Duration `envconfig:"APICLIENT_TIMEOUT" default:"30s"`
}

// LoadClient reads ClientConfig from the environment.
func LoadClient() (ClientConfig, error) {
	var cc ClientConfig
	if err := envconfig.Process("", &cc); err != nil {
		return cc, fmt.Errorf("unable to parse client configuration: %w", err)
	}
	cc.APIBase = strings.TrimRight(strings.TrimSpace(cc.APIBase), "/")
	cc.KeyStrength = strings.ToLower(strings.TrimSpace(cc.KeyStrength))

	if _, err := apiclient.ParseKeyStrength(cc.KeyStrength); err != nil {
		return cc, fmt.Errorf("APICLIENT_KEY_STRENGTH: %w", err)
	}
	if cc.Timeout <= 0 {
		return cc, errors.New("APICLIENT_TIMEOUT must be > 0")
	}
	return cc, nil
}
