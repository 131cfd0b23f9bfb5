// Package config reads the daemon's /etc/ecs/ecs.config file and applies
// environment-variable overrides on top of it.
package config

import (
	"bufio"
	"os"
	"strings"
)

// Recognized environment/config keys.
const (
	EnvGMSABaseDN       = "CF_GMSA_BASE_DN"
	EnvGMSASecretName   = "CF_GMSA_SECRET_NAME"
	EnvDomainController = "CF_DOMAIN_CONTROLLER"
	EnvGMSAOU           = "CF_GMSA_OU"
)

// DefaultPath is the well-known config file location.
const DefaultPath = "/etc/ecs/ecs.config"

// Config holds the three file-recognized keys plus the env-only CF_GMSA_OU
// override.
type Config struct {
	GMSABaseDN       string
	GMSASecretName   string
	DomainController string
	GMSAOU           string
}

// Load reads simple KEY=VALUE lines from path. A missing file yields a zero
// Config, not an error — the daemon runs fine on environment overrides
// alone. Lines are split at the first "="; any non-blank line with no "="
// yields an immediately empty Config: the config file is all-or-nothing, matching the
// original implementation's abort-on-malformed-line behavior.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}
	defer f.Close()

	var cfg Config
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return Config{}, nil
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		switch key {
		case EnvGMSABaseDN:
			cfg.GMSABaseDN = value
		case EnvGMSASecretName:
			cfg.GMSASecretName = value
		case EnvDomainController:
			cfg.DomainController = value
		}
	}
	if err := scanner.Err(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays the four recognized environment variables onto
// cfg, environment winning over the file when both are set. CF_GMSA_OU has
// no file-level equivalent; it is only ever read from the environment.
func ApplyEnvOverrides(cfg Config) Config {
	if v := os.Getenv(EnvGMSABaseDN); v != "" {
		cfg.GMSABaseDN = v
	}
	if v := os.Getenv(EnvGMSASecretName); v != "" {
		cfg.GMSASecretName = v
	}
	if v := os.Getenv(EnvDomainController); v != "" {
		cfg.DomainController = v
	}
	if v := os.Getenv(EnvGMSAOU); v != "" {
		cfg.GMSAOU = v
	}
	return cfg
}
