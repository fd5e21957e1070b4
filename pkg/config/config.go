// Package config loads jicofo's process configuration, matching the teacher's
// single-load-at-startup posture (pkg/config.LoadConfig): no live reload, a layered
// source (environment variable, then file path, both funnelling through YAML
// unmarshalling), and a legacy-key pre-pass so renamed settings keep working.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/jitsi-contrib/jicofo-go/pkg/bridge"
	"github.com/jitsi-contrib/jicofo-go/pkg/telemetry"
)

// XMPP holds the connection and identity settings for jicofo's primary XMPP connection
// and the MUC it controls conferences under (spec.md §6's CLI/env surface).
type XMPP struct {
	// Host is the XMPP server's network address (host:port).
	Host string `yaml:"host"`
	// Port is the XMPP server's client port, used when Host carries no port of its own.
	Port int `yaml:"port"`
	// Domain is the XMPP domain jicofo authenticates against.
	Domain string `yaml:"domain"`
	// Subdomain is the conference MUC's subdomain (e.g. "conference" under Domain).
	Subdomain string `yaml:"subdomain"`
	// Secret authenticates jicofo as a trusted component. May be supplied via the
	// JICOFO_SECRET environment variable instead, to avoid process-listing leaks.
	Secret string `yaml:"secret"`
	// UserDomain, UserName, UserPassword are client-mode credentials, distinct from the
	// component Secret. cmd/jicofo reads them from config and flags, but its one XMPP
	// session authenticates with Secret; nothing authenticates with these.
	UserDomain   string `yaml:"user_domain"`
	UserName     string `yaml:"user_name"`
	UserPassword string `yaml:"user_password"`
}

// Bridge holds jicofo's bridge-selection and health-check tunables.
type Bridge struct {
	Selection bridge.SelectionConfig `yaml:"selection"`
	// HealthInterval is how often each known bridge is polled for health.
	HealthInterval time.Duration `yaml:"health_interval"`
	// HealthTimeout bounds a single health check before it counts as TimedOut.
	HealthTimeout time.Duration `yaml:"health_timeout"`
}

// Registry holds the conference registry's sweep tunables.
type Registry struct {
	// EmptyGrace is how long an empty conference survives before SweepEmpty destroys it.
	EmptyGrace time.Duration `yaml:"empty_grace"`
	// SweepInterval is how often the empty-conference and expired-pin sweeps run.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// REST holds the optional HTTP surface's settings (spec.md §6). Addr == "" disables it.
type REST struct {
	Addr string `yaml:"addr"`
}

// Config is jicofo's full process configuration.
type Config struct {
	XMPP       XMPP              `yaml:"xmpp"`
	Bridge     Bridge            `yaml:"bridge"`
	Registry   Registry          `yaml:"registry"`
	REST       REST              `yaml:"rest"`
	Telemetry  telemetry.Config  `yaml:"telemetry"`
	// LogLevel is the minimum logrus level to emit, parsed with logrus.ParseLevel.
	LogLevel string `yaml:"log"`
}

// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// LoadConfig tries the CONFIG environment variable first, falling back to the YAML file
// at path if it is unset.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}
		return LoadConfigFromPath(path)
	}
	return config, nil
}

// LoadConfigFromEnv loads the config from the CONFIG environment variable's YAML content.
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}
	return LoadConfigFromString(configEnv)
}

// LoadConfigFromPath loads the config from the YAML file at path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return LoadConfigFromString(string(file))
}

// LoadConfigFromString parses configString as YAML, applying the legacy-key pre-pass
// before unmarshalling and then validating the fields required for jicofo to run.
func LoadConfigFromString(configString string) (*Config, error) {
	logrus.Info("loading config from string")

	var node yaml.Node
	if err := yaml.Unmarshal([]byte(configString), &node); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}
	applyLegacyKeys(&node)

	var config Config
	if err := node.Decode(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if err := applySecretEnv(&config); err != nil {
		return nil, err
	}
	if err := validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// applySecretEnv lets JICOFO_SECRET override a YAML-supplied xmpp.secret, the
// environment-variable secret path spec.md §6 calls for.
func applySecretEnv(config *Config) error {
	if v := os.Getenv("JICOFO_SECRET"); v != "" {
		config.XMPP.Secret = v
	}
	return nil
}

func validate(config *Config) error {
	switch {
	case config.XMPP.Domain == "":
		return errors.New("invalid config: xmpp.domain is required")
	case config.XMPP.Subdomain == "":
		return errors.New("invalid config: xmpp.subdomain is required")
	case config.XMPP.Secret == "":
		return errors.New("invalid config: xmpp.secret is required (set xmpp.secret or JICOFO_SECRET)")
	case config.Bridge.Selection.MaxBridgeParticipants <= 0:
		return errors.New("invalid config: bridge.selection.max_bridge_participants must be positive")
	case config.Registry.EmptyGrace <= 0:
		return errors.New("invalid config: registry.empty_grace must be positive")
	}
	return nil
}
