package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfigYAML() string {
	return `
xmpp:
  domain: example.com
  subdomain: conference
  secret: s3cr3t
bridge:
  selection:
    max_bridge_participants: 50
registry:
  empty_grace: 30s
`
}

func TestLoadConfigFromString_ValidConfig(t *testing.T) {
	cfg, err := LoadConfigFromString(validConfigYAML())
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.XMPP.Domain)
	assert.Equal(t, "conference", cfg.XMPP.Subdomain)
	assert.Equal(t, 50, cfg.Bridge.Selection.MaxBridgeParticipants)
}

func TestLoadConfigFromString_MissingRequiredField(t *testing.T) {
	_, err := LoadConfigFromString(`
xmpp:
  subdomain: conference
  secret: s3cr3t
bridge:
  selection:
    max_bridge_participants: 50
registry:
  empty_grace: 30s
`)
	assert.Error(t, err)
}

func TestLoadConfigFromString_LegacyKeysMapToNewPaths(t *testing.T) {
	cfg, err := LoadConfigFromString(`
domain: legacy.example.com
muc_subdomain: legacy-conf
focus_secret: legacy-secret
bridge:
  selection:
    max_bridge_participants: 10
registry:
  empty_grace: 30s
`)
	require.NoError(t, err)
	assert.Equal(t, "legacy.example.com", cfg.XMPP.Domain)
	assert.Equal(t, "legacy-conf", cfg.XMPP.Subdomain)
	assert.Equal(t, "legacy-secret", cfg.XMPP.Secret)
}

func TestLoadConfigFromString_NewKeyWinsOverLegacy(t *testing.T) {
	cfg, err := LoadConfigFromString(`
domain: legacy.example.com
xmpp:
  domain: new.example.com
  subdomain: conference
  secret: s3cr3t
bridge:
  selection:
    max_bridge_participants: 10
registry:
  empty_grace: 30s
`)
	require.NoError(t, err)
	assert.Equal(t, "new.example.com", cfg.XMPP.Domain)
}

func TestLoadConfigFromEnv_NoVarReturnsSentinel(t *testing.T) {
	t.Setenv("CONFIG", "")
	_, err := LoadConfigFromEnv()
	assert.ErrorIs(t, err, ErrNoConfigEnvVar)
}

func TestLoadConfigFromEnv_SecretOverride(t *testing.T) {
	t.Setenv("CONFIG", validConfigYAML())
	t.Setenv("JICOFO_SECRET", "env-secret")
	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.XMPP.Secret)
}
