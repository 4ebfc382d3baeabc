package miner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeRelayConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRelayConfig(t *testing.T) {
	path := writeRelayConfig(t, `
url: https://relay.example.org/api/v1/bundles
rate_limit: 10
tip_recipients:
  - 96gYZGLnJYVFmbjzopPSU6QiEV5fGqZNyN9nmNhvrZU5
`)
	config, err := LoadRelayConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://relay.example.org/api/v1/bundles", config.URL)
	require.Equal(t, 10.0, config.RateLimit)
	require.Len(t, config.TipRecipients, 1)
}

func TestLoadRelayConfigDefaults(t *testing.T) {
	path := writeRelayConfig(t, "url: https://relay.example.org\n")
	config, err := LoadRelayConfig(path)
	require.NoError(t, err)
	require.Equal(t, 5.0, config.RateLimit)
	require.Equal(t, DefaultTipRecipients, config.TipRecipients)
}

func TestLoadRelayConfigMissingURL(t *testing.T) {
	path := writeRelayConfig(t, "rate_limit: 3\n")
	_, err := LoadRelayConfig(path)
	require.ErrorContains(t, err, "missing url")
}

func TestNewRelayClientRejectsBadRecipient(t *testing.T) {
	_, err := NewRelayClient(RelayConfig{
		URL:           "https://relay.example.org",
		TipRecipients: []string{"not-a-pubkey"},
	})
	require.Error(t, err)
}

func TestPickTipRecipientStaysInSet(t *testing.T) {
	relay, err := NewRelayClient(RelayConfig{
		URL:           "https://relay.example.org",
		RateLimit:     5,
		TipRecipients: DefaultTipRecipients[:3],
	})
	require.NoError(t, err)

	allowed := map[string]bool{}
	for _, r := range DefaultTipRecipients[:3] {
		allowed[r] = true
	}
	for i := 0; i < 50; i++ {
		require.True(t, allowed[relay.PickTipRecipient().String()])
	}
}
