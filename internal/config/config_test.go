package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir runs the test from an empty directory so no config file is found
// unless the test writes one.
func inTempDir(t *testing.T) string {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("CONFIG_ENV", "test")
	return dir
}

func writeFile(t *testing.T, dir, name, body string) {
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config", name), []byte(body), 0o644))
}

func TestServerDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 54*time.Second, cfg.PingPeriod)
	assert.Equal(t, 20, cfg.OfferRateLimit)
	assert.Equal(t, 10*time.Second, cfg.OfferRateInterval)
	assert.Equal(t, 32, cfg.SendBuffer)
}

func TestServerFileOverridesDefaults(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, dir, "config.test.yaml", "port: 9000\nmode: debug\noffer_rate_limit: 3\n")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "debug", cfg.Mode)
	assert.Equal(t, 3, cfg.OfferRateLimit)
}

func TestPeerDefaults(t *testing.T) {
	inTempDir(t)
	cfg, err := LoadPeer(nil)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/api/ws/signal", cfg.SignalURL)
	assert.Equal(t, MediaSynthetic, cfg.MediaDevice)
	assert.Equal(t, 16*1024, cfg.ChunkSize)
	assert.Equal(t, 30*time.Second, cfg.ConsentTimeout)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.ICEServers)
}

func TestPeerPrecedence(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, dir, "peer.test.yaml", "peer_id: from-file\nmedia_device: none\nconnect_timeout: 3s\n")
	t.Setenv("PEERCHAT_PEER_ID", "from-env")

	cfg, err := LoadPeer(nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.PeerID)
	assert.Equal(t, MediaNone, cfg.MediaDevice)
	assert.Equal(t, 3*time.Second, cfg.ConnectTimeout)

	cfg, err = LoadPeer([]string{"--id", "from-flag", "--media", "synthetic"})
	require.NoError(t, err)
	assert.Equal(t, "from-flag", cfg.PeerID)
	assert.Equal(t, MediaSynthetic, cfg.MediaDevice)
}

func TestPeerRejectsBadValues(t *testing.T) {
	inTempDir(t)
	_, err := LoadPeer([]string{"--media", "webcam"})
	assert.ErrorContains(t, err, "media_device")

	_, err = LoadPeer([]string{"--log-level", "loud"})
	assert.ErrorContains(t, err, "log_level")

	_, err = LoadPeer([]string{"--no-such-flag"})
	assert.Error(t, err)
}
