package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"peerlink/internal/services/identity"
)

const testSecret = "Correct-Horse-Battery-9"

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load([]byte(`
[Session]
  Secret = "` + testSecret + `"
`))
	require.NoError(t, err)

	require.Equal(t, defaultListenAddress, cfg.Node.ListenAddress)
	require.Equal(t, defaultDataPort, cfg.Node.DataPort)
	require.True(t, cfg.Node.AutoConnect)
	require.Equal(t, defaultCapabilities, cfg.Node.Capabilities)
	require.Equal(t, defaultDiscoveryPort, cfg.Discovery.Port)
	require.Equal(t, 3*time.Second, cfg.Discovery.Interval.D())
	require.Equal(t, 9*time.Second, cfg.Discovery.Expiry())
	require.Equal(t, 3, cfg.Session.MaxReconnectAttempts)
	require.Equal(t, 3, cfg.Session.FailureThreshold)
	require.Equal(t, 15*time.Second, cfg.Session.KeepaliveInterval.D())
	require.Equal(t, defaultStatusAddress, cfg.Status.Address)
	require.Equal(t, "NOTICE", cfg.Logging.Level)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := Load([]byte(`
[Node]
  Name = "desk"
  DataPort = 0
  Capabilities = ["text"]

[Discovery]
  Interval = "500ms"
  ExpiryMultiplier = 4
  Targets = ["192.168.1.255"]

[Session]
  Secret = "` + testSecret + `"
  ReconnectBaseDelay = "1s"
  KeepaliveInterval = "1m"

[Logging]
  Level = "debug"
`))
	require.NoError(t, err)
	require.Equal(t, "desk", cfg.Node.Name)
	require.Zero(t, cfg.Node.DataPort)
	require.True(t, cfg.Node.AutoConnect)
	require.Equal(t, []string{"text"}, cfg.Node.Capabilities)
	require.Equal(t, 2*time.Second, cfg.Discovery.Expiry())
	require.Equal(t, []string{"192.168.1.255"}, cfg.Discovery.Targets)
	require.Equal(t, time.Second, cfg.Session.ReconnectBaseDelay.D())
	require.Equal(t, time.Minute, cfg.Session.KeepaliveInterval.D())
	require.Equal(t, "DEBUG", cfg.Logging.Level)
}

func TestLoad_ExplicitZeroDisables(t *testing.T) {
	cfg, err := Load([]byte(`
[Session]
  Secret = "` + testSecret + `"
  KeepaliveInterval = "0s"
  MaxReconnectAttempts = 0
`))
	require.NoError(t, err)
	require.Zero(t, cfg.Session.KeepaliveInterval.D())
	require.Zero(t, cfg.Session.MaxReconnectAttempts)
	require.Equal(t, 3, cfg.Session.FailureThreshold)

	// Revalidating keeps the zeros.
	require.NoError(t, cfg.FixupAndValidate())
	require.Zero(t, cfg.Session.KeepaliveInterval.D())
	require.Zero(t, cfg.Session.MaxReconnectAttempts)

	// A file that omits them still gets the defaults.
	cfg, err = Load([]byte("[Session]\n  Secret = \"" + testSecret + "\"\n"))
	require.NoError(t, err)
	require.Equal(t, 15*time.Second, cfg.Session.KeepaliveInterval.D())
	require.Equal(t, 3, cfg.Session.MaxReconnectAttempts)
}

func TestLoad_Invalid(t *testing.T) {
	secret := "\n[Session]\n  Secret = \"" + testSecret + "\"\n"
	cases := map[string]string{
		"undecoded key":     "[Node]\n  Colour = \"blue\"\n" + secret,
		"short expiry":      "[Discovery]\n  ExpiryMultiplier = 2\n" + secret,
		"bad level":         "[Logging]\n  Level = \"LOUD\"\n" + secret,
		"missing secret":    "[Node]\n  Name = \"x\"\n",
		"weak secret":       "[Session]\n  Secret = \"password\"\n",
		"bad listen":        "[Node]\n  ListenAddress = \"localhost\"\n" + secret,
		"bad capability":    "[Node]\n  Capabilities = [\"video\"]\n" + secret,
		"bad duration":      "[Discovery]\n  Interval = \"soon\"\n" + secret,
		"bad status":        "[Status]\n  Address = \"8000\"\n" + secret,
		"inverted backoff":  "[Session]\n  Secret = \"" + testSecret + "\"\n  ReconnectMaxDelay = \"100ms\"\n",
		"negative attempts": "[Session]\n  Secret = \"" + testSecret + "\"\n  MaxReconnectAttempts = -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load([]byte(body))
			require.Error(t, err)
		})
	}

	_, err := Load([]byte("[Session]\n  Secret = \"password\"\n"))
	require.ErrorIs(t, err, identity.ErrWeakSecret)
}

func TestWriteFile_RoundTrip(t *testing.T) {
	secret, err := identity.GenerateSecret()
	require.NoError(t, err)
	cfg := Default()
	cfg.Session.Secret = secret
	cfg.Node.Name = "kitchen"
	require.NoError(t, cfg.FixupAndValidate())

	path := filepath.Join(t.TempDir(), "peerlink.toml")
	require.NoError(t, WriteFile(path, cfg))
	require.NoError(t, WriteFile(path, cfg))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `Interval = "3s"`)

	got, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, secret, got.Session.Secret)
	require.Equal(t, "kitchen", got.Node.Name)
	require.Equal(t, cfg.Node.DataPort, got.Node.DataPort)
	require.Equal(t, cfg.Discovery.Interval, got.Discovery.Interval)
	require.Equal(t, cfg.Session.ReconnectMaxDelay, got.Session.ReconnectMaxDelay)
	require.Equal(t, cfg.Node.Capabilities, got.Node.Capabilities)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_OverridesApplyBeforeValidation(t *testing.T) {
	cfg, err := Load([]byte("[Node]\n  Name = \"desk\"\n"), func(c *Config) {
		c.Session.Secret = testSecret
		c.Discovery.Disable = true
	})
	require.NoError(t, err)
	require.Equal(t, testSecret, cfg.Session.Secret)
	require.True(t, cfg.Discovery.Disable)

	cfg, err = Load(nil, func(c *Config) { c.Session.Secret = testSecret })
	require.NoError(t, err)
	require.Equal(t, defaultDataPort, cfg.Node.DataPort)
}
