package log_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"peerlink/internal/log"
)

func TestBackend_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	b, err := log.NewWithWriter(&buf, "NOTICE")
	require.NoError(t, err)

	l := b.GetLogger("discovery")
	l.Debugf("hidden %d", 1)
	l.Noticef("shown %d", 2)
	l.Errorf("also shown")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "NOTI discovery: shown 2")
	require.Contains(t, out, "ERRO discovery: also shown")
}

func TestBackend_InvalidLevel(t *testing.T) {
	_, err := log.NewWithWriter(&bytes.Buffer{}, "LOUD")
	require.Error(t, err)
	require.False(t, log.ValidLevel("LOUD"))
	require.True(t, log.ValidLevel("debug"))
}

func TestBackend_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.log")
	b, err := log.New(path, "INFO", false)
	require.NoError(t, err)

	b.GetLogger("app").Info("started")
	b.GetGoLogger("status", "WARNING").Print("http noise")
	require.NoError(t, b.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), "INFO app: started")
	require.Contains(t, string(raw), "WARN status: http noise")
}

func TestBackend_Disabled(t *testing.T) {
	b, err := log.New("", "DEBUG", true)
	require.NoError(t, err)
	b.GetLogger("x").Error("dropped")
	require.NoError(t, b.Close())
}
