package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.log")
	log, closer, err := New(Options{Level: "debug", Format: "json", File: path})
	require.NoError(t, err)

	log.WithField("component", "test").Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestOrDefault(t *testing.T) {
	assert.NotNil(t, OrDefault(nil))
	d := Discard()
	assert.Same(t, d, OrDefault(d))
}
