package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLevels(t *testing.T) {
	for _, level := range []string{"DEBUG", "INFO", "WARN", "ERROR", "warning", ""} {
		require.NoError(t, Configure(Config{Level: level}), "level %q", level)
	}

	assert.Error(t, Configure(Config{Level: "VERBOSE"}))
}

func TestConfigureFormats(t *testing.T) {
	require.NoError(t, Configure(Config{Format: "text"}))
	require.NoError(t, Configure(Config{Format: "json"}))
	assert.Error(t, Configure(Config{Format: "xml"}))
}

func TestConfigureFileOutput(t *testing.T) {
	path := t.TempDir() + "/bundled.log"

	require.NoError(t, Configure(Config{Output: path}))
	Info("hello", KeyServiceID, "service1")

	// Restore default output for other tests.
	require.NoError(t, Configure(Config{}))
}
