package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWithLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Run(level, func(t *testing.T) {
			logger, err := New(Config{Level: level})
			require.NoError(t, err)
			assert.NotNil(t, logger.Logger)
		})
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := NewNop()
	assert.Same(t, l.Logger, OrNop(l.Logger))
}

func TestSandboxLoggerIsNamed(t *testing.T) {
	l := NewNop()
	assert.NotNil(t, l.Sandbox("w1"))
}
