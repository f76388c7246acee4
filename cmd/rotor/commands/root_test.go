package commands

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/TheusHen/Rotor/rotor/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLogLevelFlagOverridesInvalidEnv(t *testing.T) {
	t.Setenv("ROTOR_LOG_LEVEL", "loud")

	_, err := execute(t, "simulate", "--rotations", "1", "--interval", "1ms")
	require.ErrorIs(t, err, config.ErrInvalidLogLevel)

	out, err := execute(t, "--log-level", "error", "simulate", "--rotations", "1", "--interval", "1ms")
	require.NoError(t, err)
	require.Equal(t, "error", cfg.LogLevel)
	require.Contains(t, out, "rotations")
}

func TestInvalidLogLevelFlagRejected(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "simulate", "--rotations", "1", "--interval", "1ms")
	require.ErrorIs(t, err, config.ErrInvalidLogLevel)
}

func TestServeRejectsNonPositiveFlush(t *testing.T) {
	// Nothing listens on this address; the flush check must fail first.
	t.Setenv("ROTOR_REDIS_ADDR", "127.0.0.1:1")

	for _, flush := range []string{"0", "-1s"} {
		_, err := execute(t, "serve", "--listen", "127.0.0.1:0", "--flush="+flush)
		require.ErrorContains(t, err, "flush interval must be positive", "flush=%s", flush)
	}
}
