package rpc_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/reglet-guest-sdk/guest"
	"github.com/reglet-dev/reglet-guest-sdk/guest/rpc"
	"github.com/reglet-dev/reglet-guest-sdk/guest/values"
)

func TestLauncher_OpenHonorsContext(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}

	dir := t.TempDir()
	// Never completes the handshake.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stalled-guest"), []byte("#!/bin/sh\nsleep 30\n"), 0o755))
	manifest := values.Manifest{Name: "stalled", Runtime: values.RuntimeRPC, Path: "stalled-guest"}

	l := rpc.NewLauncher(rpc.WithLogger(guest.NewTestLogger()))
	t.Cleanup(l.Shutdown)

	t.Run("canceled before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		g, err := l.Open(ctx, manifest, dir)
		assert.Nil(t, g)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("deadline bounds the handshake", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		g, err := l.Open(ctx, manifest, dir)
		assert.Nil(t, g)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 10*time.Second)
	})
}
