package demux

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofollow/gcs/pkg/logger"
)

func TestStateStringNames(t *testing.T) {
	cases := map[State]string{
		StateConnecting: "connecting",
		StateConnected:  "connected",
		StateStreaming:  "streaming",
		StateDegraded:   "degraded",
		StateClosed:     "closed",
		State(99):       "unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestReadReturnsEmptySnapshotBeforeAnyFrame(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An unresolvable listen address fails fast in the reconnect loop without
	// ever reaching the streaming state.
	d := New(ctx, Config{ListenAddr: "256.256.256.256:0", ReconnectGap: time.Hour}, log)
	defer d.Close()

	snap := d.Read()
	assert.False(t, snap.HasFrame)
	assert.Nil(t, snap.Telemetry)
}

func TestCloseStopsTheRunLoop(t *testing.T) {
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)

	d := New(context.Background(), Config{ListenAddr: "256.256.256.256:0", ReconnectGap: time.Hour}, log)

	done := make(chan struct{})
	go func() {
		d.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return in time")
	}

	assert.Equal(t, StateClosed, d.State())
}
