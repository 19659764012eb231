package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofollow/gcs/pkg/logger"
)

type fakeInteraction struct {
	lastMoveX, lastMoveY     int
	moveCalled               bool
	lastClickX, lastClickY   int
	clickCalled              bool
	stopCalled               bool
	reselectCalled           bool
}

func (f *fakeInteraction) MouseMove(x, y int) { f.moveCalled = true; f.lastMoveX, f.lastMoveY = x, y }
func (f *fakeInteraction) Click(x, y int)     { f.clickCalled = true; f.lastClickX, f.lastClickY = x, y }
func (f *fakeInteraction) StopTracking()      { f.stopCalled = true }
func (f *fakeInteraction) ReselectObject()    { f.reselectCalled = true }

type fakeRecorder struct {
	started bool
	stopped bool
}

func (f *fakeRecorder) Start()                    { f.started = true }
func (f *fakeRecorder) Stop(context.Context) error { f.stopped = true; return nil }

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.NewConfig())
	require.NoError(t, err)
	return log
}

func TestDispatchRoutesMouseMoveAndClickToInteraction(t *testing.T) {
	inter := &fakeInteraction{}
	u := NewUIBridge(inter, nil, &fakeRecorder{}, testLogger(t))

	u.dispatch([]byte(`{"type":"mouse_move","x":5,"y":9}`))
	assert.True(t, inter.moveCalled)
	assert.Equal(t, 5, inter.lastMoveX)

	u.dispatch([]byte(`{"type":"click","x":1,"y":2}`))
	assert.True(t, inter.clickCalled)

	u.dispatch([]byte(`{"type":"stop_tracking"}`))
	assert.True(t, inter.stopCalled)

	u.dispatch([]byte(`{"type":"reselect_object"}`))
	assert.True(t, inter.reselectCalled)
}

func TestDispatchRecordTogglesRecorder(t *testing.T) {
	rec := &fakeRecorder{}
	u := NewUIBridge(&fakeInteraction{}, nil, rec, testLogger(t))

	u.dispatch([]byte(`{"type":"record","active":true}`))
	assert.True(t, rec.started)

	u.dispatch([]byte(`{"type":"record","active":false}`))
	assert.True(t, rec.stopped)
}

func TestDispatchDroneCommandsAreNoOpWithoutDroneBridge(t *testing.T) {
	u := NewUIBridge(&fakeInteraction{}, nil, &fakeRecorder{}, testLogger(t))

	// None of these should panic despite a nil drone bridge.
	assert.NotPanics(t, func() {
		u.dispatch([]byte(`{"type":"set_flight_mode","mode":"GUIDED"}`))
		u.dispatch([]byte(`{"type":"set_follow_distance","distance":5}`))
		u.dispatch([]byte(`{"type":"stop_following"}`))
	})
}

func TestDispatchForwardsToDroneBridgeOnceWired(t *testing.T) {
	u := NewUIBridge(&fakeInteraction{}, nil, &fakeRecorder{}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	drone := NewDroneBridge(ctx, DroneConfig{URL: "ws://127.0.0.1:1/unreachable", BackoffStart: time.Hour, BackoffMax: time.Hour}, u, nil, testLogger(t))
	defer drone.Close()
	u.SetDroneBridge(drone)

	u.dispatch([]byte(`{"type":"set_flight_mode","mode":"GUIDED"}`))

	select {
	case raw := <-drone.sendCh:
		assert.Contains(t, string(raw), "set_flight_mode")
	case <-time.After(time.Second):
		t.Fatal("expected set_flight_mode command to be enqueued")
	}
}

func TestDispatchUnknownMessageTypeIsIgnored(t *testing.T) {
	inter := &fakeInteraction{}
	u := NewUIBridge(inter, nil, &fakeRecorder{}, testLogger(t))
	assert.NotPanics(t, func() {
		u.dispatch([]byte(`{"type":"something_unknown"}`))
	})
}

func TestDispatchMalformedJSONIsIgnored(t *testing.T) {
	u := NewUIBridge(&fakeInteraction{}, nil, &fakeRecorder{}, testLogger(t))
	assert.NotPanics(t, func() {
		u.dispatch([]byte(`not json`))
	})
}
