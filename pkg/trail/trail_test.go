package trail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerofollow/gcs/pkg/model"
)

type fakeStore struct {
	puts []model.RecordedObject
	err  error
}

func (f *fakeStore) Put(_ context.Context, obj model.RecordedObject) error {
	f.puts = append(f.puts, obj)
	return f.err
}

func sampleTelemetry(offset time.Duration) model.TelemetrySample {
	return model.TelemetrySample{TS: time.Unix(1_700_000_000, 0).Add(offset), Lat: 1, Lon: 2}
}

func TestRecorderRecordsEveryNthTickWhileTracking(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{RecordEveryNth: 3}, store)
	r.Start()

	for i := 0; i < 3; i++ {
		r.Tick(sampleTelemetry(time.Duration(i)*time.Second), true, "person")
	}

	require.NoError(t, r.Stop(context.Background()))
	require.Len(t, store.puts, 1)
	assert.Len(t, store.puts[0].Positions, 1)
	assert.Equal(t, "person", store.puts[0].Classification)
}

func TestRecorderIgnoresTicksWhenNotTrackingOrInactive(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{RecordEveryNth: 1}, store)

	// Not active: ignored even with tracking true.
	r.Tick(sampleTelemetry(0), true, "person")

	r.Start()
	// Tracking false: ignored.
	r.Tick(sampleTelemetry(time.Second), false, "person")

	require.NoError(t, r.Stop(context.Background()))
	assert.Empty(t, store.puts)
}

func TestRecorderStopIsNoOpWhenNotActive(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{RecordEveryNth: 1}, store)
	require.NoError(t, r.Stop(context.Background()))
	assert.Empty(t, store.puts)
}

func TestRecorderStartDiscardsPriorUnflushedBuffer(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{RecordEveryNth: 1}, store)

	r.Start()
	r.Tick(sampleTelemetry(0), true, "car")
	r.Start() // discard the buffered point above without flushing it
	r.Tick(sampleTelemetry(time.Second), true, "person")

	require.NoError(t, r.Stop(context.Background()))
	require.Len(t, store.puts, 1)
	require.Len(t, store.puts[0].Positions, 1)
	assert.Equal(t, "person", store.puts[0].Classification)
}

func TestRecorderStopKeepsBufferAndActiveOnStoreFailure(t *testing.T) {
	storeErr := assert.AnError
	store := &fakeStore{err: storeErr}
	r := New(Config{RecordEveryNth: 1}, store)
	r.Start()
	r.Tick(sampleTelemetry(0), true, "person")

	err := r.Stop(context.Background())
	assert.ErrorIs(t, err, storeErr)
	assert.True(t, r.Active(), "active flag must survive a failed store write so a retry can stop again")
	assert.Len(t, r.points, 1, "buffered points must survive a failed store write")

	// Retry with the store now healthy: the same buffered point is handed off.
	store.err = nil
	require.NoError(t, r.Stop(context.Background()))
	require.Len(t, store.puts, 2)
	assert.False(t, r.Active())
}

func TestRecorderUnknownClassificationWhenNeverObserved(t *testing.T) {
	store := &fakeStore{}
	r := New(Config{RecordEveryNth: 1}, store)
	r.Start()
	r.Tick(sampleTelemetry(0), true, "")

	require.NoError(t, r.Stop(context.Background()))
	require.Len(t, store.puts, 1)
	assert.Equal(t, "unknown", store.puts[0].Classification)
}
