package interaction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCursorPosReturnsFalseUntilFirstMouseMove(t *testing.T) {
	r := New()
	_, _, ok := r.CursorPos()
	assert.False(t, ok)

	r.MouseMove(5, 9)
	x, y, ok := r.CursorPos()
	assert.True(t, ok)
	assert.Equal(t, 5, x)
	assert.Equal(t, 9, y)
}

func TestCursorPosReflectsLatestMove(t *testing.T) {
	r := New()
	r.MouseMove(1, 1)
	r.MouseMove(2, 2)

	x, y, ok := r.CursorPos()
	assert.True(t, ok)
	assert.Equal(t, 2, x)
	assert.Equal(t, 2, y)
}

func TestPendingClickIsConsumeOnce(t *testing.T) {
	r := New()
	_, _, ok := r.TakePendingClick()
	assert.False(t, ok)

	r.Click(10, 20)
	x, y, ok := r.TakePendingClick()
	assert.True(t, ok)
	assert.Equal(t, 10, x)
	assert.Equal(t, 20, y)

	_, _, ok = r.TakePendingClick()
	assert.False(t, ok, "a second take without a new Click must return false")
}

func TestPendingClickOverwritesUnconsumedValue(t *testing.T) {
	r := New()
	r.Click(1, 1)
	r.Click(2, 2)

	x, y, ok := r.TakePendingClick()
	assert.True(t, ok)
	assert.Equal(t, 2, x)
	assert.Equal(t, 2, y)
}

func TestPendingCommandIsConsumeOnceAndLatestWins(t *testing.T) {
	r := New()
	r.ReselectObject()
	r.StopTracking()

	cmd, ok := r.TakePendingCommand()
	assert.True(t, ok)
	assert.Equal(t, "StopTracking", cmd)

	_, ok = r.TakePendingCommand()
	assert.False(t, ok)
}
