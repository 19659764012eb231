package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusPublisherStartsWithNoActiveTrack(t *testing.T) {
	p := NewStatusPublisher()
	tracking, className, dist := p.Snapshot()
	assert.False(t, tracking)
	assert.Equal(t, "", className)
	assert.Equal(t, 0.0, dist)
}

func TestStatusPublisherReflectsLatestPublish(t *testing.T) {
	p := NewStatusPublisher()
	p.Publish(true, "person", 12.5)

	tracking, className, dist := p.Snapshot()
	assert.True(t, tracking)
	assert.Equal(t, "person", className)
	assert.Equal(t, 12.5, dist)

	p.Publish(false, "", 0)
	tracking, _, _ = p.Snapshot()
	assert.False(t, tracking)
}
