package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewBBoxClampsNegativeOrigin(t *testing.T) {
	b, ok := NewBBox(-5, -5, 20, 20, 100, 100)
	assert.True(t, ok)
	assert.Equal(t, BBox{X: 0, Y: 0, W: 15, H: 15}, b)
}

func TestNewBBoxClampsOverflowingExtent(t *testing.T) {
	b, ok := NewBBox(90, 90, 30, 30, 100, 100)
	assert.True(t, ok)
	assert.Equal(t, BBox{X: 90, Y: 90, W: 10, H: 10}, b)
}

func TestNewBBoxRejectsDegenerateResult(t *testing.T) {
	_, ok := NewBBox(100, 100, 10, 10, 100, 100)
	assert.False(t, ok)

	_, ok = NewBBox(-50, 0, 10, 10, 100, 100)
	assert.False(t, ok)
}

func TestBBoxIoUIdenticalBoxesIsOne(t *testing.T) {
	b := BBox{X: 0, Y: 0, W: 10, H: 10}
	assert.Equal(t, 1.0, b.IoU(b))
}

func TestBBoxIoUDisjointBoxesIsZero(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 100, Y: 100, W: 10, H: 10}
	assert.Equal(t, 0.0, a.IoU(b))
}

func TestBBoxIoUPartialOverlap(t *testing.T) {
	a := BBox{X: 0, Y: 0, W: 10, H: 10}
	b := BBox{X: 5, Y: 5, W: 10, H: 10}
	// Intersection 5x5=25, union 100+100-25=175.
	assert.InDelta(t, 25.0/175.0, a.IoU(b), 1e-9)
}

func TestBBoxAreaAndCenter(t *testing.T) {
	b := BBox{X: 10, Y: 20, W: 4, H: 6}
	assert.Equal(t, 24, b.Area())
	cx, cy := b.Center()
	assert.Equal(t, 12, cx)
	assert.Equal(t, 23, cy)
}
