package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVincentyDirectInverseRoundTrip(t *testing.T) {
	lat0, lon0 := 37.7749, -122.4194
	bearing := 47.0
	dist := 5000.0

	lat1, lon1 := VincentyDirect(lat0, lon0, bearing, dist)
	got := VincentyDistance(lat0, lon0, lat1, lon1)

	assert.InDelta(t, dist, got, 0.5)
}

func TestVincentyDirectZeroDistanceIsIdentity(t *testing.T) {
	lat, lon := VincentyDirect(10.0, 20.0, 123.0, 0)
	assert.InDelta(t, 10.0, lat, 1e-9)
	assert.InDelta(t, 20.0, lon, 1e-9)
}

func TestNadirProjectorCenterPixelReturnsDronePosition(t *testing.T) {
	p := NewNadirProjector(153, 1280, 720)
	drone := Point{Lat: 37.7749, Lon: -122.4194}

	got, ok := p.Locate(drone, 50, 0, 0)
	assert.True(t, ok)
	assert.InDelta(t, drone.Lat, got.Lat, 1e-9)
	assert.InDelta(t, drone.Lon, got.Lon, 1e-9)
}

func TestNadirProjectorNonZeroOffsetAltitudeBelowOrEqualZeroReturnsDroneUnchanged(t *testing.T) {
	p := NewNadirProjector(153, 1280, 720)
	drone := Point{Lat: 1, Lon: 2}

	got, ok := p.Locate(drone, 0, 40, 40)
	assert.True(t, ok)
	assert.Equal(t, drone, got)

	got, ok = p.Locate(drone, -5, 40, 40)
	assert.True(t, ok)
	assert.Equal(t, drone, got)
}

func TestNadirProjectorRejectsNaNInputs(t *testing.T) {
	p := NewNadirProjector(153, 1280, 720)
	drone := Point{Lat: 1, Lon: 2}

	_, ok := p.Locate(drone, math.NaN(), 0, 0)
	assert.False(t, ok)

	_, ok = p.Locate(Point{Lat: math.NaN(), Lon: 2}, 50, 0, 0)
	assert.False(t, ok)
}

func TestNadirProjectorOffsetIncreasesWithDistanceFromCenter(t *testing.T) {
	p := NewNadirProjector(153, 1280, 720)
	drone := Point{Lat: 37.7749, Lon: -122.4194}

	near, ok := p.Locate(drone, 50, 50, 0)
	assert.True(t, ok)
	far, ok := p.Locate(drone, 50, 200, 0)
	assert.True(t, ok)

	nearDist := VincentyDistance(drone.Lat, drone.Lon, near.Lat, near.Lon)
	farDist := VincentyDistance(drone.Lat, drone.Lon, far.Lat, far.Lon)
	assert.Greater(t, farDist, nearDist)
}

func TestAttitudeProjectorCenterPixelStraightDownReturnsDronePosition(t *testing.T) {
	p := NewAttitudeProjector(153, 1280, 720)
	drone := Point{Lat: 37.7749, Lon: -122.4194}

	// Pitch -90deg cancels the fixed camera-to-body rotation so the center
	// pixel's ray points straight down in NED with zero north/east component.
	got, ok := p.Locate(640, 360, drone, 50, Attitude{RollRad: 0, PitchRad: -math.Pi / 2, YawRad: 0})
	assert.True(t, ok)
	assert.InDelta(t, drone.Lat, got.Lat, 1e-7)
	assert.InDelta(t, drone.Lon, got.Lon, 1e-7)
}

func TestAttitudeProjectorRejectsLevelRay(t *testing.T) {
	p := NewAttitudeProjector(153, 1280, 720)
	drone := Point{Lat: 37.7749, Lon: -122.4194}

	// Zero attitude leaves the fixed cam->body rotation pointing the center
	// ray forward rather than down: no ground intersection.
	_, ok := p.Locate(640, 360, drone, 50, Attitude{})
	assert.False(t, ok)
}

func TestAttitudeProjectorAltitudeBelowOrEqualZeroReturnsDroneUnchanged(t *testing.T) {
	p := NewAttitudeProjector(153, 1280, 720)
	drone := Point{Lat: 1, Lon: 2}

	got, ok := p.Locate(640, 360, drone, 0, Attitude{})
	assert.True(t, ok)
	assert.Equal(t, drone, got)
}

func TestAttitudeProjectorRejectsNaNInputs(t *testing.T) {
	p := NewAttitudeProjector(153, 1280, 720)
	drone := Point{Lat: 1, Lon: 2}

	_, ok := p.Locate(640, 360, drone, 50, Attitude{YawRad: math.NaN()})
	assert.False(t, ok)
}
