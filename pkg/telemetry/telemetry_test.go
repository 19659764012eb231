package telemetry

import (
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/stretchr/testify/assert"
)

func TestFlightModeNameDecodesArduCopterModesDirectly(t *testing.T) {
	enabled := common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED

	cases := []struct {
		customMode uint32
		want       string
	}{
		{0, "STABILIZE"},
		{1, "ACRO"},
		{2, "ALTHOLD"},
		{3, "AUTO"},
		{4, "GUIDED"},
		{5, "LOITER"},
		{6, "RTL"},
		{9, "LAND"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, flightModeName(tc.customMode, enabled), "custom_mode=%d", tc.customMode)
	}
}

func TestFlightModeNameGuidedIsReachable(t *testing.T) {
	// GUIDED (custom_mode=4) is the mode the follow controller requires;
	// the PX4-style (customMode>>16)&0xff decode this replaced could never
	// produce it since 4>>16 == 0.
	got := flightModeName(4, common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED)
	assert.Equal(t, "GUIDED", got)
}

func TestFlightModeNameUnknownCustomModeFallsBackToNumericTag(t *testing.T) {
	got := flightModeName(42, common.MAV_MODE_FLAG_CUSTOM_MODE_ENABLED)
	assert.Equal(t, "MODE_42", got)
}

func TestFlightModeNameWithoutCustomModeFlagIsUnknown(t *testing.T) {
	got := flightModeName(4, 0)
	assert.Equal(t, "UNKNOWN", got)
}
