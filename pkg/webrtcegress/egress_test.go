package webrtcegress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lengthPrefixed(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		l := len(n)
		out = append(out, byte(l>>24), byte(l>>16), byte(l>>8), byte(l))
		out = append(out, n...)
	}
	return out
}

func TestSplitAVCUnitsParsesLengthPrefixedStream(t *testing.T) {
	a := []byte{0x67, 0x01, 0x02}
	b := []byte{0x68, 0x03}
	data := lengthPrefixed(a, b)

	nalus, err := splitAVCUnits(data)
	require.NoError(t, err)
	require.Len(t, nalus, 2)
	assert.Equal(t, a, nalus[0])
	assert.Equal(t, b, nalus[1])
}

func TestSplitAVCUnitsEmptyInput(t *testing.T) {
	nalus, err := splitAVCUnits(nil)
	require.NoError(t, err)
	assert.Empty(t, nalus)
}

func TestSplitAVCUnitsRejectsTruncatedLengthHeader(t *testing.T) {
	_, err := splitAVCUnits([]byte{0x00, 0x00, 0x01})
	assert.Error(t, err)
}

func TestSplitAVCUnitsRejectsLengthExceedingBuffer(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x10, 0x01, 0x02}
	_, err := splitAVCUnits(data)
	assert.Error(t, err)
}

func TestMaxInt(t *testing.T) {
	assert.Equal(t, 5, maxInt(5, 1))
	assert.Equal(t, 5, maxInt(1, 5))
}
