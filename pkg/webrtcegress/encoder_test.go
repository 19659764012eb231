package webrtcegress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnnexBToAVCReframesFourByteStartCodes(t *testing.T) {
	nalu1 := []byte{0x67, 0xaa}
	nalu2 := []byte{0x68, 0xbb, 0xcc}

	var annexB []byte
	annexB = append(annexB, 0x00, 0x00, 0x00, 0x01)
	annexB = append(annexB, nalu1...)
	annexB = append(annexB, 0x00, 0x00, 0x00, 0x01)
	annexB = append(annexB, nalu2...)

	avc := annexBToAVC(annexB)
	nalus, err := splitAVCUnits(avc)
	require.NoError(t, err)
	require.Len(t, nalus, 2)
	assert.Equal(t, nalu1, nalus[0])
	assert.Equal(t, nalu2, nalus[1])
}

func TestAnnexBToAVCHandlesThreeByteStartCodes(t *testing.T) {
	nalu := []byte{0x67, 0x01, 0x02, 0x03}
	var annexB []byte
	annexB = append(annexB, 0x00, 0x00, 0x01)
	annexB = append(annexB, nalu...)

	avc := annexBToAVC(annexB)
	nalus, err := splitAVCUnits(avc)
	require.NoError(t, err)
	require.Len(t, nalus, 1)
	assert.Equal(t, nalu, nalus[0])
}

func TestFindStartCodesLocatesMixedThreeAndFourByteCodes(t *testing.T) {
	data := []byte{0x00, 0x00, 0x01, 0xaa, 0x00, 0x00, 0x00, 0x01, 0xbb, 0xcc}
	codes := findStartCodes(data)
	require.Len(t, codes, 2)
	assert.Equal(t, 3, codes[0].naluStart)
	assert.Equal(t, 8, codes[1].naluStart)
}

func TestFindStartCodesEmptyWhenNoneFound(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04}
	assert.Empty(t, findStartCodes(data))
}
