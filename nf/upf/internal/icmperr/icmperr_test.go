package icmperr

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildOriginalFrame() ([]byte, []byte) {
	eth := make([]byte, 14)
	copy(eth[0:6], []byte{0x02, 0, 0, 0, 0, 1}) // dst
	copy(eth[6:12], []byte{0x02, 0, 0, 0, 0, 2}) // src
	binary.BigEndian.PutUint16(eth[12:14], 0x0800)

	ip4 := make([]byte, 28) // header + 8 bytes payload
	ip4[0] = 0x45
	binary.BigEndian.PutUint16(ip4[2:4], 1500)
	binary.BigEndian.PutUint16(ip4[6:8], 0x4000) // DF set
	ip4[8] = 64
	ip4[9] = 17
	copy(ip4[12:16], []byte{10, 0, 0, 5})
	copy(ip4[16:20], []byte{93, 184, 216, 34})
	return eth, ip4
}

func TestFragmentationNeededBuildsReplyWhenDFSet(t *testing.T) {
	eth, ip4 := buildOriginalFrame()
	frame, ok := FragmentationNeeded(eth, ip4, [4]byte{203, 0, 113, 10}, 1400)
	require.True(t, ok)
	require.Len(t, frame, replyPacketLen)

	require.Equal(t, []byte{0x02, 0, 0, 0, 0, 2}, frame[0:6])
	require.Equal(t, []byte{0x02, 0, 0, 0, 0, 1}, frame[6:12])

	newIP := frame[14:34]
	require.Equal(t, []byte{203, 0, 113, 10}, newIP[12:16])
	require.Equal(t, []byte{10, 0, 0, 5}, newIP[16:20])
	require.Equal(t, uint8(1), newIP[9]) // ICMP

	icmp := frame[34:42]
	require.Equal(t, uint8(3), icmp[0])
	require.Equal(t, uint8(4), icmp[1])
	require.Equal(t, uint16(1400), binary.BigEndian.Uint16(icmp[6:8]))

	embedded := frame[42:]
	require.Equal(t, ip4, embedded)
}

func TestFragmentationNeededDropsWhenDFClear(t *testing.T) {
	eth, ip4 := buildOriginalFrame()
	binary.BigEndian.PutUint16(ip4[6:8], 0)
	_, ok := FragmentationNeeded(eth, ip4, [4]byte{203, 0, 113, 10}, 1400)
	require.False(t, ok)
}
