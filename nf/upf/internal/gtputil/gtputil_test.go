package gtputil

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncapsulateBuildsExpectedFrame(t *testing.T) {
	payload := []byte{0x45, 0x00, 0x00, 0x14} // fake inner IPv4 start
	p := TunnelParams{
		SrcIP: [4]byte{198, 51, 100, 1},
		DstIP: [4]byte{198, 51, 100, 2},
		TEID:  0x1234,
		TOS:   0,
		QFI:   9,
	}

	out := Encapsulate(payload, 14, p)
	require.Len(t, out, 14+EncapSizeWithQFI+len(payload))

	ip4 := out[14 : 14+20]
	require.Equal(t, uint8(0x45), ip4[0])
	require.Equal(t, uint8(17), ip4[9]) // UDP
	require.Equal(t, []byte{198, 51, 100, 1}, ip4[12:16])
	require.Equal(t, []byte{198, 51, 100, 2}, ip4[16:20])

	udp := out[14+20 : 14+28]
	require.Equal(t, uint16(2152), binary.BigEndian.Uint16(udp[0:2]))
	require.Equal(t, uint16(2152), binary.BigEndian.Uint16(udp[2:4]))

	gtp := out[14+28 : 14+36]
	require.Equal(t, uint8(0xFF), gtp[1]) // G-PDU
	require.Equal(t, uint32(0x1234), binary.BigEndian.Uint32(gtp[4:8]))
	require.NotZero(t, gtp[0]&0x04) // E flag set for QFI

	ext := out[14+40 : 14+44]
	require.Equal(t, uint8(9), ext[2]&0x3F)

	inner := out[14+44:]
	require.Equal(t, payload, inner)
}

func TestEncapsulateNoQFIOmitsExtensionHeader(t *testing.T) {
	payload := make([]byte, 20)
	p := TunnelParams{SrcIP: [4]byte{10, 0, 0, 1}, DstIP: [4]byte{10, 0, 0, 2}, TEID: 7}
	out := Encapsulate(payload, 0, p)
	require.Len(t, out, EncapSizeNoQFI+len(payload))

	gtp := out[28:36]
	require.Zero(t, gtp[0]&0x04)
}

func TestDecapsulatePreservesHeadroom(t *testing.T) {
	headroom := 14
	inner := []byte{1, 2, 3, 4}
	frame := make([]byte, headroom+EncapSizeNoQFI+len(inner))
	copy(frame[headroom+EncapSizeNoQFI:], inner)

	out := Decapsulate(frame, headroom, EncapSizeNoQFI)
	require.Len(t, out, headroom+len(inner))
	require.Equal(t, inner, out[headroom:])
}
