package checksum

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildIPv4Header(src, dst uint32) []byte {
	b := make([]byte, 20)
	b[0] = 0x45
	b[1] = 0x00
	binary.BigEndian.PutUint16(b[2:4], 40)
	binary.BigEndian.PutUint16(b[4:6], 0x1234)
	binary.BigEndian.PutUint16(b[6:8], 0)
	b[8] = 64
	b[9] = 6 // TCP
	binary.BigEndian.PutUint32(b[12:16], src)
	binary.BigEndian.PutUint32(b[16:20], dst)
	return b
}

func TestUpdateU32MatchesFullRecompute(t *testing.T) {
	const (
		origSrc = 0x0A000005 // 10.0.0.5
		newSrc  = 0xCB00710A // 203.0.113.10
		dst     = 0x5DB8D822 // 93.184.216.34
	)

	hdr := buildIPv4Header(origSrc, dst)
	hdr[10], hdr[11] = 0, 0
	fullOrig := Compute(hdr)
	binary.BigEndian.PutUint16(hdr[10:12], fullOrig)

	incremental := UpdateU32(fullOrig, origSrc, newSrc)

	binary.BigEndian.PutUint32(hdr[12:16], newSrc)
	hdr[10], hdr[11] = 0, 0
	fullNew := Compute(hdr)

	require.Equal(t, fullNew, incremental)
}

func TestUpdateU16MatchesFullRecompute(t *testing.T) {
	hdr := make([]byte, 8)
	binary.BigEndian.PutUint16(hdr[0:2], 54321) // source port
	binary.BigEndian.PutUint16(hdr[2:4], 443)
	binary.BigEndian.PutUint16(hdr[4:6], 8)
	fullOrig := Compute(hdr)
	binary.BigEndian.PutUint16(hdr[6:8], fullOrig)

	const newPort = 60000
	incremental := UpdateU16(fullOrig, 54321, newPort)

	binary.BigEndian.PutUint16(hdr[0:2], newPort)
	hdr[6], hdr[7] = 0, 0
	fullNew := Compute(hdr)

	require.Equal(t, fullNew, incremental)
}

func TestComputeDetectsCorruption(t *testing.T) {
	hdr := buildIPv4Header(0x0A000005, 0x5DB8D822)
	hdr[10], hdr[11] = 0, 0
	sum := Compute(hdr)
	binary.BigEndian.PutUint16(hdr[10:12], sum)

	// A header that carries a correct checksum for itself folds to zero.
	require.Equal(t, uint16(0), Compute(hdr))

	hdr[0] ^= 0xFF
	require.NotEqual(t, uint16(0), Compute(hdr))
}
