package packet

import "encoding/binary"

const UDPHeaderLen = 8

// UDPHeader is an 8-byte view: source port, destination port, length,
// checksum.
type UDPHeader struct{ b []byte }

func ParseUDP(c *cursor) (UDPHeader, error) {
	b, err := c.take(UDPHeaderLen)
	if err != nil {
		return UDPHeader{}, ErrTruncated
	}
	return UDPHeader{b: b}, nil
}

func (h UDPHeader) SrcPort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h UDPHeader) SetSrcPort(p uint16) {
	binary.BigEndian.PutUint16(h.b[0:2], p)
}
func (h UDPHeader) DstPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h UDPHeader) SetDstPort(p uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], p)
}
func (h UDPHeader) Length() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }
func (h UDPHeader) SetLength(v uint16) {
	binary.BigEndian.PutUint16(h.b[4:6], v)
}

// Checksum of zero means "no checksum" per RFC 768 and MUST NOT be patched
// incrementally — callers must check HasChecksum before updating it.
func (h UDPHeader) Checksum() uint16    { return binary.BigEndian.Uint16(h.b[6:8]) }
func (h UDPHeader) HasChecksum() bool   { return h.Checksum() != 0 }
func (h UDPHeader) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(h.b[6:8], v)
}

func (h UDPHeader) Bytes() []byte { return h.b }

// ParseUDPFromBytes parses a UDP header out of a standalone byte slice not
// associated with a Context cursor, such as the packet embedded in an ICMP
// error payload.
func ParseUDPFromBytes(buf []byte) (UDPHeader, error) {
	c := newCursor(buf)
	return ParseUDP(c)
}
