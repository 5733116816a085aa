package packet

import "encoding/binary"

const TCPMinHeaderLen = 20

// TCPHeader is a view over a (possibly options-bearing) TCP header.
type TCPHeader struct{ b []byte }

func ParseTCP(c *cursor) (TCPHeader, error) {
	fixed, err := c.peek(TCPMinHeaderLen)
	if err != nil {
		return TCPHeader{}, ErrTruncated
	}
	dataOff := int(fixed[12]>>4) * 4
	if dataOff < TCPMinHeaderLen {
		return TCPHeader{}, ErrTruncated
	}
	b, err := c.take(dataOff)
	if err != nil {
		return TCPHeader{}, ErrTruncated
	}
	return TCPHeader{b: b}, nil
}

func (h TCPHeader) SrcPort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h TCPHeader) SetSrcPort(p uint16) {
	binary.BigEndian.PutUint16(h.b[0:2], p)
}
func (h TCPHeader) DstPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h TCPHeader) SetDstPort(p uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], p)
}
func (h TCPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[16:18]) }
func (h TCPHeader) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(h.b[16:18], v)
}

func (h TCPHeader) Bytes() []byte { return h.b }

// ParseTCPFromBytes parses a TCP header out of a standalone byte slice not
// associated with a Context cursor, such as the packet embedded in an ICMP
// error payload.
func ParseTCPFromBytes(buf []byte) (TCPHeader, error) {
	c := newCursor(buf)
	return ParseTCP(c)
}
