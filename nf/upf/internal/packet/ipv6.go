package packet

import "encoding/binary"

const (
	IPv6HeaderLen = 40

	// ProtoICMPv6 is IPv6's Next Header value for ICMPv6, distinct from
	// ProtoICMP (ICMPv4); UDP and TCP share the same protocol numbers
	// across both IP versions.
	ProtoICMPv6 = 58
)

// IPv6Header is a view over the fixed 40-byte IPv6 header. Extension
// headers are not walked: the datapath decodes IPv6 on the radio side but
// never encapsulates or decapsulates a GTP-U/IPv6 outer header (spec
// Non-goal), so only the fields needed for PDR lookup and pass-through are
// exposed.
type IPv6Header struct{ b []byte }

func ParseIPv6(c *cursor) (IPv6Header, error) {
	b, err := c.take(IPv6HeaderLen)
	if err != nil {
		return IPv6Header{}, ErrTruncated
	}
	return IPv6Header{b: b}, nil
}

func (h IPv6Header) TrafficClass() uint8 {
	return uint8(binary.BigEndian.Uint16(h.b[0:2]) >> 4)
}
func (h IPv6Header) PayloadLen() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }
func (h IPv6Header) NextHeader() uint8  { return h.b[6] }
func (h IPv6Header) HopLimit() uint8    { return h.b[7] }
func (h IPv6Header) SrcIP() []byte      { return h.b[8:24] }
func (h IPv6Header) DstIP() []byte      { return h.b[24:40] }
