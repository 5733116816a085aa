package packet

import "encoding/binary"

const (
	IPv4MinHeaderLen = 20
	ProtoICMP        = 1
	ProtoTCP         = 6
	ProtoUDP         = 17

	// FlagDontFragment is the DF bit within the 16-bit flags/fragment-offset
	// field (3GPP datapath only honors this one flag).
	FlagDontFragment = 0x4000
)

// IPv4Header is a view over a (possibly options-bearing) IPv4 header. Its
// length is IHL*4 bytes, all within the backing buffer.
type IPv4Header struct{ b []byte }

// ParseIPv4 consumes the IPv4 header, honoring IHL for the header length as
// required when dealing with ICMP-embedded packets that may carry options.
func ParseIPv4(c *cursor) (IPv4Header, error) {
	fixed, err := c.peek(IPv4MinHeaderLen)
	if err != nil {
		return IPv4Header{}, ErrTruncated
	}
	ihl := int(fixed[0]&0x0F) * 4
	if ihl < IPv4MinHeaderLen {
		return IPv4Header{}, ErrTruncated
	}
	b, err := c.take(ihl)
	if err != nil {
		return IPv4Header{}, ErrTruncated
	}
	return IPv4Header{b: b}, nil
}

func (h IPv4Header) Version() uint8    { return h.b[0] >> 4 }
func (h IPv4Header) IHL() int          { return int(h.b[0]&0x0F) * 4 }
func (h IPv4Header) TOS() uint8        { return h.b[1] }
func (h IPv4Header) SetTOS(v uint8)    { h.b[1] = v }
func (h IPv4Header) TotalLen() uint16  { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h IPv4Header) SetTotalLen(v uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], v)
}
func (h IPv4Header) FlagsFragOff() uint16 { return binary.BigEndian.Uint16(h.b[6:8]) }
func (h IPv4Header) DontFragment() bool   { return h.FlagsFragOff()&FlagDontFragment != 0 }
func (h IPv4Header) TTL() uint8           { return h.b[8] }
func (h IPv4Header) SetTTL(v uint8)       { h.b[8] = v }
func (h IPv4Header) Protocol() uint8      { return h.b[9] }
func (h IPv4Header) SetProtocol(p uint8)  { h.b[9] = p }
func (h IPv4Header) Checksum() uint16     { return binary.BigEndian.Uint16(h.b[10:12]) }
func (h IPv4Header) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(h.b[10:12], v)
}
func (h IPv4Header) SrcIP() []byte { return h.b[12:16] }
func (h IPv4Header) DstIP() []byte { return h.b[16:20] }
func (h IPv4Header) SetSrcIP(ip []byte) { copy(h.b[12:16], ip) }
func (h IPv4Header) SetDstIP(ip []byte) { copy(h.b[16:20], ip) }

// Bytes returns the raw header bytes (IHL*4 long), used for checksum
// recomputation.
func (h IPv4Header) Bytes() []byte { return h.b }

// SrcU32 / DstU32 read the address as a host-order uint32 for use as NAT and
// PDR table keys.
func (h IPv4Header) SrcU32() uint32 { return binary.BigEndian.Uint32(h.SrcIP()) }
func (h IPv4Header) DstU32() uint32 { return binary.BigEndian.Uint32(h.DstIP()) }

// SetSrcU32 / SetDstU32 write the address from a host-order uint32, the
// form NAT and PDR table keys are carried in.
func (h IPv4Header) SetSrcU32(v uint32) { binary.BigEndian.PutUint32(h.b[12:16], v) }
func (h IPv4Header) SetDstU32(v uint32) { binary.BigEndian.PutUint32(h.b[16:20], v) }

// ParseIPv4FromBytes parses an IPv4 header out of a standalone byte slice
// not associated with a Context cursor, such as the packet embedded in an
// ICMP error payload.
func ParseIPv4FromBytes(buf []byte) (IPv4Header, error) {
	c := newCursor(buf)
	return ParseIPv4(c)
}
