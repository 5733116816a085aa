package packet

import "encoding/binary"

const (
	EthernetHeaderLen = 14
	EthTypeIPv4        = 0x0800
	EthTypeIPv6        = 0x86DD
	EthTypeVLAN        = 0x8100
	EthTypeARP         = 0x0806
)

// EthernetHeader is a 14-byte view over the destination/source MAC and the
// EtherType (or VLAN TPID) field.
type EthernetHeader struct{ b []byte }

// ParseEthernet consumes the fixed 14-byte Ethernet header from the cursor.
func ParseEthernet(c *cursor) (EthernetHeader, error) {
	b, err := c.take(EthernetHeaderLen)
	if err != nil {
		return EthernetHeader{}, ErrTruncated
	}
	return EthernetHeader{b: b}, nil
}

func (h EthernetHeader) DstMAC() []byte { return h.b[0:6] }
func (h EthernetHeader) SrcMAC() []byte { return h.b[6:12] }

func (h EthernetHeader) EtherType() uint16 { return binary.BigEndian.Uint16(h.b[12:14]) }
func (h EthernetHeader) SetEtherType(t uint16) {
	binary.BigEndian.PutUint16(h.b[12:14], t)
}

func (h EthernetHeader) SetDstMAC(mac []byte) { copy(h.b[0:6], mac) }
func (h EthernetHeader) SetSrcMAC(mac []byte) { copy(h.b[6:12], mac) }

// SwapMACs exchanges source and destination, used for echo and ICMP
// error replies that bounce a frame back the way it came.
func (h EthernetHeader) SwapMACs() {
	var tmp [6]byte
	copy(tmp[:], h.DstMAC())
	h.SetDstMAC(h.SrcMAC())
	h.SetSrcMAC(tmp[:])
}

// ParseEthernetFromBytes parses an Ethernet header out of a standalone
// byte slice not associated with a Context cursor.
func ParseEthernetFromBytes(buf []byte) (EthernetHeader, error) {
	c := newCursor(buf)
	return ParseEthernet(c)
}
