package packet

import "encoding/binary"

const VLANHeaderLen = 4

// VLANHeader is the 4-byte 802.1Q tag: TCI followed by the encapsulated
// EtherType.
type VLANHeader struct{ b []byte }

// ParseVLAN consumes the 4-byte VLAN tag.
func ParseVLAN(c *cursor) (VLANHeader, error) {
	b, err := c.take(VLANHeaderLen)
	if err != nil {
		return VLANHeader{}, ErrTruncated
	}
	return VLANHeader{b: b}, nil
}

func (h VLANHeader) TCI() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }
func (h VLANHeader) SetTCI(v uint16) {
	binary.BigEndian.PutUint16(h.b[0:2], v)
}

func (h VLANHeader) InnerEtherType() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h VLANHeader) SetInnerEtherType(t uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], t)
}
