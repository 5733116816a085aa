package packet

import "encoding/binary"

const ICMPHeaderLen = 8

// ICMP types/codes this datapath inspects or synthesizes.
const (
	ICMPEchoReply        = 0
	ICMPDestUnreachable  = 3
	ICMPEcho             = 8
	ICMPTimeExceeded     = 11
	ICMPTimestamp        = 13
	ICMPTimestampReply   = 14
	ICMPCodeFragNeeded   = 4
)

// ICMPHeader is an 8-byte view: type, code, checksum, and a 4-byte union
// that is either the echo/timestamp identifier+sequence or the
// dest-unreachable "unused + next-hop MTU" fields.
type ICMPHeader struct{ b []byte }

func ParseICMP(c *cursor) (ICMPHeader, error) {
	b, err := c.take(ICMPHeaderLen)
	if err != nil {
		return ICMPHeader{}, ErrTruncated
	}
	return ICMPHeader{b: b}, nil
}

func (h ICMPHeader) Type() uint8     { return h.b[0] }
func (h ICMPHeader) SetType(t uint8) { h.b[0] = t }
func (h ICMPHeader) Code() uint8     { return h.b[1] }
func (h ICMPHeader) SetCode(c uint8) { h.b[1] = c }

func (h ICMPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h ICMPHeader) SetChecksum(v uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], v)
}

// EchoID / EchoSeq are meaningful when Type is Echo/EchoReply/Timestamp/
// TimestampReply.
func (h ICMPHeader) EchoID() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }
func (h ICMPHeader) SetEchoID(id uint16) {
	binary.BigEndian.PutUint16(h.b[4:6], id)
}
func (h ICMPHeader) EchoSeq() uint16 { return binary.BigEndian.Uint16(h.b[6:8]) }

// SetFragMTU writes the next-hop MTU field used by Dest-Unreachable/
// Fragmentation-Needed messages (un.frag.mtu in the source).
func (h ICMPHeader) SetFragMTU(mtu uint16) {
	binary.BigEndian.PutUint16(h.b[6:8], mtu)
	binary.BigEndian.PutUint16(h.b[4:6], 0)
}

func (h ICMPHeader) Bytes() []byte { return h.b }
