package packet

import "encoding/binary"

const (
	GTPUHeaderLen = 8

	// GTP-U message types (3GPP TS 29.281).
	GTPUEchoRequest            = 1
	GTPUEchoResponse           = 2
	GTPUErrorIndication        = 26
	GTPUEndMarker              = 254
	GTPUGPDU                   = 255

	// ExtHeaderPDUSessionContainer is the "PDU Session Container" extension
	// header type (0x85) carrying the QFI on the N3 leg.
	ExtHeaderPDUSessionContainer = 0x85
	ExtHeaderNone                = 0x00

	// PDUTypeDownlink / PDUTypeUplink tag the direction inside the PDU
	// Session Container.
	PDUTypeDownlink = 0
	PDUTypeUplink   = 1
)

// GTPUHeader is a view over the mandatory 8-byte GTP-U header plus, when any
// of the E/S/PN flags is set, the 4 optional bytes (sequence number, N-PDU
// number, next extension header type) immediately following it.
type GTPUHeader struct {
	b       []byte // mandatory 8 bytes
	opt     []byte // optional 4 bytes, nil if absent
	extType uint8  // next extension header type, 0 if none
	qfi     uint8
	hasQFI  bool
}

// ParseGTPU consumes the GTP-U header (and any PDU Session Container
// extension header) from the cursor, positioning it at the start of the
// inner IP packet on return.
func ParseGTPU(c *cursor) (GTPUHeader, error) {
	b, err := c.take(GTPUHeaderLen)
	if err != nil {
		return GTPUHeader{}, ErrTruncated
	}
	h := GTPUHeader{b: b}

	if b[0]&0x07 != 0 {
		opt, err := c.take(4)
		if err != nil {
			return GTPUHeader{}, ErrTruncated
		}
		h.opt = opt
		h.extType = opt[3]

		for h.extType != ExtHeaderNone {
			lenByte, err := c.peek(1)
			if err != nil {
				return GTPUHeader{}, ErrTruncated
			}
			extLen := int(lenByte[0]) * 4
			if extLen < 4 {
				return GTPUHeader{}, ErrTruncated
			}
			ext, err := c.take(extLen)
			if err != nil {
				return GTPUHeader{}, ErrTruncated
			}
			if h.extType == ExtHeaderPDUSessionContainer && extLen >= 4 {
				h.qfi = ext[2] & 0x3F
				h.hasQFI = true
			}
			h.extType = ext[extLen-1]
		}
	}

	return h, nil
}

func (h GTPUHeader) Flags() uint8       { return h.b[0] }
func (h GTPUHeader) MessageType() uint8 { return h.b[1] }
func (h GTPUHeader) SetMessageType(t uint8) { h.b[1] = t }
func (h GTPUHeader) Length() uint16     { return binary.BigEndian.Uint16(h.b[2:4]) }
func (h GTPUHeader) SetLength(v uint16) {
	binary.BigEndian.PutUint16(h.b[2:4], v)
}

// TEID reads the tunnel endpoint ID in host byte order, as the datapath
// uses it for table lookups.
func (h GTPUHeader) TEID() uint32 { return binary.BigEndian.Uint32(h.b[4:8]) }
func (h GTPUHeader) SetTEID(t uint32) {
	binary.BigEndian.PutUint32(h.b[4:8], t)
}

// SequenceNumber reads the optional sequence number, preserved verbatim on
// echo replies.
func (h GTPUHeader) SequenceNumber() uint16 {
	if h.opt == nil {
		return 0
	}
	return binary.BigEndian.Uint16(h.opt[0:2])
}

// QFI reports the QoS Flow Identifier carried in a PDU Session Container
// extension header, if present.
func (h GTPUHeader) QFI() (qfi uint8, ok bool) { return h.qfi, h.hasQFI }

func (h GTPUHeader) Bytes() []byte { return h.b }

// BuildGPDUHeader writes a mandatory 8-byte GTP-U G-PDU header (no optional
// fields, no extensions) into dst, which must be GTPUHeaderLen bytes.
func BuildGPDUHeader(dst []byte, teid uint32, payloadLen uint16) {
	dst[0] = 0x30 // version 1, PT=1, no E/S/PN
	dst[1] = GTPUGPDU
	binary.BigEndian.PutUint16(dst[2:4], payloadLen)
	binary.BigEndian.PutUint32(dst[4:8], teid)
}

// BuildPDUSessionContainer writes the 4-byte PDU Session Container
// extension header (length=1, i.e. 4 octets) carrying qfi, with no further
// extension header chained after it. dst must be 4 bytes.
func BuildPDUSessionContainer(dst []byte, pduType uint8, qfi uint8) {
	dst[0] = 1 // length in 4-byte units
	dst[1] = (pduType & 0x0F) << 4
	dst[2] = qfi & 0x3F
	dst[3] = ExtHeaderNone
}
