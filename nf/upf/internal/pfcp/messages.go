package pfcp

import "encoding/binary"

// Cause IE values this UPF reports (3GPP TS 29.244 §8.2.1).
const (
	causeRequestAccepted uint8 = 1
	causeRequestRejected uint8 = 64
)

func putSeq(b []byte, seq uint32) {
	b[0] = byte(seq >> 16)
	b[1] = byte(seq >> 8)
	b[2] = byte(seq)
}

func putCauseIE(b []byte, cause uint8) {
	binary.BigEndian.PutUint16(b[0:2], ieCause)
	binary.BigEndian.PutUint16(b[2:4], 1)
	b[4] = cause
}

func (s *Server) nextSeq() uint32 {
	return s.sequenceNum.Add(1)
}

func (s *Server) buildHeartbeatResponse(seq uint32) []byte {
	msg := make([]byte, 8)
	msg[0] = 0x20
	msg[1] = msgHeartbeatResponse
	binary.BigEndian.PutUint16(msg[2:4], 4)
	putSeq(msg[4:8], seq)
	return msg
}

func (s *Server) buildHeartbeatRequest() []byte {
	msg := make([]byte, 8)
	msg[0] = 0x20
	msg[1] = msgHeartbeatRequest
	binary.BigEndian.PutUint16(msg[2:4], 4)
	putSeq(msg[4:8], s.nextSeq())
	return msg
}

func (s *Server) buildAssociationSetupResponse(seq uint32) []byte {
	msg := make([]byte, 13)
	msg[0] = 0x20
	msg[1] = msgAssociationSetupResponse
	binary.BigEndian.PutUint16(msg[2:4], 9)
	putSeq(msg[4:8], seq)
	putCauseIE(msg[8:13], causeRequestAccepted)
	return msg
}

func (s *Server) buildSessionEstablishmentResponse(seq uint32, localSEID uint64, cause uint8) []byte {
	msg := make([]byte, 16+5)
	msg[0] = 0x21 // S flag set
	msg[1] = msgSessionEstablishmentRsp
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)-4))
	binary.BigEndian.PutUint64(msg[4:12], localSEID)
	putSeq(msg[12:16], seq)
	putCauseIE(msg[16:21], cause)
	return msg
}

func (s *Server) buildSessionModificationResponse(seq uint32, seid uint64, cause uint8) []byte {
	msg := make([]byte, 16+5)
	msg[0] = 0x21
	msg[1] = msgSessionModificationRsp
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)-4))
	binary.BigEndian.PutUint64(msg[4:12], seid)
	putSeq(msg[12:16], seq)
	putCauseIE(msg[16:21], cause)
	return msg
}

func (s *Server) buildSessionDeletionResponse(seq uint32, seid uint64) []byte {
	msg := make([]byte, 16+5)
	msg[0] = 0x21
	msg[1] = msgSessionDeletionRsp
	binary.BigEndian.PutUint16(msg[2:4], uint16(len(msg)-4))
	binary.BigEndian.PutUint64(msg[4:12], seid)
	putSeq(msg[12:16], seq)
	putCauseIE(msg[16:21], causeRequestAccepted)
	return msg
}
