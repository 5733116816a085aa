// Package pfcp implements the N4 control-plane agent's narrow write
// interface into rules.Tables (spec.md §1's "external collaborator"),
// adapted from the teacher's ad hoc UPFSession-based PFCP server into a
// real 3GPP TS 29.244 Information Element decoder that writes PDR/FAR/
// QER/URR rules the datapath actually consults.
package pfcp

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/config"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/metrics"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/rules"
)

// PFCP message types (3GPP TS 29.244 §7.2).
const (
	msgHeartbeatRequest            = 1
	msgHeartbeatResponse           = 2
	msgAssociationSetupRequest     = 5
	msgAssociationSetupResponse    = 6
	msgSessionEstablishmentRequest = 50
	msgSessionEstablishmentRsp     = 51
	msgSessionModificationRequest  = 52
	msgSessionModificationRsp      = 53
	msgSessionDeletionRequest      = 54
	msgSessionDeletionRsp          = 55
)

// header is a decoded PFCP message header (3GPP TS 29.244 §7.2.2).
type header struct {
	Version     uint8
	MessageType uint8
	HasSEID     bool
	SEID        uint64
	SeqNum      uint32
}

func parseHeader(data []byte) (header, []byte, error) {
	if len(data) < 4 {
		return header{}, nil, fmt.Errorf("pfcp: header too short")
	}
	h := header{
		Version:     data[0] >> 5,
		MessageType: data[1],
		HasSEID:     data[0]&0x01 != 0,
	}
	rest := data[4:]
	if h.HasSEID {
		if len(rest) < 12 {
			return header{}, nil, fmt.Errorf("pfcp: SEID header too short")
		}
		h.SEID = binary.BigEndian.Uint64(rest[0:8])
		h.SeqNum = uint32(rest[8])<<16 | uint32(rest[9])<<8 | uint32(rest[10])
		return h, rest[12:], nil
	}
	if len(rest) < 4 {
		return header{}, nil, fmt.Errorf("pfcp: header too short")
	}
	h.SeqNum = uint32(rest[0])<<16 | uint32(rest[1])<<8 | uint32(rest[2])
	return h, rest[4:], nil
}

// Server handles the N4/PFCP protocol and writes into rules.Tables.
type Server struct {
	config *config.Config
	tables *rules.Tables
	logger *zap.Logger

	conn *net.UDPConn

	mu          sync.Mutex
	smfAddr     *net.UDPAddr
	sessions    map[uint64]*sessionState // keyed by our own local SEID
	nextSEID    atomic.Uint64
	sequenceNum atomic.Uint32
}

// NewServer constructs a PFCP server that installs rules into tables.
func NewServer(cfg *config.Config, tables *rules.Tables, logger *zap.Logger) *Server {
	return &Server{
		config:   cfg,
		tables:   tables,
		logger:   logger,
		sessions: make(map[uint64]*sessionState),
	}
}

// Start runs the PFCP server until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", s.config.GetPFCPAddress())
	if err != nil {
		return fmt.Errorf("pfcp: resolve address: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("pfcp: listen: %w", err)
	}
	s.conn = conn

	s.logger.Info("pfcp server started",
		zap.String("address", s.config.GetPFCPAddress()),
		zap.String("node_id", s.config.PFCP.NodeID))

	go s.receiveLoop(ctx)
	go s.heartbeatLoop(ctx)

	<-ctx.Done()
	return conn.Close()
}

func (s *Server) receiveLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("pfcp read failed", zap.Error(err))
			continue
		}
		s.handle(buf[:n], addr)
	}
}

func (s *Server) handle(data []byte, addr *net.UDPAddr) {
	h, body, err := parseHeader(data)
	if err != nil {
		s.logger.Warn("pfcp malformed message", zap.Error(err))
		return
	}

	metrics.RecordPFCPMessage(messageTypeName(h.MessageType))

	switch h.MessageType {
	case msgHeartbeatRequest:
		s.reply(s.buildHeartbeatResponse(h.SeqNum), addr)
	case msgAssociationSetupRequest:
		s.mu.Lock()
		s.smfAddr = addr
		s.mu.Unlock()
		s.reply(s.buildAssociationSetupResponse(h.SeqNum), addr)
		s.logger.Info("pfcp association established", zap.String("smf", addr.String()))
	case msgSessionEstablishmentRequest:
		s.handleSessionEstablishment(h, body, addr)
	case msgSessionModificationRequest:
		s.handleSessionModification(h, body, addr)
	case msgSessionDeletionRequest:
		s.handleSessionDeletion(h, addr)
	default:
		s.logger.Warn("pfcp unsupported message type", zap.Uint8("type", h.MessageType))
	}
}

func messageTypeName(t uint8) string {
	switch t {
	case msgHeartbeatRequest:
		return "heartbeat_request"
	case msgAssociationSetupRequest:
		return "association_setup_request"
	case msgSessionEstablishmentRequest:
		return "session_establishment_request"
	case msgSessionModificationRequest:
		return "session_modification_request"
	case msgSessionDeletionRequest:
		return "session_deletion_request"
	default:
		return "unknown"
	}
}

func (s *Server) handleSessionEstablishment(h header, body []byte, addr *net.UDPAddr) {
	ies, err := parseIEs(body)
	if err != nil {
		s.logger.Error("pfcp session establishment decode failed", zap.Error(err))
		return
	}

	localSEID := s.nextSEID.Add(1)
	sess := newSessionState(localSEID)

	if err := installSession(s.tables, ies, localSEID, 0, nowNS()); err != nil {
		s.logger.Error("pfcp session establishment rule install failed", zap.Error(err))
		metrics.RecordPFCPSessionEstablishment("rejected")
		s.reply(s.buildSessionEstablishmentResponse(h.SeqNum, 0, causeRequestRejected), addr)
		return
	}
	sess.trackCreate(ies)

	s.mu.Lock()
	s.sessions[localSEID] = sess
	s.mu.Unlock()

	metrics.RecordPFCPSessionEstablishment("accepted")
	metrics.SetActiveSessions(len(s.sessions))
	s.logger.Info("pfcp session established", zap.Uint64("local_seid", localSEID))
	s.reply(s.buildSessionEstablishmentResponse(h.SeqNum, localSEID, causeRequestAccepted), addr)
}

func (s *Server) handleSessionModification(h header, body []byte, addr *net.UDPAddr) {
	s.mu.Lock()
	sess, ok := s.sessions[h.SEID]
	s.mu.Unlock()
	if !ok {
		s.logger.Warn("pfcp modification for unknown session", zap.Uint64("seid", h.SEID))
		s.reply(s.buildSessionModificationResponse(h.SeqNum, h.SEID, causeRequestRejected), addr)
		return
	}

	ies, err := parseIEs(body)
	if err != nil {
		s.logger.Error("pfcp session modification decode failed", zap.Error(err))
		s.reply(s.buildSessionModificationResponse(h.SeqNum, h.SEID, causeRequestRejected), addr)
		return
	}

	removeSession(s.tables, ies, sess)
	if err := installSession(s.tables, ies, h.SEID, 0, nowNS()); err != nil {
		s.logger.Error("pfcp session modification rule install failed", zap.Error(err))
		s.reply(s.buildSessionModificationResponse(h.SeqNum, h.SEID, causeRequestRejected), addr)
		return
	}
	sess.trackCreate(ies)

	s.logger.Info("pfcp session modified", zap.Uint64("seid", h.SEID))
	s.reply(s.buildSessionModificationResponse(h.SeqNum, h.SEID, causeRequestAccepted), addr)
}

func (s *Server) handleSessionDeletion(h header, addr *net.UDPAddr) {
	s.mu.Lock()
	sess, ok := s.sessions[h.SEID]
	delete(s.sessions, h.SEID)
	remaining := len(s.sessions)
	s.mu.Unlock()

	if ok {
		sess.teardown(s.tables)
	}
	metrics.SetActiveSessions(remaining)

	s.logger.Info("pfcp session deleted", zap.Uint64("seid", h.SEID))
	s.reply(s.buildSessionDeletionResponse(h.SeqNum, h.SEID), addr)
}

func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			smf := s.smfAddr
			s.mu.Unlock()
			if smf != nil {
				s.reply(s.buildHeartbeatRequest(), smf)
			}
		}
	}
}

func (s *Server) reply(msg []byte, addr *net.UDPAddr) {
	if _, err := s.conn.WriteToUDP(msg, addr); err != nil {
		s.logger.Error("pfcp send failed", zap.Error(err))
	}
}

// nowNS isolates the one non-deterministic call this package makes, so the
// session-install code paths stay otherwise pure and testable.
func nowNS() int64 { return time.Now().UnixNano() }
