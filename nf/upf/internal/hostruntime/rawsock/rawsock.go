// Package rawsock implements hostruntime.HostRuntime against the real
// Linux kernel: FIB lookups go over an AF_NETLINK route-get socket, MAC
// resolution over a neighbor-get socket, and the no-neighbor/control-plane
// notifications are plain buffered channels a caller drains the same way
// it would drain a BPF ring buffer. Grounded on the teacher's AF_NETLINK
// usage patterns and dantte-lp-gobfd/internal/netio's raw-socket-option
// idiom (SetsockoptInt over a syscall.RawConn), generalized from UDP
// transport options to netlink request/response framing.
package rawsock

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/hostruntime"
)

// Runtime is the production HostRuntime: every FIBLookup issues a fresh
// RTM_GETROUTE/RTM_GETNEIGH exchange against the kernel's own tables,
// so routing changes made outside this process take effect immediately.
type Runtime struct {
	noNeighborCh   chan []byte
	controlPlaneCh chan hostruntime.ControlPlaneNotification
	seq            atomic.Uint32
}

// NewRuntime builds the runtime; it opens no socket itself, since every
// lookup opens its own netlink socket in netlinkRoundTrip. ringDepth sizes
// the notification channels; a full channel drops the notification rather
// than blocking the datapath, mirroring a BPF ring buffer under backpressure.
func NewRuntime(ringDepth int) (*Runtime, error) {
	return &Runtime{
		noNeighborCh:   make(chan []byte, ringDepth),
		controlPlaneCh: make(chan hostruntime.ControlPlaneNotification, ringDepth),
	}, nil
}

// NoNeighborCh streams dstIP values that resolved to a route with no
// cached neighbor entry.
func (r *Runtime) NoNeighborCh() <-chan []byte { return r.noNeighborCh }

// ControlPlaneCh streams the notifications a FAR with FARBuff or FARNocp set raised.
func (r *Runtime) ControlPlaneCh() <-chan hostruntime.ControlPlaneNotification {
	return r.controlPlaneCh
}

// FIBLookup implements hostruntime.HostRuntime against the kernel's IPv4
// routing table, then resolves the next hop's link-layer address from the
// neighbor table.
func (r *Runtime) FIBLookup(p hostruntime.FIBParams) (hostruntime.FIBLookupResult, error) {
	if len(p.DstIP) != 4 {
		return hostruntime.FIBLookupResult{}, fmt.Errorf("rawsock: only IPv4 lookups are supported")
	}

	route, err := r.getRoute(p.DstIP)
	if err != nil {
		return hostruntime.FIBLookupResult{Result: hostruntime.FIBUnreachable}, nil
	}

	res := hostruntime.FIBLookupResult{
		EgressIfindex: route.oifindex,
	}
	if iface, err := net.InterfaceByIndex(route.oifindex); err == nil {
		res.MTU = iface.MTU
	}
	if p.ResolveSrcAddr && route.prefSrc != nil {
		res.SrcIP = route.prefSrc
	}

	nextHop := route.gateway
	if nextHop == nil {
		nextHop = p.DstIP
	}

	mac, egressMAC, ok := r.getNeighbor(nextHop, route.oifindex)
	if !ok {
		res.Result = hostruntime.FIBNoNeigh
		return res, nil
	}

	res.Result = hostruntime.FIBSuccess
	res.DstMAC = mac
	res.SrcMAC = egressMAC
	return res, nil
}

// NotifyNoNeighbor implements hostruntime.HostRuntime.
func (r *Runtime) NotifyNoNeighbor(dstIP []byte) {
	cp := make([]byte, len(dstIP))
	copy(cp, dstIP)
	select {
	case r.noNeighborCh <- cp:
	default:
	}
}

// NotifyControlPlane implements hostruntime.HostRuntime.
func (r *Runtime) NotifyControlPlane(localSEID uint64, pdrID uint32, qfi uint8) {
	select {
	case r.controlPlaneCh <- hostruntime.ControlPlaneNotification{LocalSEID: localSEID, PDRID: pdrID, QFI: qfi}:
	default:
	}
}

type routeInfo struct {
	oifindex int
	gateway  []byte
	prefSrc  []byte
}

// getRoute issues a single RTM_GETROUTE request for dst and parses the
// kernel's response, following the rtnetlink request/response framing
// described in netlink(7) and rtnetlink(7).
func (r *Runtime) getRoute(dst []byte) (routeInfo, error) {
	req := newRouteGetRequest(dst, r.seq.Add(1))
	reply, err := netlinkRoundTrip(unix.NETLINK_ROUTE, req)
	if err != nil {
		return routeInfo{}, err
	}
	return parseRouteReply(reply)
}

// getNeighbor resolves nextHop's link-layer address via RTM_GETNEIGH, and
// reports the egress interface's own MAC (read from sysfs, not netlink) as
// the new frame's source address.
func (r *Runtime) getNeighbor(nextHop []byte, oifindex int) (dstMAC, srcMAC [6]byte, ok bool) {
	iface, err := net.InterfaceByIndex(oifindex)
	if err != nil {
		return dstMAC, srcMAC, false
	}
	copy(srcMAC[:], iface.HardwareAddr)

	req := newNeighGetRequest(nextHop, oifindex, r.seq.Add(1))
	reply, err := netlinkRoundTrip(unix.NETLINK_ROUTE, req)
	if err != nil {
		return dstMAC, srcMAC, false
	}
	mac, found := parseNeighReply(reply, nextHop)
	if !found {
		return dstMAC, srcMAC, false
	}
	copy(dstMAC[:], mac)
	return dstMAC, srcMAC, true
}

// netlinkRoundTrip opens a fresh netlink socket for one request/response
// exchange. A connectionless request-per-call socket avoids any shared
// sequence-number bookkeeping across concurrent lookups from different
// pipeline workers.
func netlinkRoundTrip(proto int, req []byte) ([]byte, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, proto)
	if err != nil {
		return nil, fmt.Errorf("rawsock: open netlink socket: %w", err)
	}
	defer unix.Close(fd)

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return nil, fmt.Errorf("rawsock: bind netlink socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK}
	if err := unix.Sendto(fd, req, 0, sa); err != nil {
		return nil, fmt.Errorf("rawsock: netlink send: %w", err)
	}

	_ = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &unix.Timeval{Sec: 1})

	buf := make([]byte, 8192)
	n, _, err := unix.Recvfrom(fd, buf, 0)
	if err != nil {
		return nil, fmt.Errorf("rawsock: netlink recv: %w", err)
	}
	return buf[:n], nil
}

const (
	rtmGetRoute = 26
	rtmGetNeigh = 30

	nlmFRequest = 0x01

	rtaDst    = 1
	rtaOif    = 4
	rtaGW     = 5
	rtaPrefSrc = 7

	ndaDst = 1
	ndaLLAddr = 2
)

func nlmsgAlign(n int) int { return (n + 3) &^ 3 }

// newRouteGetRequest builds an RTM_GETROUTE request carrying dst as an
// RTA_DST attribute, per rtnetlink(7)'s struct rtmsg framing.
func newRouteGetRequest(dst []byte, seq uint32) []byte {
	const rtmsgLen = 12
	hdrLen := nlmsgAlign(16)
	attr := encodeAttr(rtaDst, dst)
	total := hdrLen + nlmsgAlign(rtmsgLen) + len(attr)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(rtmGetRoute))
	binary.LittleEndian.PutUint16(buf[6:8], nlmFRequest)
	binary.LittleEndian.PutUint32(buf[8:12], seq)

	rtm := buf[hdrLen:]
	rtm[0] = unix.AF_INET
	rtm[1] = 32 // dst_len: host route lookup

	copy(buf[hdrLen+nlmsgAlign(rtmsgLen):], attr)
	return buf
}

// newNeighGetRequest builds an RTM_GETNEIGH dump-style request; the kernel
// returns every neighbor entry on oifindex and parseNeighReply picks the
// one matching nextHop.
func newNeighGetRequest(nextHop []byte, oifindex int, seq uint32) []byte {
	const ndmsgLen = 8
	hdrLen := nlmsgAlign(16)
	total := hdrLen + nlmsgAlign(ndmsgLen)

	buf := make([]byte, total)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(total))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(rtmGetNeigh))
	binary.LittleEndian.PutUint16(buf[6:8], nlmFRequest|0x100) // NLM_F_ROOT: dump
	binary.LittleEndian.PutUint32(buf[8:12], seq)

	ndm := buf[hdrLen:]
	ndm[0] = unix.AF_INET
	binary.LittleEndian.PutUint32(ndm[4:8], uint32(oifindex))
	return buf
}

func encodeAttr(rtype int, data []byte) []byte {
	alen := nlmsgAlign(4 + len(data))
	b := make([]byte, alen)
	binary.LittleEndian.PutUint16(b[0:2], uint16(4+len(data)))
	binary.LittleEndian.PutUint16(b[2:4], uint16(rtype))
	copy(b[4:], data)
	return b
}

// parseRouteReply walks an RTM_NEWROUTE response's attribute list, per
// netlink(7)'s NLMSG_* iteration rules.
func parseRouteReply(msg []byte) (routeInfo, error) {
	if len(msg) < 16+12 {
		return routeInfo{}, fmt.Errorf("rawsock: route reply too short")
	}
	msgType := binary.LittleEndian.Uint16(msg[4:6])
	if msgType == unix.NLMSG_ERROR {
		return routeInfo{}, fmt.Errorf("rawsock: netlink error reply")
	}

	var info routeInfo
	payload := msg[16+12:]
	for len(payload) >= 4 {
		alen := int(binary.LittleEndian.Uint16(payload[0:2]))
		atype := binary.LittleEndian.Uint16(payload[2:4]) &^ 0x4000
		if alen < 4 || alen > len(payload) {
			break
		}
		data := payload[4:alen]
		switch int(atype) {
		case rtaOif:
			if len(data) >= 4 {
				info.oifindex = int(binary.LittleEndian.Uint32(data))
			}
		case rtaGW:
			info.gateway = append([]byte(nil), data...)
		case rtaPrefSrc:
			info.prefSrc = append([]byte(nil), data...)
		}
		payload = payload[nlmsgAlign(alen):]
	}
	if info.oifindex == 0 {
		return routeInfo{}, fmt.Errorf("rawsock: route reply missing oif")
	}
	return info, nil
}

// parseNeighReply scans a (possibly multi-message) RTM_GETNEIGH dump and
// returns the NDA_LLADDR of the entry whose NDA_DST equals nextHop.
func parseNeighReply(msg []byte, nextHop []byte) ([]byte, bool) {
	offset := 0
	for offset+16 <= len(msg) {
		msgLen := int(binary.LittleEndian.Uint32(msg[offset : offset+4]))
		if msgLen < 16 || offset+msgLen > len(msg) {
			break
		}
		payload := msg[offset+16+8 : offset+msgLen]
		var dst, lladdr []byte
		for len(payload) >= 4 {
			alen := int(binary.LittleEndian.Uint16(payload[0:2]))
			atype := binary.LittleEndian.Uint16(payload[2:4])
			if alen < 4 || alen > len(payload) {
				break
			}
			switch int(atype) {
			case ndaDst:
				dst = payload[4:alen]
			case ndaLLAddr:
				lladdr = payload[4:alen]
			}
			payload = payload[nlmsgAlign(alen):]
		}
		if lladdr != nil && net.IP(dst).Equal(net.IP(nextHop)) {
			return append([]byte(nil), lladdr...), true
		}
		offset += nlmsgAlign(msgLen)
	}
	return nil, false
}
