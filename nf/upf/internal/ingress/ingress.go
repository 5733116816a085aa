// Package ingress runs the AF_PACKET read loops that feed whole Ethernet
// frames into pipeline.Pipeline and write its verdicts back out. One
// Worker owns one ingress interface (N3 or N6); main wires a pair of them
// against each other since spec.md's topology is the hard-wired N3<->N6
// bridge the router package already assumes. Grounded on dantte-lp-gobfd's
// raw-socket-option idiom (SetsockoptInt over a bound fd), generalized
// from UDP/BFD framing to AF_PACKET whole-frame capture.
package ingress

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/action"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/packet"
	"github.com/fiveg-edge/upf-datapath/nf/upf/internal/pipeline"
)

const maxFrameLen = 9216

// Worker reads every frame arriving on one interface and drives it through
// the pipeline, transmitting TX/Redirect verdicts out of the interface the
// router resolved.
type Worker struct {
	fd        int
	ifindex   int
	side      packet.Interface
	pipe      *pipeline.Pipeline
	shardIdx  int
	egressFDs map[int]int // ifindex -> raw socket fd, shared across workers
}

// NewWorker opens an AF_PACKET socket bound to ifindex and listening for
// every EtherType.
func NewWorker(ifindex int, side packet.Interface, pipe *pipeline.Pipeline, shardIdx int, egressFDs map[int]int) (*Worker, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("ingress: open AF_PACKET socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifindex}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("ingress: bind to ifindex %d: %w", ifindex, err)
	}
	return &Worker{fd: fd, ifindex: ifindex, side: side, pipe: pipe, shardIdx: shardIdx, egressFDs: egressFDs}, nil
}

// Run reads frames until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	buf := make([]byte, maxFrameLen)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, err := unix.Recvfrom(w.fd, buf, 0)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		out, result := w.pipe.Process(frame, w.side, w.shardIdx, nowNS())
		switch result.Action {
		case action.TX:
			w.transmit(w.ifindex, out)
		case action.Redirect:
			w.transmit(result.EgressIfindex, out)
		}
	}
}

// Close releases the worker's socket.
func (w *Worker) Close() error {
	return unix.Close(w.fd)
}

// OpenRawSocket opens an unbound AF_PACKET socket suitable for
// transmit-only use: Sendto targets an interface per-call via
// SockaddrLinklayer.Ifindex, so one such fd serves every egress interface.
func OpenRawSocket() (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return 0, fmt.Errorf("ingress: open AF_PACKET socket: %w", err)
	}
	return fd, nil
}

func (w *Worker) transmit(ifindex int, frame []byte) {
	fd, ok := w.egressFDs[ifindex]
	if !ok {
		return
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: ifindex}
	_ = unix.Sendto(fd, frame, 0, sa)
}

// htons converts a 16-bit value to network byte order, matching struct
// sockaddr_ll's sll_protocol field (packet(7)).
func htons(v int) uint16 {
	b := make([]byte, 2)
	binary.BigEndian.PutUint16(b, uint16(v))
	return binary.LittleEndian.Uint16(b)
}

func nowNS() int64 {
	var ts unix.Timespec
	_ = unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts)
	return ts.Sec*1e9 + ts.Nsec
}
