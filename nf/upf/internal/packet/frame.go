package packet

// ParseFrame decodes a full Ethernet frame into a fresh Context: the
// Ethernet header, an optional VLAN tag, IPv4/IPv6, and the L4 header.
// When the L4 header is UDP on the GTP-U port, it continues past the
// GTP-U header (capturing it in ctx.GTPU) into the encapsulated packet,
// re-populating ctx.IP4/ctx.UDP/ctx.TCP/ctx.ICMP with the inner headers —
// the datapath only ever needs the tunnel header for its TEID and for
// locating where the inner packet starts, never as a forwarding target in
// its own right. ctx.innerOffset records that split point so a later
// decapsulation step knows exactly how many bytes of outer header to
// strip. A non-IP EtherType (ARP, unsupported) leaves ctx.IP4/ctx.IP6 nil,
// and a GTP-U control message (echo, error indication) leaves ctx.IP4 on
// the outer IPv4 header with ctx.GTPU set and nothing past it parsed;
// neither is an error, and callers decide how to dispose of such frames.
func ParseFrame(buf []byte, ingress Interface) (*Context, error) {
	ctx := NewContext(buf, ingress)
	c := newCursor(buf)

	eth, err := ParseEthernet(c)
	if err != nil {
		return nil, err
	}
	ctx.Eth = eth

	etherType := eth.EtherType()
	if etherType == EthTypeVLAN {
		vlan, err := ParseVLAN(c)
		if err != nil {
			return nil, err
		}
		ctx.VLAN = &vlan
		etherType = vlan.InnerEtherType()
	}

	switch etherType {
	case EthTypeIPv4:
		if err := parseIPv4AndL4(ctx, c); err != nil {
			return nil, err
		}
	case EthTypeIPv6:
		if err := parseIPv6AndL4(ctx, c); err != nil {
			return nil, err
		}
	}

	return ctx, nil
}

// parseIPv6AndL4 decodes the fixed IPv6 header and, for UDP/TCP/ICMPv6,
// its immediate L4 header. Unlike the IPv4 path this never recurses into
// GTP-U: the datapath's tunnel header is always carried over an IPv4 outer
// packet (spec Non-goal on an IPv6 outer encapsulation), so an IPv6 frame
// is always either a downlink PDU toward a UE with an IPv6 address or a
// plain pass-through packet, never a tunnel to decapsulate.
func parseIPv6AndL4(ctx *Context, c *cursor) error {
	ip6, err := ParseIPv6(c)
	if err != nil {
		return err
	}
	ctx.IP6 = &ip6

	switch ip6.NextHeader() {
	case ProtoUDP:
		udp, err := ParseUDP(c)
		if err != nil {
			return err
		}
		ctx.UDP = &udp
	case ProtoTCP:
		tcp, err := ParseTCP(c)
		if err != nil {
			return err
		}
		ctx.TCP = &tcp
	case ProtoICMPv6:
		icmp, err := ParseICMP(c)
		if err != nil {
			return err
		}
		ctx.ICMP = &icmp
		ctx.ICMPPayload = c.rest()
	}

	return nil
}

func parseIPv4AndL4(ctx *Context, c *cursor) error {
	ip4, err := ParseIPv4(c)
	if err != nil {
		return err
	}
	ctx.IP4 = &ip4

	switch ip4.Protocol() {
	case ProtoUDP:
		udp, err := ParseUDP(c)
		if err != nil {
			return err
		}
		ctx.UDP = &udp

		if udp.DstPort() == gtpUDPPort {
			gtp, err := ParseGTPU(c)
			if err != nil {
				return err
			}
			ctx.GTPU = &gtp
			ctx.UDP = nil

			if gtp.MessageType() != GTPUGPDU {
				return nil
			}

			first, err := c.peek(1)
			if err != nil {
				return err
			}
			innerType, ok := GuessEthProtocol(first[0])
			if !ok || innerType != EthTypeIPv4 {
				return nil
			}
			ctx.innerOffset = c.offset()
			return parseIPv4AndL4(ctx, c)
		}

	case ProtoTCP:
		tcp, err := ParseTCP(c)
		if err != nil {
			return err
		}
		ctx.TCP = &tcp

	case ProtoICMP:
		icmp, err := ParseICMP(c)
		if err != nil {
			return err
		}
		ctx.ICMP = &icmp
		ctx.ICMPPayload = c.rest()
	}

	return nil
}

// gtpUDPPort is the well-known GTP-U UDP port (3GPP TS 29.281).
const gtpUDPPort = 2152

// InnerOffset reports the byte offset in ctx.Buf where the GTP-U payload
// begins, valid only when ctx.GTPU is non-nil.
func (ctx *Context) InnerOffset() int { return ctx.innerOffset }
