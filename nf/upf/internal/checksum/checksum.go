// Package checksum implements the three one's-complement checksum
// operations the datapath needs: a full recompute, and incremental updates
// for a 32-bit and a 16-bit word substitution (RFC 1624). All three work on
// values in network byte order, matching the source datapath's
// ipv4_csum/ipv4_csum_update_u32/ipv4_csum_update_u16 helpers.
package checksum

import "encoding/binary"

// swap16 reverses the byte order of a 16-bit value — the Go equivalent of
// bpf_htons/bpf_ntohs, which on every little-endian deployment target is
// exactly a byte swap.
func swap16(v uint16) uint16 {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return binary.BigEndian.Uint16(b[:])
}

// swap32 reverses the byte order of a 32-bit value — the Go equivalent of
// bpf_htonl/bpf_ntohl.
func swap32(v uint32) uint32 {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return binary.BigEndian.Uint32(b[:])
}

// fold reduces a 32-bit accumulated one's-complement sum to its final
// 16-bit checksum.
func fold(sum uint32) uint16 {
	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}
	return ^uint16(sum)
}

// Compute performs a full one's-complement checksum over data, as used for
// the IPv4 header checksum and for ICMP message recomputation. data's
// length may be odd; a trailing byte is treated as the high byte of a
// padded 16-bit word.
func Compute(data []byte) uint16 {
	var sum uint32
	n := len(data)
	i := 0
	for ; i+1 < n; i += 2 {
		sum += uint32(binary.BigEndian.Uint16(data[i : i+2]))
	}
	if i < n {
		sum += uint32(data[i]) << 8
	}
	return fold(sum)
}

// UpdateU32 incrementally patches checksum csum for a 32-bit field
// substitution (e.g. an IPv4 address), without re-scanning the header that
// carries it. csum, orig and new are all in the host representation
// produced by encoding/binary (i.e. what ParseIPv4's SrcU32/DstU32 return).
func UpdateU32(csum uint16, orig, new uint32) uint16 {
	nboOrig := swap32(orig)
	nboNew := swap32(new)
	sum := uint32(swap16(csum))

	sum = (^sum) & 0xFFFF
	sum += (^(nboOrig >> 16)) & 0xFFFF
	sum += (^nboOrig) & 0xFFFF
	sum += (nboNew >> 16) & 0xFFFF
	sum += nboNew & 0xFFFF
	sum = (sum & 0xFFFF) + (sum >> 16)
	sum = ^sum

	return swap16(uint16(sum))
}

// UpdateU16 incrementally patches checksum csum for a 16-bit field
// substitution (a port number, an ICMP echo identifier).
func UpdateU16(csum uint16, orig, new uint16) uint16 {
	nboOrig := uint32(swap16(orig))
	nboNew := uint32(swap16(new))
	sum := uint32(swap16(csum))

	sum = (^sum) & 0xFFFF
	sum += (^nboOrig) & 0xFFFF
	sum += nboNew & 0xFFFF
	sum = (sum & 0xFFFF) + (sum >> 16)
	sum = ^sum

	return swap16(uint16(sum))
}
