package ipheader

import (
	"fmt"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// ProtocolP3 is the IP protocol number (61) of the tunnel's outer packets.
const ProtocolP3 = 61

const (
	ipv4SrcOffset = 12
	ipv4DstOffset = 16
	ipv6SrcOffset = 8
	ipv6DstOffset = 24
)

// SourceAddress extracts the source address from an IPv4 or IPv6 packet.
func SourceAddress(packet []byte) (netip.Addr, error) {
	return addrAt(packet, ipv4SrcOffset, ipv6SrcOffset)
}

// DestinationAddress extracts the destination address from an IPv4 or IPv6
// packet, per spec.md §4.6 step 1's classification inputs.
func DestinationAddress(packet []byte) (netip.Addr, error) {
	return addrAt(packet, ipv4DstOffset, ipv6DstOffset)
}

func addrAt(packet []byte, v4Offset, v6Offset int) (netip.Addr, error) {
	switch Of(packet) {
	case V4:
		if len(packet) < ipv4.HeaderLen {
			return netip.Addr{}, fmt.Errorf("invalid ipv4 header: too small (%d bytes)", len(packet))
		}
		return netip.AddrFrom4([4]byte{
			packet[v4Offset], packet[v4Offset+1], packet[v4Offset+2], packet[v4Offset+3],
		}), nil
	case V6:
		if len(packet) < ipv6.HeaderLen {
			return netip.Addr{}, fmt.Errorf("invalid ipv6 header: too small (%d bytes)", len(packet))
		}
		var a16 [16]byte
		copy(a16[:], packet[v6Offset:v6Offset+16])
		return netip.AddrFrom16(a16), nil
	default:
		return netip.Addr{}, fmt.Errorf("invalid IP version: %d", packet[0]>>4)
	}
}

// Protocol returns the IPv4 protocol / IPv6 next-header byte.
func Protocol(packet []byte) (uint8, error) {
	switch Of(packet) {
	case V4:
		if len(packet) < ipv4.HeaderLen {
			return 0, fmt.Errorf("invalid ipv4 header: too small")
		}
		return packet[9], nil
	case V6:
		if len(packet) < ipv6.HeaderLen {
			return 0, fmt.Errorf("invalid ipv6 header: too small")
		}
		return packet[6], nil
	default:
		return 0, fmt.Errorf("invalid IP version")
	}
}

// HeaderLen returns the fixed IPv6 header length or the variable IPv4 IHL,
// in bytes.
func HeaderLen(packet []byte) (int, error) {
	switch Of(packet) {
	case V4:
		if len(packet) < ipv4.HeaderLen {
			return 0, fmt.Errorf("invalid ipv4 header: too small")
		}
		ihl := int(packet[0]&0x0F) * 4
		if ihl < ipv4.HeaderLen {
			return 0, fmt.Errorf("invalid ipv4 header: IHL=%d", ihl)
		}
		return ihl, nil
	case V6:
		return ipv6.HeaderLen, nil
	default:
		return 0, fmt.Errorf("invalid IP version")
	}
}

// TotalLen returns the IPv4 total-length field or the IPv6 header length
// plus payload length field.
func TotalLen(packet []byte) (int, error) {
	switch Of(packet) {
	case V4:
		if len(packet) < ipv4.HeaderLen {
			return 0, fmt.Errorf("invalid ipv4 header: too small")
		}
		return int(packet[2])<<8 | int(packet[3]), nil
	case V6:
		if len(packet) < ipv6.HeaderLen {
			return 0, fmt.Errorf("invalid ipv6 header: too small")
		}
		payload := int(packet[4])<<8 | int(packet[5])
		return ipv6.HeaderLen + payload, nil
	default:
		return 0, fmt.Errorf("invalid IP version")
	}
}

// SetIPv4TotalLen patches the IPv4 total-length field in place.
func SetIPv4TotalLen(packet []byte, totalLen int) {
	packet[2] = byte(totalLen >> 8)
	packet[3] = byte(totalLen)
}

// SetIPv4ID patches the IPv4 identification field in place.
func SetIPv4ID(packet []byte, id uint16) {
	packet[4] = byte(id >> 8)
	packet[5] = byte(id)
}
