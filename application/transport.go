package application

import "github.com/BanjoFox/protected-point-to-point-sub001/domain"

// Transport is spec.md §6's "send_packet" collaborator: whatever owns
// the raw or UDP socket to a peer. forwardedLink distinguishes a
// direct send from one relayed through another peer's forwarding path
// (spec.md §3's CFWD flag).
type Transport interface {
	Send(tunnelBytes []byte, peer *domain.Peer, forwardedLink bool) error
}
