package application

import (
	"net/netip"

	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
)

// ConfigImporter is spec.md §6's "config import" external collaborator:
// whatever turns a parsed configuration file (out of scope per spec.md
// §1 Non-goals) into live domain.Peer, domain.Subnet, and
// session.Session values. internal/config implements this against a
// JSON config shape.
type ConfigImporter interface {
	AddPeer(cfg domain.PeerConfig) (*domain.Peer, error)
	AddSubnet(peer *domain.Peer, network netip.Prefix) (*domain.Subnet, error)
	NewSession(peer *domain.Peer, dataKey, ctlKey []byte) (*session.Session, error)
}
