package config

import (
	"fmt"
	"net/netip"

	"github.com/BanjoFox/protected-point-to-point-sub001/application"
	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/keyarray"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/routetable"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/session"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/telemetry/stats"
)

// Importer implements application.ConfigImporter: it turns a
// domain.PeerConfig plus subnet prefixes into live domain state and,
// at NewSession time, wires the result into the routing table C3
// classifies against (spec.md §5's "all Add calls happen before
// Classify runs concurrently" — engine must finish every AddPeer/
// AddSubnet/NewSession call before Table.Freeze).
type Importer struct {
	LocalAddr netip.Addr
	Role      domain.Role
	Table     *routetable.Table
	Stats     *stats.Registry
}

// AddPeer validates and constructs a domain.Peer. It does not touch
// the routing table — a peer has no session until NewSession runs, and
// Table.Add/AddPeerAddress both require one.
func (im *Importer) AddPeer(cfg domain.PeerConfig) (*domain.Peer, error) {
	return domain.NewPeer(cfg.ID, cfg.IPv6, cfg.Address, cfg.Port, cfg.KeyType, cfg.KeyArray, cfg.HeartbeatPeriod, cfg.HeartbeatDeadline)
}

// AddSubnet validates and attaches a subnet to peer. Like AddPeer, the
// routing table is not touched yet; NewSession registers every subnet
// already attached to peer at the time it runs.
func (im *Importer) AddSubnet(peer *domain.Peer, network netip.Prefix) (*domain.Subnet, error) {
	subnet, err := domain.NewSubnet(network)
	if err != nil {
		return nil, err
	}
	if err := peer.AddSubnet(subnet); err != nil {
		return nil, err
	}
	return subnet, nil
}

// NewSession derives the four directional AES keys from dataKey/ctlKey
// via internal/keyarray, builds the session, binds it to peer, and
// registers the peer's address and every already-attached subnet in
// Table — the one point at which routing becomes reachable for this
// peer, per spec.md §4.6's classify step needing a session behind every
// routed prefix.
func (im *Importer) NewSession(peer *domain.Peer, dataKey, ctlKey []byte) (*session.Session, error) {
	keys, err := keyarray.DeriveSlotKeys(dataKey, ctlKey, im.Role, peer.KeyType.KeyBytes())
	if err != nil {
		return nil, fmt.Errorf("config: derive session keys for peer %d: %w", peer.ID, err)
	}
	sess, err := session.New(peer, im.LocalAddr, keys)
	if err != nil {
		return nil, fmt.Errorf("config: new session for peer %d: %w", peer.ID, err)
	}
	if im.Stats != nil {
		sess.SetStats(im.Stats.Collector(peer.ID))
	}
	peer.BindSession(sess)

	if im.Table != nil {
		if err := im.Table.AddPeerAddress(peer.Address, sess); err != nil {
			return nil, fmt.Errorf("config: register peer %d address: %w", peer.ID, err)
		}
		for _, subnet := range peer.Subnets() {
			if err := im.Table.Add(subnet.Prefix, sess); err != nil {
				return nil, fmt.Errorf("config: register peer %d subnet %s: %w", peer.ID, subnet.Prefix, err)
			}
		}
	}
	return sess, nil
}

// ImportAll loads f's peers end to end: AddPeer, AddSubnet for each
// configured prefix, then NewSession with a fresh key pair pulled from
// source. It does not call Table.Freeze — callers run ImportAll for
// every configured endpoint first, then freeze once.
func ImportAll(im *Importer, f File, source application.KeySource) error {
	for _, pf := range f.Peers {
		addr, err := pf.parseAddress()
		if err != nil {
			return err
		}
		period, deadline := pf.heartbeatDurations()
		keyType := domain.KeyTypeAES128
		if pf.KeyType == "aes256" {
			keyType = domain.KeyTypeAES256
		}
		peer, err := im.AddPeer(domain.PeerConfig{
			ID:                domain.PeerID(pf.ID),
			IPv6:              pf.IPv6,
			Address:           addr,
			Port:              pf.Port,
			KeyType:           keyType,
			KeyArray:          pf.KeyArray,
			HeartbeatPeriod:   period,
			HeartbeatDeadline: deadline,
		})
		if err != nil {
			return err
		}

		prefixes, err := pf.parseSubnets()
		if err != nil {
			return err
		}
		for _, prefix := range prefixes {
			if _, err := im.AddSubnet(peer, prefix); err != nil {
				return err
			}
		}

		width := keyType.KeyBytes()
		dataKey, err := source.Take(width)
		if err != nil {
			return fmt.Errorf("config: take data key for peer %d: %w", peer.ID, err)
		}
		ctlKey, err := source.Take(width)
		if err != nil {
			return fmt.Errorf("config: take control key for peer %d: %w", peer.ID, err)
		}
		if _, err := im.NewSession(peer, dataKey, ctlKey); err != nil {
			return err
		}
	}
	return nil
}
