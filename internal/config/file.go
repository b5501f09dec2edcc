// Package config is the JSON-file-backed ConfigImporter (spec.md §1
// lists configuration file parsing as a Non-goal of the packet-plane
// components themselves, but some concrete loader still has to turn a
// file into domain.Peer/Subnet/Session values for engine to run
// against — this package is that ambient edge, grounded on the
// teacher's settings/server_json_file_configuration package: a plain
// encoding/json-decoded shape, no schema library).
package config

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"os"
	"time"
)

// PeerFile is one peer entry in the on-disk JSON config.
type PeerFile struct {
	ID                uint32   `json:"id"`
	IPv6              bool     `json:"ipv6"`
	Address           string   `json:"address"`
	Port              uint16   `json:"port"`
	KeyType           string   `json:"key_type"` // "aes128" or "aes256"
	KeyArray          bool     `json:"key_array"`
	HeartbeatSeconds  int      `json:"heartbeat_seconds"`
	HeartbeatDeadline int      `json:"heartbeat_deadline_seconds"`
	Subnets           []string `json:"subnets"`
}

// File is the top-level on-disk JSON config shape: this endpoint's
// listener port plus the set of peers to import at startup.
type File struct {
	LocalAddress string     `json:"local_address"`
	ListenerPort uint16     `json:"listener_port"`
	IfaceMTU     int        `json:"iface_mtu"`
	Peers        []PeerFile `json:"peers"`
}

// Load reads and JSON-decodes path. It performs no domain validation —
// that happens in Importer.AddPeer/AddSubnet, which reject malformed
// addresses or oversized subnet lists the same way whether the config
// came from this loader or a test fixture.
func Load(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(raw, &f); err != nil {
		return File{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// heartbeatDurations converts a PeerFile's integer-seconds fields into
// the time.Duration pair domain.PeerConfig carries.
func (p PeerFile) heartbeatDurations() (period, deadline time.Duration) {
	return time.Duration(p.HeartbeatSeconds) * time.Second,
		time.Duration(p.HeartbeatDeadline) * time.Second
}

func (p PeerFile) parseAddress() (netip.Addr, error) {
	addr, err := netip.ParseAddr(p.Address)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("config: peer %d: invalid address %q: %w", p.ID, p.Address, err)
	}
	return addr, nil
}

func (p PeerFile) parseSubnets() ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(p.Subnets))
	for _, s := range p.Subnets {
		prefix, err := netip.ParsePrefix(s)
		if err != nil {
			return nil, fmt.Errorf("config: peer %d: invalid subnet %q: %w", p.ID, s, err)
		}
		out = append(out, prefix)
	}
	return out, nil
}
