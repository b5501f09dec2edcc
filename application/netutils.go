package application

import "github.com/BanjoFox/protected-point-to-point-sub001/domain"

// NetUtils bundles the OS-facing helpers spec.md §6 lists as "net
// utils": interface MTU lookup for the MSS-insert path
// (internal/packethandler's clampOrInsertMSS), TCP checksum patching
// for MSS rewriting, and marking a peer's subnet device bindings once
// the OS collaborator has populated them (domain.DeviceKind).
type NetUtils interface {
	MTU(dev string) (int, error)
	SetTCPChecksum(buf []byte, old, new uint16)
	RecomputeTCPChecksum(buf []byte)
	SetDeviceInfo(peer *domain.Peer, kind domain.DeviceKind)
}
