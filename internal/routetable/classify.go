package routetable

import (
	"github.com/BanjoFox/protected-point-to-point-sub001/domain"
	"github.com/BanjoFox/protected-point-to-point-sub001/internal/ipheader"
)

// Classification bundles the four flags spec.md §4.6 step 1 assigns to
// an intercepted packet, plus the session any peer match resolved to.
type Classification struct {
	SourceIsPeer   bool
	SourceIsSubnet bool
	DestIsPeer     bool
	DestIsSubnet   bool
	Decision       Decision
	Session        domain.Session
	IsForwarded    bool
	IsHostDest     bool
}

// Classify runs the single lookup pass spec.md §4.3's classify operation
// describes, for an inner (pre-obfuscation) IP packet about to leave, or
// one that has just been decrypted on ingress. isForwardedLink reports
// whether the outer header that carried this packet set the
// forwarded-link bit (CFWD, spec.md §4.7); it only matters when the
// source resolves to a known peer (spec.md §4.6 step 1).
func (t *Table) Classify(packet []byte, isForwardedLink bool) (Classification, error) {
	src, err := ipheader.SourceAddress(packet)
	if err != nil {
		return Classification{}, err
	}
	dst, err := ipheader.DestinationAddress(packet)
	if err != nil {
		return Classification{}, err
	}

	var c Classification
	if s, ok := t.PeerSession(src); ok {
		c.SourceIsPeer = true
		c.Decision = FromPeer
		c.Session = s
		c.IsForwarded = isForwardedLink
		return c, nil
	}

	if s, isHostDest, ok := t.Lookup(dst); ok {
		c.DestIsPeer = true
		c.DestIsSubnet = !isHostDest
		c.Decision = ToPeer
		c.Session = s
		c.IsHostDest = isHostDest
		return c, nil
	}

	c.Decision = Local
	return c, nil
}
