package proxy

import (
	"github.com/artpar/octahe/internal/core/domain"
)

// Resolve walks the via links of the named target back towards the local
// machine and returns the hops nearest-first. The walk stops at
// "localhost", "direct", or the first name that is not a known target.
//
// Example: with host3 via host2 and host2 via host1, Resolve(targets,
// "host3") returns [host1, host2].
func Resolve(targets map[string]domain.Target, name string) (Chain, error) {
	target, ok := targets[name]
	if !ok {
		return nil, NewUnknownTargetError(name)
	}

	var reversed Chain
	seen := map[string]bool{name: true}
	via := target.ViaName
	for !domain.IsChainEnd(via) {
		hop, ok := targets[via]
		if !ok {
			break
		}
		if seen[via] {
			return nil, NewCycleError(name, via)
		}
		seen[via] = true
		reversed = append(reversed, HopFromTarget(hop))
		via = hop.ViaName
	}

	chain := make(Chain, len(reversed))
	for i, hop := range reversed {
		chain[len(reversed)-1-i] = hop
	}
	return chain, nil
}
