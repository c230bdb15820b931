package routing

import (
	"sort"

	"github.com/relayforge/modelmux/internal/registry"
)

// buildChain filters and orders the family's registry entries against the
// request constraints. The result is deterministic: hard filters drop
// entries, surviving entries are ranked by tier with ties broken by authored
// registry order (stable sort), then truncated to MaxCandidates. Identical
// inputs always produce identical chains.
//
// Caller must hold e.mu (read) for the adapter lookup.
func (e *Engine) buildChain(snap *registry.Snapshot, family string, c Constraints) []registry.Entry {
	accepted := snap.AcceptedCapabilities(family)
	budget := c.Budget()

	var chain []registry.Entry
	for _, entry := range snap.EntriesFor(family) {
		if len(accepted) > 0 && !entry.HasAnyCapability(accepted) {
			continue
		}
		if c.Multilingual && !entry.HasCapability(registry.CapMultilingual) {
			continue
		}
		if c.RequireSafetyFilter && !entry.HasCapability(registry.CapSafetyFilter) {
			continue
		}
		if entry.Tier == registry.TierExperimental && !c.AllowExperimental {
			continue
		}
		if entry.CostTier.Rank() > budget.Rank() {
			continue
		}
		// An unknown per-1k price passes the explicit ceiling, mirroring the
		// "absent limit assumed adequate" rule for context length.
		if c.MaxCostPer1K > 0 && entry.CostPer1K > c.MaxCostPer1K {
			continue
		}
		if entry.MaxInputTokens > 0 && c.ContextLengthNeeded > entry.MaxInputTokens {
			continue
		}
		// Quality is descriptive metadata; only an explicit threshold uses it,
		// and undeclared scores always pass.
		if c.MinConfidence > 0 && entry.Quality > 0 && entry.Quality < c.MinConfidence {
			continue
		}
		if _, ok := e.adapters[entry.Provider]; !ok {
			continue // no adapter registered for this provider
		}
		if e.health != nil && !e.health.IsAvailable(entry.Provider) {
			continue // provider in cooldown
		}
		chain = append(chain, entry)
	}

	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].Tier.Rank() < chain[j].Tier.Rank()
	})

	if c.MaxCandidates > 0 && len(chain) > c.MaxCandidates {
		chain = chain[:c.MaxCandidates]
	}
	return chain
}
