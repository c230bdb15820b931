// Package registry holds the versioned catalog of provider/model entries
// grouped by task family, plus the per-family task configuration table.
// The catalog is immutable at request time; hot reload replaces the whole
// table atomically so a request started before a swap completes against the
// snapshot it began with.
package registry

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Tier defines the default ordering preference of an entry within its family.
type Tier string

const (
	TierPrimary      Tier = "primary"
	TierFallback     Tier = "fallback"
	TierLite         Tier = "lite"
	TierExperimental Tier = "experimental"
)

// Rank returns the sort rank of a tier. Lower rank = tried earlier.
func (t Tier) Rank() int {
	switch t {
	case TierPrimary:
		return 0
	case TierFallback:
		return 1
	case TierLite:
		return 2
	case TierExperimental:
		return 3
	default:
		return 4
	}
}

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	return t.Rank() < 4
}

// CostTier buckets an entry's price for budget filtering.
type CostTier string

const (
	CostEconomy  CostTier = "economy"
	CostStandard CostTier = "standard"
	CostPremium  CostTier = "premium"
)

// Rank orders cost tiers: economy < standard < premium.
func (c CostTier) Rank() int {
	switch c {
	case CostEconomy:
		return 0
	case CostStandard:
		return 1
	case CostPremium:
		return 2
	default:
		return 3
	}
}

// Valid reports whether c is one of the known cost tiers.
func (c CostTier) Valid() bool {
	return c.Rank() < 3
}

// Entry is one provider/model pairing available for a task family.
type Entry struct {
	Provider     string   `json:"provider"`
	ModelID      string   `json:"model_id"`
	Capabilities []string `json:"capabilities"`
	Tier         Tier     `json:"tier"`
	CostTier     CostTier `json:"cost_tier"`

	// MaxInputTokens is the known context limit; 0 means no known limit
	// (assumed adequate for any request).
	MaxInputTokens int `json:"max_input_tokens,omitempty"`

	// CostPer1K is the blended USD price per 1k tokens, used only when the
	// caller supplies an explicit per-request cost ceiling. 0 = unknown.
	CostPer1K float64 `json:"cost_per_1k,omitempty"`

	// Quality is descriptive catalog metadata in [0,1]. The ranking policy
	// never optimizes on it; it is only compared against an explicit
	// min-confidence constraint. 0 = undeclared.
	Quality float64 `json:"quality,omitempty"`

	Notes string `json:"notes,omitempty"`
}

// HasCapability reports whether the entry carries the given capability tag.
func (e Entry) HasCapability(tag string) bool {
	for _, c := range e.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// HasAnyCapability reports whether the entry carries at least one of the tags.
func (e Entry) HasAnyCapability(tags []string) bool {
	for _, t := range tags {
		if e.HasCapability(t) {
			return true
		}
	}
	return false
}

// TaskConfig holds the per-family routing defaults.
type TaskConfig struct {
	Timeout    time.Duration `json:"timeout"`
	MaxRetries int           `json:"max_retries"` // extra candidates tried beyond the first
	Cacheable  bool          `json:"cacheable"`
	CacheTTL   time.Duration `json:"cache_ttl,omitempty"` // set iff Cacheable
}

// Snapshot is one immutable version of the catalog. Build a Snapshot fully,
// then publish it with Registry.Swap; never mutate a published snapshot.
type Snapshot struct {
	// Families maps canonical task family -> authored-order entries.
	Families map[string][]Entry
	// Configs maps canonical task family -> its TaskConfig.
	Configs map[string]TaskConfig
	// Aliases maps surface task names -> canonical families.
	Aliases map[string]string
	// Capabilities maps canonical family -> accepted capability tags
	// (an entry must carry at least one).
	Capabilities map[string][]string
	// Version is a monotonically increasing load counter for diagnostics.
	Version int64
}

// Validate checks snapshot invariants before it can be published.
func (s *Snapshot) Validate() error {
	for family, entries := range s.Families {
		if _, ok := s.Configs[family]; !ok {
			return fmt.Errorf("family %q has entries but no task config", family)
		}
		for _, e := range entries {
			if e.Provider == "" || e.ModelID == "" {
				return fmt.Errorf("family %q: entry missing provider or model id", family)
			}
			if len(e.Capabilities) == 0 {
				return fmt.Errorf("family %q: model %s has empty capability set", family, e.ModelID)
			}
			if !e.Tier.Valid() {
				return fmt.Errorf("family %q: model %s has unknown tier %q", family, e.ModelID, e.Tier)
			}
			if !e.CostTier.Valid() {
				return fmt.Errorf("family %q: model %s has unknown cost tier %q", family, e.ModelID, e.CostTier)
			}
			if e.MaxInputTokens < 0 {
				return fmt.Errorf("family %q: model %s has negative max input tokens", family, e.ModelID)
			}
		}
	}
	for family, cfg := range s.Configs {
		if cfg.Timeout <= 0 {
			return fmt.Errorf("family %q: timeout must be > 0", family)
		}
		if cfg.MaxRetries < 0 {
			return fmt.Errorf("family %q: max retries must be >= 0", family)
		}
		if cfg.Cacheable && cfg.CacheTTL <= 0 {
			return fmt.Errorf("family %q: cacheable but cache ttl not set", family)
		}
		if !cfg.Cacheable && cfg.CacheTTL != 0 {
			return fmt.Errorf("family %q: cache ttl set but not cacheable", family)
		}
	}
	for alias, family := range s.Aliases {
		if _, ok := s.Configs[family]; !ok {
			return fmt.Errorf("alias %q points at unknown family %q", alias, family)
		}
	}
	return nil
}

// Registry serves read-only catalog lookups backed by an atomically
// swappable snapshot. All read paths are lock-free.
type Registry struct {
	snap atomic.Pointer[Snapshot]
}

// New creates a registry serving the given snapshot.
func New(snap *Snapshot) (*Registry, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}
	r := &Registry{}
	r.snap.Store(snap)
	return r, nil
}

// Swap atomically replaces the catalog. In-flight requests keep the snapshot
// they started with.
func (r *Registry) Swap(snap *Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	old := r.snap.Load()
	if old != nil {
		snap.Version = old.Version + 1
	}
	r.snap.Store(snap)
	return nil
}

// Current returns the active snapshot. Callers that perform multiple lookups
// for one request should take the snapshot once and use it throughout.
func (r *Registry) Current() *Snapshot {
	return r.snap.Load()
}

// Normalize maps a surface task alias onto its canonical family. Unknown
// aliases pass through unchanged so an unrecognized task fails at config
// lookup, not here.
func (s *Snapshot) Normalize(alias string) string {
	if family, ok := s.Aliases[alias]; ok {
		return family
	}
	return alias
}

// EntriesFor returns the authored-order entries for a canonical family.
// The returned slice is shared; callers must not mutate it.
func (s *Snapshot) EntriesFor(family string) []Entry {
	return s.Families[family]
}

// Config returns the task config for a canonical family.
func (s *Snapshot) Config(family string) (TaskConfig, bool) {
	cfg, ok := s.Configs[family]
	return cfg, ok
}

// AcceptedCapabilities returns the capability tags a family accepts.
func (s *Snapshot) AcceptedCapabilities(family string) []string {
	return s.Capabilities[family]
}

// FamilyNames returns the canonical family names in no particular order.
func (s *Snapshot) FamilyNames() []string {
	names := make([]string, 0, len(s.Configs))
	for name := range s.Configs {
		names = append(names, name)
	}
	return names
}
