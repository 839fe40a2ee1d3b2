// Package catalog holds the model catalog: canonical model ids, their
// declared aliases, generic tier aliases, and the per-provider mapping
// from a canonical id to a provider-specific id and rate limits.
//
// A Bundle is built once from two decoded YAML sources (a models list and
// a providers list, see config_load.go at the module root) and is
// immutable thereafter — callers resolve and query it but never mutate
// it after construction.
package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// ModelDescriptor is one canonical model entry in the catalog.
type ModelDescriptor struct {
	CanonicalID string
	Tier        int
	Family      string
	Aliases     []string
}

// AliasSpec describes a generic tier alias such as "best-large" or "70b".
// Exactly one of Tier or MinTier is set.
type AliasSpec struct {
	Tier    *int
	MinTier *int
}

// Matches reports whether tier satisfies this alias's predicate.
func (a AliasSpec) Matches(tier int) bool {
	if a.Tier != nil {
		return tier == *a.Tier
	}
	if a.MinTier != nil {
		return tier >= *a.MinTier
	}
	return false
}

// RateLimits holds optional caps for the six (metric x window) pairs.
// A nil field means "no limit enforced" for that pair.
type RateLimits struct {
	RequestsPerMinute *int64
	RequestsPerHour   *int64
	RequestsPerDay    *int64
	TokensPerMinute   *int64
	TokensPerHour     *int64
	TokensPerDay      *int64
}

// RequestsLimitFor returns the configured requests-per-window cap for
// kind, or nil if unset. kind is an internal/clock.Kind value (0=minute,
// 1=hour, 2=day); it is accepted as an int here so this package does not
// need to import internal/clock.
func (r RateLimits) RequestsLimitFor(kind int) *int64 {
	switch kind {
	case 0:
		return r.RequestsPerMinute
	case 1:
		return r.RequestsPerHour
	default:
		return r.RequestsPerDay
	}
}

// TokensLimitFor returns the configured tokens-per-window cap for kind,
// or nil if unset. See RequestsLimitFor for the kind encoding.
func (r RateLimits) TokensLimitFor(kind int) *int64 {
	switch kind {
	case 0:
		return r.TokensPerMinute
	case 1:
		return r.TokensPerHour
	default:
		return r.TokensPerDay
	}
}

// Merge returns a RateLimits with every field in override that is set
// taking precedence over the corresponding field in base, matching the
// providers YAML source's defaults.limits / per-model limits override
// semantics.
func (base RateLimits) Merge(override RateLimits) RateLimits {
	out := base
	if override.RequestsPerMinute != nil {
		out.RequestsPerMinute = override.RequestsPerMinute
	}
	if override.RequestsPerHour != nil {
		out.RequestsPerHour = override.RequestsPerHour
	}
	if override.RequestsPerDay != nil {
		out.RequestsPerDay = override.RequestsPerDay
	}
	if override.TokensPerMinute != nil {
		out.TokensPerMinute = override.TokensPerMinute
	}
	if override.TokensPerHour != nil {
		out.TokensPerHour = override.TokensPerHour
	}
	if override.TokensPerDay != nil {
		out.TokensPerDay = override.TokensPerDay
	}
	return out
}

// ProviderModelRecord binds a canonical id to a provider-specific id and
// the effective rate limits for that (provider, model) pair.
type ProviderModelRecord struct {
	CanonicalID     string
	ProviderModelID string
	Limits          RateLimits
}

// ProviderDescriptor is one configured upstream provider's structural
// metadata: its name, display name, base URL, and the models it serves.
// Runtime-only fields (API key, priority, enabled, is-free-credits) are
// not part of the catalog — they live in the router's own Config and are
// merged in by the router at construction time.
type ProviderDescriptor struct {
	Name        string
	DisplayName string
	BaseURL     string
	Models      []ProviderModelRecord
}

// ProviderMatch pairs a provider with one of its model records; it is
// the structural half of a Candidate before quota/latency are attached.
type ProviderMatch struct {
	Provider *ProviderDescriptor
	Record   ProviderModelRecord
}

// Bundle is the immutable, fully-validated model catalog plus provider
// set. Construct with NewBundle; it returns an error naming both sides
// of any dangling canonical-id reference rather than allowing a
// half-valid bundle into service.
type Bundle struct {
	models         []ModelDescriptor
	genericAliases map[string]AliasSpec
	providers      []ProviderDescriptor
	userAliases    map[string]string

	byCanonical map[string]ModelDescriptor
	byAlias     map[string]string // lowercase declared alias -> canonical id
}

// NewBundle validates and constructs a Bundle. userAliases is an optional
// caller-supplied alias table (model_aliases router construction option)
// consulted before the built-in alias map; its keys and values are
// treated verbatim (values must be canonical ids or generic tokens and
// are not re-resolved).
func NewBundle(models []ModelDescriptor, genericAliases map[string]AliasSpec, providers []ProviderDescriptor, userAliases map[string]string) (*Bundle, error) {
	b := &Bundle{
		models:         models,
		genericAliases: genericAliases,
		providers:      providers,
		userAliases:    userAliases,
		byCanonical:    make(map[string]ModelDescriptor, len(models)),
		byAlias:        make(map[string]string),
	}

	for _, m := range models {
		if _, dup := b.byCanonical[m.CanonicalID]; dup {
			return nil, fmt.Errorf("catalog: duplicate canonical id %q", m.CanonicalID)
		}
		b.byCanonical[m.CanonicalID] = m
		for _, alias := range m.Aliases {
			b.byAlias[strings.ToLower(alias)] = m.CanonicalID
		}
	}

	if err := b.validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// validate enforces the load-time invariants that every provider model
// record references a known canonical id and every user alias maps to a
// known canonical id or generic token.
func (b *Bundle) validate() error {
	for _, p := range b.providers {
		for _, rec := range p.Models {
			if _, ok := b.byCanonical[rec.CanonicalID]; !ok {
				return fmt.Errorf("catalog: provider %q references unknown canonical id %q", p.Name, rec.CanonicalID)
			}
		}
	}
	for alias, target := range b.userAliases {
		if _, ok := b.byCanonical[target]; ok {
			continue
		}
		if _, ok := b.genericAliases[strings.ToLower(target)]; ok {
			continue
		}
		return fmt.Errorf("catalog: model alias %q references unknown canonical id %q", alias, target)
	}
	return nil
}

// Resolve maps a user-supplied model token to a canonical id or generic
// token. Lookup order: (1) the user-supplied alias table, (2) declared
// model aliases, (3) canonical ids themselves (so passing a canonical id
// through resolves to itself), (4) generic alias tokens (returned
// unchanged, since IsGeneric/GenericConfig interpret them downstream).
// Matching is case-insensitive. If nothing matches, the input is
// returned unchanged — the caller fails later in candidate selection.
func (b *Bundle) Resolve(name string) string {
	lower := strings.ToLower(name)

	if b.userAliases != nil {
		if v, ok := b.userAliases[name]; ok {
			return v
		}
		if v, ok := b.userAliases[lower]; ok {
			return v
		}
	}

	if canonical, ok := b.byAlias[lower]; ok {
		return canonical
	}

	for _, m := range b.models {
		if strings.EqualFold(m.CanonicalID, name) {
			return m.CanonicalID
		}
	}

	if _, ok := b.genericAliases[lower]; ok {
		return lower
	}

	return name
}

// IsGeneric reports whether name (already resolved, or as typed by the
// caller) is a generic tier alias token.
func (b *Bundle) IsGeneric(name string) bool {
	_, ok := b.genericAliases[strings.ToLower(name)]
	return ok
}

// GenericConfig returns the AliasSpec for a generic token.
func (b *Bundle) GenericConfig(name string) (AliasSpec, bool) {
	spec, ok := b.genericAliases[strings.ToLower(name)]
	return spec, ok
}

// ProvidersSupporting returns every (provider, record) pair that serves
// canonicalID, in deterministic provider-name order.
func (b *Bundle) ProvidersSupporting(canonicalID string) []ProviderMatch {
	var out []ProviderMatch
	for i := range b.providers {
		p := &b.providers[i]
		for _, rec := range p.Models {
			if rec.CanonicalID == canonicalID {
				out = append(out, ProviderMatch{Provider: p, Record: rec})
			}
		}
	}
	sortMatches(out)
	return out
}

// ProvidersMatchingGeneric returns every (provider, record) pair whose
// model's quality tier matches the given alias.
func (b *Bundle) ProvidersMatchingGeneric(spec AliasSpec) []ProviderMatch {
	var out []ProviderMatch
	for i := range b.providers {
		p := &b.providers[i]
		for _, rec := range p.Models {
			model, ok := b.byCanonical[rec.CanonicalID]
			if !ok {
				continue
			}
			if spec.Matches(model.Tier) {
				out = append(out, ProviderMatch{Provider: p, Record: rec})
			}
		}
	}
	sortMatches(out)
	return out
}

// Tier returns the quality tier for a canonical id, or 0 if unknown.
func (b *Bundle) Tier(canonicalID string) int {
	return b.byCanonical[canonicalID].Tier
}

// Model returns the descriptor for a canonical id.
func (b *Bundle) Model(canonicalID string) (ModelDescriptor, bool) {
	m, ok := b.byCanonical[canonicalID]
	return m, ok
}

// Providers returns the full configured provider set, in load order.
func (b *Bundle) Providers() []ProviderDescriptor {
	return b.providers
}

func sortMatches(matches []ProviderMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Provider.Name < matches[j].Provider.Name
	})
}
