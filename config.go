package llmrouter

import "time"

// StrategyName selects a routing strategy. The two required strategies
// are "priority" (default) and "least-used"; "weighted" and
// "latency-aware" are permitted extensions.
type StrategyName string

// Supported strategy names.
const (
	StrategyPriority     StrategyName = "priority"
	StrategyLeastUsed    StrategyName = "least-used"
	StrategyWeighted     StrategyName = "weighted"
	StrategyLatencyAware StrategyName = "latency-aware"
)

// ProviderKind selects which concrete upstream.Client binding a
// ProviderConfig constructs.
type ProviderKind string

// Supported provider kinds. "generic" covers any OpenAI-compatible
// endpoint via upstream.OpenAICompatible; "openai" and "bedrock" use
// their respective vendor SDKs (see providers/).
const (
	ProviderKindGeneric ProviderKind = "generic"
	ProviderKindOpenAI  ProviderKind = "openai"
	ProviderKindBedrock ProviderKind = "bedrock"
)

// ProviderConfig is one entry of the Config.Providers list.
type ProviderConfig struct {
	// Name must match a provider name in the loaded catalog.Bundle.
	Name string `json:"name" yaml:"name"`
	// Kind selects the concrete upstream binding. Defaults to "generic".
	Kind ProviderKind `json:"type,omitempty" yaml:"type,omitempty"`
	// APIKey authenticates a static-key provider. Mutually exclusive
	// with the ClientID/ClientSecret/TokenURL oauth2 fields below.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	// Priority: lower number = higher precedence. Defaults to 0.
	Priority int `json:"priority,omitempty" yaml:"priority,omitempty"`
	// Enabled defaults to true; set to a false pointer to disable a
	// configured provider without removing it.
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// IsFreeCredits marks this provider as running on free credits, for
	// the free-credits strategy tie-break (see internal/strategy).
	IsFreeCredits bool `json:"is_free_credits,omitempty" yaml:"is_free_credits,omitempty"`
	// BaseURL overrides the catalog's configured base URL for this
	// provider, if set.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// ClientID/ClientSecret/TokenURL configure an oauth2
	// clientcredentials token source instead of a static APIKey, for
	// enterprise gateways fronting an OpenAI-compatible endpoint.
	ClientID     string `json:"client_id,omitempty" yaml:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty" yaml:"client_secret,omitempty"`
	TokenURL     string `json:"token_url,omitempty" yaml:"token_url,omitempty"`

	// DefaultCooldownMS overrides the router-wide default cooldown for
	// this provider's MarkRateLimited calls when no Retry-After hint is
	// present (supplemented feature; see DESIGN.md). Zero means "use the
	// router-wide default".
	DefaultCooldownMS int `json:"default_cooldown_ms,omitempty" yaml:"default_cooldown_ms,omitempty"`
}

// IsEnabled reports whether this provider should be wired up. Defaults
// to true when Enabled is unset.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// defaultCooldown returns the configured per-provider cooldown override,
// or zero if unset.
func (p ProviderConfig) defaultCooldown() time.Duration {
	if p.DefaultCooldownMS <= 0 {
		return 0
	}
	return time.Duration(p.DefaultCooldownMS) * time.Millisecond
}

// RetryConfig controls the Execution Driver's failover backoff.
type RetryConfig struct {
	MaxRetries        int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialBackoffMS  int     `json:"initial_backoff_ms,omitempty" yaml:"initial_backoff_ms,omitempty"`
	MaxBackoffMS      int     `json:"max_backoff_ms,omitempty" yaml:"max_backoff_ms,omitempty"`
	BackoffMultiplier float64 `json:"backoff_multiplier,omitempty" yaml:"backoff_multiplier,omitempty"`
}

// withDefaults fills zero fields with their documented defaults.
func (r RetryConfig) withDefaults() RetryConfig {
	if r.MaxRetries == 0 {
		r.MaxRetries = 3
	}
	if r.InitialBackoffMS == 0 {
		r.InitialBackoffMS = 1000
	}
	if r.MaxBackoffMS == 0 {
		r.MaxBackoffMS = 30000
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2
	}
	return r
}

// StateStoreKind selects the Store backend. "memory" is the in-process
// default; "sqlite" and "postgres" are the file-backed and
// remote-shared-database options, named after the concrete backends
// this implementation actually ships.
type StateStoreKind string

// Supported state store backends.
const (
	StateStoreMemory   StateStoreKind = "memory"
	StateStoreSQLite   StateStoreKind = "sqlite"
	StateStorePostgres StateStoreKind = "postgres"
)

// Config holds the Router construction options.
type Config struct {
	// ModelsPath and ProvidersPath point at the two YAML bundle sources.
	// Both are required.
	ModelsPath    string `json:"models_path,omitempty" yaml:"models_path,omitempty"`
	ProvidersPath string `json:"providers_path,omitempty" yaml:"providers_path,omitempty"`

	Providers []ProviderConfig `json:"providers" yaml:"providers"`
	Strategy  StrategyName     `json:"strategy,omitempty" yaml:"strategy,omitempty"`

	// ModelAliases is a user-supplied override table, highest precedence
	// in catalog.Bundle.Resolve.
	ModelAliases map[string]string `json:"model_aliases,omitempty" yaml:"model_aliases,omitempty"`

	TimeoutMS int         `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Retry     RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`

	StateStore    StateStoreKind `json:"state_store,omitempty" yaml:"state_store,omitempty"`
	StateStoreDSN string         `json:"state_store_dsn,omitempty" yaml:"state_store_dsn,omitempty"`

	// ThrowOnExhausted defaults to true; nil means "use the default".
	ThrowOnExhausted *bool `json:"throw_on_exhausted,omitempty" yaml:"throw_on_exhausted,omitempty"`

	// DefaultCooldown overrides ratelimit.DefaultCooldown router-wide
	// when positive.
	DefaultCooldown time.Duration `json:"-" yaml:"-"`

	// Estimator overrides DefaultEstimator. Nil uses the default.
	Estimator Estimator `json:"-" yaml:"-"`
}

func (c Config) timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c Config) throwOnExhausted() bool {
	return c.ThrowOnExhausted == nil || *c.ThrowOnExhausted
}

func (c Config) strategyName() StrategyName {
	if c.Strategy == "" {
		return StrategyPriority
	}
	return c.Strategy
}
