package catalog

import "testing"

func ptr(i int) *int { return &i }

func sampleModels() []ModelDescriptor {
	return []ModelDescriptor{
		{CanonicalID: "llama-3.3-70b", Tier: 3, Family: "llama", Aliases: []string{"llama-70b"}},
		{CanonicalID: "qwen-3-32b", Tier: 2, Family: "qwen", Aliases: []string{"qwen-32b"}},
		{CanonicalID: "llama-3.1-8b", Tier: 1, Family: "llama", Aliases: []string{"llama-8b"}},
	}
}

func sampleGenericAliases() map[string]AliasSpec {
	return map[string]AliasSpec{
		"best-large": {Tier: ptr(3)},
		"best":       {MinTier: ptr(1)},
		"70b":        {Tier: ptr(3)},
	}
}

func sampleProviders() []ProviderDescriptor {
	return []ProviderDescriptor{
		{
			Name: "groq", DisplayName: "Groq", BaseURL: "https://api.groq.com/openai/v1",
			Models: []ProviderModelRecord{
				{CanonicalID: "llama-3.3-70b", ProviderModelID: "llama-3.3-70b-versatile"},
			},
		},
		{
			Name: "cerebras", DisplayName: "Cerebras", BaseURL: "https://api.cerebras.ai/v1",
			Models: []ProviderModelRecord{
				{CanonicalID: "qwen-3-32b", ProviderModelID: "qwen-3-32b"},
			},
		},
	}
}

func mustBundle(t *testing.T) *Bundle {
	t.Helper()
	b, err := NewBundle(sampleModels(), sampleGenericAliases(), sampleProviders(), nil)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}
	return b
}

func TestNewBundle_RejectsDanglingCanonicalReference(t *testing.T) {
	providers := []ProviderDescriptor{
		{Name: "ghost", Models: []ProviderModelRecord{{CanonicalID: "does-not-exist", ProviderModelID: "x"}}},
	}
	_, err := NewBundle(sampleModels(), sampleGenericAliases(), providers, nil)
	if err == nil {
		t.Fatal("expected error for dangling canonical id reference")
	}
}

func TestBundle_Resolve_DeclaredAliasCaseInsensitive(t *testing.T) {
	b := mustBundle(t)
	if got := b.Resolve("LLAMA-70B"); got != "llama-3.3-70b" {
		t.Errorf("got %q, want llama-3.3-70b", got)
	}
}

func TestBundle_Resolve_UserAliasTakesPrecedence(t *testing.T) {
	b, err := NewBundle(sampleModels(), sampleGenericAliases(), sampleProviders(), map[string]string{
		"llama-70b": "qwen-3-32b",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Resolve("llama-70b"); got != "qwen-3-32b" {
		t.Errorf("user alias should override built-in alias, got %q", got)
	}
}

func TestBundle_Resolve_UnknownNamePassesThroughUnchanged(t *testing.T) {
	b := mustBundle(t)
	if got := b.Resolve("some-unknown-model"); got != "some-unknown-model" {
		t.Errorf("got %q, want passthrough", got)
	}
}

func TestBundle_IsGeneric_AndGenericConfig(t *testing.T) {
	b := mustBundle(t)
	if !b.IsGeneric("best-large") {
		t.Fatal("expected best-large to be generic")
	}
	spec, ok := b.GenericConfig("best-large")
	if !ok || spec.Tier == nil || *spec.Tier != 3 {
		t.Errorf("got %+v, want exact tier 3", spec)
	}
}

func TestBundle_GenericAliasPredicate_BestLargeOnlyTier3(t *testing.T) {
	b := mustBundle(t)
	spec, _ := b.GenericConfig("best-large")
	if spec.Matches(2) {
		t.Error("best-large should not match tier 2")
	}
	if !spec.Matches(3) {
		t.Error("best-large should match tier 3")
	}
}

func TestBundle_GenericAliasPredicate_BestMatchesAnyTierAtOrAboveMin(t *testing.T) {
	b := mustBundle(t)
	spec, _ := b.GenericConfig("best")
	for tier := 1; tier <= 5; tier++ {
		if !spec.Matches(tier) {
			t.Errorf("best should match tier %d", tier)
		}
	}
}

func TestBundle_ProvidersSupporting_ReturnsOnlyMatchingProvider(t *testing.T) {
	b := mustBundle(t)
	matches := b.ProvidersSupporting("llama-3.3-70b")
	if len(matches) != 1 || matches[0].Provider.Name != "groq" {
		t.Errorf("got %+v, want single groq match", matches)
	}
}

func TestBundle_ProvidersMatchingGeneric_RestrictsToTier(t *testing.T) {
	b := mustBundle(t)
	spec, _ := b.GenericConfig("best-large")
	matches := b.ProvidersMatchingGeneric(spec)
	if len(matches) != 1 || matches[0].Provider.Name != "groq" {
		t.Errorf("best-large should match only groq's tier-3 model, got %+v", matches)
	}
}

func TestRateLimits_Merge_OverrideWinsFieldwise(t *testing.T) {
	base := RateLimits{RequestsPerMinute: ptrI64(100), TokensPerMinute: ptrI64(1000)}
	override := RateLimits{RequestsPerMinute: ptrI64(10)}
	merged := base.Merge(override)
	if *merged.RequestsPerMinute != 10 {
		t.Errorf("override should win, got %d", *merged.RequestsPerMinute)
	}
	if *merged.TokensPerMinute != 1000 {
		t.Errorf("base should survive unset override field, got %d", *merged.TokensPerMinute)
	}
}

func ptrI64(i int64) *int64 { return &i }
