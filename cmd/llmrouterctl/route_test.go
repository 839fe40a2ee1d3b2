package main

import (
	"testing"

	"github.com/freetier/llmrouter/catalog"
)

func TestResolveStrategyByName_UnknownIsError(t *testing.T) {
	if _, err := resolveStrategyByName("bogus"); err == nil {
		t.Fatal("expected an error for an unknown strategy name")
	}
}

func TestResolveStrategyByName_KnownNames(t *testing.T) {
	for _, name := range []string{"priority", "least-used", "weighted", "latency-aware"} {
		if _, err := resolveStrategyByName(name); err != nil {
			t.Errorf("resolveStrategyByName(%q): %v", name, err)
		}
	}
}

func TestRuntimeFromBundle_OneEntryPerProvider(t *testing.T) {
	bundle, err := catalog.NewBundle(
		[]catalog.ModelDescriptor{{CanonicalID: "m", Tier: 1}},
		nil,
		[]catalog.ProviderDescriptor{{Name: "alpha"}, {Name: "beta"}},
		nil,
	)
	if err != nil {
		t.Fatalf("NewBundle: %v", err)
	}

	runtime := runtimeFromBundle(bundle)
	if len(runtime) != 2 {
		t.Fatalf("got %d entries, want 2", len(runtime))
	}
}
