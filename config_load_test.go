package llmrouter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/freetier/llmrouter/catalog"
)

const testModelsYAML = `
models:
  - canonical_id: big-model
    tier: 5
    family: test
    aliases: [big]
generic_aliases:
  best:
    tier: 5
`

const testProvidersYAML = `
providers:
  - name: alpha
    display_name: Alpha
    base_url: https://alpha.example.com/v1
    models:
      - canonical_id: big-model
        provider_model_id: alpha-big
        limits:
          requests_per_minute: 60
`

const testProvidersYAMLDangling = `
providers:
  - name: alpha
    models:
      - canonical_id: nonexistent
        provider_model_id: alpha-x
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadBundle_BuildsBundleFromYAML(t *testing.T) {
	cfg := Config{
		ModelsPath:    writeTempFile(t, "models.yaml", testModelsYAML),
		ProvidersPath: writeTempFile(t, "providers.yaml", testProvidersYAML),
	}

	bundle, err := loadBundle(cfg)
	if err != nil {
		t.Fatalf("loadBundle: %v", err)
	}
	if bundle.Tier("big-model") != 5 {
		t.Errorf("got tier %d, want 5", bundle.Tier("big-model"))
	}
	if got := bundle.Resolve("big"); got != "big-model" {
		t.Errorf("got %q, want big-model", got)
	}
	matches := bundle.ProvidersSupporting("big-model")
	if len(matches) != 1 || matches[0].Provider.Name != "alpha" {
		t.Fatalf("got %+v, want one match for alpha", matches)
	}
	if matches[0].Record.Limits.RequestsPerMinute == nil || *matches[0].Record.Limits.RequestsPerMinute != 60 {
		t.Errorf("got limits %+v, want requests_per_minute=60", matches[0].Record.Limits)
	}
}

func TestLoadBundle_RejectsDanglingReference(t *testing.T) {
	cfg := Config{
		ModelsPath:    writeTempFile(t, "models.yaml", testModelsYAML),
		ProvidersPath: writeTempFile(t, "providers.yaml", testProvidersYAMLDangling),
	}

	_, err := loadBundle(cfg)
	if err == nil {
		t.Fatal("expected an error for a dangling canonical id reference")
	}
}

func TestLoadBundle_MissingPathsIsRejected(t *testing.T) {
	_, err := loadBundle(Config{})
	if err == nil {
		t.Fatal("expected an error when models_path/providers_path are unset")
	}
}

func TestLoadBundle_SchemaRejectsMissingRequiredField(t *testing.T) {
	cfg := Config{
		ModelsPath:    writeTempFile(t, "models.yaml", "models:\n  - tier: 3\n"),
		ProvidersPath: writeTempFile(t, "providers.yaml", testProvidersYAML),
	}

	_, err := loadBundle(cfg)
	if err == nil {
		t.Fatal("expected a schema validation error for a model missing canonical_id")
	}
}

func TestNewStore_DefaultsToMemory(t *testing.T) {
	st, err := newStore(Config{})
	if err != nil {
		t.Fatalf("newStore: %v", err)
	}
	defer st.Close()
}

func TestNewClient_GenericUsesOpenAICompatible(t *testing.T) {
	pc := ProviderConfig{Name: "alpha", APIKey: "secret"}
	pd := &catalog.ProviderDescriptor{Name: "alpha", BaseURL: "https://alpha.example.com/v1"}
	client, err := newClient(pc, pd)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	if client == nil {
		t.Fatal("expected a non-nil client")
	}
}
