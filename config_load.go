package llmrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/store"
	"github.com/freetier/llmrouter/internal/store/sqlstore"
	"github.com/freetier/llmrouter/providers"
	"github.com/freetier/llmrouter/upstream"
)

// --- YAML bundle shapes ---

type modelsFile struct {
	Models         []modelYAML              `yaml:"models" json:"models"`
	GenericAliases map[string]aliasSpecYAML `yaml:"generic_aliases" json:"generic_aliases"`
}

type modelYAML struct {
	CanonicalID string   `yaml:"canonical_id" json:"canonical_id"`
	Tier        int      `yaml:"tier" json:"tier"`
	Family      string   `yaml:"family" json:"family"`
	Aliases     []string `yaml:"aliases" json:"aliases"`
}

type aliasSpecYAML struct {
	Tier    *int `yaml:"tier" json:"tier"`
	MinTier *int `yaml:"min_tier" json:"min_tier"`
}

type providersFile struct {
	Providers []providerYAML `yaml:"providers" json:"providers"`
}

type providerYAML struct {
	Name        string              `yaml:"name" json:"name"`
	DisplayName string              `yaml:"display_name" json:"display_name"`
	BaseURL     string              `yaml:"base_url" json:"base_url"`
	Models      []providerModelYAML `yaml:"models" json:"models"`
}

type providerModelYAML struct {
	CanonicalID     string         `yaml:"canonical_id" json:"canonical_id"`
	ProviderModelID string         `yaml:"provider_model_id" json:"provider_model_id"`
	Limits          rateLimitsYAML `yaml:"limits" json:"limits"`
}

type rateLimitsYAML struct {
	RequestsPerMinute *int64 `yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   *int64 `yaml:"requests_per_hour" json:"requests_per_hour"`
	RequestsPerDay    *int64 `yaml:"requests_per_day" json:"requests_per_day"`
	TokensPerMinute   *int64 `yaml:"tokens_per_minute" json:"tokens_per_minute"`
	TokensPerHour     *int64 `yaml:"tokens_per_hour" json:"tokens_per_hour"`
	TokensPerDay      *int64 `yaml:"tokens_per_day" json:"tokens_per_day"`
}

func (r rateLimitsYAML) toCatalog() catalog.RateLimits {
	return catalog.RateLimits{
		RequestsPerMinute: r.RequestsPerMinute,
		RequestsPerHour:   r.RequestsPerHour,
		RequestsPerDay:    r.RequestsPerDay,
		TokensPerMinute:   r.TokensPerMinute,
		TokensPerHour:     r.TokensPerHour,
		TokensPerDay:      r.TokensPerDay,
	}
}

// modelsSchema and providersSchema are the structural validation gates
// applied before any semantic (dangling-reference) check: they catch a
// malformed bundle (wrong types, missing required fields) with a
// precise pointer into the document, rather than a confusing zero value
// silently propagating into the catalog.
const modelsSchema = `{
	"type": "object",
	"required": ["models"],
	"properties": {
		"models": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["canonical_id", "tier"],
				"properties": {
					"canonical_id": {"type": "string", "minLength": 1},
					"tier": {"type": "integer", "minimum": 1, "maximum": 5}
				}
			}
		}
	}
}`

const providersSchema = `{
	"type": "object",
	"required": ["providers"],
	"properties": {
		"providers": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "models"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"models": {
						"type": "array",
						"items": {
							"type": "object",
							"required": ["canonical_id", "provider_model_id"],
							"properties": {
								"canonical_id": {"type": "string", "minLength": 1},
								"provider_model_id": {"type": "string", "minLength": 1}
							}
						}
					}
				}
			}
		}
	}
}`

func validateAgainstSchema(schemaSource, schemaURL string, doc []byte) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaSource)); err != nil {
		return fmt.Errorf("compile schema %s: %w", schemaURL, err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("compile schema %s: %w", schemaURL, err)
	}

	var decoded interface{}
	if err := json.Unmarshal(doc, &decoded); err != nil {
		return fmt.Errorf("decode document for schema validation: %w", err)
	}
	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}

// LoadBundle is the exported form of loadBundle, for callers (the
// catalog-lint build tool, the llmrouterctl playground CLI) that need a
// validated catalog.Bundle without constructing a full Router.
func LoadBundle(cfg Config) (*catalog.Bundle, error) {
	return loadBundle(cfg)
}

// NewStore is the exported form of newStore, for callers that need a
// Store without constructing a full Router.
func NewStore(cfg Config) (store.Store, error) {
	return newStore(cfg)
}

// loadBundle reads cfg.ModelsPath and cfg.ProvidersPath, validates each
// against its structural schema, then builds an immutable catalog.Bundle
// (which itself enforces the dangling-canonical-id invariant).
func loadBundle(cfg Config) (*catalog.Bundle, error) {
	if cfg.ModelsPath == "" || cfg.ProvidersPath == "" {
		return nil, fmt.Errorf("config: models_path and providers_path are required")
	}

	var mf modelsFile
	if err := loadYAML(cfg.ModelsPath, modelsSchema, "models.json", &mf); err != nil {
		return nil, fmt.Errorf("load models bundle: %w", err)
	}

	var pf providersFile
	if err := loadYAML(cfg.ProvidersPath, providersSchema, "providers.json", &pf); err != nil {
		return nil, fmt.Errorf("load providers bundle: %w", err)
	}

	models := make([]catalog.ModelDescriptor, len(mf.Models))
	for i, m := range mf.Models {
		models[i] = catalog.ModelDescriptor{
			CanonicalID: m.CanonicalID,
			Tier:        m.Tier,
			Family:      m.Family,
			Aliases:     m.Aliases,
		}
	}

	generic := make(map[string]catalog.AliasSpec, len(mf.GenericAliases))
	for name, spec := range mf.GenericAliases {
		generic[name] = catalog.AliasSpec{Tier: spec.Tier, MinTier: spec.MinTier}
	}

	providerDescs := make([]catalog.ProviderDescriptor, len(pf.Providers))
	for i, p := range pf.Providers {
		records := make([]catalog.ProviderModelRecord, len(p.Models))
		for j, m := range p.Models {
			records[j] = catalog.ProviderModelRecord{
				CanonicalID:     m.CanonicalID,
				ProviderModelID: m.ProviderModelID,
				Limits:          m.Limits.toCatalog(),
			}
		}
		providerDescs[i] = catalog.ProviderDescriptor{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			BaseURL:     p.BaseURL,
			Models:      records,
		}
	}

	return catalog.NewBundle(models, generic, providerDescs, cfg.ModelAliases)
}

func loadYAML(path, schemaSource, schemaURL string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse YAML %s: %w", path, err)
	}

	asJSON, err := yamlToJSON(data)
	if err != nil {
		return fmt.Errorf("re-encode %s for schema validation: %w", path, err)
	}
	return validateAgainstSchema(schemaSource, schemaURL, asJSON)
}

func yamlToJSON(data []byte) ([]byte, error) {
	var generic interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// newStore constructs the configured Store backend.
func newStore(cfg Config) (store.Store, error) {
	switch cfg.StateStore {
	case "", StateStoreMemory:
		return store.NewMemory(nil), nil
	case StateStoreSQLite:
		return sqlstore.NewSQLite(cfg.StateStoreDSN)
	case StateStorePostgres:
		return sqlstore.NewPostgres(cfg.StateStoreDSN)
	default:
		return nil, fmt.Errorf("unknown state_store %q", cfg.StateStore)
	}
}

// newClient constructs the upstream.Client for one enabled provider. For
// ProviderKindBedrock, BaseURL (catalog or override) is repurposed as
// the AWS region, since Bedrock has no configurable HTTP base URL.
func newClient(pc ProviderConfig, pd *catalog.ProviderDescriptor) (upstream.Client, error) {
	baseURL := pd.BaseURL
	if pc.BaseURL != "" {
		baseURL = pc.BaseURL
	}

	switch pc.Kind {
	case "", ProviderKindGeneric:
		tokenSource, err := tokenSourceFor(pc)
		if err != nil {
			return nil, err
		}
		return upstream.NewOpenAICompatible(pc.Name, baseURL, tokenSource), nil
	case ProviderKindOpenAI:
		return providers.NewOpenAI(pc.APIKey, baseURL), nil
	case ProviderKindBedrock:
		return providers.NewBedrock(context.Background(), baseURL)
	default:
		return nil, fmt.Errorf("unknown provider kind %q", pc.Kind)
	}
}

func tokenSourceFor(pc ProviderConfig) (upstream.TokenSource, error) {
	if pc.ClientID != "" {
		if pc.ClientSecret == "" || pc.TokenURL == "" {
			return nil, fmt.Errorf("provider %q: client_id set but client_secret/token_url missing", pc.Name)
		}
		return providers.NewOAuthTokenSource(pc.ClientID, pc.ClientSecret, pc.TokenURL, nil), nil
	}
	return upstream.StaticToken(pc.APIKey), nil
}
