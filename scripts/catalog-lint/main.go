// catalog-lint validates a models/providers YAML bundle pair: it runs the
// same schema and dangling-reference checks llmrouter.New applies at
// startup, without constructing any provider client, so a bundle can be
// linted in CI before it's ever deployed with real credentials.
//
// Usage:
//
//	go run ./scripts/catalog-lint -models models.yaml -providers providers.yaml
package main

import (
	"flag"
	"fmt"
	"os"

	llmrouter "github.com/freetier/llmrouter"
)

func main() {
	modelsPath := flag.String("models", "", "path to models.yaml")
	providersPath := flag.String("providers", "", "path to providers.yaml")
	flag.Parse()

	if *modelsPath == "" || *providersPath == "" {
		fmt.Fprintln(os.Stderr, "error: -models and -providers are both required")
		os.Exit(2)
	}

	bundle, err := llmrouter.LoadBundle(llmrouter.Config{
		ModelsPath:    *modelsPath,
		ProvidersPath: *providersPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "catalog-lint: FAIL\n  %v\n", err)
		os.Exit(1)
	}

	providerCount := len(bundle.Providers())
	modelCount := 0
	for _, p := range bundle.Providers() {
		modelCount += len(p.Models)
	}
	fmt.Printf("catalog-lint: OK — %d provider(s), %d provider-model binding(s)\n", providerCount, modelCount)
}
