package main

import (
	"fmt"

	"github.com/spf13/cobra"

	llmrouter "github.com/freetier/llmrouter"
)

func newCatalogCmd() *cobra.Command {
	var modelsPath, providersPath string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect a loaded models/providers bundle",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print every canonical model, its tier, and which providers serve it",
		RunE: func(_ *cobra.Command, _ []string) error {
			bundle, err := llmrouter.LoadBundle(llmrouter.Config{
				ModelsPath:    modelsPath,
				ProvidersPath: providersPath,
			})
			if err != nil {
				return fmt.Errorf("load bundle: %w", err)
			}

			for _, p := range bundle.Providers() {
				for _, rec := range p.Models {
					model, _ := bundle.Model(rec.CanonicalID)
					fmt.Printf("%-24s tier=%d  %-10s -> %s\n", rec.CanonicalID, model.Tier, p.Name, rec.ProviderModelID)
				}
			}
			return nil
		},
	}
	show.Flags().StringVar(&modelsPath, "models", "", "path to models.yaml")
	show.Flags().StringVar(&providersPath, "providers", "", "path to providers.yaml")
	_ = show.MarkFlagRequired("models")
	_ = show.MarkFlagRequired("providers")

	cmd.AddCommand(show)
	return cmd
}
