package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	llmrouter "github.com/freetier/llmrouter"
	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/ratelimit"
)

func newQuotaCmd() *cobra.Command {
	var modelsPath, providersPath, provider, model string

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Inspect live quota/cooldown state for a provider/model pair",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the current windowed usage and cooldown for one (provider, model) pair",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg := llmrouter.Config{ModelsPath: modelsPath, ProvidersPath: providersPath}
			bundle, err := llmrouter.LoadBundle(cfg)
			if err != nil {
				return fmt.Errorf("load bundle: %w", err)
			}
			st, err := llmrouter.NewStore(cfg)
			if err != nil {
				return fmt.Errorf("construct store: %w", err)
			}
			defer st.Close()

			canonical := bundle.Resolve(model)
			limits := limitsFor(bundle.ProvidersSupporting(canonical), provider)

			tracker := ratelimit.New(st, clock.RealClock{}, 0)
			status, err := tracker.GetQuotaStatus(context.Background(), provider, canonical, limits)
			if err != nil {
				return fmt.Errorf("get quota status: %w", err)
			}

			printWindow := func(name string, w ratelimit.WindowQuota) {
				remaining := "unbounded"
				if w.RequestsRemaining != nil {
					remaining = fmt.Sprintf("%d requests", *w.RequestsRemaining)
				}
				fmt.Printf("  %-6s remaining=%-16s reset=%s\n", name, remaining, w.ResetTime)
			}
			fmt.Printf("%s / %s\n", provider, canonical)
			printWindow("minute", status.Minute)
			printWindow("hour", status.Hour)
			printWindow("day", status.Day)
			if status.CooldownUntil != nil {
				fmt.Printf("  cooldown until %s\n", status.CooldownUntil)
			} else {
				fmt.Println("  no active cooldown")
			}
			return nil
		},
	}
	show.Flags().StringVar(&modelsPath, "models", "", "path to models.yaml")
	show.Flags().StringVar(&providersPath, "providers", "", "path to providers.yaml")
	show.Flags().StringVar(&provider, "provider", "", "provider name")
	show.Flags().StringVar(&model, "model", "", "model token")
	_ = show.MarkFlagRequired("models")
	_ = show.MarkFlagRequired("providers")
	_ = show.MarkFlagRequired("provider")
	_ = show.MarkFlagRequired("model")

	cmd.AddCommand(show)
	return cmd
}

// limitsFor returns the effective rate limits for provider among matches,
// or a zero (unbounded) value if that provider doesn't serve the model.
func limitsFor(matches []catalog.ProviderMatch, provider string) catalog.RateLimits {
	for _, m := range matches {
		if m.Provider.Name == provider {
			return m.Record.Limits
		}
	}
	return catalog.RateLimits{}
}
