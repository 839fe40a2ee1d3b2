package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	llmrouter "github.com/freetier/llmrouter"
	"github.com/freetier/llmrouter/catalog"
	"github.com/freetier/llmrouter/internal/clock"
	"github.com/freetier/llmrouter/internal/ratelimit"
	"github.com/freetier/llmrouter/internal/selection"
	"github.com/freetier/llmrouter/internal/strategy"
)

func newRouteCmd() *cobra.Command {
	var modelsPath, providersPath, model, strategyName string

	cmd := &cobra.Command{
		Use:   "route",
		Short: "Dry-run candidate selection for a model token against live quota/cooldown state",
		Long: "Loads the catalog and state store, lists every surviving candidate for --model, " +
			"and reports which one the chosen strategy would pick right now. Never invokes a provider.",
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

			strat, err := resolveStrategyByName(strategyName)
			if err != nil {
				return err
			}

			tracker := ratelimit.New(st, clock.RealClock{}, 0)
			runtime := runtimeFromBundle(bundle)
			routingCtx := selection.NewRoutingContext()

			candidates, err := selection.ListCandidates(context.Background(), bundle, tracker, runtime, model, routingCtx)
			if err != nil {
				return fmt.Errorf("list candidates: %w", err)
			}
			for _, c := range candidates {
				fmt.Printf("  candidate: %-10s tier=%d priority=%d free_credits=%v\n",
					c.Provider.Name, c.Tier, c.Priority, c.IsFreeCredits)
			}

			choice, err := strat.Select(candidates, routingCtx)
			if err != nil {
				return fmt.Errorf("strategy select: %w", err)
			}
			fmt.Printf("chosen: %s (%s)\n", choice.Provider.Name, choice.Record.ProviderModelID)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelsPath, "models", "", "path to models.yaml")
	cmd.Flags().StringVar(&providersPath, "providers", "", "path to providers.yaml")
	cmd.Flags().StringVar(&model, "model", "", "model token to resolve")
	cmd.Flags().StringVar(&strategyName, "strategy", "priority", "priority|least-used|weighted|latency-aware")
	_ = cmd.MarkFlagRequired("models")
	_ = cmd.MarkFlagRequired("providers")
	_ = cmd.MarkFlagRequired("model")

	return cmd
}

func resolveStrategyByName(name string) (selection.Strategy, error) {
	switch llmrouter.StrategyName(name) {
	case llmrouter.StrategyPriority:
		return strategy.Priority{}, nil
	case llmrouter.StrategyLeastUsed:
		return strategy.LeastUsed{}, nil
	case llmrouter.StrategyWeighted:
		return strategy.Weighted{}, nil
	case llmrouter.StrategyLatencyAware:
		return strategy.LatencyAware{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// runtimeFromBundle builds a neutral ProviderRuntime map (priority 0,
// no free credits) for every configured provider — the playground CLI
// has no ProviderConfig, since it never wires upstream clients.
func runtimeFromBundle(bundle *catalog.Bundle) map[string]selection.ProviderRuntime {
	runtime := make(map[string]selection.ProviderRuntime, len(bundle.Providers()))
	for _, p := range bundle.Providers() {
		runtime[p.Name] = selection.ProviderRuntime{}
	}
	return runtime
}
