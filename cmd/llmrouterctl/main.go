// Command llmrouterctl is a playground CLI for inspecting a models/providers
// bundle and the live routing state it would produce, without standing up
// a full Router (no provider API keys required): it loads the catalog and
// state store the same way llmrouter.New does, but never wires a client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/freetier/llmrouter/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:     "llmrouterctl",
		Short:   "Inspect a routing catalog and live quota/cooldown state",
		Version: version.String(),
	}
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newQuotaCmd())
	root.AddCommand(newRouteCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
