package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/engine"
)

var validateCmd = &cobra.Command{
	Use:   "validate [declaration]",
	Short: "Validate a deployment declaration",
	Long: `Parses the declaration and checks the resource graph: unique names,
resolvable references and no dependency cycles.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(dep.Resources)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	if _, err := graph.TopoSort(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("Declaration is valid. %d resource(s), %d autoscaler(s), scope %q.\n",
		len(dep.Resources), len(dep.Autoscalers), dep.Scope)
	return nil
}
