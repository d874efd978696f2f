package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/engine"
)

var graphCmd = &cobra.Command{
	Use:   "graph [declaration]",
	Short: "Output the dependency graph in DOT format",
	Long: `Generates a visual representation of the resource dependency graph
in Graphviz DOT format. Pipe the output to 'dot' to generate an image:

  shopforge graph | dot -Tpng > graph.png`,
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(dep.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph shopforge {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, addr := range graph.Addresses() {
		fmt.Printf("  %q;\n", addr)
	}
	fmt.Println()

	for _, addr := range graph.Addresses() {
		for _, dep := range graph.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
