package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/engine"
)

var planCmd = &cobra.Command{
	Use:   "plan [declaration]",
	Short: "Show the changes required to reach the declared deployment",
	Long: `Compares the declared deployment against recorded state and prints the
ordered change set that apply would execute. Plan never touches real
infrastructure.`,
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	graph, err := engine.BuildGraph(dep.Resources)
	if err != nil {
		return fmt.Errorf("invalid declaration: %w", err)
	}

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	lock, err := store.Lock(ctx, dep.Scope)
	if err != nil {
		return err
	}
	defer store.Unlock(lock)

	eng := engine.NewEngine(newRegistry())
	cs, err := eng.Plan(ctx, dep.Scope, graph, store)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if cs.Empty() {
		fmt.Println("No changes. Deployment is up-to-date.")
		return nil
	}

	fmt.Println("Shopforge will perform the following actions:")
	renderChanges(cs)
	renderSummary(cs)
	return nil
}
