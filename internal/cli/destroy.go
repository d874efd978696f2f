package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/engine"
	"github.com/shopforge-io/shopforge/internal/ir"
)

var (
	destroyAutoApprove bool
	destroyParallelism int
)

var destroyCmd = &cobra.Command{
	Use:   "destroy [declaration]",
	Short: "Destroy all resources recorded for a scope",
	Long: `Plans against an empty declaration, so every recorded resource of the
scope is deleted in reverse dependency order.`,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
	destroyCmd.Flags().IntVar(&destroyParallelism, "parallelism", engine.DefaultParallelism, "Maximum number of concurrent resource operations")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}

	// An empty graph turns every recorded resource into a delete.
	graph, err := engine.BuildGraph([]*ir.Resource{})
	if err != nil {
		return err
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
	eng.Parallelism = destroyParallelism
	cs, err := eng.Plan(ctx, dep.Scope, graph, store)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	if cs.Empty() {
		fmt.Println("Nothing to destroy.")
		return nil
	}

	fmt.Println("Shopforge will destroy the following resources:")
	renderChanges(cs)
	renderSummary(cs)

	if !destroyAutoApprove && !confirm() {
		fmt.Println("Destroy cancelled.")
		return nil
	}

	report, err := eng.Apply(ctx, cs, store, nil)
	if report != nil {
		renderReport(report)
	}
	if err != nil {
		return fmt.Errorf("destroy failed: %w", err)
	}
	if report.Failed() {
		return fmt.Errorf("destroy finished with failures")
	}
	return nil
}
