package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/engine"
)

var (
	applyAutoApprove bool
	applyParallelism int
)

var applyCmd = &cobra.Command{
	Use:   "apply [declaration]",
	Short: "Apply a deployment declaration",
	Long:  `Creates, updates or deletes resources until they match the declaration.`,
	RunE:  runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the plan before applying")
	applyCmd.Flags().IntVar(&applyParallelism, "parallelism", engine.DefaultParallelism, "Maximum number of concurrent resource operations")
}

func runApply(cmd *cobra.Command, args []string) error {
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
	eng.Parallelism = applyParallelism

	fmt.Print("Calculating plan... ")
	cs, err := eng.Plan(ctx, dep.Scope, graph, store)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if cs.Empty() {
		fmt.Println("No changes. Deployment is up-to-date.")
		return nil
	}

	fmt.Println("\nShopforge will perform the following actions:")
	renderChanges(cs)
	renderSummary(cs)

	if !applyAutoApprove && !confirm() {
		fmt.Println("Apply cancelled.")
		return nil
	}

	fmt.Printf("\nApplying %d changes...\n", len(cs.Changes))

	report, err := eng.Apply(ctx, cs, store, func(ev engine.ApplyEvent) {
		if ev.Status == "started" {
			fmt.Printf("  %s: %s...\n", ev.Address, ev.Action)
		}
	})
	if report != nil {
		renderReport(report)
	}
	if err != nil {
		return fmt.Errorf("apply failed: %w", err)
	}
	if report.Failed() {
		return fmt.Errorf("apply finished with failures; run apply again after fixing the cause")
	}
	return nil
}
