package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify recorded state",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show the recorded attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Forget a resource (does not destroy it)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("  %s (provider: %s, version: %d)\n", rec.Address(), rec.Provider, rec.Version)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(records))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	store, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no resource %s in state", args[0])
		}
		return err
	}

	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	rec, err := store.Get(ctx, args[0])
	if err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return fmt.Errorf("no resource %s in state", args[0])
		}
		return err
	}

	if err := store.Delete(ctx, args[0], rec.Version); err != nil {
		return fmt.Errorf("failed to remove %s: %w", args[0], err)
	}
	fmt.Printf("Removed %s from state. The underlying resource still exists.\n", args[0])
	return nil
}
