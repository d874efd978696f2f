package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopforge-io/shopforge/internal/ir"
	"github.com/shopforge-io/shopforge/internal/loader"
	"github.com/shopforge-io/shopforge/internal/provider"
	"github.com/shopforge-io/shopforge/internal/state"
	"github.com/shopforge-io/shopforge/providers/aws"
	"github.com/shopforge-io/shopforge/providers/docker"
	"github.com/shopforge-io/shopforge/providers/local"
)

const defaultDeclaration = "shopforge.yaml"

const timePrecision = 10 * time.Millisecond

// loadDeployment resolves the declaration file from the command args,
// defaulting to shopforge.yaml in the working directory.
func loadDeployment(args []string) (*loader.Deployment, error) {
	path := defaultDeclaration
	if len(args) > 0 {
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}
		if info.IsDir() {
			path = filepath.Join(abs, defaultDeclaration)
		} else {
			path = abs
		}
	}
	return loader.Load(path)
}

// newRegistry builds the provider registry with every built-in
// provider registered. Providers are only instantiated on first use.
func newRegistry() *provider.Registry {
	r := provider.NewRegistry()
	r.Register("local", func() (provider.Provider, error) {
		return local.New(), nil
	})
	r.Register("aws", func() (provider.Provider, error) {
		return aws.New(aws.Config{Region: rootRegion, Profile: rootProfile}), nil
	})
	r.Register("docker", func() (provider.Provider, error) {
		return docker.New(), nil
	})
	return r
}

// openStore opens the state backend selected by the global flags.
func openStore(ctx context.Context) (state.Store, error) {
	switch rootBackend {
	case "", "file":
		path := rootStatePath
		if path == "" {
			path = filepath.Join(".shopforge", "state.json")
		}
		store, err := state.OpenFileStore(path)
		if err != nil {
			return nil, err
		}
		if rootLockTimeout > 0 {
			store.LockTimeout = rootLockTimeout
		}
		return store, nil
	case "s3":
		if rootS3Bucket == "" {
			return nil, fmt.Errorf("the s3 backend requires --s3-bucket")
		}
		store, err := state.OpenS3Store(ctx, state.S3StoreConfig{
			Bucket:        rootS3Bucket,
			Key:           rootS3Key,
			Region:        rootRegion,
			DynamoDBTable: rootS3LockTable,
			Profile:       rootProfile,
			Encrypt:       rootEncryptS3,
		})
		if err != nil {
			return nil, err
		}
		if rootLockTimeout > 0 {
			store.LockTimeout = rootLockTimeout
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown state backend %q", rootBackend)
}

// renderChanges prints the detailed change list for a change set.
func renderChanges(cs *ir.ChangeSet) {
	for _, change := range cs.Changes {
		symbol := "~"
		color := "\033[33m"
		switch change.Action {
		case ir.ActionCreate:
			symbol = "+"
			color = "\033[32m"
		case ir.ActionDelete:
			symbol = "-"
			color = "\033[31m"
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, "\033[0m")
		fmt.Printf("%s  %s %s {\n", color, symbol, change.Address)
		renderAttributeDiff(change)
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

func renderAttributeDiff(change *ir.Change) {
	for key, diff := range change.Diff {
		switch diff.Action {
		case ir.ActionCreate:
			fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
		case ir.ActionDelete:
			fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
		case ir.ActionUpdate:
			fmt.Printf("\033[33m      ~ %s = %v -> %v\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderSummary prints the change set summary counts.
func renderSummary(cs *ir.ChangeSet) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create: %d\n", cs.Summary.Create)
	fmt.Printf("  Update: %d\n", cs.Summary.Update)
	fmt.Printf("  Delete: %d\n", cs.Summary.Delete)
	fmt.Printf("  NoOp:   %d\n", cs.Summary.NoOp)
}

// renderReport prints the per-change outcomes of an apply.
func renderReport(report *ir.ApplyReport) {
	var applied, skipped, failed int
	for _, res := range report.Results {
		switch res.Outcome {
		case ir.OutcomeApplied:
			applied++
			fmt.Printf("\033[32m  ✓ %s %sd (%s)\033[0m\n", res.Address, res.Action, res.Duration.Round(timePrecision))
		case ir.OutcomeSkipped:
			skipped++
			fmt.Printf("\033[33m  - %s skipped (blocked on %s)\033[0m\n", res.Address, res.BlockedOn)
		case ir.OutcomeFailed:
			failed++
			fmt.Printf("\033[31m  ✗ %s failed: %s\033[0m\n", res.Address, res.Error)
		}
	}
	fmt.Printf("\nApply complete! Resources: %d applied, %d failed, %d skipped.\n", applied, failed, skipped)
}

// confirm asks the operator to approve the plan.
func confirm() bool {
	fmt.Print("\nDo you want to perform these actions? (y/n): ")
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}
