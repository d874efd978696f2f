package cli

import (
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/autoscale"
	"github.com/shopforge-io/shopforge/internal/logging"
)

var (
	autoscaleOnce     bool
	autoscaleInterval time.Duration
)

var autoscaleCmd = &cobra.Command{
	Use:   "autoscale [declaration]",
	Short: "Run the autoscaling controllers for the declared workloads",
	Long: `Starts one controller per declared autoscaler. Each controller
periodically reads the workload's utilization and adjusts its replica
count toward the target. Runs until interrupted.`,
	RunE: runAutoscale,
}

func init() {
	autoscaleCmd.Flags().BoolVar(&autoscaleOnce, "once", false, "Evaluate each policy a single time and exit")
	autoscaleCmd.Flags().DurationVar(&autoscaleInterval, "interval", 0, "Override the evaluation interval of every declared policy")
}

func runAutoscale(cmd *cobra.Command, args []string) error {
	dep, err := loadDeployment(args)
	if err != nil {
		return err
	}
	if len(dep.Autoscalers) == 0 {
		fmt.Println("No autoscalers declared.")
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := newRegistry()
	for _, policy := range dep.Autoscalers {
		if err := registry.Load(policy.Workload.Provider); err != nil {
			return err
		}
	}

	if autoscaleOnce {
		for _, policy := range dep.Autoscalers {
			prov, err := registry.Get(policy.Workload.Provider)
			if err != nil {
				return err
			}
			ctrl := autoscale.NewController(*policy, prov, prov)
			decision, err := ctrl.Evaluate(ctx)
			if err != nil {
				logging.Warn("evaluation skipped", "workload", policy.Workload.String(), "error", err)
				continue
			}
			fmt.Printf("  %s: %.1f%% of target %.0f%%, replicas %d -> %d\n",
				policy.Workload.String(), decision.Utilization, policy.TargetUtilization,
				decision.CurrentReplicas, decision.DesiredReplicas)
		}
		return nil
	}

	var wg sync.WaitGroup
	for _, policy := range dep.Autoscalers {
		prov, err := registry.Get(policy.Workload.Provider)
		if err != nil {
			return err
		}
		spec := *policy
		if autoscaleInterval > 0 {
			spec.Interval = autoscaleInterval
		}
		ctrl := autoscale.NewController(spec, prov, prov)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ctrl.Run(ctx)
		}()
		logging.Info("controller started",
			"workload", policy.Workload.String(),
			"metric", policy.Metric,
			"target", policy.TargetUtilization)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}
