package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/shopforge-io/shopforge/internal/logging"
)

var (
	rootLogLevel string
	rootRegion   string
	rootProfile  string

	rootStatePath   string
	rootBackend     string
	rootS3Bucket    string
	rootS3Key       string
	rootS3LockTable string
	rootEncryptS3   bool
	rootLockTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "shopforge",
	Short: "Declarative deployment for the ShopForge platform",
	Long: `Shopforge reconciles a declared deployment against the resources that
actually exist, computing an ordered change set and applying it:

  • Declarative resource graphs with cross-resource references
  • Versioned, lockable state on disk or in S3
  • Deterministic plans and contained failures
  • Target-utilization autoscaling for workloads`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(rootLogLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootRegion, "region", "", "AWS region for the aws provider and the s3 backend")
	rootCmd.PersistentFlags().StringVar(&rootProfile, "profile", "", "AWS shared config profile")
	rootCmd.PersistentFlags().StringVar(&rootStatePath, "state", "", "Path to the state file (default .shopforge/state.json)")
	rootCmd.PersistentFlags().StringVar(&rootBackend, "backend", "file", "State backend (file or s3)")
	rootCmd.PersistentFlags().StringVar(&rootS3Bucket, "s3-bucket", "", "Bucket for the s3 state backend")
	rootCmd.PersistentFlags().StringVar(&rootS3Key, "s3-key", "shopforge/state.json", "Object key for the s3 state backend")
	rootCmd.PersistentFlags().StringVar(&rootS3LockTable, "s3-lock-table", "", "DynamoDB table used for s3 state locking")
	rootCmd.PersistentFlags().BoolVar(&rootEncryptS3, "s3-encrypt", false, "Request server-side encryption for s3 state objects")
	rootCmd.PersistentFlags().DurationVar(&rootLockTimeout, "lock-timeout", 0, "How long to wait for a contended state lock (default 15s)")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(autoscaleCmd)
	rootCmd.AddCommand(versionCmd)
}
