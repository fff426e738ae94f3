package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Opt struct {
	ConfigPath string
	Caches     []string
	Timeout    time.Duration
	Output     string
}

func newRootCmd(v *viper.Viper, o *Opt, run func() error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "partcheck",
		Short: "Finds and repairs diverged partition replicas",
		Long: `partcheck scans every partition of the selected caches, compares the
versions held by the partition's owners and rechecks keys that disagree.
Keys that still disagree after all rechecks are reported, or copied from
the primary to the backups when --fix is set.

The report is written to stdout. Exit status is 0 when the session
completed, 1 when it failed and 2 when it was cancelled or timed out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if o.Output != "yaml" && o.Output != "json" {
				return errors.New("invalid 'output' (allowed values: yaml, json)")
			}
			if o.Timeout < 0 {
				return errors.New("timeout cannot be negative")
			}
			return run()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&o.ConfigPath, "config", "", "Path to a YAML config file")
	flags.StringSliceVar(&o.Caches, "cache", nil, "Caches to reconcile (default: every configured cache)")
	flags.DurationVar(&o.Timeout, "timeout", 0, "Cancel the session after this long (0 = no limit)")
	flags.StringVarP(&o.Output, "output", "o", "yaml", "Report format (yaml or json)")

	flags.String("peers", "", "Comma-separated cluster nodes in the form id=addr")
	flags.Int("vnodes", 128, "Virtual nodes per node on the ring")
	flags.Bool("fix", false, "Repair keys that stay inconsistent after all rechecks")
	flags.Duration("throttle", 0, "Minimum interval between dispatched tasks")
	flags.Int("batch-size", 100, "Keys scanned per owner per batch")
	flags.Int("recheck-attempts", 2, "Rechecks of a suspect key before it is reported or repaired")
	flags.Duration("recheck-delay", 10*time.Second, "Delay before the first recheck")
	flags.String("backoff", "fixed", "Recheck backoff policy (fixed or exponential)")
	flags.Duration("max-recheck-delay", 5*time.Minute, "Upper bound for exponential backoff")
	flags.Int("parallelism", 16, "Tasks in flight at once")
	flags.Int("repair-attempts", 3, "Tries for a failing repair")
	flags.Duration("repair-timeout", 2*time.Second, "Timeout for repairing one key")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")

	bind(v, rootCmd, map[string]string{
		"peers":                     "peers",
		"vnodes":                    "vnodes",
		"checker.fix":               "fix",
		"checker.throttle":          "throttle",
		"checker.batch_size":        "batch-size",
		"checker.recheck_attempts":  "recheck-attempts",
		"checker.recheck_delay":     "recheck-delay",
		"checker.backoff":           "backoff",
		"checker.max_recheck_delay": "max-recheck-delay",
		"checker.parallelism":       "parallelism",
		"checker.repair_attempts":   "repair-attempts",
		"checker.repair_timeout":    "repair-timeout",
		"log.level":                 "log-level",
	})
	return rootCmd
}

func bind(v *viper.Viper, cmd *cobra.Command, keys map[string]string) {
	for key, flag := range keys {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
}
