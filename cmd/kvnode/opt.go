package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Opt struct {
	ConfigPath string
}

// newRootCmd builds the kvnode command. Flags are bound to viper keys so
// that flag, environment and file values share one precedence order.
func newRootCmd(v *viper.Viper, o *Opt, run func() error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kvnode",
		Short: "Runs a partitioned key-value data node",
		Long: `kvnode stores the partitions it owns and serves replicated writes,
reads and the scan, version and repair calls used by partcheck.

Configuration is read from --config, then PARTRECON_* environment
variables, then flags. Peers may be given as "id1=addr1,id2=addr2".`,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}

	flags := rootCmd.Flags()
	flags.StringVar(&o.ConfigPath, "config", "", "Path to a YAML config file")
	flags.String("node-id", "", "ID of this node (required)")
	flags.String("listen", "127.0.0.1:50051", "gRPC listen address")
	flags.String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (empty disables it)")
	flags.String("peers", "", "Comma-separated peers in the form id=addr")
	flags.Int("vnodes", 128, "Virtual nodes per node on the ring")
	flags.Int("write-quorum", 0, "Acknowledgements required per write (0 = majority of owners)")
	flags.String("storage-engine", "memory", "Storage engine (memory or badger)")
	flags.String("storage-path", "", "Data directory for the badger engine")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.Bool("log-development", false, "Human-readable console logs")

	bind(v, rootCmd, map[string]string{
		"node_id":         "node-id",
		"listen":          "listen",
		"metrics_addr":    "metrics-addr",
		"peers":           "peers",
		"vnodes":          "vnodes",
		"write_quorum":    "write-quorum",
		"storage.engine":  "storage-engine",
		"storage.path":    "storage-path",
		"log.level":       "log-level",
		"log.development": "log-development",
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
