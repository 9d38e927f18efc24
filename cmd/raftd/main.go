// Command raftd runs a single consensus node fronted by a small
// distributed key-value demo, wired the way the teacher's cmd/kvserver
// wires its own raft.Node — generalized to cobra flags and this module's
// storage/transport packages.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := defaultRunOptions()

	cmd := &cobra.Command{
		Use:   "raftd",
		Short: "Run a raftd consensus node backing a demo key-value store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.id, "id", "", "node id (default: a generated uuid)")
	flags.StringVar(&opts.listen, "listen", ":8080", "address this node listens on for both raft and kv traffic")
	flags.StringVar(&opts.peersFlag, "peers", "", "comma-separated id=addr pairs for the fixed peer set, e.g. n2=http://localhost:8081")
	flags.StringVar(&opts.dataDir, "data-dir", "", "directory for durable bbolt storage; empty means in-memory")
	flags.DurationVar(&opts.minElection, "min-election-timeout", opts.minElection, "minimum election timeout")
	flags.DurationVar(&opts.maxElection, "max-election-timeout", opts.maxElection, "maximum election timeout")
	flags.DurationVar(&opts.heartbeat, "heartbeat-interval", opts.heartbeat, "leader heartbeat interval")

	return cmd
}
