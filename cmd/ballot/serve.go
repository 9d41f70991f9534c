package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/node"
)

var serveOpts = struct {
	votingProgram string
	noRPC         bool
	noGeyser      bool
}{}

var serveConfig = node.DefaultConfig()

func init() {
	f := serveCmd.Flags()
	f.StringVar(&serveConfig.DataDir, "data-dir", serveConfig.DataDir, "Data directory for accounts and ledger")
	f.BoolVar(&serveConfig.InMemoryAccounts, "in-memory", false, "Keep account state in memory")
	f.StringVar(&serveConfig.SnapshotPath, "snapshot", "", "Accounts snapshot to load into an empty database")
	f.BoolVar(&serveConfig.VerifyLedger, "verify-ledger", serveConfig.VerifyLedger, "Verify the ledger hash chain at startup")
	f.StringVar(&serveOpts.votingProgram, "voting-program", serveConfig.VotingProgramID.String(), "Voting program address")
	f.DurationVar(&serveConfig.SlotDuration, "slot-duration", serveConfig.SlotDuration, "Interval between slots")
	f.Uint64Var(&serveConfig.ComputeUnitLimit, "compute-unit-limit", serveConfig.ComputeUnitLimit, "Compute budget per transaction")
	f.Uint64Var(&serveConfig.MaxAirdropLamports, "airdrop-limit", serveConfig.MaxAirdropLamports, "Maximum lamports per airdrop")
	f.StringVar(&serveConfig.RPCAddr, "rpc-addr", serveConfig.RPCAddr, "JSON-RPC listen address")
	f.BoolVar(&serveConfig.RPCLogRequests, "rpc-log-requests", false, "Log every RPC request")
	f.BoolVar(&serveOpts.noRPC, "no-rpc", false, "Disable the JSON-RPC server")
	f.StringVar(&serveConfig.GeyserAddr, "geyser-addr", serveConfig.GeyserAddr, "Geyser gRPC listen address")
	f.StringVar(&serveConfig.GeyserToken, "geyser-token", "", "Token Geyser clients must present (supports ${VAR})")
	f.BoolVar(&serveOpts.noGeyser, "no-geyser", false, "Disable the Geyser server")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a ballot node",
	RunE: func(cmd *cobra.Command, args []string) error {
		programID, err := types.PubkeyFromBase58(serveOpts.votingProgram)
		if err != nil {
			return fmt.Errorf("invalid --voting-program: %w", err)
		}
		cfg := serveConfig
		cfg.VotingProgramID = programID
		cfg.RPCEnabled = !serveOpts.noRPC
		cfg.GeyserEnabled = !serveOpts.noGeyser
		cfg.Version = Version

		n, err := node.New(&cfg)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		klog.InfoS("Starting X1-Ballot", "version", Version, "commit", GitCommit)
		if err := n.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		klog.InfoS("Shutting down")
		return n.Stop()
	},
}
