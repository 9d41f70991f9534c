package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fortiblox/X1-Ballot/internal/types"
	"github.com/fortiblox/X1-Ballot/pkg/svm/programs/voting"
)

var deriveOpts = struct {
	owner   string
	uid     string
	program string
}{}

func init() {
	f := deriveCmd.Flags()
	f.StringVar(&deriveOpts.owner, "owner", "", "Poll owner address")
	f.StringVar(&deriveOpts.uid, "uid", "", "Poll uid")
	f.StringVar(&deriveOpts.program, "program", types.DefaultVotingProgramAddr.String(), "Voting program address")
	deriveCmd.MarkFlagRequired("owner")
	deriveCmd.MarkFlagRequired("uid")

	rootCmd.AddCommand(deriveCmd)
}

var deriveCmd = &cobra.Command{
	Use:   "derive",
	Short: "Print the storage address of a poll",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := types.PubkeyFromBase58(deriveOpts.owner)
		if err != nil {
			return fmt.Errorf("invalid --owner: %w", err)
		}
		programID, err := types.PubkeyFromBase58(deriveOpts.program)
		if err != nil {
			return fmt.Errorf("invalid --program: %w", err)
		}
		addr, bump, err := voting.DerivePollAddress(owner, deriveOpts.uid, programID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr, bump)
		return nil
	},
}
