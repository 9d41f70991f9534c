// Command ballot runs and operates an X1-Ballot node.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

var rootCmd = &cobra.Command{
	Use:           "ballot",
	Short:         "X1-Ballot decentralized polling node",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	klogFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(klogFlags)
	rootCmd.PersistentFlags().AddGoFlagSet(klogFlags)
	defer klog.Flush()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		klog.Flush()
		os.Exit(1)
	}
}
