// Command sectctl is the operator CLI for the Sect API. It evaluates the same
// balance rules the server runs so operators can check keys, levels, damage
// and cooldowns without a running deployment.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/internal/config"
	"github.com/forgo/sect/internal/model"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	balancePath string
}

func (o *rootOptions) balance() (*model.Balance, error) {
	b, err := config.LoadBalance(o.balancePath)
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return b, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sectctl",
		Short: "Operator tooling for sects, the contribution ledger and raids",
		Long: `sectctl evaluates the sect balance rules offline.

Every command reads the built-in balance unless --balance points at a YAML
override, the same file the server loads from BALANCE_PATH.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.balancePath, "balance", os.Getenv("BALANCE_PATH"), "Path to a balance YAML override")

	root.AddCommand(
		newKeysCmd(),
		newLevelCmd(opts),
		newDamageCmd(opts),
		newCooldownCmd(opts),
		newTokenCmd(),
		newKeypairCmd(),
		newBalanceCmd(),
	)
	return root
}
