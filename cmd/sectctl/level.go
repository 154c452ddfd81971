package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/internal/service"
)

func newLevelCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "level <total-energy-earned>",
		Short:   "Resolve the sect level and member capacity for an energy total",
		Example: "  sectctl level 12500",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			energy, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || energy < 0 {
				return fmt.Errorf("energy must be a non-negative integer, got %q", args[0])
			}
			balance, err := opts.balance()
			if err != nil {
				return err
			}

			level := service.ResolveLevel(energy, balance.LevelTiers)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "level:    %d\n", level)
			fmt.Fprintf(out, "capacity: %d\n", service.MemberCapacity(level, balance.LevelTiers))
			if next := service.NextLevelEnergy(level, balance.LevelTiers); next != nil {
				fmt.Fprintf(out, "next:     %d (%d to go)\n", *next, *next-energy)
			} else {
				fmt.Fprintln(out, "next:     max level")
			}
			return nil
		},
	}
}
