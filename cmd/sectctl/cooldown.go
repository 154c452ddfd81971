package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

func newCooldownCmd(opts *rootOptions) *cobra.Command {
	var (
		attackType string
		last       string
		now        string
	)

	cmd := &cobra.Command{
		Use:     "cooldown",
		Short:   "Show the remaining cooldown after an attack",
		Example: "  sectctl cooldown --type artifact --last 2024-01-10T12:00:00Z --now 2024-01-10T12:00:05Z",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lastAt, err := time.Parse(time.RFC3339, last)
			if err != nil {
				return fmt.Errorf("invalid --last: %w", err)
			}
			clock := time.Now
			if now != "" {
				at, err := time.Parse(time.RFC3339, now)
				if err != nil {
					return fmt.Errorf("invalid --now: %w", err)
				}
				clock = func() time.Time { return at }
			}

			balance, err := opts.balance()
			if err != nil {
				return err
			}
			if _, ok := balance.Attack(model.AttackType(attackType)); !ok {
				return service.ErrInvalidAttackType
			}

			resolver := service.NewRaidCombatResolver(service.RaidCombatResolverConfig{Balance: balance, Clock: clock})
			remaining := resolver.GetCooldownRemaining(&lastAt, model.AttackType(attackType))

			out := cmd.OutOrStdout()
			if remaining == 0 {
				fmt.Fprintf(out, "%s: ready\n", attackType)
				return nil
			}
			fmt.Fprintf(out, "%s: %s remaining (%d ms)\n", attackType, remaining.Round(time.Second), remaining.Milliseconds())
			return nil
		},
	}

	cmd.Flags().StringVar(&attackType, "type", string(model.AttackBasic), "Attack type: basic, artifact, ultimate")
	cmd.Flags().StringVar(&last, "last", "", "RFC3339 time of the previous attack")
	cmd.Flags().StringVar(&now, "now", "", "RFC3339 reference time (default: now)")
	_ = cmd.MarkFlagRequired("last")
	return cmd
}
