package main

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/internal/model"
	"github.com/forgo/sect/internal/service"
)

func newDamageCmd(opts *rootOptions) *cobra.Command {
	var (
		attackType string
		stats      model.PlayerStats
		weekly     int64
		seed       uint64
		rolls      int
	)

	cmd := &cobra.Command{
		Use:   "damage",
		Short: "Roll raid damage for an attack",
		Example: `  sectctl damage --type ultimate --attack 300 --crit-rate 25 --crit-damage 180 --weekly 1200
  sectctl damage --type basic --attack 100 --seed 7 --rolls 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			balance, err := opts.balance()
			if err != nil {
				return err
			}

			cfg := service.RaidCombatResolverConfig{Balance: balance}
			if cmd.Flags().Changed("seed") {
				cfg.Rand = rand.New(rand.NewPCG(seed, seed))
			}
			resolver := service.NewRaidCombatResolver(cfg)

			out := cmd.OutOrStdout()
			for i := 0; i < rolls; i++ {
				result, err := resolver.ComputeDamage(model.AttackType(attackType), stats, weekly)
				if err != nil {
					return err
				}
				crit := ""
				if result.IsCrit {
					crit = " CRIT"
				}
				fmt.Fprintf(out, "%s (%s): %d%s, %s\n", result.AttackLabel, result.AttackType, result.Damage, crit, result.Effect)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&attackType, "type", string(model.AttackBasic), "Attack type: basic, artifact, ultimate")
	cmd.Flags().Int64Var(&stats.Attack, "attack", 100, "Attack stat")
	cmd.Flags().IntVar(&stats.CriticalRate, "crit-rate", 0, "Critical rate percent")
	cmd.Flags().IntVar(&stats.CriticalDamage, "crit-damage", 150, "Critical damage percent")
	cmd.Flags().Int64Var(&weekly, "weekly", 0, "Attacker's contribution energy this week")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Seed for reproducible rolls")
	cmd.Flags().IntVar(&rolls, "rolls", 1, "Number of rolls")
	return cmd
}
