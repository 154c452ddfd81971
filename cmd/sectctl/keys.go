package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgo/sect/internal/service"
)

func newKeysCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Print the day and week keys for an instant",
		Example: `  sectctl keys
  sectctl keys --at 2024-01-14T23:30:00-08:00`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			t := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at: %w", err)
				}
				t = parsed
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "instant:  %s\n", t.UTC().Format(time.RFC3339))
			fmt.Fprintf(out, "day_key:  %s\n", service.DayKey(t))
			fmt.Fprintf(out, "week_key: %s\n", service.WeekKey(t))
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "RFC3339 instant (default: now)")
	return cmd
}
