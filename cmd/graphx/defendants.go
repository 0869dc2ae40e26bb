package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/api"
)

func defendantsCmd(flags *globalFlags) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "defendants",
		Short: "List the organizations named in the most cases",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			defendants, err := api.New(cfg.Backend).TopDefendants(cmd.Context(), limit)
			if err != nil {
				bad.Fprintf(cmd.ErrOrStderr(), "failed to list defendants: %v\n", err)
				return err
			}
			if len(defendants) == 0 {
				subtle.Fprintln(cmd.OutOrStdout(), "no defendants")
				return nil
			}
			rows := make([][]string, 0, len(defendants))
			for i, d := range defendants {
				rows = append(rows, []string{
					strconv.Itoa(i + 1),
					d.CanonicalName,
					strconv.Itoa(d.CaseCount),
					strconv.Itoa(d.ActiveCount),
					strconv.Itoa(d.InactiveCount),
				})
			}
			printTable(cmd.OutOrStdout(), []string{"#", "ORGANIZATION", "CASES", "ACTIVE", "INACTIVE"}, rows)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 30, "number of defendants to list")
	return cmd
}
