package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/api"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/engine"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/interaction"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

func exploreCmd(flags *globalFlags) *cobra.Command {
	var expand []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "explore <organization>",
		Short: "Load an organization's defendant graph, expand cases, and print the layout",
		Example: `  graphx explore "Tesla, Inc."
  graphx explore "Tesla, Inc." --expand case-123 --expand case-456`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			res, err := explore(cmd, cfg, api.New(cfg.Backend), args[0], expand)
			if err != nil {
				bad.Fprintf(cmd.ErrOrStderr(), "%v\n", err)
				return err
			}
			return printLayout(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().StringArrayVarP(&expand, "expand", "e", nil, "case id to expand after loading (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// explore runs the gestures one at a time, waiting for each fetch, then steps
// the simulation until it settles.
func explore(cmd *cobra.Command, cfg *config.Config, fetcher interaction.Fetcher, org string, expand []string) (layoutResult, error) {
	ctrl := interaction.New(fetcher, cfg, interaction.Callbacks{})
	defer ctrl.Close()

	if _, err := ctrl.SelectRoot(org, nil); err != nil {
		return layoutResult{}, err
	}
	ctrl.Wait()
	if err := gestureError(ctrl); err != nil {
		return layoutResult{}, err
	}

	for _, id := range expand {
		if _, err := ctrl.Expand(id); err != nil {
			return layoutResult{}, err
		}
		ctrl.Wait()
		if err := gestureError(ctrl); err != nil {
			warn.Fprintf(cmd.ErrOrStderr(), "skipping %s: %v\n", id, err)
		}
	}

	ticks, err := engine.RunUntilSettled(cmd.Context(), ctrl, cfg.Layout.MaxTicks, utils.FrameInterval(cfg.Layout.TargetFPS))
	if err != nil && !errors.Is(err, engine.ErrTickLimit) {
		return layoutResult{}, err
	}
	snap := ctrl.Snapshot()
	return layoutResult{
		Settled: err == nil,
		Ticks:   ticks,
		Nodes:   snap.Nodes,
		Links:   len(snap.Links),
	}, nil
}

func gestureError(ctrl *interaction.Controller) error {
	if f := ctrl.Snapshot().Error; f != nil {
		return fmt.Errorf("%s %q: %s", f.Gesture, f.Target, f.Message)
	}
	return nil
}
