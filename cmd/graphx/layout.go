package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/Nikhil123n/dail-knowledge-graph/internal/engine"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/graph"
	"github.com/Nikhil123n/dail-knowledge-graph/internal/layout"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/logger"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/utils"
)

// layoutResult is what layout and explore print.
type layoutResult struct {
	Settled bool              `json:"settled"`
	Ticks   int               `json:"ticks"`
	Nodes   []models.NodeView `json:"nodes"`
	Links   int               `json:"links"`
}

func layoutCmd(flags *globalFlags) *cobra.Command {
	var maxTicks int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "layout <fixture.yaml>",
		Short: "Lay out a graph fixture headless and print the settled positions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			nb, err := config.LoadGraphFixture(args[0])
			if err != nil {
				return err
			}
			if maxTicks <= 0 {
				maxTicks = cfg.Layout.MaxTicks
			}

			cx, cy := cfg.Viewport.Center()
			center := models.Vec{X: cx, Y: cy}
			store := graph.NewStore(graph.Options{
				Center: center,
				Jitter: cfg.Layout.InitialJitter,
				Seed:   cfg.Layout.Seed,
				Logger: logger.Component("graph"),
			})
			sim := layout.New(store, cfg.Layout, center)
			change, err := store.Replace(*nb, nil)
			if err != nil {
				return err
			}
			if change.DroppedLinks > 0 {
				warn.Fprintf(cmd.ErrOrStderr(), "dropped %d links with a missing endpoint\n", change.DroppedLinks)
			}

			ticks, err := engine.RunUntilSettled(cmd.Context(), sim, maxTicks, utils.FrameInterval(cfg.Layout.TargetFPS))
			if err != nil && !errors.Is(err, engine.ErrTickLimit) {
				return err
			}
			res := layoutResult{
				Settled: err == nil,
				Ticks:   ticks,
				Nodes:   storeViews(store),
				Links:   store.LinkCount(),
			}
			return printLayout(cmd.OutOrStdout(), res, asJSON)
		},
	}
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 0, "give up after this many ticks (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

// storeViews lists every node at its pinned or simulated position.
func storeViews(store *graph.Store) []models.NodeView {
	var out []models.NodeView
	store.EachNode(func(ns graph.NodeState) bool {
		p := ns.Body.Pos
		if ns.Pin != nil {
			p = *ns.Pin
		}
		out = append(out, models.NodeView{
			ID:     ns.Node.ID,
			Kind:   ns.Node.Kind,
			Label:  ns.Node.Label,
			X:      p.X,
			Y:      p.Y,
			Pinned: ns.Pin != nil,
			Degree: ns.Degree,
		})
		return true
	})
	return out
}

func printLayout(w io.Writer, res layoutResult, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	nodes := append([]models.NodeView(nil), res.Nodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Kind != nodes[j].Kind {
			return nodes[i].Kind < nodes[j].Kind
		}
		return nodes[i].ID < nodes[j].ID
	})
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{
			n.ID,
			string(n.Kind),
			strconv.FormatFloat(n.X, 'f', 1, 64),
			strconv.FormatFloat(n.Y, 'f', 1, 64),
			strconv.Itoa(n.Degree),
		})
	}
	printTable(w, []string{"ID", "KIND", "X", "Y", "DEGREE"}, rows)

	fmt.Fprintln(w)
	if res.Settled {
		good.Fprintf(w, "settled after %d ticks", res.Ticks)
	} else {
		warn.Fprintf(w, "still moving after %d ticks", res.Ticks)
	}
	fmt.Fprintf(w, " (%d nodes, %d links)\n", len(res.Nodes), res.Links)
	return nil
}
