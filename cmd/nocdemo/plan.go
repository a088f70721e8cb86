package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/koenenwmn/fail-operational-noc-demonstrator/mesh"
	"github.com/koenenwmn/fail-operational-noc-demonstrator/tdm"
)

var (
	planSrc   int
	planDest  int
	planSlots int
)

type plannedPath struct {
	Route      []int `json:"route"`
	Link       int   `json:"link"`
	StartSlots []int `json:"start_slots"`
}

type planResult struct {
	Primary   plannedPath `json:"primary"`
	Alternate plannedPath `json:"alternate"`
}

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan the protected path pair of a channel offline.",
	Long: `plan computes the primary and the link-disjoint alternate route ` +
		`between two nodes of the configured mesh, together with the start ` +
		`slots an empty NoC would assign, and prints the result as JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runPlan()
	},
}

func runPlan() error {
	dim := mesh.Dimensions{X: cfg.System.XDim, Y: cfg.System.YDim}
	if planSrc < 0 || planSrc >= dim.Nodes() ||
		planDest < 0 || planDest >= dim.Nodes() {
		return fmt.Errorf("plan: nodes must be in [0, %d)", dim.Nodes())
	}
	if planSrc == planDest {
		return fmt.Errorf("plan: source and destination are the same node")
	}

	info := tdm.NewInfo(dim, cfg.System.Endpoints, cfg.System.SlotTableSize)

	result := planResult{}
	routes := []struct {
		route []int
		link  int
		out   *plannedPath
	}{
		{mesh.PrimaryPath(dim, planSrc, planDest), 0, &result.Primary},
		{mesh.AlternatePath(dim, planSrc, planDest), 1, &result.Alternate},
	}
	for _, r := range routes {
		slots := info.FreeStartSlots(r.route, 0, 0, r.link, planSlots)
		if slots == nil {
			return fmt.Errorf("plan: no %d free slots on route %v",
				planSlots, r.route)
		}
		*r.out = plannedPath{
			Route:      r.route,
			Link:       r.link,
			StartSlots: slots,
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(result)
}

func init() {
	planCmd.Flags().IntVar(&planSrc, "src", 0, "source node")
	planCmd.Flags().IntVar(&planDest, "dest", 0, "destination node")
	planCmd.Flags().IntVar(&planSlots, "slots", 1, "slots per path")
	rootCmd.AddCommand(planCmd)
}
