// Command edpsim wires a TOML scenario file (internal/config) to an
// explicit topology, an EDP plan per request (internal/plan), and the
// controller scheduler (internal/sched), optionally with PSW enabled
// (internal/psw), then prints the resulting metrics as JSON. It is the
// minimal composition root demonstrating the components described in
// SPEC_FULL.md; the CSV/plot-emitting sweep harness described in spec.md
// §6 stays external, per the Non-goals.
//
// Usage: edpsim <scenario.toml>
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/qnetlab/edpsim/internal/config"
	"github.com/qnetlab/edpsim/internal/fidelity"
	"github.com/qnetlab/edpsim/internal/ids"
	"github.com/qnetlab/edpsim/internal/metrics"
	"github.com/qnetlab/edpsim/internal/plan"
	"github.com/qnetlab/edpsim/internal/psw"
	"github.com/qnetlab/edpsim/internal/qnet"
	"github.com/qnetlab/edpsim/internal/randsrc"
	"github.com/qnetlab/edpsim/internal/route"
	"github.com/qnetlab/edpsim/internal/sched"
	"github.com/qnetlab/edpsim/internal/telemetry"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: edpsim <scenario.toml>")
		os.Exit(2)
	}
	if err := run(os.Args[1]); err != nil {
		fmt.Fprintln(os.Stderr, "edpsim:", err)
		os.Exit(1)
	}
}

// result is the JSON shape printed to stdout: the metrics output contract
// of spec.md §6, plus the streaming summary convenience view.
type result struct {
	Completed     []metrics.CompletedRequest `json:"completed_requests"`
	SwapWait      []int64                    `json:"swap_wait_times"`
	SwapWaitByReq map[string][]int64         `json:"swap_wait_times_by_req"`
	Summary       metrics.Summary            `json:"summary"`

	PSWPurifyScheduled int `json:"psw_purify_scheduled"`
	PSWPurifySuccess   int `json:"psw_purify_success"`
	PSWPurifyFail      int `json:"psw_purify_fail"`
	PSWCancelled       int `json:"psw_cancelled"`

	Aborted string `json:"aborted,omitempty"`
}

func run(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario: %w", err)
	}
	scenario, err := config.Load(string(data))
	if err != nil {
		return err
	}

	log := telemetry.NewConsole()
	net, nodeByName, err := buildNetwork(scenario)
	if err != nil {
		return fmt.Errorf("build topology: %w", err)
	}
	router := route.NewStraight(net)

	planCfg := plan.Config{
		FGrid:        fidelity.Grid(scenario.FGridLo, scenario.FGridHi, scenario.FGridStep),
		DMax:         scenario.DMax,
		PSwap:        scenario.PSwap,
		TauFail:      scenario.TauFail,
		TauClassical: scenario.TauClassical,
		TauPurify:    scenario.TauPurify,
	}

	schedCfg := sched.Config{
		Accuracy:     scenario.Accuracy,
		GenRate:      scenario.GenRate,
		TMem:         scenario.TMem,
		FCut:         scenario.FCut,
		PSwap:        scenario.PSwap,
		PPurOverride: scenario.PPur,
		TauFail:      scenario.TauFail,
		TauClassical: scenario.TauClassical,
		TauPurify:    scenario.TauPurify,
	}

	rnd := randsrc.New(scenario.Seed)
	m := metrics.NewCollector()
	controller := sched.NewController(net, schedCfg, m, rnd, log)
	if scenario.PSWEnabled {
		controller.SetPSW(psw.NewManager(scenario.PSWThreshold))
	}

	for reqIdx, rs := range scenario.Requests {
		src, ok := nodeByName[rs.Src]
		if !ok {
			return fmt.Errorf("request %q: unknown src node %q", rs.Name, rs.Src)
		}
		dest, ok := nodeByName[rs.Dest]
		if !ok {
			return fmt.Errorf("request %q: unknown dest node %q", rs.Name, rs.Dest)
		}

		routes, found := router.Query(src, dest)
		if !found {
			log.Warn("cmd", "no route found, treating as build failure", map[string]any{"request": rs.Name})
			controller.Install(rs.Name, src, dest, rs.FReq, nil, false)
			continue
		}

		// One Builder per distinct path, per spec.md §9's DESIGN NOTE: the
		// memo is keyed by (span indices, f_req, depth budget, path_hash), but a fresh
		// Builder per path is simpler and just as safe.
		builder := plan.NewBuilder(net, routes[0].Path, planCfg)
		tree, _, ok := builder.Build(ids.RequestID(reqIdx), src, dest, rs.FReq)
		controller.Install(rs.Name, src, dest, rs.FReq, tree, ok)
	}

	controller.Run(scenario.SimDuration)

	res := result{
		Completed:          m.Completed,
		SwapWait:           m.SwapWaitTimes,
		SwapWaitByReq:      m.SwapWaitTimesByReq,
		Summary:            m.Summary(),
		PSWPurifyScheduled: m.PSWPurifyScheduled,
		PSWPurifySuccess:   m.PSWPurifySuccess,
		PSWPurifyFail:      m.PSWPurifyFail,
		PSWCancelled:       m.PSWCancelled,
	}
	if err := controller.Aborted(); err != nil {
		res.Aborted = err.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// buildNetwork realizes the explicit node/channel lists in a Scenario as a
// qnet.Network, returning a name->NodeID lookup for resolving request
// endpoints.
func buildNetwork(scenario config.Scenario) (*qnet.Network, map[string]ids.NodeID, error) {
	nodeByName := make(map[string]ids.NodeID, len(scenario.Nodes))
	nodes := make([]qnet.QNode, len(scenario.Nodes))
	for i, name := range scenario.Nodes {
		nodes[i] = qnet.QNode{ID: ids.NodeID(i), Name: name}
		nodeByName[name] = ids.NodeID(i)
	}

	channels := make([]qnet.QChannel, len(scenario.Channels))
	for i, cs := range scenario.Channels {
		a, ok := nodeByName[cs.A]
		if !ok {
			return nil, nil, fmt.Errorf("channel %q: unknown node %q", cs.Name, cs.A)
		}
		b, ok := nodeByName[cs.B]
		if !ok {
			return nil, nil, fmt.Errorf("channel %q: unknown node %q", cs.Name, cs.B)
		}
		channels[i] = qnet.QChannel{
			ID: ids.ChannelID(i), Name: cs.Name, A: a, B: b,
			Length: cs.Length, InitFid: cs.InitFid, Capacity: cs.Capacity, Rate: cs.Rate,
		}
	}

	return qnet.NewNetwork(nodes, channels), nodeByName, nil
}
