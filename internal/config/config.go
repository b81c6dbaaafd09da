// Package config decodes a single scenario run's parameters from TOML,
// via github.com/BurntSushi/toml, matching the pack's convention of
// TOML-shaped config input (present in the monorepo root and the `prompt`
// member module). Scenario sweeps and CLI flag parsing are the harness's
// job (spec.md §1/§6, out of scope); this package only owns the shape of
// one run's parameters.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// RequestSpec is one entry of a scenario's request list: an endpoint pair
// and the fidelity threshold it must clear.
type RequestSpec struct {
	Name string  `toml:"name"`
	Src  string  `toml:"src"`
	Dest string  `toml:"dest"`
	FReq float64 `toml:"f_req"`
}

// ChannelSpec is one explicit edge of a scenario's topology. This is plain
// data, not an algorithmic generator: Waxman/Grid/Line topology generation
// stays an external collaborator per spec.md §1/§6; a scenario file simply
// lists the channels it wants, the way the teacher's TOML-configured
// examples list concrete values rather than recipes.
type ChannelSpec struct {
	Name     string  `toml:"name"`
	A        string  `toml:"a"`
	B        string  `toml:"b"`
	Length   float64 `toml:"length"`
	InitFid  float64 `toml:"init_fid"`
	Capacity int     `toml:"capacity"`
	Rate     float64 `toml:"rate"` // direct-link generation rate, Q[(u,v)].rate (spec.md §4.2)
}

// Scenario is the decodable shape of a single simulator run.
type Scenario struct {
	Seed         int64   `toml:"seed"`
	Accuracy     float64 `toml:"accuracy"`      // tick resolution: ticks per second (spec.md §6/Glossary)
	TMem         float64 `toml:"t_mem"`         // memory decoherence time constant
	FCut         float64 `toml:"f_cut"`         // fidelity floor below which an EP is retired
	PSwap        float64 `toml:"p_swap"`        // swap success probability override
	PPur         float64 `toml:"p_pur"`         // purify success probability override (0 = model-derived)
	TauFail      float64 `toml:"tau_fail"`
	TauClassical float64 `toml:"tau_classical"`
	TauPurify    float64 `toml:"tau_purify"`
	DMax         int     `toml:"d_max"`

	// FGridLo, FGridHi, FGridStep bound the EDP builder's candidate fidelity
	// grid F (spec.md §4.2: "e.g. 0.70 to 1.00 in steps of 0.01").
	FGridLo   float64 `toml:"f_grid_lo"`
	FGridHi   float64 `toml:"f_grid_hi"`
	FGridStep float64 `toml:"f_grid_step"`

	PSWEnabled   bool    `toml:"psw_enabled"`
	PSWThreshold float64 `toml:"psw_threshold"`

	GenRate     float64 `toml:"gen_rate"`     // controller's demand-scan cadence, EP generations per second
	SimDuration int64   `toml:"sim_duration"` // ticks

	Nodes    []string      `toml:"nodes"`
	Channels []ChannelSpec `toml:"channels"`
	Requests []RequestSpec `toml:"requests"`
}

// Load decodes a Scenario from TOML text.
func Load(data string) (Scenario, error) {
	var s Scenario
	if _, err := toml.Decode(data, &s); err != nil {
		return Scenario{}, fmt.Errorf("config: decode scenario: %w", err)
	}
	return s, nil
}
