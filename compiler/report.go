package compiler

import (
	"fmt"

	"github.com/sugawarayuuta/sonnet"

	"github.com/chazu/loom/vm"
)

// ---------------------------------------------------------------------------
// Build report
// ---------------------------------------------------------------------------

// EngineUsage summarizes one engine's slot occupancy across a program.
type EngineUsage struct {
	Ops         int     `json:"ops"`
	SlotLimit   int     `json:"slot_limit,omitempty"`
	Utilization float64 `json:"utilization,omitempty"`
}

// Report describes a scheduled program: its size, cycle count, and how
// full each engine's slots ran. Utilization is occupied slots over
// available slots across all cycles; unbounded engines report none.
type Report struct {
	BuildID string                    `json:"build_id"`
	Ops     int                       `json:"ops"`
	Cycles  int                       `json:"cycles"`
	Engines map[vm.Engine]EngineUsage `json:"engines"`
}

// NewReport computes the report for a scheduled program.
func NewReport(p *vm.Program) *Report {
	r := &Report{
		BuildID: p.BuildID,
		Cycles:  len(p.Bundles),
		Engines: make(map[vm.Engine]EngineUsage),
	}
	for _, bundle := range p.Bundles {
		for engine, ops := range bundle {
			u := r.Engines[engine]
			u.Ops += len(ops)
			r.Engines[engine] = u
			r.Ops += len(ops)
		}
	}
	for engine, u := range r.Engines {
		if limit := vm.SlotLimit(engine); limit > 0 && r.Cycles > 0 {
			u.SlotLimit = limit
			u.Utilization = float64(u.Ops) / float64(limit*r.Cycles)
			r.Engines[engine] = u
		}
	}
	return r
}

// JSON renders the report for logs and tooling.
func (r *Report) JSON() ([]byte, error) {
	data, err := sonnet.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("compiler: marshal report: %w", err)
	}
	return data, nil
}
