package compiler

import (
	"github.com/chazu/loom/config"
	"github.com/chazu/loom/vm"
)

// BuildConfigured compiles the kernel for a configured workload and
// generates the matching memory image. Tree and batch contents derive
// deterministically from the workload seed.
func BuildConfigured(cfg *config.Config) (*vm.Program, []uint32, error) {
	w := cfg.Workload
	prog, err := BuildKernel(w.Height, w.BatchSize, w.Rounds, Options{
		Window:          cfg.Kernel.Window,
		NoRootBroadcast: cfg.Kernel.NoRootBroadcast,
	})
	if err != nil {
		return nil, nil, err
	}
	tree := vm.GenerateTree(w.Height, w.Seed)
	batch := vm.GenerateBatch(w.BatchSize, w.Seed+1)
	return prog, vm.BuildImage(tree, batch, w.Rounds), nil
}
