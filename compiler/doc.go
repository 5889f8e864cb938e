// Package compiler turns workload shapes into scheduled machine programs.
//
// This package contains:
//   - The kernel builder, which emits the unscheduled op stream for the
//     batched tree-traversal workload
//   - The list scheduler, which packs ops into hazard-free bundles under
//     the per-engine slot limits
//   - Build reporting (op counts, cycles, slot utilization)
package compiler
