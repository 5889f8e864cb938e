// Package vm implements the wide-issue vector machine model.
//
// This package contains:
//   - Engine vocabulary and per-cycle slot limits
//   - Operation and bundle representations with hazard validation
//   - The cycle-accurate bundle executor
//   - Scratch allocation and the memory image layout
//   - The CBOR program wire format
package vm
