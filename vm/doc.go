// Package vm implements the p-machine that executes compiled images.
//
// This package contains:
//   - The register set and the unified stack and heap data store
//   - The fetch-decode-execute loop and the calling convention
//   - The control handle native procedures use to reach the machine
//   - The cooperative host loop (Drive) and state snapshots
//   - An opcode and call profiler
package vm
