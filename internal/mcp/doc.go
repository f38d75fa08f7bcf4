// Package mcp exposes forge to MCP clients over stdio.
//
// Tools:
//   - forge_run: run the pipeline for a requirement and report the outcome
//   - forge_runs: list recent runs from the history
//   - forge_run_show: one run with its stage events and verification records
//   - forge_tree: the current artifact tree
package mcp
