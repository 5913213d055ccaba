// Package indicator computes the Relative Strength Index over closing prices.
//
// RSI is an O(1) accumulator driven one point at a time; ComputeRSI replays a
// whole series through the same accumulator, so batch and incremental results
// are identical at every index. SmoothingState snapshots let an accumulator
// be persisted and resumed.
package indicator
