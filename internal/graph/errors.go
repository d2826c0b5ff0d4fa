package graph

import "errors"

// ErrMaxIterationsExceeded is the Err of a StatusFailed result when one
// from->to transition on a thread is taken more than
// Options.MaxConditionalIterations times (default 5), guarding the case
// graphs' loop-back after an ADJUST decision against a runaway loop.
var ErrMaxIterationsExceeded = errors.New("graph: exceeded maximum conditional edge iterations")

// ErrNoSuchNode is returned when a route or edge names a node never added
// to the graph.
var ErrNoSuchNode = errors.New("graph: route names a node that was never added")

// ErrNoStartNode is returned by Compile when no start node was set.
var ErrNoStartNode = errors.New("graph: no start node configured")

// ErrThreadNotFound is returned by Resume when the checkpoint store has no
// saved state for the given thread id.
var ErrThreadNotFound = errors.New("graph: no checkpoint for thread")

// ErrNotInterrupted is returned by Resume when the checkpoint for a thread
// is not currently suspended at an interrupt.
var ErrNotInterrupted = errors.New("graph: thread is not suspended at an interrupt")
