// Package layout computes 2D positions for the graph held by a graph.Store
// using a damped force-directed simulation.
//
// Each tick applies many-body repulsion (exact below a node-count threshold,
// Barnes-Hut above it), degree-normalised link springs and a weak pull toward
// the viewport center, integrates velocities with damping, resolves
// collisions by positional correction and decays the temperature α. The
// simulator walks Idle → Running → Cooling → Settled and is reheated by
// structural changes and drags.
package layout
