// Package graph holds the canonical, deduplicated set of nodes and links the
// explorer currently displays.
//
// The Store is the single source of truth for topology. It is mutated only
// through Replace and MergeNeighborhood, and it seeds each node's kinematic
// Body exactly once, at insertion. From then on only the layout simulator
// writes bodies (through UpdateBodies) and only the interaction controller
// writes pins (through SetPin and ClearPin).
//
// Main Types:
//   - Store: ordered node index, link list with (source, target, label) dedup, degrees
//   - Change: summary of one mutation, delivered to every Listener
//   - NodeState: read-only view of one node with its body, pin and degree
//
// Usage:
//
//	store := graph.NewStore(graph.Options{Center: models.Vec{X: 400, Y: 250}, Jitter: 10, Seed: 42})
//	store.Subscribe(sim)
//	change, _ := store.Replace(rootSet, nil)
//	change, err := store.MergeNeighborhood("c1", neighbors)
//	if errors.Is(err, graph.ErrNoSuchAnchor) {
//	    // root was replaced while the fetch was in flight
//	}
package graph
