package graph

// Op names the kind of mutation a Change describes.
type Op string

const (
	OpReplace Op = "replace"
	OpMerge   Op = "merge"
)

// Change summarises one Store mutation.
type Change struct {
	Op     Op
	Anchor string // merge anchor, or the root node id for a replace

	AddedNodes     []string // ids of nodes inserted by this mutation, in batch order
	AddedLinks     int
	DuplicateNodes int // incoming nodes skipped because the id was already present
	DuplicateLinks int // incoming links skipped because the triple was already present
	DroppedLinks   int // incoming links skipped because an endpoint was missing

	// Totals after the mutation.
	Nodes int
	Links int
}

// Grew reports whether the mutation added anything.
func (c Change) Grew() bool {
	return len(c.AddedNodes) > 0 || c.AddedLinks > 0
}

// Listener is notified after every Store mutation that replaces or adds content.
type Listener interface {
	GraphChanged(Change)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Change)

// GraphChanged calls f(c).
func (f ListenerFunc) GraphChanged(c Change) {
	f(c)
}
