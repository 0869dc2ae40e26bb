package interaction

import (
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/config"
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// Action is what a click on a node does beyond selecting it.
type Action int

const (
	ActionSelect Action = iota
	ActionExpand
	ActionReroot
)

func (a Action) String() string {
	switch a {
	case ActionExpand:
		return "expand"
	case ActionReroot:
		return "reroot"
	default:
		return "select"
	}
}

// ClickPolicy decides the action for a clicked node.
type ClickPolicy interface {
	ActionFor(node models.Node) Action
}

// KindPolicy maps node kinds to actions. Kinds in neither set only select.
type KindPolicy struct {
	Expand map[models.Kind]bool
	Reroot map[models.Kind]bool
}

// PolicyFromConfig builds a KindPolicy from the interaction config. Unknown
// kind names are ignored; config validation rejects them earlier.
func PolicyFromConfig(cfg config.InteractionConfig) *KindPolicy {
	p := &KindPolicy{
		Expand: make(map[models.Kind]bool),
		Reroot: make(map[models.Kind]bool),
	}
	for _, name := range cfg.ExpandKinds {
		if k, err := models.ParseKind(name); err == nil {
			p.Expand[k] = true
		}
	}
	for _, name := range cfg.RerootKinds {
		if k, err := models.ParseKind(name); err == nil {
			p.Reroot[k] = true
		}
	}
	return p
}

// ActionFor implements ClickPolicy.
func (p *KindPolicy) ActionFor(node models.Node) Action {
	switch {
	case p.Expand[node.Kind]:
		return ActionExpand
	case p.Reroot[node.Kind]:
		return ActionReroot
	default:
		return ActionSelect
	}
}

// SelectOnlyPolicy never fetches on click.
type SelectOnlyPolicy struct{}

// ActionFor implements ClickPolicy.
func (SelectOnlyPolicy) ActionFor(models.Node) Action {
	return ActionSelect
}
