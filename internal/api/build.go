package api

import (
	"github.com/Nikhil123n/dail-knowledge-graph/pkg/models"
)

// Node id prefixes. Case ids are used as-is.
const (
	OrgPrefix    = "org-"
	TheoryPrefix = "theory-"
	SystemPrefix = "sys-"
	CourtPrefix  = "court-"
)

// Link labels.
const (
	LabelDefendant = "DEFENDANT"
	LabelClaims    = "CLAIMS"
	LabelSystem    = "SYSTEM"
	LabelFiledIn   = "FILED_IN"
)

// OrgID returns the node id of an organization.
func OrgID(name string) string { return OrgPrefix + name }

// builder accumulates a neighborhood, skipping node ids it has already seen.
type builder struct {
	nb   models.Neighborhood
	seen map[string]bool
}

func newBuilder() *builder {
	return &builder{seen: make(map[string]bool)}
}

func (b *builder) node(n models.Node) {
	if b.seen[n.ID] {
		return
	}
	b.seen[n.ID] = true
	b.nb.Nodes = append(b.nb.Nodes, n)
}

func (b *builder) link(source, target, label string) {
	b.nb.Links = append(b.nb.Links, models.Link{Source: source, Target: target, Label: label})
}

// RootSet builds the defendant graph for org: the organization first, then up
// to maxCases cases each linked to it, each with up to maxTheories theories.
// Non-positive limits mean unlimited.
func RootSet(org string, cases []DefendantCase, maxCases, maxTheories int) models.Neighborhood {
	b := newBuilder()
	orgID := OrgID(org)
	b.node(models.Node{ID: orgID, Kind: models.KindOrganization, Label: org})

	if maxCases > 0 && len(cases) > maxCases {
		cases = cases[:maxCases]
	}
	for _, c := range cases {
		if c.ID == "" {
			continue
		}
		b.node(models.Node{ID: c.ID, Kind: models.KindCase, Label: c.Caption, Payload: c})
		b.link(c.ID, orgID, LabelDefendant)

		theories := c.Theories
		if maxTheories > 0 && len(theories) > maxTheories {
			theories = theories[:maxTheories]
		}
		for _, t := range theories {
			if t == "" {
				continue
			}
			tid := TheoryPrefix + t
			b.node(models.Node{ID: tid, Kind: models.KindLegalTheory, Label: t})
			b.link(c.ID, tid, LabelClaims)
		}
	}
	return b.nb
}

// Neighbors builds the one-hop neighborhood of a case. The case node comes first.
func Neighbors(caseID string, n CaseNeighbors) models.Neighborhood {
	b := newBuilder()
	label := caseID
	if caption, ok := n.Case["caption"].(string); ok && caption != "" {
		label = caption
	}
	b.node(models.Node{ID: caseID, Kind: models.KindCase, Label: label, Payload: n.Case})

	for _, o := range n.Organizations {
		if o.Name == "" {
			continue
		}
		b.node(models.Node{ID: OrgID(o.Name), Kind: models.KindOrganization, Label: o.Name, Payload: o})
		b.link(caseID, OrgID(o.Name), LabelDefendant)
	}
	for _, s := range n.AISystems {
		if s.Name == "" {
			continue
		}
		b.node(models.Node{ID: SystemPrefix + s.Name, Kind: models.KindAISystem, Label: s.Name, Payload: s})
		b.link(caseID, SystemPrefix+s.Name, LabelSystem)
	}
	for _, t := range n.LegalTheories {
		if t == "" {
			continue
		}
		b.node(models.Node{ID: TheoryPrefix + t, Kind: models.KindLegalTheory, Label: t})
		b.link(caseID, TheoryPrefix+t, LabelClaims)
	}
	for _, ct := range n.Courts {
		if ct == "" {
			continue
		}
		b.node(models.Node{ID: CourtPrefix + ct, Kind: models.KindCourt, Label: ct})
		b.link(caseID, CourtPrefix+ct, LabelFiledIn)
	}
	return b.nb
}
