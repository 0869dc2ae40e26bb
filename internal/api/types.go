package api

// Wire shapes of the graph backend's JSON responses.

// Defendant is one row of GET /graph/defendants.
type Defendant struct {
	CanonicalName string `json:"canonicalName"`
	CaseCount     int    `json:"caseCount"`
	ActiveCount   int    `json:"activeCount"`
	InactiveCount int    `json:"inactiveCount"`
}

// DefendantCase is one row of GET /graph/defendants/{org}/cases.
type DefendantCase struct {
	ID               string   `json:"id"`
	Caption          string   `json:"caption"`
	Status           string   `json:"status,omitempty"`
	DateFiled        string   `json:"dateFiled,omitempty"`
	JurisdictionType string   `json:"jurisdictionType,omitempty"`
	Theories         []string `json:"theories,omitempty"`
	AISystems        []string `json:"aiSystems,omitempty"`
}

// CaseNeighbors is the body of GET /cases/{id}/neighbors.
type CaseNeighbors struct {
	Case          map[string]any `json:"case"`
	Organizations []OrgRef       `json:"organizations"`
	AISystems     []SystemRef    `json:"aiSystems"`
	LegalTheories []string       `json:"legalTheories"`
	Courts        []string       `json:"courts"`
}

// OrgRef is an organization named in a case.
type OrgRef struct {
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence,omitempty"`
	Roles      []string `json:"roles,omitempty"`
}

// SystemRef is an AI system involved in a case.
type SystemRef struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}
