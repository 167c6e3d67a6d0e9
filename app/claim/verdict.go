package claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/claim-comb/app/evidence"
)

type Label string

const (
	LabelTrue                 Label = "TRUE"
	LabelFalse                Label = "FALSE"
	LabelMisleading           Label = "MISLEADING"
	LabelUnverified           Label = "UNVERIFIED"
	LabelInsufficientEvidence Label = "INSUFFICIENT_EVIDENCE"
)

var labelAliases = map[string]Label{
	"TRUE":                  LabelTrue,
	"FALSE":                 LabelFalse,
	"MISLEADING":            LabelMisleading,
	"PARTIALLY_TRUE":        LabelMisleading,
	"PARTLY_TRUE":           LabelMisleading,
	"UNVERIFIED":            LabelUnverified,
	"INSUFFICIENT_EVIDENCE": LabelInsufficientEvidence,
}

func ParseLabel(s string) (Label, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	key = strings.NewReplacer(" ", "_", "-", "_").Replace(key)

	if label, ok := labelAliases[key]; ok {
		return label, nil
	}
	return "", fmt.Errorf("unknown verdict label: %q", s)
}

// Decisive reports whether the label asserts something about the claim.
func (l Label) Decisive() bool {
	return l == LabelTrue || l == LabelFalse || l == LabelMisleading
}

type Verdict struct {
	Fingerprint    string            `json:"fingerprint"`
	Claim          string            `json:"claim"`
	Label          Label             `json:"label"`
	Confidence     float64           `json:"confidence"`
	Rationale      string            `json:"rationale"`
	TaggedEvidence []evidence.Tagged `json:"tagged_evidence"`
	Model          string            `json:"model,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Cached         bool              `json:"cached"`
}
