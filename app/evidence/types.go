package evidence

import (
	"fmt"
	"strings"
	"time"
)

type TrustTier int

const (
	TierUnverified TrustTier = iota
	TierAggregator
	TierMainstream
	TierOfficial
)

var tierNames = map[TrustTier]string{
	TierUnverified: "unverified",
	TierAggregator: "aggregator",
	TierMainstream: "mainstream",
	TierOfficial:   "official",
}

func ParseTrustTier(s string) (TrustTier, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for tier, tierName := range tierNames {
		if tierName == name {
			return tier, nil
		}
	}
	return TierUnverified, fmt.Errorf("unknown trust tier: %q", s)
}

func (t TrustTier) String() string {
	if name, ok := tierNames[t]; ok {
		return name
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

func (t TrustTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TrustTier) UnmarshalText(text []byte) error {
	tier, err := ParseTrustTier(string(text))
	if err != nil {
		return err
	}
	*t = tier
	return nil
}

type StanceTag string

const (
	StanceSupports   StanceTag = "SUPPORTS"
	StanceRefutes    StanceTag = "REFUTES"
	StanceNeutral    StanceTag = "NEUTRAL"
	StanceIrrelevant StanceTag = "IRRELEVANT"
)

// Item is a single piece of evidence as returned by a source adapter.
// Items are passed by value and never edited after creation.
type Item struct {
	SourceID    string     `json:"source_id"`
	Publisher   string     `json:"publisher,omitempty"`
	Title       string     `json:"title"`
	Snippet     string     `json:"snippet,omitempty"`
	URL         string     `json:"url"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	TrustTier   TrustTier  `json:"trust_tier"`
}

// Tagged wraps an item with the stance assigned during classification.
type Tagged struct {
	Item      Item      `json:"item"`
	Stance    StanceTag `json:"stance"`
	Rationale string    `json:"rationale,omitempty"`
}
