package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/evidence"
)

var (
	ErrMalformedResponse = errors.New("malformed model response")
	ErrNoJSON            = errors.New("no JSON value found")
)

type Stance struct {
	Tag       evidence.StanceTag
	Rationale string
}

// Result is the structured form of a model response. Stances is keyed by
// the 1-based evidence number used in the prompt.
type Result struct {
	Label      claim.Label
	Confidence float64
	Rationale  string
	Stances    map[int]Stance
}

type responsePayload struct {
	Label              string          `json:"label"`
	VerificationStatus string          `json:"verification_status"`
	Confidence         json.RawMessage `json:"confidence"`
	ConfidenceScore    json.RawMessage `json:"confidence_score"`
	Rationale          string          `json:"rationale"`
	Reasoning          string          `json:"reasoning"`
	Evidence           []struct {
		Index     json.Number `json:"index"`
		Stance    string      `json:"stance"`
		Tag       string      `json:"tag"`
		Rationale string      `json:"rationale"`
	} `json:"evidence"`
}

// Parse turns raw model output into a Result. Surrounding prose and code
// fences are ignored: the first well-formed JSON object is used.
func Parse(raw string) (Result, error) {
	block, err := extractFirst(raw, "{")
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	var payload responsePayload
	if err := json.Unmarshal(block, &payload); err != nil {
		return Result{}, fmt.Errorf("%w: failed to decode payload: %w", ErrMalformedResponse, err)
	}

	labelText := payload.Label
	if labelText == "" {
		labelText = payload.VerificationStatus
	}
	if strings.TrimSpace(labelText) == "" {
		return Result{}, fmt.Errorf("%w: label is missing", ErrMalformedResponse)
	}

	label, err := claim.ParseLabel(labelText)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	confidenceRaw := payload.Confidence
	if len(confidenceRaw) == 0 {
		confidenceRaw = payload.ConfidenceScore
	}

	confidence, ok := parseConfidence(confidenceRaw)
	if !ok {
		confidence = 0
		label = claim.LabelUnverified
	}

	result := Result{
		Label:      label,
		Confidence: confidence,
		Rationale:  strings.TrimSpace(firstNonEmpty(payload.Rationale, payload.Reasoning)),
		Stances:    make(map[int]Stance, len(payload.Evidence)),
	}

	for _, entry := range payload.Evidence {
		tag, ok := ParseStance(firstNonEmpty(entry.Stance, entry.Tag))
		if !ok {
			continue
		}
		index, err := entry.Index.Int64()
		if err != nil || index < 1 {
			continue
		}
		if _, seen := result.Stances[int(index)]; seen {
			continue
		}
		result.Stances[int(index)] = Stance{Tag: tag, Rationale: strings.TrimSpace(entry.Rationale)}
	}

	return result, nil
}

// ExtractFirstJSON returns the first complete JSON object or array found
// in text.
func ExtractFirstJSON(text string) (json.RawMessage, error) {
	return extractFirst(text, "{[")
}

func extractFirst(text, openers string) (json.RawMessage, error) {
	for i := 0; i < len(text); i++ {
		if !strings.ContainsRune(openers, rune(text[i])) {
			continue
		}

		decoder := json.NewDecoder(strings.NewReader(text[i:]))
		var block json.RawMessage
		if err := decoder.Decode(&block); err == nil {
			return block, nil
		}
	}
	return nil, ErrNoJSON
}

// parseConfidence accepts a JSON number in [0, 1].
func parseConfidence(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, false
	}
	if math.IsNaN(value) || value < 0 || value > 1 {
		return 0, false
	}
	return value, true
}

var stanceAliases = map[string]evidence.StanceTag{
	"SUPPORTS":      evidence.StanceSupports,
	"SUPPORT":       evidence.StanceSupports,
	"SUPPORTIVE":    evidence.StanceSupports,
	"REFUTES":       evidence.StanceRefutes,
	"REFUTE":        evidence.StanceRefutes,
	"CONTRADICTS":   evidence.StanceRefutes,
	"CONTRADICTORY": evidence.StanceRefutes,
	"NEUTRAL":       evidence.StanceNeutral,
	"IRRELEVANT":    evidence.StanceIrrelevant,
	"UNRELATED":     evidence.StanceIrrelevant,
}

func ParseStance(s string) (evidence.StanceTag, bool) {
	tag, ok := stanceAliases[strings.ToUpper(strings.TrimSpace(s))]
	return tag, ok
}

// Tag pairs every item of the set with the stance the model assigned to
// it. Only the first listed items were shown to the model; the rest, and
// any listed item the model did not address, are NEUTRAL.
func Tag(set evidence.Set, listed int, stances map[int]Stance) []evidence.Tagged {
	tagged := make([]evidence.Tagged, 0, len(set))
	for i, item := range set {
		entry := evidence.Tagged{Item: item, Stance: evidence.StanceNeutral}
		if stance, ok := stances[i+1]; ok && i < listed {
			entry.Stance = stance.Tag
			entry.Rationale = stance.Rationale
		}
		tagged = append(tagged, entry)
	}
	return tagged
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
