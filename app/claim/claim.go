package claim

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"unicode/utf8"
)

var ErrEmptyClaim = errors.New("claim text is empty")

// Claim is the statement being checked. Text keeps the caller's casing for
// display, Normalized is only used to derive the fingerprint.
type Claim struct {
	Text       string
	Normalized string
}

func New(text string) (Claim, error) {
	display := strings.Join(strings.Fields(text), " ")
	if display == "" {
		return Claim{}, ErrEmptyClaim
	}

	return Claim{
		Text:       display,
		Normalized: strings.ToLower(display),
	}, nil
}

func (c Claim) Fingerprint() string {
	hash := sha256.Sum256([]byte(c.Normalized))
	return hex.EncodeToString(hash[:])
}

// Query derives a search query from the claim: the first maxWords tokens
// that are at least three characters long, in their original order.
func (c Claim) Query(maxWords int) string {
	words := make([]string, 0, maxWords)
	for _, field := range strings.Fields(c.Text) {
		word := strings.Trim(field, `.,;:!?"'()[]{}«»“”‘’`)
		if utf8.RuneCountInString(word) < 3 {
			continue
		}
		words = append(words, word)
		if len(words) == maxWords {
			break
		}
	}

	if len(words) == 0 {
		return c.Text
	}
	return strings.Join(words, " ")
}
