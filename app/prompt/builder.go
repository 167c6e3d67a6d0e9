package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/lysyi3m/claim-comb/app/claim"
	"github.com/lysyi3m/claim-comb/app/evidence"
)

// MaxPromptItems bounds how many evidence items are listed in a prompt.
const MaxPromptItems = 8

const systemPrompt = `You are a careful news fact-checker. You judge claims using the supplied evidence first and your general knowledge second. You respond with a single JSON object and nothing else.`

const responseFormat = `Respond with one JSON object in exactly this shape:
{
  "label": "TRUE" | "FALSE" | "MISLEADING" | "UNVERIFIED" | "INSUFFICIENT_EVIDENCE",
  "confidence": <number between 0.0 and 1.0>,
  "rationale": "<two to four sentences explaining the verdict>",
  "evidence": [
    {"index": <evidence number>, "stance": "SUPPORTS" | "REFUTES" | "NEUTRAL" | "IRRELEVANT", "rationale": "<one short sentence>"}
  ]
}`

// Request is a model-ready prompt. Items lists the evidence exactly as
// numbered in the prompt, index 0 being evidence number 1.
type Request struct {
	System string
	User   string
	Items  []evidence.Item
}

func Build(c claim.Claim, set evidence.Set, maxItems int) Request {
	if maxItems <= 0 || maxItems > MaxPromptItems {
		maxItems = MaxPromptItems
	}

	items := make([]evidence.Item, 0, min(len(set), maxItems))
	for _, item := range set {
		if len(items) == maxItems {
			break
		}
		items = append(items, item)
	}

	var b strings.Builder

	b.WriteString("CLAIM TO VERIFY:\n\"\"\"\n")
	b.WriteString(c.Text)
	b.WriteString("\n\"\"\"\n\n")

	if len(items) == 0 {
		b.WriteString("EVIDENCE: No articles were found in any news source for this claim.\n")
		b.WriteString("Without evidence you must not answer TRUE or FALSE with high confidence; prefer INSUFFICIENT_EVIDENCE or UNVERIFIED.\n\n")
	} else {
		b.WriteString("EVIDENCE (ordered by source trust, then recency):\n")
		for i, item := range items {
			writeItem(&b, i+1, item)
		}
		b.WriteString("\n")
	}

	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("1. Decide whether the evidence supports or contradicts the claim.\n")
	b.WriteString("2. Weigh official and mainstream sources above aggregators and unverified sources.\n")
	b.WriteString("3. Use MISLEADING when the claim distorts or exaggerates what the evidence reports.\n")
	b.WriteString("4. Classify every evidence item by its stance towards the claim.\n\n")
	b.WriteString(responseFormat)
	b.WriteString("\n")

	return Request{
		System: systemPrompt,
		User:   b.String(),
		Items:  items,
	}
}

func writeItem(b *strings.Builder, number int, item evidence.Item) {
	fmt.Fprintf(b, "%d. %s\n", number, item.Title)

	publisher := item.Publisher
	if publisher == "" {
		publisher = item.SourceID
	}
	fmt.Fprintf(b, "   Source: %s (%s)\n", publisher, item.TrustTier)

	if item.PublishedAt != nil {
		fmt.Fprintf(b, "   Published: %s\n", item.PublishedAt.UTC().Format(time.DateOnly))
	}
	if item.Snippet != "" {
		fmt.Fprintf(b, "   Summary: %s\n", truncate(item.Snippet, 300))
	}
	fmt.Fprintf(b, "   URL: %s\n", item.URL)
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
