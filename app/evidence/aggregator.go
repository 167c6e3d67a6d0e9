package evidence

import (
	"encoding/hex"
	"log/slog"
	"slices"
	"sort"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultMaxItems  = 15
	DefaultThreshold = 0.8
)

// Set is a deduplicated, ranked evidence sequence.
type Set []Item

// Hash fingerprints the set's membership: canonical URL and trust tier of
// every item, independent of order.
func (s Set) Hash() string {
	keys := make([]string, 0, len(s))
	for _, item := range s {
		keys = append(keys, CanonicalURL(item.URL)+"\t"+item.TrustTier.String())
	}
	sort.Strings(keys)

	digest := xxhash.New()
	for _, key := range keys {
		_, _ = digest.WriteString(key)
		_, _ = digest.Write([]byte{'\n'})
	}

	sum := digest.Sum(nil)
	return hex.EncodeToString(sum)
}

type Aggregator struct {
	maxItems  int
	threshold float64
}

func NewAggregator(maxItems int, threshold float64) *Aggregator {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}

	return &Aggregator{
		maxItems:  maxItems,
		threshold: threshold,
	}
}

// candidate is one merge group. item, adapter and position describe the
// representative; canonicals and tokens hold the keys of every member.
type candidate struct {
	item       Item
	canonicals []string
	tokens     []map[string]struct{}
	adapter    int
	position   int
}

// Run merges per-adapter batches into one Set. Batches are expected in
// adapter order; that order is the last ranking tie-break.
func (a *Aggregator) Run(batches [][]Item) Set {
	kept := make([]*candidate, 0)
	merged := 0

	for adapterIdx, batch := range batches {
		for position, item := range batch {
			c := &candidate{
				item:     item,
				adapter:  adapterIdx,
				position: position,
			}
			if canonical := CanonicalURL(item.URL); canonical != "" {
				c.canonicals = []string{canonical}
			}
			c.tokens = []map[string]struct{}{titleTokens(item.Title)}

			if dup := a.findDuplicate(kept, c); dup >= 0 {
				merged++
				kept[dup].absorb(c)
				continue
			}
			kept = append(kept, c)
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return ranksBefore(kept[i], kept[j])
	})

	if len(kept) > a.maxItems {
		kept = kept[:a.maxItems]
	}

	set := make(Set, 0, len(kept))
	for _, c := range kept {
		set = append(set, c.item)
	}

	slog.Debug("Evidence aggregated",
		"batches", len(batches),
		"merged", merged,
		"kept", len(set))

	return set
}

func (a *Aggregator) findDuplicate(kept []*candidate, c *candidate) int {
	for i, existing := range kept {
		if existing.matches(c, a.threshold) {
			return i
		}
	}
	return -1
}

func (g *candidate) matches(c *candidate, threshold float64) bool {
	for _, canonical := range c.canonicals {
		if slices.Contains(g.canonicals, canonical) {
			return true
		}
	}
	for _, incoming := range c.tokens {
		for _, existing := range g.tokens {
			if TokenSimilarity(incoming, existing) >= threshold {
				return true
			}
		}
	}
	return false
}

// absorb adds c's keys to the group and makes c the representative when it
// is preferred over the current one.
func (g *candidate) absorb(c *candidate) {
	for _, canonical := range c.canonicals {
		if !slices.Contains(g.canonicals, canonical) {
			g.canonicals = append(g.canonicals, canonical)
		}
	}
	g.tokens = append(g.tokens, c.tokens...)

	if preferred(c, g) {
		g.item, g.adapter, g.position = c.item, c.adapter, c.position
	}
}

// preferred reports whether the incoming duplicate should replace the kept
// one: higher tier wins, then the more recent publication date.
func preferred(incoming, existing *candidate) bool {
	if incoming.item.TrustTier != existing.item.TrustTier {
		return incoming.item.TrustTier > existing.item.TrustTier
	}
	return newer(incoming.item, existing.item)
}

func newer(a, b Item) bool {
	switch {
	case a.PublishedAt == nil:
		return false
	case b.PublishedAt == nil:
		return true
	default:
		return a.PublishedAt.After(*b.PublishedAt)
	}
}

func ranksBefore(a, b *candidate) bool {
	if a.item.TrustTier != b.item.TrustTier {
		return a.item.TrustTier > b.item.TrustTier
	}
	if newer(a.item, b.item) {
		return true
	}
	if newer(b.item, a.item) {
		return false
	}
	if a.adapter != b.adapter {
		return a.adapter < b.adapter
	}
	return a.position < b.position
}
