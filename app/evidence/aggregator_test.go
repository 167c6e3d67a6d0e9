package evidence

import (
	"testing"
	"time"
)

func at(hour int) *time.Time {
	t := time.Date(2025, 3, 14, hour, 0, 0, 0, time.UTC)
	return &t
}

func TestAggregatorMergesCanonicalURLKeepingHigherTier(t *testing.T) {
	aggregator := NewAggregator(10, 0.8)

	batches := [][]Item{
		{
			{SourceID: "gdelt", Title: "Metro fares to rise next month", URL: "https://www.example.com/news/fares?utm_source=gdelt", TrustTier: TierAggregator, PublishedAt: at(10)},
		},
		{
			{SourceID: "newsapi", Title: "Fare hike confirmed for metro riders", URL: "http://example.com/news/fares/#top", TrustTier: TierMainstream, PublishedAt: at(8)},
		},
	}

	set := aggregator.Run(batches)

	if len(set) != 1 {
		t.Fatalf("Expected 1 merged item, got %d", len(set))
	}
	if set[0].TrustTier != TierMainstream {
		t.Errorf("Expected merged item to keep tier mainstream, got %s", set[0].TrustTier)
	}
	if set[0].SourceID != "newsapi" {
		t.Errorf("Expected merged item from 'newsapi', got '%s'", set[0].SourceID)
	}
}

func TestAggregatorMergesSimilarTitlesKeepingMostRecentOnTie(t *testing.T) {
	aggregator := NewAggregator(10, 0.8)

	batches := [][]Item{
		{
			{SourceID: "rss", Title: "Heavy rain floods city centre, schools shut", URL: "https://a.example/1", TrustTier: TierMainstream, PublishedAt: at(6)},
		},
		{
			{SourceID: "newsapi", Title: "Heavy rain floods city centre; schools shut!", URL: "https://b.example/2", TrustTier: TierMainstream, PublishedAt: at(9)},
		},
	}

	set := aggregator.Run(batches)

	if len(set) != 1 {
		t.Fatalf("Expected 1 merged item, got %d", len(set))
	}
	if set[0].URL != "https://b.example/2" {
		t.Errorf("Expected most recent item to be kept, got '%s'", set[0].URL)
	}
}

func TestAggregatorRanking(t *testing.T) {
	aggregator := NewAggregator(10, 0.8)

	batches := [][]Item{
		{
			{SourceID: "rss", Title: "Budget session begins", URL: "https://a.example/budget", TrustTier: TierAggregator, PublishedAt: at(12)},
			{SourceID: "rss", Title: "Ministry issues clarification", URL: "https://gov.example/clarification", TrustTier: TierOfficial, PublishedAt: at(1)},
			{SourceID: "rss", Title: "Opposition walks out", URL: "https://a.example/walkout", TrustTier: TierAggregator},
		},
		{
			{SourceID: "newsapi", Title: "Markets react to policy", URL: "https://b.example/markets", TrustTier: TierMainstream, PublishedAt: at(5)},
			{SourceID: "newsapi", Title: "Analysts weigh in on tax slabs", URL: "https://b.example/tax", TrustTier: TierMainstream, PublishedAt: at(7)},
			{SourceID: "newsapi", Title: "Late edition roundup", URL: "https://b.example/roundup", TrustTier: TierAggregator, PublishedAt: at(12)},
		},
	}

	set := aggregator.Run(batches)

	expected := []string{
		"https://gov.example/clarification",
		"https://b.example/tax",
		"https://b.example/markets",
		"https://a.example/budget",
		"https://b.example/roundup",
		"https://a.example/walkout",
	}

	if len(set) != len(expected) {
		t.Fatalf("Expected %d items, got %d", len(expected), len(set))
	}
	for i, url := range expected {
		if set[i].URL != url {
			t.Errorf("Position %d: expected '%s', got '%s'", i, url, set[i].URL)
		}
	}

	again := aggregator.Run(batches)
	for i := range set {
		if set[i].URL != again[i].URL {
			t.Errorf("Ranking not deterministic at position %d: '%s' vs '%s'", i, set[i].URL, again[i].URL)
		}
	}
}

func TestAggregatorCapDropsLowestRanked(t *testing.T) {
	aggregator := NewAggregator(2, 0.8)

	batches := [][]Item{
		{
			{Title: "Alpha story", URL: "https://x.example/a", TrustTier: TierUnverified},
			{Title: "Bravo story", URL: "https://x.example/b", TrustTier: TierOfficial},
			{Title: "Charlie story", URL: "https://x.example/c", TrustTier: TierMainstream},
		},
	}

	set := aggregator.Run(batches)

	if len(set) != 2 {
		t.Fatalf("Expected 2 items, got %d", len(set))
	}
	if set[0].URL != "https://x.example/b" || set[1].URL != "https://x.example/c" {
		t.Errorf("Expected official and mainstream items to survive the cap, got %v", []string{set[0].URL, set[1].URL})
	}
}

func TestAggregatorEmptyInput(t *testing.T) {
	aggregator := NewAggregator(10, 0.8)

	set := aggregator.Run([][]Item{{}, nil, {}})
	if set == nil {
		t.Fatal("Expected empty set, got nil")
	}
	if len(set) != 0 {
		t.Errorf("Expected 0 items, got %d", len(set))
	}
}

func TestSetHashIgnoresOrderAndTracking(t *testing.T) {
	a := Set{
		{URL: "https://example.com/one?utm_medium=rss"},
		{URL: "https://example.com/two"},
	}
	b := Set{
		{URL: "http://www.example.com/two/"},
		{URL: "https://example.com/one"},
	}

	if a.Hash() != b.Hash() {
		t.Errorf("Expected equal hashes, got %s and %s", a.Hash(), b.Hash())
	}

	c := Set{{URL: "https://example.com/three"}}
	if a.Hash() == c.Hash() {
		t.Error("Expected different hashes for different sets")
	}
}

func TestAggregatorKeepsMergedKeysAfterReplacement(t *testing.T) {
	aggregator := NewAggregator(10, 0.8)

	batches := [][]Item{
		{
			{SourceID: "rss", Title: "Harbour bridge closed for repairs", URL: "https://news.example/x", TrustTier: TierMainstream},
		},
		{
			{SourceID: "gov", Title: "Harbour bridge closed for repairs", URL: "https://gov.example/y", TrustTier: TierOfficial},
		},
		{
			{SourceID: "gdelt", Title: "Traffic chaos downtown", URL: "https://news.example/x?utm=1", TrustTier: TierUnverified},
		},
	}

	set := aggregator.Run(batches)

	if len(set) != 1 {
		t.Fatalf("Expected 1 merged item, got %d: %v", len(set), set)
	}
	if set[0].TrustTier != TierOfficial {
		t.Errorf("Expected merged item to keep tier official, got %s", set[0].TrustTier)
	}
}

func TestSetHashTracksTiers(t *testing.T) {
	a := Set{{URL: "https://example.com/one", TrustTier: TierAggregator}}
	b := Set{{URL: "https://example.com/one", TrustTier: TierOfficial}}

	if a.Hash() == b.Hash() {
		t.Error("Expected tier change to change the hash")
	}
}
