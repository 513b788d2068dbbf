package relevance

import "testing"

func TestClassifyTiers(t *testing.T) {
	c := NewClassifier()

	cases := []struct {
		name  string
		title string
		body  string
		want  int
	}{
		{
			name:  "core crypto headline",
			title: "Bitcoin ETF approval expected this week",
			body:  "Analysts expect the spot bitcoin etf decision imminently.",
			want:  Tier1,
		},
		{
			name:  "exchange hack",
			title: "Binance halts withdrawals after exploit",
			body:  "The exchange paused activity while investigating the hack.",
			want:  Tier1,
		},
		{
			name:  "regulator acronym only in title",
			title: "SEC files new lawsuit against trading firm",
			body:  "The regulator alleges unregistered securities offerings.",
			want:  Tier1,
		},
		{
			name:  "macro adjacent",
			title: "Treasury signals tougher stance on digital payments",
			body:  "The move affects fintech firms broadly.",
			want:  Tier2,
		},
		{
			name:  "lifestyle noise",
			title: "Celebrity chef opens new restaurant",
			body:  "The menu features a tasting course and a famous recipe.",
			want:  Tier3,
		},
		{
			name:  "empty article",
			title: "",
			body:  "",
			want:  Tier3,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := c.Classify(tc.title, tc.body)
			if got.Tier != tc.want {
				t.Errorf("Classify(%q) tier = %d (score %.2f, matched %v), want %d",
					tc.title, got.Tier, got.Score, got.Matched, tc.want)
			}
		})
	}
}

func TestAcronymsAreCaseSensitive(t *testing.T) {
	c := NewClassifier()

	// "sec" the time unit must not score like "SEC" the regulator.
	lower := c.Classify("Race finishes in under a sec", "A thrilling 30 sec sprint.")
	if lower.Tier != Tier3 {
		t.Errorf("lowercase sec scored tier %d, want %d", lower.Tier, Tier3)
	}

	upper := c.Classify("SEC opens inquiry", "")
	if upper.Tier == Tier3 {
		t.Error("uppercase SEC should lift the article out of tier 3")
	}
}

func TestTickerSymbols(t *testing.T) {
	c := NewClassifier()

	got := c.Classify("$BTC breaks resistance", "Momentum continues for $ETH as well.")
	if got.Tier != Tier1 {
		t.Errorf("ticker-heavy article scored tier %d (score %.2f), want tier 1", got.Tier, got.Score)
	}

	found := map[string]bool{}
	for _, m := range got.Matched {
		found[m] = true
	}
	if !found["$BTC"] || !found["$ETH"] {
		t.Errorf("matched terms %v missing ticker symbols", got.Matched)
	}
}

func TestTitleOutweighsBody(t *testing.T) {
	c := NewClassifier()

	inTitle := c.Classify("Ethereum upgrade ships", "")
	inBody := c.Classify("Protocol upgrade ships", "The ethereum change activates at midnight.")
	if inTitle.Score <= inBody.Score {
		t.Errorf("title mention (%.2f) should outscore body mention (%.2f)", inTitle.Score, inBody.Score)
	}
}

func TestIsRelevant(t *testing.T) {
	c := NewClassifier()

	if !c.IsRelevant("Bitcoin rally continues", "") {
		t.Error("tier 1 article reported irrelevant")
	}
	if c.IsRelevant("Horoscope for the week", "Your stars align.") {
		t.Error("tier 3 article reported relevant")
	}
}
