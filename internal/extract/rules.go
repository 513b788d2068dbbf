package extract

import (
	"regexp"
	"strings"

	"cryptopulse/internal/core"
)

// RuleExtractor is the deterministic fallback used when the LLM chain cannot
// produce a usable extraction. It finds coin mentions by pattern and scores
// sentiment by keyword. Articles enriched this way carry
// extraction_method=rule and never seed or join narratives.
type RuleExtractor struct {
	namePatterns   map[string]*regexp.Regexp // symbol -> alias pattern
	symbolPattern  *regexp.Regexp
	displayBySym   map[string]string
	positiveTokens map[string]float64
	negativeTokens map[string]float64
}

// NewRuleExtractor compiles the coin patterns once.
func NewRuleExtractor() *RuleExtractor {
	r := &RuleExtractor{
		namePatterns: make(map[string]*regexp.Regexp, len(coinTable)),
		displayBySym: make(map[string]string, len(coinTable)),
	}
	for _, c := range coinTable {
		parts := make([]string, 0, len(c.Aliases))
		for _, a := range c.Aliases {
			parts = append(parts, regexp.QuoteMeta(a))
		}
		r.namePatterns[c.Symbol] = regexp.MustCompile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
		r.displayBySym[c.Symbol] = c.Display
	}
	// Bare symbols only count in uppercase; "sol" is a word, "SOL" is a coin.
	r.symbolPattern = regexp.MustCompile(`\b(` + strings.Join(SortedSymbols(), "|") + `)\b`)

	r.positiveTokens = map[string]float64{
		"surge": 0.7, "rally": 0.7, "soar": 0.8, "gain": 0.5, "bullish": 0.8,
		"breakout": 0.6, "adoption": 0.6, "approval": 0.7, "record": 0.5,
		"milestone": 0.5, "upgrade": 0.4, "partnership": 0.5, "launch": 0.3,
		"inflow": 0.6, "accumulate": 0.5, "recover": 0.5, "growth": 0.5,
	}
	r.negativeTokens = map[string]float64{
		"crash": -0.8, "plunge": -0.8, "dump": -0.7, "bearish": -0.8,
		"hack": -0.8, "exploit": -0.7, "breach": -0.7, "lawsuit": -0.6,
		"ban": -0.6, "fraud": -0.8, "scam": -0.8, "selloff": -0.6,
		"liquidation": -0.6, "outflow": -0.6, "halt": -0.5, "collapse": -0.9,
		"bankruptcy": -0.9, "warning": -0.4, "decline": -0.5, "fine": -0.5,
	}
	return r
}

// Extract produces the rule-based extraction for one article. Focus is left
// empty on purpose: a rule extraction is degenerate by definition and the
// matcher must not see an invented focus.
func (r *RuleExtractor) Extract(title, body string) Extraction {
	entities := r.findCoins(title, body)

	label, score := r.scoreSentiment(title + " " + body)

	var nucleus string
	actors := make([]string, 0, len(entities))
	for _, e := range entities {
		display := r.displayBySym[strings.TrimPrefix(e.Name, "$")]
		if display == "" {
			display = e.Name
		}
		actors = append(actors, display)
	}
	if len(actors) > 5 {
		actors = actors[:5]
	}
	if len(actors) > 0 {
		nucleus = actors[0]
	}

	return Extraction{
		Entities:       entities,
		NucleusEntity:  nucleus,
		TopActors:      actors,
		Sentiment:      label,
		SentimentScore: score,
		Method:         core.ExtractionRule,
	}
}

// findCoins returns ticker entities for every coin mentioned, title hits
// ranked above body hits.
func (r *RuleExtractor) findCoins(title, body string) []core.Entity {
	var titleHits, bodyHits []core.Entity
	seen := map[string]bool{}

	add := func(symbol string, inTitle bool) {
		if seen[symbol] {
			return
		}
		seen[symbol] = true
		e := core.Entity{Name: "$" + symbol, Type: core.EntityTicker, Confidence: 0.6}
		if inTitle {
			e.Confidence = 0.9
			titleHits = append(titleHits, e)
			return
		}
		bodyHits = append(bodyHits, e)
	}

	scan := func(text string, inTitle bool) {
		if text == "" {
			return
		}
		for _, c := range coinTable {
			if seen[c.Symbol] {
				continue
			}
			if r.namePatterns[c.Symbol].MatchString(text) {
				add(c.Symbol, inTitle)
			}
		}
		for _, sym := range r.symbolPattern.FindAllString(text, -1) {
			add(sym, inTitle)
		}
		for _, m := range tickerMentionPattern.FindAllStringSubmatch(text, -1) {
			sym := strings.ToUpper(m[1])
			if _, known := r.displayBySym[sym]; known {
				add(sym, inTitle)
			}
		}
	}

	scan(title, true)
	scan(body, false)
	return append(titleHits, bodyHits...)
}

var tickerMentionPattern = regexp.MustCompile(`\$([A-Za-z]{2,6})\b`)

// scoreSentiment is the keyword fallback: weighted token hits squashed into
// [-1,1], with the label cut at ±0.15.
func (r *RuleExtractor) scoreSentiment(text string) (core.Sentiment, float64) {
	var pos, neg float64
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:'\"()")
		if w, ok := r.positiveTokens[word]; ok {
			pos += w
		}
		if w, ok := r.negativeTokens[word]; ok {
			neg += -w
		}
	}

	score := (pos - neg) / (pos + neg + 1.0)
	switch {
	case score >= 0.15:
		return core.SentimentPositive, score
	case score <= -0.15:
		return core.SentimentNegative, score
	}
	return core.SentimentNeutral, score
}
