// Package relevance buckets incoming articles into three tiers before any
// LLM money is spent. Tier 1 is unambiguous crypto news, tier 2 is adjacent
// enough to process, tier 3 never reaches the extractor.
package relevance

import (
	"regexp"
	"sort"
	"strings"
)

// Tier values. Lower is more relevant.
const (
	Tier1 = 1 // core crypto, always extracted
	Tier2 = 2 // adjacent, extracted when capacity allows
	Tier3 = 3 // noise, skipped
)

// Tier score thresholds.
const (
	tier1Threshold = 3.0
	tier2Threshold = 1.0
)

// Title matches count double; a headline mention is a much stronger signal
// than a passing reference in paragraph nine.
const titleWeight = 2.0

// Result carries the tier decision and what drove it.
type Result struct {
	Tier    int
	Score   float64
	Matched []string
}

// Classifier scores articles against the crypto keyword profiles.
type Classifier struct {
	acronyms *regexp.Regexp
	tickers  *regexp.Regexp
}

// NewClassifier compiles the pattern matchers once.
func NewClassifier() *Classifier {
	return &Classifier{
		// Case-sensitive on purpose: "SEC" is a regulator, "sec" is a unit
		// of time. Same story for bare ticker symbols.
		acronyms: regexp.MustCompile(`\b(BTC|ETH|XRP|SOL|ADA|DOGE|DOT|AVAX|LINK|UNI|ATOM|LTC|BCH|XLM|ALGO|FIL|NEAR|APT|ARB|OP|SEC|CFTC)\b`),
		tickers:  regexp.MustCompile(`\$[A-Za-z]{2,6}\b`),
	}
}

// Classify scores one article's title and body and returns its tier.
func (c *Classifier) Classify(title, body string) Result {
	score := 0.0
	matched := map[string]bool{}

	score += scanTerms(title, titleWeight, matched)
	score += scanTerms(body, 1.0, matched)

	for _, sym := range c.acronyms.FindAllString(title, -1) {
		if !matched[sym] {
			matched[sym] = true
			score += 1.5 * titleWeight
		}
	}
	for _, sym := range c.acronyms.FindAllString(body, -1) {
		if !matched[sym] {
			matched[sym] = true
			score += 1.5
		}
	}
	for _, sym := range c.tickers.FindAllString(title+" "+body, -1) {
		sym = strings.ToUpper(sym)
		if !matched[sym] {
			matched[sym] = true
			score += 1.5
		}
	}

	terms := make([]string, 0, len(matched))
	for t := range matched {
		terms = append(terms, t)
	}
	sort.Strings(terms)

	return Result{Tier: tierFor(score), Score: score, Matched: terms}
}

// IsRelevant reports whether the article should reach the extractor at all.
func (c *Classifier) IsRelevant(title, body string) bool {
	return c.Classify(title, body).Tier < Tier3
}

func tierFor(score float64) int {
	switch {
	case score >= tier1Threshold:
		return Tier1
	case score >= tier2Threshold:
		return Tier2
	default:
		return Tier3
	}
}

// scanTerms adds each profile term found in the text, once per term across
// the whole article. Multi-word terms match across the padded token join.
func scanTerms(text string, weight float64, matched map[string]bool) float64 {
	if text == "" {
		return 0
	}
	padded := padTokens(text)
	score := 0.0
	for term, value := range strongTerms {
		if matched[term] {
			continue
		}
		if strings.Contains(padded, " "+term+" ") {
			matched[term] = true
			score += value * weight
		}
	}
	for term, value := range weakTerms {
		if matched[term] {
			continue
		}
		if strings.Contains(padded, " "+term+" ") {
			matched[term] = true
			score += value * weight
		}
	}
	for term, value := range negativeTerms {
		if matched[term] {
			continue
		}
		if strings.Contains(padded, " "+term+" ") {
			matched[term] = true
			score += value * weight
		}
	}
	return score
}

// padTokens lowercases and splits on non-word runes, keeping hyphens so
// "on-chain" survives, then rejoins padded with spaces for boundary-safe
// substring checks.
func padTokens(text string) string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return false
		}
		return true
	})
	return " " + strings.Join(fields, " ") + " "
}
