package briefing

import (
	"fmt"
	"strings"

	"cryptopulse/internal/core"
)

const composeSystem = `You are a cryptocurrency market intelligence analyst writing a periodic briefing.

Rules:
- Use ONLY the narratives, signals, and patterns provided. Every claim must trace back to them.
- Never invent prices, percentages, or market data that is not in the inputs.
- No financial advice, no predictions phrased as promises.
- Write tight, declarative prose. A reader has sixty seconds.
- Respond with JSON only, no markdown fences, matching the requested schema exactly.`

const critiqueSystem = `You review a draft cryptocurrency briefing against its source inputs.

Check, in order:
- Grounding: every fact in the draft appears in the inputs. Flag anything that does not.
- Fabrication: any price, percentage, or figure not present in the inputs is a defect.
- Promises: predictions stated as certainty or advice are defects.
- Clarity: vague filler weakens the briefing.

Respond with JSON only:
{"confidence": <0-1, how publishable the corrected draft is>,
 "issues": ["..."],
 "revised": <the corrected briefing object in the same schema, or null if no changes needed>}`

// slotLabel names the time-of-day angle for a briefing type.
func slotLabel(bt core.BriefingType) string {
	switch bt {
	case core.BriefingMorning:
		return "morning briefing setting up the day ahead"
	case core.BriefingAfternoon:
		return "afternoon briefing on how the day is developing"
	case core.BriefingEvening:
		return "evening briefing wrapping up the day"
	}
	return "briefing"
}

// inputsBlock renders the grounded snapshot the model composes from. The
// critique pass receives the identical block so "in the inputs" means the
// same thing both times.
func inputsBlock(narratives []core.Narrative, sigs []core.Signal, patterns []core.BriefingPattern) string {
	var b strings.Builder

	b.WriteString("== Active narratives ==\n")
	if len(narratives) == 0 {
		b.WriteString("(none)\n")
	}
	for _, n := range narratives {
		fmt.Fprintf(&b, "- %s [%s] articles=%d velocity=%.1f sentiment=%+.2f",
			n.Title, n.LifecycleState, n.ArticleCount, n.Velocity, n.AvgSentiment)
		if n.NarrativeFocus != "" {
			fmt.Fprintf(&b, " focus=%q", n.NarrativeFocus)
		}
		b.WriteByte('\n')
	}

	b.WriteString("\n== Trending signals ==\n")
	if len(sigs) == 0 {
		b.WriteString("(none)\n")
	}
	for _, s := range sigs {
		fmt.Fprintf(&b, "- %s score=%.2f sources=%d sentiment=%+.2f",
			s.Entity, s.SignalScore, s.SourceCount, s.Sentiment)
		if s.IsEmerging {
			b.WriteString(" (emerging)")
		}
		b.WriteByte('\n')
	}

	b.WriteString("\n== Cross-narrative patterns ==\n")
	if len(patterns) == 0 {
		b.WriteString("(none)\n")
	}
	for _, p := range patterns {
		fmt.Fprintf(&b, "- [%s] %s\n", p.Type, p.Description)
	}
	return b.String()
}

// composePrompt asks for the first draft.
func composePrompt(bt core.BriefingType, inputs string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Compose the %s.\n\n", slotLabel(bt))
	b.WriteString(inputs)
	b.WriteString(`
Return JSON:
{"narrative": "<2-4 paragraph synthesis of the current state of the market narrative landscape>",
 "key_insights": ["<3-5 single-sentence insights>"],
 "entities_mentioned": ["<entities referenced in the narrative text>"],
 "detected_patterns": ["<notable cross-narrative observations, in plain language>"],
 "recommendations": [{"title": "<what to watch and why>", "narrative_title_hint": "<title of the narrative this relates to, verbatim from the inputs>"}]}`)
	return b.String()
}

// critiquePrompt asks for an assessment and an optional revision of a draft.
func critiquePrompt(inputs, draftJSON string) string {
	var b strings.Builder
	b.WriteString(inputs)
	b.WriteString("\n== Draft ==\n")
	b.WriteString(draftJSON)
	b.WriteString("\n\nAssess the draft against the inputs and revise if needed.")
	return b.String()
}
