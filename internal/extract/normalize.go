package extract

import (
	"sort"
	"strings"

	"cryptopulse/internal/core"
)

// coin is one asset the normalizer and the rule fallback know by name.
type coin struct {
	Symbol  string
	Display string
	Aliases []string
}

// coinTable covers the majors, the L2s, and the memecoins that dominate
// crypto news volume. Aliases are matched case-insensitively on word
// boundaries.
var coinTable = []coin{
	{"BTC", "Bitcoin", []string{"bitcoin", "btc"}},
	{"ETH", "Ethereum", []string{"ethereum", "ether", "eth"}},
	{"BNB", "Binance Coin", []string{"binance coin", "bnb"}},
	{"XRP", "XRP", []string{"ripple", "xrp"}},
	{"SOL", "Solana", []string{"solana", "sol"}},
	{"DOGE", "Dogecoin", []string{"dogecoin", "doge"}},
	{"ADA", "Cardano", []string{"cardano", "ada"}},
	{"AVAX", "Avalanche", []string{"avalanche", "avax"}},
	{"DOT", "Polkadot", []string{"polkadot", "dot"}},
	{"MATIC", "Polygon", []string{"polygon", "matic"}},
	{"LINK", "Chainlink", []string{"chainlink", "link"}},
	{"UNI", "Uniswap", []string{"uniswap", "uni"}},
	{"ATOM", "Cosmos", []string{"cosmos", "atom"}},
	{"LTC", "Litecoin", []string{"litecoin", "ltc"}},
	{"ETC", "Ethereum Classic", []string{"ethereum classic"}},
	{"XLM", "Stellar", []string{"stellar", "xlm"}},
	{"ALGO", "Algorand", []string{"algorand", "algo"}},
	{"VET", "VeChain", []string{"vechain", "vet"}},
	{"FIL", "Filecoin", []string{"filecoin", "fil"}},
	{"NEAR", "NEAR Protocol", []string{"near protocol", "near"}},
	{"APT", "Aptos", []string{"aptos", "apt"}},
	{"ARB", "Arbitrum", []string{"arbitrum", "arb"}},
	{"OP", "Optimism", []string{"optimism"}},
	{"SUI", "Sui", []string{"sui"}},
	{"SEI", "Sei", []string{"sei"}},
	{"TIA", "Celestia", []string{"celestia", "tia"}},
	{"INJ", "Injective", []string{"injective", "inj"}},
	{"PEPE", "Pepe", []string{"pepe"}},
	{"SHIB", "Shiba Inu", []string{"shiba inu", "shib"}},
	{"BONK", "Bonk", []string{"bonk"}},
	{"WIF", "dogwifhat", []string{"dogwifhat", "wif"}},
	{"USDT", "Tether", []string{"tether", "usdt"}},
	{"USDC", "USD Coin", []string{"usd coin", "usdc"}},
}

var (
	aliasToSymbol  = map[string]string{} // "bitcoin" -> "BTC"
	aliasToDisplay = map[string]string{} // "bitcoin" -> "Bitcoin"
)

func init() {
	for _, c := range coinTable {
		aliasToSymbol[strings.ToLower(c.Symbol)] = c.Symbol
		aliasToDisplay[strings.ToLower(c.Display)] = c.Display
		for _, a := range c.Aliases {
			aliasToSymbol[a] = c.Symbol
			aliasToDisplay[a] = c.Display
		}
	}
}

// NormalizeEntity applies the per-type rules: tickers become $SYM, project
// names canonicalize against the coin table, events lowercase. Anything
// unknown passes through trimmed.
func NormalizeEntity(e core.Entity) core.Entity {
	e.Name = strings.TrimSpace(e.Name)
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 1 {
		e.Confidence = 1
	}

	switch e.Type {
	case core.EntityTicker:
		name := strings.TrimPrefix(strings.ToLower(e.Name), "$")
		if sym, ok := aliasToSymbol[name]; ok {
			e.Name = "$" + sym
		} else {
			e.Name = "$" + strings.ToUpper(name)
		}
	case core.EntityProject:
		if display, ok := aliasToDisplay[strings.ToLower(e.Name)]; ok {
			e.Name = display
		}
	case core.EntityEvent:
		e.Name = strings.ToLower(e.Name)
	}
	return e
}

// DedupeEntities collapses duplicates within one article, keeping the highest
// confidence and the first-seen position.
func DedupeEntities(entities []core.Entity) []core.Entity {
	type key struct {
		name string
		typ  core.EntityType
	}
	index := map[key]int{}
	out := make([]core.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		k := key{name: strings.ToLower(e.Name), typ: e.Type}
		if i, seen := index[k]; seen {
			if e.Confidence > out[i].Confidence {
				out[i].Confidence = e.Confidence
			}
			continue
		}
		index[k] = len(out)
		out = append(out, e)
	}
	return out
}

// NormalizeFocus lowercases and squeezes the focus phrase so the matcher's
// case-insensitive comparisons hold by construction.
func NormalizeFocus(focus string) string {
	return strings.Join(strings.Fields(strings.ToLower(focus)), " ")
}

// NormalizeActors trims and dedupes the actor list case-insensitively,
// preserving salience order and the first-seen casing. Cap 5.
func NormalizeActors(actors []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(actors))
	for _, a := range actors {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if display, ok := aliasToDisplay[strings.ToLower(a)]; ok {
			a = display
		}
		k := strings.ToLower(a)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, a)
		if len(out) == 5 {
			break
		}
	}
	return out
}

// NormalizeActions lowercases the action phrases. Cap 3.
func NormalizeActions(actions []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(actions))
	for _, a := range actions {
		a = strings.Join(strings.Fields(strings.ToLower(a)), " ")
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// NormalizeNucleus canonicalizes the nucleus entity name so that articles
// about "bitcoin", "Bitcoin" and "BTC" share one nucleus.
func NormalizeNucleus(nucleus string) string {
	nucleus = strings.TrimSpace(nucleus)
	if display, ok := aliasToDisplay[strings.ToLower(strings.TrimPrefix(nucleus, "$"))]; ok {
		return display
	}
	return nucleus
}

// SortedSymbols returns the known ticker symbols, for building rule patterns.
func SortedSymbols() []string {
	syms := make([]string, 0, len(coinTable))
	for _, c := range coinTable {
		syms = append(syms, c.Symbol)
	}
	sort.Strings(syms)
	return syms
}
