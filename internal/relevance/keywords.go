package relevance

// Keyword profiles for the tier classifier. Strong terms are unambiguous
// crypto signal; weak terms are macro/finance-adjacent and only matter in
// volume; negative terms mark the lifestyle chaff that crypto outlets still
// syndicate.

var strongTerms = map[string]float64{
	"bitcoin":        1.5,
	"ethereum":       1.5,
	"solana":         1.5,
	"cardano":        1.5,
	"dogecoin":       1.5,
	"ripple":         1.5,
	"xrp":            1.5,
	"binance":        1.5,
	"coinbase":       1.5,
	"kraken":         1.5,
	"tether":         1.5,
	"usdc":           1.5,
	"stablecoin":     1.5,
	"altcoin":        1.5,
	"memecoin":       1.5,
	"crypto":         1.5,
	"cryptocurrency": 1.5,
	"blockchain":     1.5,
	"defi":           1.5,
	"nft":            1.5,
	"web3":           1.5,
	"etf":            1.5,
	"staking":        1.5,
	"halving":        1.5,
	"airdrop":        1.5,
	"satoshi":        1.5,
	"whale":          1.2,
	"hodl":           1.5,
	"digital asset":  1.5,
	"smart contract": 1.5,
	"proof of stake": 1.5,
	"proof of work":  1.5,
	"layer 2":        1.5,
	"on-chain":       1.5,
	"cold wallet":    1.5,
	"mining rig":     1.5,
}

var weakTerms = map[string]float64{
	"market":        0.5,
	"trading":       0.5,
	"trader":        0.5,
	"regulation":    0.5,
	"regulator":     0.5,
	"lawsuit":       0.5,
	"enforcement":   0.5,
	"treasury":      0.5,
	"inflation":     0.5,
	"interest rate": 0.5,
	"bank":          0.5,
	"banking":       0.5,
	"fintech":       0.5,
	"payment":       0.5,
	"custody":       0.5,
	"hedge fund":    0.5,
	"liquidity":     0.5,
	"futures":       0.5,
	"derivatives":   0.5,
	"token":         0.5,
	"wallet":        0.5,
	"exchange":      0.5,
	"mining":        0.5,
	"fraud":         0.5,
	"sanctions":     0.5,
	"hack":          0.5,
	"exploit":       0.5,
}

var negativeTerms = map[string]float64{
	"recipe":       -1.0,
	"celebrity":    -1.0,
	"sports":       -1.0,
	"football":     -1.0,
	"basketball":   -1.0,
	"movie":        -1.0,
	"album":        -1.0,
	"weather":      -1.0,
	"horoscope":    -1.5,
	"fashion":      -1.0,
	"royal family": -1.0,
}
