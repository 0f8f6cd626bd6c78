package catalog

// Common nicknames keyed by CoinGecko id
var builtinAliases = map[string][]string{
	// Majors
	"bitcoin":     {"xbt", "btc"},
	"ethereum":    {"ether", "eth"},
	"solana":      {"sol"},
	"ripple":      {"xrp"},
	"cardano":     {"ada"},
	"dogecoin":    {"doge"},
	"binancecoin": {"binance coin", "binance", "bnb"},
	"tron":        {"trx"},
	"avalanche-2": {"avalanche", "avax"},
	"shiba-inu":   {"shiba", "shib"},

	// Top 50
	"polkadot":                {"dot"},
	"polygon-ecosystem-token": {"polygon", "matic"},
	"chainlink":               {"link"},
	"litecoin":                {"ltc"},
	"uniswap":                 {"uni"},
	"cosmos":                  {"atom"},
	"stellar":                 {"xlm"},
	"filecoin":                {"fil"},
	"near":                    {"near protocol"},
	"injective-protocol":      {"injective", "inj"},
	"aptos":                   {"apt"},
	"arbitrum":                {"arb"},
	"optimism":                {"op"},
	"render-token":            {"render", "rndr"},
	"kaspa":                   {"kas"},

	// Stablecoins
	"tether":   {"usdt"},
	"usd-coin": {"usdc"},
}
