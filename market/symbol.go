package market

import "strings"

// DefaultQuote is appended to bare coin names ("BTC" -> "BTCUSDT").
const DefaultQuote = "USDT"

var knownQuotes = []string{"USDT", "USDC", "USD", "BUSD"}

// NormalizeSymbol upper-cases a symbol, strips separators and appends the
// default quote currency to bare coin names.
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
	if s == "" {
		return s
	}
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return s
		}
	}
	return s + DefaultQuote
}
