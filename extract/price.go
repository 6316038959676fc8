package extract

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/use-agent/prodscrape/models"
)

// currencySymbols is checked in order by substring, so every prefix must
// come before any symbol it contains.
var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"AU$", "AUD"},
	{"NZ$", "NZD"},
	{"HK$", "HKD"},
	{"MX$", "MXN"},
	{"A$", "AUD"},
	{"C$", "CAD"},
	{"S$", "SGD"},
	{"R$", "BRL"},
	{"$", "USD"},
	{"€", "EUR"},
	{"£", "GBP"},
	{"￥", "JPY"},
	{"¥", "JPY"},
	{"₹", "INR"},
	{"₩", "KRW"},
	{"zł", "PLN"},
	{"₺", "TRY"},
}

var isoCodes = map[string]struct{}{
	"USD": {}, "EUR": {}, "GBP": {}, "JPY": {}, "INR": {}, "CAD": {}, "AUD": {},
	"NZD": {}, "CHF": {}, "SEK": {}, "NOK": {}, "DKK": {}, "PLN": {}, "CZK": {},
	"HKD": {}, "SGD": {}, "KRW": {}, "CNY": {}, "BRL": {}, "MXN": {}, "ZAR": {},
	"AED": {}, "SAR": {}, "TRY": {},
}

var (
	isoCodeRe      = regexp.MustCompile(`\b([A-Z]{3})\b`)
	numberRe       = regexp.MustCompile(`\d{1,3}(?:[,. '\x{00a0}\x{202f}]\d{3})+(?:[.,]\d{1,2})?|\d+(?:[.,]\d{1,2})?`)
	pricePrefixRe  = regexp.MustCompile(`(?i)^\s*(?:was|now|from|sale|price|only|regular|reg\.?)\s*:?\s*`)
	commaGroupedRe = regexp.MustCompile(`^\d{1,3}(?:,\d{3})+$`)
	dotGroupedRe   = regexp.MustCompile(`^\d{1,3}(?:\.\d{3})+$`)
)

// NormalizeCurrency returns the ISO code for an explicit code or a symbol,
// or "" when it cannot be resolved.
func NormalizeCurrency(s string) string {
	s = strings.TrimSpace(s)
	if up := strings.ToUpper(s); len(up) == 3 {
		if _, ok := isoCodes[up]; ok {
			return up
		}
	}
	for _, cs := range currencySymbols {
		if s == cs.symbol {
			return cs.code
		}
	}
	return ""
}

// detectCurrency finds a currency in free text: an explicit ISO code wins
// over a symbol.
func detectCurrency(s string) string {
	for _, m := range isoCodeRe.FindAllStringSubmatch(strings.ToUpper(s), -1) {
		if _, ok := isoCodes[m[1]]; ok && strings.Contains(s, m[1]) {
			return m[1]
		}
	}
	for _, cs := range currencySymbols {
		if strings.Contains(s, cs.symbol) {
			return cs.code
		}
	}
	return ""
}

// ParseAmount extracts the first number from s, resolving thousands and
// decimal separators. "1,234.56", "1.234,56", "1 234,56" and "250" are
// all understood.
func ParseAmount(s string) (decimal.Decimal, bool) {
	s = pricePrefixRe.ReplaceAllString(s, "")
	raw := strings.TrimRight(numberRe.FindString(s), " .,'\u00a0\u202f")
	if raw == "" {
		return decimal.Decimal{}, false
	}
	raw = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "", "'", "").Replace(raw)

	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		if commaGroupedRe.MatchString(raw) {
			raw = strings.ReplaceAll(raw, ",", "")
		} else {
			raw = strings.ReplaceAll(raw[:lastComma], ",", "") + "." + raw[lastComma+1:]
		}
	case lastDot >= 0:
		if dotGroupedRe.MatchString(raw) {
			raw = strings.ReplaceAll(raw, ".", "")
		} else {
			raw = strings.ReplaceAll(raw[:lastDot], ".", "") + raw[lastDot:]
		}
	}

	d, err := decimal.NewFromString(raw)
	if err != nil || !d.IsPositive() {
		return decimal.Decimal{}, false
	}
	return d, true
}

// ParsePrice parses a price string. currencyHint, when resolvable, overrides
// whatever the text implies. Both parts must resolve.
func ParsePrice(text, currencyHint string) (models.Price, bool) {
	amount, ok := ParseAmount(text)
	if !ok {
		return models.Price{}, false
	}
	currency := NormalizeCurrency(currencyHint)
	if currency == "" {
		currency = detectCurrency(text)
	}
	if currency == "" {
		return models.Price{}, false
	}
	return models.Price{Amount: amount, Currency: currency}, true
}

// priceFromJSON handles JSON-LD prices, which may be numbers or strings.
func priceFromJSON(v any, currency string) (models.Price, bool) {
	switch t := v.(type) {
	case float64:
		code := NormalizeCurrency(currency)
		d := decimal.NewFromFloat(t)
		if code == "" || !d.IsPositive() {
			return models.Price{}, false
		}
		return models.Price{Amount: d, Currency: code}, true
	case string:
		return ParsePrice(t, currency)
	}
	return models.Price{}, false
}
