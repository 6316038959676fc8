// Package extract turns one HTML document into field candidates.
//
// Every field has an ordered list of rules, each tagged with the confidence
// of its source: structured data (JSON-LD, microdata) is exact, meta tags and
// DOM conventions are heuristic, and free-text scans are text-pattern. All
// matching rules emit; the evidence ledger keeps the strongest.
package extract

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/models"
)

var (
	selH1        = cascadia.MustCompile(`h1`)
	selTitle     = cascadia.MustCompile(`title`)
	selPriceNode = cascadia.MustCompile(`[itemprop="price"], [class*="price"], [class*="Price"], [id*="price"], [data-testid*="price"], [data-test*="price"]`)

	stalePriceRe  = regexp.MustCompile(`(?i)(was|old|compare|strike|original|before|regular|rrp|msrp|crossed)`)
	titleSuffixRe = regexp.MustCompile(`\s+[|\-–—:]\s+[^|\-–—:]+$`)
	urlWordRe     = regexp.MustCompile(`[-_/+.]+`)
)

// priceTextRe finds a symbol- or code-tagged amount in running text.
var priceTextRe = buildPriceTextRe()

func buildPriceTextRe() *regexp.Regexp {
	syms := make([]string, 0, len(currencySymbols))
	for _, cs := range currencySymbols {
		syms = append(syms, regexp.QuoteMeta(cs.symbol))
	}
	codes := make([]string, 0, len(isoCodes))
	for code := range isoCodes {
		codes = append(codes, code)
	}
	num := `\d[\d.,' \x{00a0}\x{202f}]*\d|\d`
	return regexp.MustCompile(`(?:` + strings.Join(syms, "|") + `)\s?(?:` + num + `)` +
		`|(?:` + num + `)\s?(?:` + strings.Join(syms, "|") + `|\b(?:` + strings.Join(codes, "|") + `)\b)`)
}

// rule is one way of finding one field.
type rule struct {
	field evidence.Field
	name  string
	conf  evidence.Confidence
	find  func(p *page) []any
}

var rules = []rule{
	{evidence.FieldProductName, "jsonld.name", evidence.ConfidenceExact, one(jsonLDName)},
	{evidence.FieldProductName, "microdata.name", evidence.ConfidenceExact, one(microdataProp("name"))},
	{evidence.FieldProductName, "meta.title", evidence.ConfidenceHeuristic, one(metaString("og:title", "twitter:title"))},
	{evidence.FieldProductName, "dom.h1", evidence.ConfidenceHeuristic, one(h1Text)},
	{evidence.FieldProductName, "text.title", evidence.ConfidenceTextPattern, one(titleText)},

	{evidence.FieldBrand, "jsonld.brand", evidence.ConfidenceExact, one(jsonLDBrand)},
	{evidence.FieldBrand, "microdata.brand", evidence.ConfidenceExact, one(microdataProp("brand"))},
	{evidence.FieldBrand, "meta.brand", evidence.ConfidenceHeuristic, one(metaString("product:brand", "og:brand", "brand"))},
	{evidence.FieldBrand, "text.site_name", evidence.ConfidenceTextPattern, one(metaString("og:site_name", "application-name"))},

	{evidence.FieldPrice, "jsonld.offers", evidence.ConfidenceExact, price(jsonLDPrice)},
	{evidence.FieldPrice, "microdata.price", evidence.ConfidenceExact, price(microdataPrice)},
	{evidence.FieldPrice, "meta.price", evidence.ConfidenceHeuristic, price(metaPrice)},
	{evidence.FieldPrice, "dom.price", evidence.ConfidenceHeuristic, price(domPrice)},
	{evidence.FieldPrice, "text.price", evidence.ConfidenceTextPattern, price(textPrice)},

	{evidence.FieldImageURLs, "jsonld.image", evidence.ConfidenceExact, many(jsonLDImages)},
	{evidence.FieldImageURLs, "microdata.image", evidence.ConfidenceExact, many(microdataImages)},
	{evidence.FieldImageURLs, "meta.image", evidence.ConfidenceHeuristic, many(metaImages)},
	{evidence.FieldImageURLs, "dom.gallery", evidence.ConfidenceHeuristic, many(galleryImages)},
	{evidence.FieldImageURLs, "text.preload", evidence.ConfidenceTextPattern, many(preloadImages)},
	{evidence.FieldImageURLs, "text.state", evidence.ConfidenceTextPattern, many(stateImages)},

	{evidence.FieldGarmentType, "jsonld.category", evidence.ConfidenceExact, garment(jsonLDCategory)},
	{evidence.FieldGarmentType, "jsonld.breadcrumb", evidence.ConfidenceExact, garment(jsonLDBreadcrumb)},
	{evidence.FieldGarmentType, "dom.breadcrumb", evidence.ConfidenceHeuristic, garment(domBreadcrumb)},
	{evidence.FieldGarmentType, "meta.category", evidence.ConfidenceHeuristic, garment(metaString("product:category", "og:product:category", "category"))},
	{evidence.FieldGarmentType, "text.name", evidence.ConfidenceTextPattern, garment(anyName)},
	{evidence.FieldGarmentType, "text.url", evidence.ConfidenceTextPattern, garment(urlWords)},

	{evidence.FieldAvailability, "jsonld.availability", evidence.ConfidenceExact, availability(jsonLDAvailability)},
	{evidence.FieldAvailability, "microdata.availability", evidence.ConfidenceExact, availability(microdataAvailability)},
	{evidence.FieldAvailability, "meta.availability", evidence.ConfidenceHeuristic, availability(metaAvailability)},
	{evidence.FieldAvailability, "dom.button", evidence.ConfidenceHeuristic, availability(buttonAvailability)},
	{evidence.FieldAvailability, "text.availability", evidence.ConfidenceTextPattern, availability(textAvailability)},
}

// Extract runs every rule against body and returns the candidates found.
// pageURL resolves relative references. A body that cannot be parsed
// yields no candidates.
func Extract(body []byte, pageURL string) []evidence.Candidate {
	p := parsePage(body, pageURL)
	if p == nil {
		return nil
	}

	var out []evidence.Candidate
	strongestImage := evidence.Confidence(0)
	for _, r := range rules {
		// Weaker image sources only fill in when stronger ones found nothing;
		// the ledger unions images regardless of confidence.
		if r.field == evidence.FieldImageURLs && strongestImage > r.conf {
			continue
		}
		for _, v := range r.find(p) {
			out = append(out, evidence.Candidate{
				Field:      r.field,
				Value:      v,
				Confidence: r.conf,
				Rule:       r.name,
			})
			if r.field == evidence.FieldImageURLs && r.conf > strongestImage {
				strongestImage = r.conf
			}
		}
	}
	return out
}

// Adapters from typed finders to rule finders.

func one(f func(*page) string) func(*page) []any {
	return func(p *page) []any {
		if s := f(p); s != "" {
			return []any{s}
		}
		return nil
	}
}

func many(f func(*page) []string) func(*page) []any {
	return func(p *page) []any {
		var out []any
		for _, s := range f(p) {
			out = append(out, s)
		}
		return out
	}
}

func price(f func(*page) (models.Price, bool)) func(*page) []any {
	return func(p *page) []any {
		if v, ok := f(p); ok {
			return []any{v}
		}
		return nil
	}
}

func garment(f func(*page) string) func(*page) []any {
	return func(p *page) []any {
		text := f(p)
		if text == "" {
			return nil
		}
		if g := ClassifyGarment(text); g != models.GarmentUnsupported {
			return []any{g}
		}
		return nil
	}
}

func availability(f func(*page) models.Availability) func(*page) []any {
	return func(p *page) []any {
		if a := f(p); a != models.AvailabilityUnknown {
			return []any{a}
		}
		return nil
	}
}

// ── name and brand ──

func jsonLDName(p *page) string {
	for _, prod := range p.products {
		if s := str(prod["name"]); s != "" {
			return s
		}
	}
	return ""
}

func jsonLDBrand(p *page) string {
	for _, prod := range p.products {
		for _, key := range []string{"brand", "manufacturer"} {
			if s := str(prod[key]); s != "" {
				return s
			}
		}
	}
	return ""
}

// microdataProp reads an itemprop inside a Product scope, preferring a
// nested name (Brand items) and a content attribute over the text.
func microdataProp(prop string) func(*page) string {
	return func(p *page) string {
		s := p.doc.FindMatcher(selProductScope).Find(`[itemprop="` + prop + `"]`).First()
		if s.Length() == 0 {
			return ""
		}
		if nested := s.Find(`[itemprop="name"]`).First(); nested.Length() > 0 {
			s = nested
		}
		if v, ok := s.Attr("content"); ok {
			return cleanText(v)
		}
		return cleanText(s.Text())
	}
}

func metaString(keys ...string) func(*page) string {
	return func(p *page) string {
		return p.metaFirst(keys...)
	}
}

func h1Text(p *page) string {
	return cleanText(p.doc.FindMatcher(selH1).First().Text())
}

// titleText is the document title minus a trailing " | Site" segment.
func titleText(p *page) string {
	t := cleanText(p.doc.FindMatcher(selTitle).First().Text())
	if stripped := titleSuffixRe.ReplaceAllString(t, ""); stripped != "" {
		return stripped
	}
	return t
}

// ── price ──

func jsonLDPrice(p *page) (models.Price, bool) {
	for _, prod := range p.products {
		for _, o := range offers(prod) {
			currency := str(o["priceCurrency"])
			for _, key := range []string{"price", "lowPrice", "highPrice"} {
				if v, ok := o[key]; ok {
					if pr, ok := priceFromJSON(v, currency); ok {
						return pr, true
					}
				}
			}
			for _, spec := range asSlice(o["priceSpecification"]) {
				m, ok := spec.(map[string]any)
				if !ok {
					continue
				}
				cur := str(m["priceCurrency"])
				if cur == "" {
					cur = currency
				}
				if pr, ok := priceFromJSON(m["price"], cur); ok {
					return pr, true
				}
			}
		}
	}
	return models.Price{}, false
}

func microdataPrice(p *page) (models.Price, bool) {
	scope := p.doc.FindMatcher(selProductScope)
	node := scope.Find(`[itemprop="price"]`).First()
	if node.Length() == 0 {
		return models.Price{}, false
	}
	raw := node.AttrOr("content", node.Text())
	cur := scope.Find(`[itemprop="priceCurrency"]`).First()
	return ParsePrice(raw, cur.AttrOr("content", cleanText(cur.Text())))
}

func metaPrice(p *page) (models.Price, bool) {
	amount := p.metaFirst("product:price:amount", "og:price:amount", "product:sale_price:amount", "twitter:data1")
	if amount == "" {
		return models.Price{}, false
	}
	return ParsePrice(amount, p.metaFirst("product:price:currency", "og:price:currency", "product:sale_price:currency"))
}

// domPrice reads the first price-looking element that is not a struck-out
// or reference price.
func domPrice(p *page) (models.Price, bool) {
	hint := p.metaFirst("product:price:currency", "og:price:currency")
	var result models.Price
	found := false
	p.doc.FindMatcher(selPriceNode).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if stalePrice(s) {
			return true
		}
		raw := s.AttrOr("content", cleanText(s.Text()))
		if raw == "" || len(raw) > 40 {
			return true
		}
		text := raw
		if detectCurrency(text) == "" && hint != "" {
			text = hint + " " + text
		}
		if pr, ok := ParsePrice(text, s.AttrOr("data-currency", "")); ok {
			result, found = pr, true
			return false
		}
		return true
	})
	return result, found
}

func stalePrice(s *goquery.Selection) bool {
	if s.Closest("s, del, strike").Length() > 0 {
		return true
	}
	attrs := s.AttrOr("class", "") + " " + s.AttrOr("id", "") + " " + s.AttrOr("data-testid", "")
	return stalePriceRe.MatchString(attrs)
}

func textPrice(p *page) (models.Price, bool) {
	m := priceTextRe.FindString(p.text)
	if m == "" {
		return models.Price{}, false
	}
	return ParsePrice(m, "")
}

// ── garment ──

func jsonLDCategory(p *page) string {
	for _, prod := range p.products {
		var parts []string
		for _, c := range asSlice(prod["category"]) {
			if s := str(c); s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, " > ")
		}
	}
	return ""
}

func jsonLDBreadcrumb(p *page) string {
	return strings.Join(p.breadcrumbs, " > ")
}

func domBreadcrumb(p *page) string {
	var parts []string
	p.doc.FindMatcher(selBreadcrumbs).First().Find("a, span, li").Each(func(_ int, s *goquery.Selection) {
		if s.Children().Length() > 0 {
			return
		}
		if t := cleanText(s.Text()); t != "" && len(t) < 60 {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " > ")
}

// anyName is the best available product name, used as classification text.
func anyName(p *page) string {
	for _, f := range []func(*page) string{jsonLDName, metaString("og:title"), h1Text, titleText} {
		if s := f(p); s != "" {
			return s
		}
	}
	return ""
}

// urlWords turns the page path into words ("/women/midi-skirt-123").
func urlWords(p *page) string {
	if p.base == nil {
		return ""
	}
	path, err := url.PathUnescape(p.base.Path)
	if err != nil {
		path = p.base.Path
	}
	return strings.TrimSpace(urlWordRe.ReplaceAllString(path, " "))
}
