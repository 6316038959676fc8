package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelectors are removed before condensing. Site chrome repeats on every
// page and carries prices and names of unrelated products.
var noiseSelectors = []string{
	"script", "style", "noscript", "iframe", "svg", "template",
	"header", "footer", "nav", "aside",
	`[role="navigation"]`, `[role="banner"]`, `[role="contentinfo"]`, `[aria-hidden="true"]`,
	`[class*="cookie"]`, `[id*="cookie"]`, `[class*="newsletter"]`,
	`[class*="recommend"]`, `[class*="related"]`, `[class*="recently-viewed"]`,
}

// filterNoise removes noiseSelectors from html. Unparseable input is
// returned unchanged.
func filterNoise(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}
	out, err := doc.Html()
	if err != nil {
		return html
	}
	return out
}
