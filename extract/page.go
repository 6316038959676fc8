package extract

import (
	"bytes"
	"html"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// Selectors compiled once and matched with goquery.FindMatcher.
var (
	selJSONLD       = cascadia.MustCompile(`script[type="application/ld+json"]`)
	selScripts      = cascadia.MustCompile(`script`)
	selInvisible    = cascadia.MustCompile(`script, style, noscript, template, svg`)
	selMeta         = cascadia.MustCompile(`meta[content]`)
	selProductScope = cascadia.MustCompile(`[itemscope][itemtype*="schema.org/Product"]`)
	selBreadcrumbs  = cascadia.MustCompile(`nav[aria-label*="readcrumb"], [class*="breadcrumb"], [id*="breadcrumb"], [data-testid*="breadcrumb"]`)
)

var wsRe = regexp.MustCompile(`\s+`)

// page is a parsed document plus everything derived from its scripts,
// collected before script nodes are dropped for visible-text rules.
type page struct {
	doc  *goquery.Document
	base *url.URL

	meta map[string]string

	products    []map[string]any
	breadcrumbs []string

	scripts []string
	text    string
}

// parsePage builds a page; nil when the body is not parseable as HTML.
func parsePage(body []byte, pageURL string) *page {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}
	base, err := url.Parse(pageURL)
	if err != nil || base.Host == "" {
		base = nil
	}

	p := &page{doc: doc, base: base, meta: make(map[string]string)}

	doc.FindMatcher(selMeta).Each(func(_ int, s *goquery.Selection) {
		key := s.AttrOr("property", s.AttrOr("name", s.AttrOr("itemprop", "")))
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			return
		}
		if _, seen := p.meta[key]; !seen {
			p.meta[key] = cleanText(s.AttrOr("content", ""))
		}
	})

	doc.FindMatcher(selJSONLD).Each(func(_ int, s *goquery.Selection) {
		for _, node := range parseJSONLD(s.Text()) {
			switch {
			case hasType(node, "Product", "ProductGroup", "IndividualProduct", "ProductModel"):
				p.products = append(p.products, node)
			case hasType(node, "BreadcrumbList"):
				p.breadcrumbs = append(p.breadcrumbs, breadcrumbNames(node)...)
			}
		}
	})

	doc.FindMatcher(selScripts).Each(func(_ int, s *goquery.Selection) {
		if t := s.AttrOr("type", ""); t == "application/ld+json" {
			return
		}
		if src := s.Text(); len(src) > 0 {
			p.scripts = append(p.scripts, src)
		}
	})

	doc.FindMatcher(selInvisible).Remove()
	p.text = cleanText(doc.Find("body").Text())
	return p
}

// metaFirst returns the first non-empty meta value among keys.
func (p *page) metaFirst(keys ...string) string {
	for _, k := range keys {
		if v := p.meta[k]; v != "" {
			return v
		}
	}
	return ""
}

// resolve turns a raw reference into an absolute http(s) URL without a
// fragment, or "" when that is not possible.
func (p *page) resolve(raw string) string {
	raw = strings.TrimSpace(html.UnescapeString(raw))
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	var u *url.URL
	switch {
	case p.base != nil:
		u = p.base.ResolveReference(ref)
	case ref.IsAbs():
		u = ref
	case strings.HasPrefix(raw, "//"):
		u = ref
		u.Scheme = "https"
	default:
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

// cleanText unescapes entities and collapses whitespace.
func cleanText(s string) string {
	s = html.UnescapeString(s)
	return strings.TrimSpace(wsRe.ReplaceAllString(s, " "))
}
