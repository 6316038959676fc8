package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/prodscrape/models"
)

var (
	selButtons = cascadia.MustCompile(`button, input[type="submit"], [role="button"]`)

	addToCartRe = regexp.MustCompile(`(?i)\badd\s+to\s+(?:cart|bag|basket|trolley)\b|\bbuy\s+now\b`)
	soldOutRe   = regexp.MustCompile(`(?i)\b(?:sold\s*out|out\s+of\s+stock|currently\s+unavailable|no\s+longer\s+available|notify\s+me)\b`)
	limitedRe   = regexp.MustCompile(`(?i)\b(?:only\s+\d+\s+(?:left|remaining)|low\s+(?:in\s+)?stock|few\s+(?:items\s+)?left|almost\s+gone|last\s+(?:one|few|pieces?))\b`)
	inStockRe   = regexp.MustCompile(`(?i)\bin\s+stock\b`)
)

// AvailabilityFromSchema maps a schema.org ItemAvailability value, a full
// IRI or bare name, to the availability enum.
func AvailabilityFromSchema(v string) models.Availability {
	v = strings.ToLower(strings.TrimSpace(v))
	if i := strings.LastIndex(v, "/"); i >= 0 {
		v = v[i+1:]
	}
	switch v {
	case "instock", "instoreonly", "onlineonly":
		return models.AvailabilityInStock
	case "outofstock", "soldout", "discontinued":
		return models.AvailabilityOutOfStock
	case "limitedavailability", "preorder", "presale", "backorder":
		return models.AvailabilityLimited
	}
	return models.AvailabilityUnknown
}

// AvailabilityFromText maps loose vocabulary from meta tags and labels.
func AvailabilityFromText(v string) models.Availability {
	if a := AvailabilityFromSchema(v); a != models.AvailabilityUnknown {
		return a
	}
	lower := strings.ToLower(strings.TrimSpace(v))
	switch {
	case limitedRe.MatchString(lower), strings.Contains(lower, "limited"), strings.Contains(lower, "pre-order"):
		return models.AvailabilityLimited
	case soldOutRe.MatchString(lower), lower == "oos", strings.Contains(lower, "unavailable"):
		return models.AvailabilityOutOfStock
	case inStockRe.MatchString(lower), lower == "in_stock", lower == "available":
		return models.AvailabilityInStock
	}
	return models.AvailabilityUnknown
}

// jsonLDAvailability reads the first offer availability of any product.
func jsonLDAvailability(p *page) models.Availability {
	for _, prod := range p.products {
		for _, o := range offers(prod) {
			if s, ok := o["availability"].(string); ok {
				if a := AvailabilityFromSchema(s); a != models.AvailabilityUnknown {
					return a
				}
			}
		}
	}
	return models.AvailabilityUnknown
}

func microdataAvailability(p *page) models.Availability {
	s := p.doc.FindMatcher(selProductScope).Find(`[itemprop="availability"]`).First()
	if s.Length() == 0 {
		return models.AvailabilityUnknown
	}
	return AvailabilityFromSchema(s.AttrOr("href", s.AttrOr("content", s.Text())))
}

func metaAvailability(p *page) models.Availability {
	return AvailabilityFromText(p.metaFirst("product:availability", "og:availability", "availability"))
}

// buttonAvailability reads purchase button state: an enabled add-to-cart
// button means in stock, a sold-out label means out of stock.
func buttonAvailability(p *page) models.Availability {
	result := models.AvailabilityUnknown
	p.doc.FindMatcher(selButtons).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		label := cleanText(s.Text() + " " + s.AttrOr("value", "") + " " + s.AttrOr("aria-label", ""))
		switch {
		case soldOutRe.MatchString(label):
			result = models.AvailabilityOutOfStock
			return false
		case addToCartRe.MatchString(label):
			_, disabled := s.Attr("disabled")
			if !disabled && s.AttrOr("aria-disabled", "") != "true" {
				result = models.AvailabilityInStock
				return false
			}
		}
		return true
	})
	return result
}

// textAvailability scans visible text; scarcity wins over the other signals.
func textAvailability(p *page) models.Availability {
	switch {
	case limitedRe.MatchString(p.text):
		return models.AvailabilityLimited
	case soldOutRe.MatchString(p.text):
		return models.AvailabilityOutOfStock
	case inStockRe.MatchString(p.text):
		return models.AvailabilityInStock
	}
	return models.AvailabilityUnknown
}
