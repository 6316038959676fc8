package extract

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"

	"github.com/use-agent/prodscrape/models"
)

const (
	maxGalleryImages = 20
	maxStateImages   = 10
	minImageScore    = 2
	minImageSide     = 100
)

var (
	selImages       = cascadia.MustCompile(`img, source[srcset]`)
	selPreloadImage = cascadia.MustCompile(`link[rel="preload"][as="image"]`)

	pathTokenRe     = regexp.MustCompile(`[^a-z0-9]+`)
	imageExtRe      = regexp.MustCompile(`(?i)\.(jpe?g|png|webp|avif)(\?|$)`)
	productHintRe   = regexp.MustCompile(`(?i)(product|item|gallery|zoom|large|main|pdp|detail)`)
	cdnHintRe       = regexp.MustCompile(`(?i)(cdn|media|assets|images|static|scene7|cloudinary|shopify)`)
	galleryClassRe  = regexp.MustCompile(`(?i)(product|gallery|carousel|slider|swiper|pdp|media|zoom)`)

	// stateImageRe finds image URLs inside serialized state blobs such as
	// __NEXT_DATA__ or window.__INITIAL_STATE__.
	stateImageRe = regexp.MustCompile(`"(?:images?|imageUrls?|imageURL|img|src|url|zoomImage|largeImage|mainImage)"\s*:\s*"((?:https?:)?(?:\\?/){2}[^"\s]+?\.(?:jpe?g|png|webp|avif)(?:\?[^"\s]*)?)"`)
)

// assetWords are path tokens that name site assets rather than product
// shots: brand marks, UI chrome, placeholders, trackers, payment and
// social badges.
var assetWords = map[string]struct{}{
	"logo": {}, "logos": {}, "icon": {}, "icons": {}, "favicon": {}, "sprite": {}, "sprites": {},
	"loading": {}, "loader": {}, "placeholder": {}, "spinner": {}, "spacer": {}, "pixel": {},
	"tracking": {}, "beacon": {}, "badge": {}, "badges": {}, "social": {}, "facebook": {},
	"twitter": {}, "instagram": {}, "pinterest": {}, "youtube": {}, "tiktok": {}, "payment": {},
	"payments": {}, "visa": {}, "mastercard": {}, "amex": {}, "paypal": {}, "klarna": {},
	"afterpay": {}, "stripe": {}, "shipping": {}, "delivery": {}, "banner": {}, "banners": {},
	"advert": {}, "newsletter": {}, "flag": {}, "flags": {},
}

// imagePath returns the path of u without host, query or fragment.
func imagePath(u string) string {
	if pu, err := url.Parse(u); err == nil {
		return pu.Path
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

// usableImage is the format check shared by all image rules.
func usableImage(u string) bool {
	if u == "" || strings.HasPrefix(u, "data:") {
		return false
	}
	path := strings.ToLower(imagePath(u))
	return !strings.HasSuffix(path, ".svg") && !strings.HasSuffix(path, ".gif")
}

// assetImage reports whether u names a site asset. Whole path tokens are
// compared, never substrings and never the host. A file name that also
// names a garment ("logo-hoodie.jpg") is a product shot.
func assetImage(u string) bool {
	path := strings.ToLower(imagePath(u))
	hit := false
	for _, tok := range pathTokenRe.Split(path, -1) {
		if _, ok := assetWords[tok]; ok {
			hit = true
			break
		}
	}
	if !hit {
		return false
	}
	name := path[strings.LastIndex(path, "/")+1:]
	return ClassifyGarment(pathTokenRe.ReplaceAllString(name, " ")) == models.GarmentUnsupported
}

// acceptImage is the filter for the heuristic tiers: meta, DOM, preload
// and state images. Structured data only goes through usableImage.
func acceptImage(u string) bool {
	return usableImage(u) && !assetImage(u)
}

// jsonLDImages returns images declared by product structured data.
func jsonLDImages(p *page) []string {
	var out []string
	for _, prod := range p.products {
		refs := imageRefs(prod["image"])
		for _, v := range asSlice(prod["hasVariant"]) {
			if m, ok := v.(map[string]any); ok {
				refs = append(refs, imageRefs(m["image"])...)
			}
		}
		for _, r := range refs {
			if u := p.resolve(r); usableImage(u) {
				out = append(out, u)
			}
		}
	}
	return out
}

// microdataImages returns itemprop=image values inside a Product scope.
func microdataImages(p *page) []string {
	var out []string
	p.doc.FindMatcher(selProductScope).Find(`[itemprop="image"]`).Each(func(_ int, s *goquery.Selection) {
		raw := s.AttrOr("content", s.AttrOr("src", s.AttrOr("href", "")))
		if u := p.resolve(raw); usableImage(u) {
			out = append(out, u)
		}
	})
	return out
}

// metaImages returns Open Graph and Twitter card images.
func metaImages(p *page) []string {
	var out []string
	for _, key := range []string{"og:image:secure_url", "og:image", "twitter:image", "twitter:image:src"} {
		if u := p.resolve(p.meta[key]); acceptImage(u) {
			out = append(out, u)
		}
	}
	return out
}

// galleryImages scores every <img> and keeps likely product shots.
func galleryImages(p *page) []string {
	var out []string
	p.doc.FindMatcher(selImages).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(out) >= maxGalleryImages {
			return false
		}
		if tooSmall(s) {
			return true
		}
		u := p.resolve(imageSource(s))
		if !acceptImage(u) {
			return true
		}
		if scoreImage(s, u) >= minImageScore {
			out = append(out, u)
		}
		return true
	})
	return out
}

// imageSource picks the best source of an img: lazy-load attributes first,
// then the largest srcset entry, then src.
func imageSource(s *goquery.Selection) string {
	for _, attr := range []string{"data-zoom-image", "data-large", "data-src", "data-lazy-src", "data-original"} {
		if v := strings.TrimSpace(s.AttrOr(attr, "")); v != "" {
			return v
		}
	}
	if v := largestSrcset(s.AttrOr("srcset", s.AttrOr("data-srcset", ""))); v != "" {
		return v
	}
	return s.AttrOr("src", "")
}

// largestSrcset returns the candidate with the biggest width descriptor,
// or the last one when no widths are given.
func largestSrcset(srcset string) string {
	best, bestW := "", -1
	for _, part := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) == 0 {
			continue
		}
		w := 0
		if len(fields) > 1 {
			w, _ = strconv.Atoi(strings.TrimRight(fields[1], "wx"))
		}
		if w >= bestW {
			best, bestW = fields[0], w
		}
	}
	return best
}

func tooSmall(s *goquery.Selection) bool {
	for _, attr := range []string{"width", "height"} {
		if v, ok := s.Attr(attr); ok {
			if n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px")); err == nil && n < minImageSide {
				return true
			}
		}
	}
	return false
}

func scoreImage(s *goquery.Selection, u string) int {
	score := 0
	if productHintRe.MatchString(u) {
		score++
	}
	if cdnHintRe.MatchString(u) {
		score++
	}
	if len(strings.TrimSpace(s.AttrOr("alt", ""))) > 10 {
		score++
	}
	if s.AttrOr("itemprop", "") == "image" {
		score += 3
	}
	parent := s.Parent()
	for i := 0; i < 3 && parent.Length() > 0; i++ {
		if galleryClassRe.MatchString(parent.AttrOr("class", "") + " " + parent.AttrOr("id", "")) {
			score += 2
			break
		}
		parent = parent.Parent()
	}
	return score
}

// preloadImages returns <link rel=preload as=image> targets.
func preloadImages(p *page) []string {
	var out []string
	p.doc.FindMatcher(selPreloadImage).Each(func(_ int, s *goquery.Selection) {
		raw := s.AttrOr("href", "")
		if raw == "" {
			raw = largestSrcset(s.AttrOr("imagesrcset", ""))
		}
		if u := p.resolve(raw); acceptImage(u) && imageExtRe.MatchString(u) {
			out = append(out, u)
		}
	})
	return out
}

// stateImages pulls image URLs out of inline JSON state scripts.
func stateImages(p *page) []string {
	var out []string
	for _, src := range p.scripts {
		for _, m := range stateImageRe.FindAllStringSubmatch(src, -1) {
			raw := strings.ReplaceAll(m[1], `\/`, "/")
			if u := p.resolve(raw); acceptImage(u) {
				out = append(out, u)
				if len(out) >= maxStateImages {
					return out
				}
			}
		}
	}
	return out
}
