package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/use-agent/prodscrape/cleaner"
	"github.com/use-agent/prodscrape/engine"
	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/extract"
	"github.com/use-agent/prodscrape/llm"
	"github.com/use-agent/prodscrape/models"
	"github.com/use-agent/prodscrape/search"
)

// errNoResults marks an enrichment lookup that found nothing.
var errNoResults = errors.New("no results")

// productExtractor is the model call the llm strategy depends on.
type productExtractor interface {
	ExtractProduct(ctx context.Context, pageURL, title, markdown string) (*llm.Product, *llm.Usage, error)
}

// llmStrategy acquires the page with an engine, condenses it and asks a
// language model for the product. Its values are heuristic-tier.
type llmStrategy struct {
	eng     engine.Engine
	timeout time.Duration
	cleaner *cleaner.Cleaner
	model   productExtractor
}

// NewLLMStrategy creates the generative extraction strategy.
func NewLLMStrategy(eng engine.Engine, timeout time.Duration, c *cleaner.Cleaner, model productExtractor) Strategy {
	return &llmStrategy{eng: eng, timeout: timeout, cleaner: c, model: model}
}

func (s *llmStrategy) Name() string { return StrategyLLM }

func (s *llmStrategy) Collect(ctx context.Context, rawURL string) (*Evidence, error) {
	res, err := fetchHTML(ctx, s.eng, rawURL, s.timeout)
	if err != nil {
		return nil, err
	}
	page, err := s.cleaner.Condense(string(res.Body), res.FinalURL)
	if err != nil {
		return nil, err
	}
	p, _, err := s.model.ExtractProduct(ctx, res.FinalURL, page.Title, page.Markdown)
	if err != nil {
		return nil, err
	}
	return &Evidence{
		Candidates: llmCandidates(p, res.FinalURL),
		FinalURL:   res.FinalURL,
		StatusCode: res.StatusCode,
	}, nil
}

func llmCandidates(p *llm.Product, pageURL string) []evidence.Candidate {
	const conf = evidence.ConfidenceHeuristic
	var out []evidence.Candidate
	if p.ProductName != nil {
		out = append(out, evidence.Text(evidence.FieldProductName, strings.TrimSpace(*p.ProductName), conf, "llm.product_name"))
	}
	if p.Brand != nil {
		out = append(out, evidence.Text(evidence.FieldBrand, strings.TrimSpace(*p.Brand), conf, "llm.brand"))
	}
	if p.Price != nil && p.Currency != nil {
		if code := extract.NormalizeCurrency(*p.Currency); code != "" {
			out = append(out, evidence.Candidate{
				Field:      evidence.FieldPrice,
				Value:      models.Price{Amount: decimal.NewFromFloat(*p.Price), Currency: code},
				Confidence: conf,
				Rule:       "llm.price",
			})
		}
	}
	for _, img := range p.ImageURLs {
		if u := absoluteURL(pageURL, img); u != "" {
			out = append(out, evidence.Text(evidence.FieldImageURLs, u, conf, "llm.image_urls"))
		}
	}
	if p.Category != nil {
		if g := extract.ClassifyGarment(*p.Category); g != models.GarmentUnsupported {
			out = append(out, evidence.Candidate{Field: evidence.FieldGarmentType, Value: g, Confidence: conf, Rule: "llm.category"})
		}
	}
	if p.Availability != nil {
		if a := extract.AvailabilityFromText(*p.Availability); a != models.AvailabilityUnknown {
			out = append(out, evidence.Candidate{Field: evidence.FieldAvailability, Value: a, Confidence: conf, Rule: "llm.availability"})
		}
	}
	return out
}

// absoluteURL resolves ref against base and keeps only http(s) results.
func absoluteURL(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	r, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	u := b.ResolveReference(r)
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

// urlClassifier is the model call the URL strategy depends on.
type urlClassifier interface {
	ClassifyURL(ctx context.Context, pageURL string) (*llm.Classification, error)
}

// urlStrategy asks a language model for the garment type from the URL
// alone. It answers long before any page is acquired, so its value is
// text-pattern tier and loses to anything read from the page.
type urlStrategy struct {
	model urlClassifier
}

// NewURLStrategy creates the URL-only classification strategy.
func NewURLStrategy(model urlClassifier) Strategy {
	return &urlStrategy{model: model}
}

func (s *urlStrategy) Name() string { return StrategyLLMURL }

func (s *urlStrategy) Collect(ctx context.Context, rawURL string) (*Evidence, error) {
	cls, err := s.model.ClassifyURL(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	// Listing pages and non-fashion items come back as unsupported.
	g, ok := classifiedGarment(cls)
	if !ok {
		return nil, errNoResults
	}
	return &Evidence{Candidates: []evidence.Candidate{{
		Field:      evidence.FieldGarmentType,
		Value:      g,
		Confidence: evidence.ConfidenceTextPattern,
		Rule:       "llm.url",
	}}}, nil
}

func classifiedGarment(cls *llm.Classification) (models.GarmentType, bool) {
	if cls == nil {
		return "", false
	}
	g := models.GarmentType(cls.GarmentType)
	return g, g.Valid() && g != models.GarmentUnsupported
}

// productSearcher is the search API the search strategy depends on.
type productSearcher interface {
	Shopping(ctx context.Context, productURL string) (*search.ShoppingResult, error)
	Images(ctx context.Context, productURL string) (*search.ImageResult, error)
	ImagesByTitle(ctx context.Context, productURL, name string) (*search.ImageResult, error)
}

// listingClassifier reads a search listing with a language model.
type listingClassifier interface {
	ClassifyListing(ctx context.Context, pageURL, title, snippet string) (*llm.Classification, error)
}

// searchStrategy looks the URL up in a shopping search index. It never
// touches the product page, so it reports no final URL. Its own values are
// text-pattern tier; a model reading of the listing is heuristic tier.
type searchStrategy struct {
	client     productSearcher
	classifier listingClassifier
}

// NewSearchStrategy creates the search enrichment strategy. classifier may
// be nil.
func NewSearchStrategy(client productSearcher, classifier listingClassifier) Strategy {
	return &searchStrategy{client: client, classifier: classifier}
}

func (s *searchStrategy) Name() string { return StrategySearch }

func (s *searchStrategy) Collect(ctx context.Context, rawURL string) (*Evidence, error) {
	var (
		shop *search.ShoppingResult
		img  *search.ImageResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		shop, err = s.client.Shopping(gctx, rawURL)
		return err
	})
	g.Go(func() error {
		var err error
		img, err = s.client.Images(gctx, rawURL)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	const conf = evidence.ConfidenceTextPattern
	var out []evidence.Candidate
	if shop != nil {
		if shop.Title != "" {
			out = append(out, evidence.Text(evidence.FieldProductName, shop.Title, conf, "search.title"))
		}
		if p, ok := extract.ParsePrice(shop.Price, ""); ok {
			out = append(out, evidence.Candidate{Field: evidence.FieldPrice, Value: p, Confidence: conf, Rule: "search.price"})
		}
		if gt := extract.ClassifyGarment(shop.Title); gt != models.GarmentUnsupported {
			out = append(out, evidence.Candidate{Field: evidence.FieldGarmentType, Value: gt, Confidence: conf, Rule: "search.title"})
		}
		if shop.Title != "" {
			out = append(out, s.followUp(ctx, rawURL, shop)...)
		}
	}
	if img != nil {
		out = append(out, evidence.Text(evidence.FieldImageURLs, img.Original, conf, "search.image"))
	}
	if len(out) == 0 {
		return nil, errNoResults
	}
	return &Evidence{Candidates: out}, nil
}

// followUp runs the lookups that need the listing title: an image search
// for the title on the product's host and, when configured, a model
// reading of the listing. Their failures only cost their own candidates.
func (s *searchStrategy) followUp(ctx context.Context, rawURL string, shop *search.ShoppingResult) []evidence.Candidate {
	var (
		img *search.ImageResult
		cls *llm.Classification
	)
	var g errgroup.Group
	g.Go(func() error {
		var err error
		if img, err = s.client.ImagesByTitle(ctx, rawURL, shop.Title); err != nil {
			slog.Debug("search: title image lookup failed", "url", rawURL, "error", err)
		}
		return nil
	})
	if s.classifier != nil {
		g.Go(func() error {
			var err error
			if cls, err = s.classifier.ClassifyListing(ctx, rawURL, shop.Title, shop.Snippet); err != nil {
				slog.Debug("search: listing classification failed", "url", rawURL, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	var out []evidence.Candidate
	if img != nil {
		out = append(out, evidence.Text(evidence.FieldImageURLs, img.Original, evidence.ConfidenceTextPattern, "search.image_title"))
	}
	if cls != nil {
		const conf = evidence.ConfidenceHeuristic
		if cls.Name != nil {
			out = append(out, evidence.Text(evidence.FieldProductName, strings.TrimSpace(*cls.Name), conf, "search.classified.name"))
		}
		if cls.Brand != nil {
			out = append(out, evidence.Text(evidence.FieldBrand, strings.TrimSpace(*cls.Brand), conf, "search.classified.brand"))
		}
		if gt, ok := classifiedGarment(cls); ok {
			out = append(out, evidence.Candidate{Field: evidence.FieldGarmentType, Value: gt, Confidence: conf, Rule: "search.classified.garment_type"})
		}
	}
	return out
}
