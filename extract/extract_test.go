package extract

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/prodscrape/evidence"
	"github.com/use-agent/prodscrape/models"
)

const bomberPage = `<!doctype html>
<html><head>
<title>Leather-Effect Bomber Jacket | Shop</title>
<meta property="og:title" content="Leather-Effect Bomber Jacket - Shop">
<script type="application/ld+json">
{
  "@context": "https://schema.org",
  "@type": "Product",
  "name": "Leather-Effect Bomber Jacket",
  "brand": {"@type": "Brand", "name": "Northwind"},
  "category": "jackets",
  "image": ["/img/bomber-front.jpg", "https://cdn.example.com/img/bomber-back.jpg"],
  "offers": {"@type": "Offer", "price": "250.00", "priceCurrency": "USD",
             "availability": "https://schema.org/InStock"}
}
</script>
</head>
<body><h1>Leather-Effect Bomber Jacket</h1><p>$250</p></body></html>`

// best returns the highest-confidence candidate for field, first wins ties.
func best(cands []evidence.Candidate, field evidence.Field) (evidence.Candidate, bool) {
	var out evidence.Candidate
	found := false
	for _, c := range cands {
		if c.Field != field {
			continue
		}
		if !found || c.Confidence > out.Confidence {
			out, found = c, true
		}
	}
	return out, found
}

func images(cands []evidence.Candidate) []string {
	var out []string
	for _, c := range cands {
		if c.Field == evidence.FieldImageURLs {
			out = append(out, c.Value.(string))
		}
	}
	return out
}

func TestExtractStructuredProduct(t *testing.T) {
	cands := Extract([]byte(bomberPage), "https://shop.example.com/p/bomber")
	require.NotEmpty(t, cands)

	name, ok := best(cands, evidence.FieldProductName)
	require.True(t, ok)
	assert.Equal(t, "Leather-Effect Bomber Jacket", name.Value)
	assert.Equal(t, evidence.ConfidenceExact, name.Confidence)

	brand, ok := best(cands, evidence.FieldBrand)
	require.True(t, ok)
	assert.Equal(t, "Northwind", brand.Value)

	price, ok := best(cands, evidence.FieldPrice)
	require.True(t, ok)
	p := price.Value.(models.Price)
	assert.True(t, p.Amount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "USD", p.Currency)
	assert.Equal(t, evidence.ConfidenceExact, price.Confidence)

	assert.Equal(t, []string{
		"https://shop.example.com/img/bomber-front.jpg",
		"https://cdn.example.com/img/bomber-back.jpg",
	}, images(cands))

	garment, ok := best(cands, evidence.FieldGarmentType)
	require.True(t, ok)
	assert.Equal(t, models.GarmentUpper, garment.Value)
	assert.Equal(t, evidence.ConfidenceExact, garment.Confidence)

	avail, ok := best(cands, evidence.FieldAvailability)
	require.True(t, ok)
	assert.Equal(t, models.AvailabilityInStock, avail.Value)
}

func TestExtractMetaAndDOMFallbacks(t *testing.T) {
	page := `<html><head>
<title>Midi Skirt | Boutique</title>
<meta property="og:title" content="Pleated Midi Skirt">
<meta property="og:image" content="https://img.example.com/products/skirt-1.jpg">
<meta property="product:price:amount" content="49,95">
<meta property="product:price:currency" content="EUR">
<meta property="og:site_name" content="Boutique">
</head><body>
<nav aria-label="Breadcrumb"><a href="/">Home</a><a href="/women">Women</a><a href="/skirts">Skirts</a></nav>
<span class="price-was">€79,95</span>
<button type="submit">Add to bag</button>
</body></html>`

	cands := Extract([]byte(page), "https://boutique.example.com/p/1")

	name, _ := best(cands, evidence.FieldProductName)
	assert.Equal(t, "Pleated Midi Skirt", name.Value)
	assert.Equal(t, evidence.ConfidenceHeuristic, name.Confidence)

	price, ok := best(cands, evidence.FieldPrice)
	require.True(t, ok)
	p := price.Value.(models.Price)
	assert.Equal(t, "49.95", p.Amount.String())
	assert.Equal(t, "EUR", p.Currency)

	brand, _ := best(cands, evidence.FieldBrand)
	assert.Equal(t, "Boutique", brand.Value)
	assert.Equal(t, evidence.ConfidenceTextPattern, brand.Confidence)

	garment, _ := best(cands, evidence.FieldGarmentType)
	assert.Equal(t, models.GarmentLower, garment.Value)

	avail, _ := best(cands, evidence.FieldAvailability)
	assert.Equal(t, models.AvailabilityInStock, avail.Value)

	assert.Equal(t, []string{"https://img.example.com/products/skirt-1.jpg"}, images(cands))
}

func TestExtractDOMPriceSkipsStalePrices(t *testing.T) {
	page := `<html><body>
<h1>Linen Shirt</h1>
<del><span class="price">£60.00</span></del>
<span class="price compare-at">£55.00</span>
<span class="product-price">£39.00</span>
</body></html>`

	price, ok := best(Extract([]byte(page), "https://example.co.uk/linen-shirt"), evidence.FieldPrice)
	require.True(t, ok)
	p := price.Value.(models.Price)
	assert.Equal(t, "39", p.Amount.String())
	assert.Equal(t, "GBP", p.Currency)
	assert.Equal(t, evidence.ConfidenceHeuristic, price.Confidence)
}

func TestExtractTextPatternOnly(t *testing.T) {
	page := `<html><head><title>Canvas Sneakers - Store</title></head>
<body><p>Now only 3 left! Price: $64.50 incl. tax</p></body></html>`

	cands := Extract([]byte(page), "https://store.example.com/canvas-sneakers")

	name, _ := best(cands, evidence.FieldProductName)
	assert.Equal(t, "Canvas Sneakers", name.Value)
	assert.Equal(t, evidence.ConfidenceTextPattern, name.Confidence)

	price, ok := best(cands, evidence.FieldPrice)
	require.True(t, ok)
	assert.Equal(t, "64.5", price.Value.(models.Price).Amount.String())

	garment, _ := best(cands, evidence.FieldGarmentType)
	assert.Equal(t, models.GarmentShoes, garment.Value)

	avail, _ := best(cands, evidence.FieldAvailability)
	assert.Equal(t, models.AvailabilityLimited, avail.Value)
}

func TestExtractMicrodata(t *testing.T) {
	page := `<html><body>
<div itemscope itemtype="https://schema.org/Product">
  <h2 itemprop="name">Wool Overcoat</h2>
  <div itemprop="brand" itemscope itemtype="https://schema.org/Brand"><span itemprop="name">Harbor</span></div>
  <img itemprop="image" src="/media/overcoat.jpg">
  <div itemprop="offers" itemscope itemtype="https://schema.org/Offer">
    <meta itemprop="priceCurrency" content="CAD">
    <span itemprop="price" content="420.00">CA$420</span>
    <link itemprop="availability" href="https://schema.org/OutOfStock">
  </div>
</div></body></html>`

	cands := Extract([]byte(page), "https://ca.example.com/coat")

	name, _ := best(cands, evidence.FieldProductName)
	assert.Equal(t, "Wool Overcoat", name.Value)
	assert.Equal(t, evidence.ConfidenceExact, name.Confidence)

	brand, _ := best(cands, evidence.FieldBrand)
	assert.Equal(t, "Harbor", brand.Value)

	price, _ := best(cands, evidence.FieldPrice)
	assert.Equal(t, "CAD", price.Value.(models.Price).Currency)

	avail, _ := best(cands, evidence.FieldAvailability)
	assert.Equal(t, models.AvailabilityOutOfStock, avail.Value)

	assert.Equal(t, []string{"https://ca.example.com/media/overcoat.jpg"}, images(cands))
}

func TestExtractMalformedInput(t *testing.T) {
	assert.Empty(t, Extract(nil, "https://example.com"))
	assert.Empty(t, Extract([]byte("   "), "https://example.com"))

	// Broken JSON-LD is skipped, not fatal.
	page := `<html><head><script type="application/ld+json">{"@type": "Product", "name": </script>
<title>Silk Scarf</title></head><body></body></html>`
	cands := Extract([]byte(page), "https://example.com/scarf")
	name, ok := best(cands, evidence.FieldProductName)
	require.True(t, ok)
	assert.Equal(t, "Silk Scarf", name.Value)
	assert.Equal(t, evidence.ConfidenceTextPattern, name.Confidence)

	for _, c := range cands {
		assert.True(t, c.Valid(), "candidate %s from %s", c.Field, c.Rule)
	}
}

func TestExtractIgnoresNonProductImages(t *testing.T) {
	page := `<html><body>
<img src="/static/logo.png" alt="Shop logo">
<img src="/icons/cart.svg">
<img src="/img/tracking-pixel.jpg" width="1" height="1">
<div class="product-gallery">
  <img src="/images/products/dress-front.jpg" alt="Front view of the wrap dress">
  <img data-src="/images/products/dress-side.jpg" src="/img/placeholder.jpg" alt="Side view of the wrap dress">
</div>
</body></html>`

	got := images(Extract([]byte(page), "https://example.com/wrap-dress"))
	assert.Equal(t, []string{
		"https://example.com/images/products/dress-front.jpg",
		"https://example.com/images/products/dress-side.jpg",
	}, got)
}

func TestExtractKeepsStructuredImagesWithAssetLikeNames(t *testing.T) {
	page := `<html><head><script type="application/ld+json">
{"@type": "Product", "name": "Striped Shirt",
 "image": ["https://cdn.example.com/p/striped-shirt-1.jpg",
           "https://cdn.example.com/p/logo-hoodie.jpg",
           "https://cdn.example.com/p/silicone-sandal.jpg",
           "https://cdn.example.com/p/plain-tee.jpg",
           "https://cdn.example.com/p/badge.svg"]}
</script></head><body></body></html>`

	got := images(Extract([]byte(page), "https://shop.example.com/p/striped-shirt"))
	assert.Equal(t, []string{
		"https://cdn.example.com/p/striped-shirt-1.jpg",
		"https://cdn.example.com/p/logo-hoodie.jpg",
		"https://cdn.example.com/p/silicone-sandal.jpg",
		"https://cdn.example.com/p/plain-tee.jpg",
	}, got)
}

func TestExtractGalleryMatchesWholePathTokens(t *testing.T) {
	page := `<html><body>
<img src="/static/brand-logo.png" alt="Flagship store logo">
<div class="product-gallery">
  <img src="/media/striped-knit-front.jpg" alt="Striped knit, front view">
  <img src="/media/silicone-strap-detail.jpg" alt="Silicone strap detail view">
</div>
</body></html>`

	got := images(Extract([]byte(page), "https://flagship.example.com/p/knit"))
	assert.Equal(t, []string{
		"https://flagship.example.com/media/striped-knit-front.jpg",
		"https://flagship.example.com/media/silicone-strap-detail.jpg",
	}, got)
}

func TestAssetImage(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://cdn.example.com/static/logo.png", true},
		{"https://cdn.example.com/icons/cart.png", true},
		{"https://cdn.example.com/img/payment_visa.png", true},
		{"https://cdn.example.com/p/logo-hoodie.jpg", false},
		{"https://cdn.example.com/p/striped-shirt.jpg", false},
		{"https://cdn.example.com/p/silicone-sandal.jpg", false},
		{"https://flagship.example.com/p/plain-tee.jpg", false},
		{"https://cdn.example.com/p/tee.jpg?utm_source=facebook", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, assetImage(tt.url))
		})
	}
}
