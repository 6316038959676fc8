// Package search looks a product URL up through SerpAPI's Google Shopping
// and Google Images engines.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/prodscrape/models"
)

const DefaultEndpoint = "https://serpapi.com/search"

// Config holds SerpAPI settings.
type Config struct {
	APIKey   string
	Endpoint string
	Country  string // gl, default "us"
	Language string // hl, default "en"
	Timeout  time.Duration
}

// Client queries SerpAPI.
type Client struct {
	http *resty.Client
	cfg  Config
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Country == "" {
		cfg.Country = "us"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		http: resty.New().SetTimeout(cfg.Timeout),
		cfg:  cfg,
	}
}

// ShoppingResult is one entry of shopping_results.
type ShoppingResult struct {
	Title          string   `json:"title"`
	Price          string   `json:"price"`
	ExtractedPrice *float64 `json:"extracted_price"`
	Source         string   `json:"source"`
	Thumbnail      string   `json:"thumbnail"`
	ProductLink    string   `json:"product_link"`
	Snippet        string   `json:"snippet"`
}

// ImageResult is one entry of images_results.
type ImageResult struct {
	Title    string `json:"title"`
	Link     string `json:"link"`
	Original string `json:"original"`
}

type shoppingResponse struct {
	ShoppingResults []ShoppingResult `json:"shopping_results"`
	Error           string           `json:"error"`
}

type imagesResponse struct {
	ImagesResults []ImageResult `json:"images_results"`
	Error         string        `json:"error"`
}

// Shopping returns the first shopping result for a product URL. The URL is
// cleaned of tracking parameters first; with no results, the query is
// retried without locale path segments. (nil, nil) means no match.
func (c *Client) Shopping(ctx context.Context, productURL string) (*ShoppingResult, error) {
	cleaned := CleanProductURL(productURL)
	queries := []string{cleaned}
	if alt := StripLocaleSegments(cleaned); alt != "" && alt != cleaned {
		queries = append(queries, alt)
	}

	for _, q := range queries {
		var out shoppingResponse
		if err := c.query(ctx, map[string]string{
			"engine":        "google_shopping_light",
			"q":             q,
			"google_domain": "google.com",
		}, &out); err != nil {
			return nil, err
		}
		if len(out.ShoppingResults) > 0 {
			return &out.ShoppingResults[0], nil
		}
	}
	return nil, nil
}

// Images returns the original image of the first image result whose page
// is the same product page as productURL. (nil, nil) means no match.
func (c *Client) Images(ctx context.Context, productURL string) (*ImageResult, error) {
	var out imagesResponse
	if err := c.query(ctx, map[string]string{
		"engine": "google_images_light",
		"q":      productURL,
	}, &out); err != nil {
		return nil, err
	}
	for i := range out.ImagesResults {
		r := &out.ImagesResults[i]
		if r.Original != "" && SameProductPage(productURL, r.Link) {
			return r, nil
		}
	}
	return nil, nil
}

// ImagesByTitle searches images for the quoted product name restricted to
// the product's host and returns the first result with an original image.
// (nil, nil) means no match.
func (c *Client) ImagesByTitle(ctx context.Context, productURL, name string) (*ImageResult, error) {
	host := normalizedHost(productURL)
	name = strings.TrimSpace(name)
	if host == "" || name == "" {
		return nil, nil
	}
	var out imagesResponse
	if err := c.query(ctx, map[string]string{
		"engine": "google_images_light",
		"q":      TitleQuery(name, host),
	}, &out); err != nil {
		return nil, err
	}
	for i := range out.ImagesResults {
		if out.ImagesResults[i].Original != "" {
			return &out.ImagesResults[i], nil
		}
	}
	return nil, nil
}

// TitleQuery builds `"<name>" site:<host>`.
func TitleQuery(name, host string) string {
	return fmt.Sprintf("%q site:%s", strings.ReplaceAll(name, `"`, ""), host)
}

func (c *Client) query(ctx context.Context, params map[string]string, out any) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("gl", c.cfg.Country).
		SetQueryParam("hl", c.cfg.Language).
		SetQueryParam("api_key", c.cfg.APIKey).
		Get(c.cfg.Endpoint)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeSearchFailure, "search request failed", err)
	}
	if res.IsError() {
		return models.NewScrapeError(models.ErrCodeSearchFailure,
			fmt.Sprintf("search API returned %d", res.StatusCode()), nil)
	}
	if err := json.Unmarshal(res.Body(), out); err != nil {
		return models.NewScrapeError(models.ErrCodeSearchFailure, "failed to parse search response", err)
	}
	return nil
}

// keptParams identify a product; every other query parameter is dropped.
var keptParams = map[string]struct{}{
	"pid": {}, "productid": {}, "product_id": {}, "id": {}, "item": {},
	"itemid": {}, "product_no": {}, "products_id": {}, "main_page": {},
}

// CleanProductURL drops tracking and other non-identifying query
// parameters. Unparseable input is returned as is.
func CleanProductURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	var kept []string
	for _, pair := range strings.Split(u.RawQuery, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			continue
		}
		if _, ok := keptParams[strings.ToLower(k)]; !ok {
			continue
		}
		v, _ := url.QueryUnescape(value)
		kept = append(kept, url.QueryEscape(k)+"="+url.QueryEscape(v))
	}
	u.RawQuery = strings.Join(kept, "&")
	u.Fragment = ""
	return u.String()
}

// StripLocaleSegments removes path segments like "en-us" or "fr_fr" and
// drops the query. "" when raw is not a URL.
func StripLocaleSegments(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	var segs []string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg == "" || isLocaleSegment(seg) {
			continue
		}
		segs = append(segs, seg)
	}
	u.Path = "/" + strings.Join(segs, "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func isLocaleSegment(seg string) bool {
	if len(seg) != 5 || (seg[2] != '-' && seg[2] != '_') {
		return false
	}
	for _, i := range []int{0, 1, 3, 4} {
		c := seg[i] | 0x20
		if c < 'a' || c > 'z' {
			return false
		}
	}
	return true
}

// SameProductPage compares two URLs by host (ignoring www.) and by path
// without locale segments.
func SameProductPage(a, b string) bool {
	ha, hb := normalizedHost(a), normalizedHost(b)
	if ha == "" || ha != hb {
		return false
	}
	return strippedPath(a) == strippedPath(b)
}

func strippedPath(raw string) string {
	u, err := url.Parse(StripLocaleSegments(raw))
	if err != nil {
		return ""
	}
	return strings.TrimSuffix(u.Path, "/")
}

func normalizedHost(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
