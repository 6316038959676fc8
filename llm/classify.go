package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/use-agent/prodscrape/models"
)

// Classification is the model's guess from a URL or a search listing,
// without the page itself. GarmentType is one of the garment enum strings;
// "unsupported" marks a listing page or a non-fashion item.
type Classification struct {
	Name        *string `json:"name"`
	Brand       *string `json:"brand"`
	GarmentType string  `json:"garment_type"`
}

const urlPrompt = `Decide from the URL alone whether it is a SINGLE PRODUCT PAGE or a CATEGORY/LISTING PAGE.
A path made only of plural category words (sweaters, jackets, shoes), gender or navigation
segments (men, women, collections, shop, brands, designers) with no product identifier is a
listing page: answer "unsupported".
For a product page answer one garment type:
  "upper": tops, shirts, jackets, hoodies, sweaters, cardigans, vests, coats
  "lower": pants, shorts, skirts, leggings, trousers
  "full_body": dresses, jumpsuits, rompers, sets, full suits
  "shoes": all footwear
  "other": fashion accessories such as bags, hats, jewelry, belts, scarves
  "unsupported": not a fashion item
Return ONLY a JSON object {"garment_type": "<type>"}.`

const listingPrompt = `You classify a product from its search listing.
Return ONLY a JSON object with these keys:
  "name": the product name without the brand, or null
  "brand": the brand name, or null
  "garment_type": one of "upper", "lower", "full_body", "shoes", "other", "unsupported"
"upper" is shirts, sweaters, jackets, blazers, cardigans, vests and other tops.
"lower" is pants, shorts, jeans, skirts, leggings and trousers.
"full_body" is dresses, jumpsuits, long coats, rompers and overalls.
"shoes" is any footwear. Fashion accessories are "other".
Use "unsupported" only when the item is clearly not fashion at all.`

// ClassifyURL guesses the garment type from the product URL. Query and
// fragment are dropped first since they rarely name the product.
func (c *Client) ClassifyURL(ctx context.Context, pageURL string) (*Classification, error) {
	return c.classify(ctx, urlPrompt, "URL: "+bareURL(pageURL))
}

// ClassifyListing classifies a search result's title and snippet.
func (c *Client) ClassifyListing(ctx context.Context, pageURL, title, snippet string) (*Classification, error) {
	if strings.TrimSpace(title) == "" {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "empty listing title", nil)
	}
	var user strings.Builder
	fmt.Fprintf(&user, "Title: %s\n", title)
	if snippet != "" {
		fmt.Fprintf(&user, "Description: %s\n", snippet)
	}
	fmt.Fprintf(&user, "URL: %s\n", pageURL)
	return c.classify(ctx, listingPrompt, user.String())
}

func (c *Client) classify(ctx context.Context, system, user string) (*Classification, error) {
	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		MaxTokens:      200,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, classifyLLMError(res.StatusCode(), res.Body())
	}

	var chat chatResponse
	if err := json.Unmarshal(res.Body(), &chat); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to parse LLM response", err)
	}
	if len(chat.Choices) == 0 {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned no choices", nil)
	}

	var out Classification
	if err := json.Unmarshal([]byte(stripFences(chat.Choices[0].Message.Content)), &out); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned invalid JSON", err)
	}
	out.GarmentType = strings.ToLower(strings.TrimSpace(out.GarmentType))
	return &out, nil
}

// bareURL keeps scheme, host and path.
func bareURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path}).String()
}
