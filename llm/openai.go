// Package llm asks an OpenAI-compatible chat model to read a condensed
// product page and return the product fields as JSON.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/use-agent/prodscrape/models"
)

// Config holds the provider settings.
type Config struct {
	BaseURL   string // e.g. "https://api.openai.com/v1"
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client is a minimal OpenAI-compatible chat completions client.
type Client struct {
	http *resty.Client
	cfg  Config
}

// NewClient creates a Client. Missing fields get defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 400
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout)
	return &Client{http: client, cfg: cfg}
}

// Product is the model's answer. Every field is optional.
type Product struct {
	ProductName  *string  `json:"product_name"`
	Brand        *string  `json:"brand"`
	Price        *float64 `json:"price"`
	Currency     *string  `json:"currency"`
	ImageURLs    []string `json:"image_urls"`
	Category     *string  `json:"category"`
	Availability *string  `json:"availability"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

const systemPrompt = `You extract product data from a fashion product page given as Markdown.
Return ONLY a JSON object with these keys:
  "product_name": string or null
  "brand": string or null
  "price": number or null (the current selling price, not a crossed-out one)
  "currency": ISO 4217 code or null
  "image_urls": array of absolute product image URLs (may be empty)
  "category": short garment category such as "jacket", "jeans", "dress", "sneakers", or null
  "availability": one of "in_stock", "out_of_stock", "limited", or null
Use null when the page does not state a value. Do not guess.`

// ExtractProduct sends the condensed page and parses the model's JSON.
func (c *Client) ExtractProduct(ctx context.Context, pageURL, title, markdown string) (*Product, *Usage, error) {
	var user strings.Builder
	fmt.Fprintf(&user, "URL: %s\n", pageURL)
	if title != "" {
		fmt.Fprintf(&user, "Title: %s\n", title)
	}
	user.WriteString("\n")
	user.WriteString(markdown)

	body := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user.String()},
		},
		Temperature:    0,
		MaxTokens:      c.cfg.MaxTokens,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	res, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post("/chat/completions")
	if err != nil {
		return nil, nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM request failed", err)
	}
	if res.StatusCode() != http.StatusOK {
		return nil, nil, classifyLLMError(res.StatusCode(), res.Body())
	}

	var chat chatResponse
	if err := json.Unmarshal(res.Body(), &chat); err != nil {
		return nil, nil, models.NewScrapeError(models.ErrCodeLLMFailure, "failed to parse LLM response", err)
	}
	if len(chat.Choices) == 0 {
		return nil, nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned no choices", nil)
	}

	raw := stripFences(chat.Choices[0].Message.Content)
	var p Product
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, nil, models.NewScrapeError(models.ErrCodeLLMFailure, "LLM returned invalid JSON", err)
	}
	return &p, &chat.Usage, nil
}

// stripFences removes a ```json fence some providers add despite
// json_object mode.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// classifyLLMError maps provider status codes to error codes.
func classifyLLMError(statusCode int, body []byte) *models.ScrapeError {
	var errResp chatErrorResponse
	msg := "LLM API error"
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.NewScrapeError(models.ErrCodeLLMAuthFailure, msg, nil)
	case http.StatusTooManyRequests:
		return models.NewScrapeError(models.ErrCodeLLMRateLimited, msg, nil)
	default:
		return models.NewScrapeError(models.ErrCodeLLMFailure, fmt.Sprintf("LLM API returned %d: %s", statusCode, msg), nil)
	}
}
