package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the API error envelope.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// scrapeResponse mirrors the parts of the API response the tools read.
type scrapeResponse struct {
	Success       bool              `json:"success"`
	Outcome       string            `json:"outcome"`
	Product       json.RawMessage   `json:"product"`
	SourceURL     string            `json:"source_url"`
	MissingFields []string          `json:"missing_fields"`
	Attribution   map[string]string `json:"attribution"`
	Error         *apiError         `json:"error"`
}

type batchResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Total  int       `json:"total"`
	Error  *apiError `json:"error"`
}

type batchStatusResponse struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Results   []scrapeResponse `json:"results"`
}

// toolOutput is what the tools return to the model.
type toolOutput struct {
	URL           string          `json:"url,omitempty"`
	Outcome       string          `json:"outcome"`
	Product       json.RawMessage `json:"product"`
	SourceURL     string          `json:"source_url,omitempty"`
	MissingFields []string        `json:"missing_fields,omitempty"`
	Error         string          `json:"error,omitempty"`
}

func outputOf(url string, r *scrapeResponse) toolOutput {
	out := toolOutput{
		URL:           url,
		Outcome:       r.Outcome,
		Product:       r.Product,
		SourceURL:     r.SourceURL,
		MissingFields: r.MissingFields,
	}
	if len(out.Product) == 0 {
		out.Product = json.RawMessage("null")
	}
	if r.Error != nil {
		out.Error = fmt.Sprintf("[%s] %s", r.Error.Code, r.Error.Message)
	}
	return out
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}

func handleScrapeProduct(client *resty.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := request.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}
		body := map[string]any{"url": url}
		if t := request.GetFloat("timeout", 0); t > 0 {
			body["timeout"] = t
		}

		var resp scrapeResponse
		res, err := client.R().SetContext(ctx).SetBody(body).SetResult(&resp).SetError(&resp).Post("/api/v1/scrape")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if resp.Outcome == "" && resp.Error == nil {
			return mcp.NewToolResultError(fmt.Sprintf("unexpected API response (status %d)", res.StatusCode())), nil
		}
		if !resp.Success {
			msg := "scrape failed"
			if resp.Error != nil {
				msg = fmt.Sprintf("scrape failed: [%s] %s", resp.Error.Code, resp.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}
		return jsonResult(outputOf("", &resp))
	}
}

func handleBatchScrape(client *resty.Client, pollEvery time.Duration) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		urls := request.GetStringSlice("urls", nil)
		if len(urls) == 0 {
			return mcp.NewToolResultError("urls is required and must contain at least one URL"), nil
		}
		body := map[string]any{"urls": urls}
		if t := request.GetFloat("timeout", 0); t > 0 {
			body["timeout"] = t
		}

		var started batchResponse
		res, err := client.R().SetContext(ctx).SetBody(body).SetResult(&started).SetError(&started).Post("/api/v1/batch/scrape")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("API request failed: %v", err)), nil
		}
		if res.IsError() || started.ID == "" {
			msg := fmt.Sprintf("batch request rejected (status %d)", res.StatusCode())
			if started.Error != nil {
				msg = fmt.Sprintf("batch request rejected: [%s] %s", started.Error.Code, started.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}

		status, err := pollBatch(ctx, client, started.ID, pollEvery)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("batch %s: %v", started.ID, err)), nil
		}

		outputs := make([]toolOutput, 0, len(status.Results))
		for i := range status.Results {
			u := ""
			if i < len(urls) {
				u = urls[i]
			}
			outputs = append(outputs, outputOf(u, &status.Results[i]))
		}
		return jsonResult(map[string]any{
			"id":      status.ID,
			"status":  status.Status,
			"results": outputs,
		})
	}
}

// pollBatch polls the batch until it leaves "processing" or ctx is done.
func pollBatch(ctx context.Context, client *resty.Client, id string, every time.Duration) (*batchStatusResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			var status batchStatusResponse
			res, err := client.R().SetContext(ctx).SetResult(&status).Get("/api/v1/batch/" + id)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}
			if res.IsError() {
				return nil, fmt.Errorf("poll returned status %d: %s", res.StatusCode(), strings.TrimSpace(res.String()))
			}
			if status.Status != "processing" {
				return &status, nil
			}
		}
	}
}
