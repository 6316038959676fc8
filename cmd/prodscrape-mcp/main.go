package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	apiURL := os.Getenv("PRODSCRAPE_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("PRODSCRAPE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "PRODSCRAPE_API_KEY is required")
		os.Exit(1)
	}

	if err := server.ServeStdio(newServer(newAPIClient(apiURL, apiKey))); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func newAPIClient(apiURL, apiKey string) *resty.Client {
	return resty.New().
		SetBaseURL(apiURL).
		SetHeader("X-API-Key", apiKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(150 * time.Second)
}

// newServer registers the product tools.
func newServer(client *resty.Client) *server.MCPServer {
	s := server.NewMCPServer(
		"prodscrape",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeTool := mcp.NewTool("scrape_product",
		mcp.WithDescription("Scrape a fashion product page and return its name, brand, price, images, garment type and availability as JSON. Fields that could not be found are null."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The product page URL (short links and redirects are followed)"),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Overall time budget in seconds (default: 20, max: 120)"),
		),
	)
	s.AddTool(scrapeTool, handleScrapeProduct(client))

	batchTool := mcp.NewTool("batch_scrape_products",
		mcp.WithDescription("Scrape several product pages concurrently and return one record per URL."),
		mcp.WithArray("urls",
			mcp.Required(),
			mcp.Description("Product page URLs (max 100)"),
			mcp.WithStringItems(),
		),
		mcp.WithNumber("timeout",
			mcp.Description("Per-URL time budget in seconds (default: 20)"),
		),
	)
	s.AddTool(batchTool, handleBatchScrape(client, 2*time.Second))

	return s
}
