// Package cleaner condenses product pages into compact Markdown for the
// generative extraction strategy.
package cleaner

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
)

// DefaultMaxTokens bounds the condensed page handed to a model.
const DefaultMaxTokens = 6000

// Condensed is a page reduced for a language model.
type Condensed struct {
	Title     string
	Markdown  string
	Tokens    int
	Original  int
	Truncated bool
}

// Cleaner turns raw HTML into Condensed pages. The converter is created
// once and shared; Cleaner is safe for concurrent use.
type Cleaner struct {
	mdConverter *converter.Converter
	maxTokens   int
}

// NewCleaner creates a Cleaner. maxTokens <= 0 selects DefaultMaxTokens.
func NewCleaner(maxTokens int) *Cleaner {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Cleaner{mdConverter: newMarkdownConverter(), maxTokens: maxTokens}
}

// Condense runs the pipeline:
//
//  1. Drop site chrome (filterNoise).
//  2. Readability picks the main content; sparse results fall back to the
//     filtered page.
//  3. Convert to Markdown.
//  4. Truncate to the token budget.
func (c *Cleaner) Condense(rawHTML, sourceURL string) (*Condensed, error) {
	original := EstimateTokens(rawHTML)
	filtered := filterNoise(rawHTML)

	content := filtered
	article, ok := extractMain(filtered, sourceURL)
	if ok {
		content = article.Content
	}

	md, err := toMarkdown(c.mdConverter, content, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("cleaner: markdown conversion: %w", err)
	}
	md = strings.TrimSpace(md)

	md, truncated := TruncateTokens(md, c.maxTokens)
	return &Condensed{
		Title:     strings.TrimSpace(article.Title),
		Markdown:  md,
		Tokens:    EstimateTokens(md),
		Original:  original,
		Truncated: truncated,
	}, nil
}
