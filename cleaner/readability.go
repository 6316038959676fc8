package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the shortest readability text accepted as the main
// content. Product pages are often sparse, so shorter output means
// readability picked the wrong node and the filtered page is used instead.
const minContentLength = 80

// extractMain runs the Mozilla Readability algorithm on rawHTML. ok is false
// when the caller should fall back to the filtered page.
func extractMain(rawHTML, sourceURL string) (article readability.Article, ok bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		slog.Debug("readability: invalid source URL", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	article, err = readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		slog.Debug("readability: extraction failed", "url", sourceURL, "error", err)
		return readability.Article{}, false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		slog.Debug("readability: content too short", "url", sourceURL, "length", len(article.TextContent))
		return article, false
	}
	return article, true
}
