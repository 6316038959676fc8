package cleaner

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondenseDropsSiteChrome(t *testing.T) {
	page := `<html><head><title>Wrap Dress</title></head><body>
<header><a href="/">Home</a> Free shipping on orders over $50</header>
<nav><a href="/sale">Sale</a></nav>
<main>
  <h1>Wrap Dress</h1>
  <p class="price">$89.00</p>
  <img src="/img/wrap-dress.jpg" alt="Wrap dress">
</main>
<div class="related-products"><p>Linen Shirt $45</p></div>
<footer>Copyright</footer>
</body></html>`

	c := NewCleaner(0)
	out, err := c.Condense(page, "https://shop.example.com/p/wrap-dress")
	require.NoError(t, err)

	assert.Contains(t, out.Markdown, "Wrap Dress")
	assert.Contains(t, out.Markdown, "$89.00")
	assert.Contains(t, out.Markdown, "https://shop.example.com/img/wrap-dress.jpg")
	assert.NotContains(t, out.Markdown, "Free shipping")
	assert.NotContains(t, out.Markdown, "Linen Shirt")
	assert.NotContains(t, out.Markdown, "Copyright")
	assert.False(t, out.Truncated)
	assert.Positive(t, out.Tokens)
}

func TestCondenseTruncates(t *testing.T) {
	body := "<html><body><main><p>" + strings.Repeat("cotton blend ", 500) + "</p></main></body></html>"

	out, err := NewCleaner(50).Condense(body, "https://example.com/p")
	require.NoError(t, err)
	assert.True(t, out.Truncated)
	assert.LessOrEqual(t, out.Tokens, 50)
}

func TestTruncateTokens(t *testing.T) {
	s, cut := TruncateTokens("héllo wörld", 100)
	assert.Equal(t, "héllo wörld", s)
	assert.False(t, cut)

	s, cut = TruncateTokens("héllo wörld", 2)
	assert.Equal(t, "héllo ", s)
	assert.True(t, cut)

	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("ab"))
	assert.Equal(t, 4, EstimateTokens("abcdefghijkl"))
}
