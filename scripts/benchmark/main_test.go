package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadTargets(t *testing.T) {
	in := `
# fashion pages
https://shop.example.com/p/1
jacket https://shop.example.com/p/2
`
	got, err := readTargets(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []target{
		{Label: "url1", URL: "https://shop.example.com/p/1"},
		{Label: "jacket", URL: "https://shop.example.com/p/2"},
	}, got)
}

func TestSummarize(t *testing.T) {
	cov, avg := summarize([]runResult{
		{Outcome: "success", Missing: []string{"brand"}, TotalMs: 100},
		{Outcome: "failure", Missing: []string{"product_name", "brand", "price", "image_urls", "garment_type", "availability"}, TotalMs: 300},
	})
	assert.InDelta(t, 5.0/12.0, cov, 1e-9)
	assert.EqualValues(t, 200, avg)

	cov, avg = summarize(nil)
	assert.Zero(t, cov)
	assert.Zero(t, avg)
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []urlResult{{
		target:   target{Label: "bomber", URL: "https://shop.example.com/p"},
		Runs:     []runResult{{Outcome: "partial_success", Missing: []string{"price", "brand"}, Winner: "chrome"}},
		Coverage: 4.0 / 6.0,
	}})
	out := buf.String()
	assert.Contains(t, out, "bomber")
	assert.Contains(t, out, "67%")
	assert.Contains(t, out, "brand,price")
}
