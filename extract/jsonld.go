package extract

import (
	"encoding/json"
	"fmt"
	"strings"
)

// parseJSONLD decodes one ld+json block into a flat list of typed nodes,
// unwrapping arrays and @graph containers. Broken blocks yield nothing.
func parseJSONLD(src string) []map[string]any {
	src = strings.TrimSpace(src)
	src = strings.TrimPrefix(src, "<!--")
	src = strings.TrimSuffix(src, "-->")
	src = strings.TrimPrefix(strings.TrimSpace(src), "//<![CDATA[")
	src = strings.TrimSuffix(strings.TrimSpace(src), "//]]>")

	var raw any
	if err := json.Unmarshal([]byte(src), &raw); err != nil {
		// Literal newlines inside strings are the most common breakage.
		fixed := strings.NewReplacer("\n", " ", "\r", " ", "\t", " ").Replace(src)
		if err := json.Unmarshal([]byte(fixed), &raw); err != nil {
			return nil
		}
	}

	var out []map[string]any
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if graph, ok := t["@graph"]; ok {
				walk(graph)
			}
			if _, ok := t["@type"]; ok {
				out = append(out, t)
			}
		}
	}
	walk(raw)
	return out
}

// hasType reports whether node's @type (string or list) matches any of types.
func hasType(node map[string]any, types ...string) bool {
	for _, t := range asSlice(node["@type"]) {
		s, ok := t.(string)
		if !ok {
			continue
		}
		s = strings.TrimPrefix(strings.TrimPrefix(s, "https://schema.org/"), "http://schema.org/")
		for _, want := range types {
			if strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func asSlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

// str extracts a plain string from a JSON-LD value: a string, a number, or
// an object carrying name/@value.
func str(v any) string {
	switch t := v.(type) {
	case string:
		return cleanText(t)
	case float64:
		return strings.TrimSuffix(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	case map[string]any:
		for _, k := range []string{"name", "@value", "value"} {
			if s := str(t[k]); s != "" {
				return s
			}
		}
	case []any:
		for _, item := range t {
			if s := str(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// imageRefs flattens a JSON-LD image value: string, list, or ImageObject.
func imageRefs(v any) []string {
	var out []string
	for _, item := range asSlice(v) {
		switch t := item.(type) {
		case string:
			out = append(out, t)
		case map[string]any:
			for _, k := range []string{"contentUrl", "url", "@id"} {
				if s, ok := t[k].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}

// offers returns every Offer-like node of a product, including the offers
// of ProductGroup variants.
func offers(product map[string]any) []map[string]any {
	var out []map[string]any
	var collect func(v any)
	collect = func(v any) {
		for _, item := range asSlice(v) {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			out = append(out, m)
			if nested, ok := m["offers"]; ok {
				collect(nested)
			}
		}
	}
	collect(product["offers"])
	for _, variant := range asSlice(product["hasVariant"]) {
		if m, ok := variant.(map[string]any); ok {
			collect(m["offers"])
		}
	}
	return out
}

// breadcrumbNames returns the item names of a BreadcrumbList in order.
func breadcrumbNames(node map[string]any) []string {
	var names []string
	for _, el := range asSlice(node["itemListElement"]) {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		name := str(m["name"])
		if name == "" {
			if item, ok := m["item"].(map[string]any); ok {
				name = str(item["name"])
			}
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
