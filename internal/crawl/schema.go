package crawl

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/grazeapp/menupipe/internal/pipeline"
)

// ExtractStructuredItems lifts schema.org menu markup out of a page: JSON-LD
// script blocks first, then microdata itemprop attributes. Malformed blocks
// are skipped; structured extraction never fails the crawl.
func ExtractStructuredItems(body []byte) []pipeline.StructuredItem {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil
	}

	var out []pipeline.StructuredItem
	seen := make(map[string]bool)
	add := func(item pipeline.StructuredItem) {
		key := strings.ToLower(strings.TrimSpace(item.Name))
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, item)
	}

	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var root any
		if err := json.Unmarshal([]byte(sel.Text()), &root); err != nil {
			return
		}
		walkJSONLD(root, "", add)
	})

	doc.Find(`[itemtype*="MenuItem"]`).Each(func(_ int, sel *goquery.Selection) {
		item := pipeline.StructuredItem{
			Name:        microProp(sel, "name"),
			Description: microProp(sel, "description"),
		}
		if raw := microProp(sel, "price"); raw != "" {
			if price, ok := parseSchemaPrice(raw); ok {
				item.Price = &price
			}
		}
		item.Currency = microProp(sel, "priceCurrency")
		add(item)
	})

	return out
}

// walkJSONLD recurses through a decoded JSON-LD document collecting
// MenuItem nodes. Section names from enclosing MenuSection nodes stick to
// the items beneath them.
func walkJSONLD(node any, section string, add func(pipeline.StructuredItem)) {
	switch v := node.(type) {
	case []any:
		for _, child := range v {
			walkJSONLD(child, section, add)
		}
	case map[string]any:
		typ := jsonLDType(v)
		switch typ {
		case "menuitem":
			add(jsonLDItem(v, section))
			return
		case "menusection":
			if name, ok := v["name"].(string); ok {
				section = name
			}
		}
		for _, key := range []string{"hasMenu", "hasMenuSection", "hasMenuItem", "itemListElement", "@graph", "mainEntity"} {
			if child, ok := v[key]; ok {
				walkJSONLD(child, section, add)
			}
		}
	}
}

func jsonLDType(node map[string]any) string {
	switch t := node["@type"].(type) {
	case string:
		return strings.ToLower(t)
	case []any:
		for _, entry := range t {
			if s, ok := entry.(string); ok {
				return strings.ToLower(s)
			}
		}
	}
	return ""
}

func jsonLDItem(node map[string]any, section string) pipeline.StructuredItem {
	item := pipeline.StructuredItem{Section: section}
	if name, ok := node["name"].(string); ok {
		item.Name = strings.TrimSpace(name)
	}
	if desc, ok := node["description"].(string); ok {
		item.Description = strings.TrimSpace(desc)
	}
	offers := node["offers"]
	if list, ok := offers.([]any); ok && len(list) > 0 {
		offers = list[0]
	}
	if offer, ok := offers.(map[string]any); ok {
		switch p := offer["price"].(type) {
		case string:
			if price, ok := parseSchemaPrice(p); ok {
				item.Price = &price
			}
		case float64:
			price := p
			item.Price = &price
		}
		if cur, ok := offer["priceCurrency"].(string); ok {
			item.Currency = strings.ToUpper(strings.TrimSpace(cur))
		}
	}
	return item
}

func parseSchemaPrice(raw string) (float64, bool) {
	raw = strings.TrimSpace(strings.TrimLeft(raw, "$€£ "))
	raw = strings.ReplaceAll(raw, ",", ".")
	price, err := strconv.ParseFloat(raw, 64)
	if err != nil || price < 0 {
		return 0, false
	}
	return price, true
}

func microProp(sel *goquery.Selection, prop string) string {
	node := sel.Find(`[itemprop="` + prop + `"]`).First()
	if node.Length() == 0 {
		return ""
	}
	if content, ok := node.Attr("content"); ok && strings.TrimSpace(content) != "" {
		return strings.TrimSpace(content)
	}
	return strings.TrimSpace(node.Text())
}
