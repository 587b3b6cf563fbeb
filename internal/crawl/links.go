package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// menuKeywords match link text or hrefs that plausibly point at a menu.
// Includes common localized variants.
var menuKeywords = []string{
	"menu", "menus", "carte", "karte", "speisekarte", "cardapio", "cardápio",
	"carta", "menú", "food", "dinner", "lunch", "breakfast", "brunch",
}

var assetExtensions = map[string]string{
	".pdf":  "application/pdf",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".gif":  "image/gif",
}

// CandidateLink is one discovered menu link with its guessed content type.
type CandidateLink struct {
	URL      string
	MIMEType string
}

// ExtractMenuLinks scans anchor and img tags for candidate menu assets and
// pages. PDF links always qualify; image links qualify only when the href or
// surrounding text also carries a menu keyword.
func ExtractMenuLinks(baseURL string, body []byte) ([]CandidateLink, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	seen := make(map[string]bool)
	var out []CandidateLink
	add := func(raw, mime string) {
		resolved := resolveURL(base, raw)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		out = append(out, CandidateLink{URL: resolved, MIMEType: mime})
	}

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		text := strings.ToLower(strings.TrimSpace(sel.Text()))
		lowerHref := strings.ToLower(href)
		ext := strings.ToLower(path.Ext(strippedPath(lowerHref)))
		mime, isAsset := assetExtensions[ext]

		switch {
		case ext == ".pdf":
			add(href, mime)
		case isAsset && (containsMenuKeyword(lowerHref) || containsMenuKeyword(text)):
			add(href, mime)
		case !isAsset && (containsMenuKeyword(lowerHref) || containsMenuKeyword(text)):
			add(href, "text/html")
		}
	})

	doc.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		alt, _ := sel.Attr("alt")
		lowerSrc := strings.ToLower(src)
		ext := strings.ToLower(path.Ext(strippedPath(lowerSrc)))
		mime, isAsset := assetExtensions[ext]
		if !isAsset {
			return
		}
		if containsMenuKeyword(lowerSrc) || containsMenuKeyword(strings.ToLower(alt)) {
			add(src, mime)
		}
	})

	return out, nil
}

func containsMenuKeyword(s string) bool {
	if s == "" {
		return false
	}
	for _, kw := range menuKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func strippedPath(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		raw = raw[:i]
	}
	return raw
}

func resolveURL(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "javascript:") || strings.HasPrefix(raw, "mailto:") {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}
