// Package extract turns fetched HTML into a normalized monitor.Snapshot.
//
// The document is parsed once with goquery. Metadata comes from the full
// document; plain text and Markdown come from the main content after
// boilerplate elements are removed.
package extract

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

const (
	// MaxLinks caps the number of links kept in metadata.
	MaxLinks = 500
	// MaxImages caps the number of images kept in metadata.
	MaxImages = 200
)

const noiseSelector = "script,style,noscript,template,svg,iframe,nav,footer,header,aside,form"

var skippedLinkPrefixes = []string{"javascript:", "#", "mailto:", "tel:"}

// Normalizer converts HTML into snapshots.
type Normalizer struct {
	hasher    monitor.Hasher
	sanitizer *bluemonday.Policy
	converter *converter.Converter
}

// New creates a Normalizer that digests text with hasher.
func New(hasher monitor.Hasher) *Normalizer {
	return &Normalizer{
		hasher:    hasher,
		sanitizer: bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// Normalize parses body and builds a snapshot. Relative URLs are resolved
// against finalURL.
func (n *Normalizer) Normalize(body []byte, finalURL string) (monitor.Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("parse html: %w", err)
	}
	baseURL, _ := url.Parse(finalURL)

	meta := extractMetadata(doc, baseURL)

	doc.Find(noiseSelector).Remove()
	root := contentRoot(doc)

	text := plainText(root)
	rich := n.richText(root, finalURL, text)

	digest, err := n.hasher.Hash([]byte(text))
	if err != nil {
		return monitor.Snapshot{}, fmt.Errorf("hash text: %w", err)
	}

	return monitor.Snapshot{
		FinalURL: finalURL,
		Metadata: meta,
		Text:     text,
		RichText: rich,
		Digest:   digest,
	}, nil
}

func extractMetadata(doc *goquery.Document, baseURL *url.URL) monitor.Metadata {
	meta := monitor.Metadata{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	doc.Find("meta").Each(func(_ int, s *goquery.Selection) {
		content := strings.TrimSpace(s.AttrOr("content", ""))
		if content == "" {
			return
		}
		name := strings.TrimSpace(s.AttrOr("name", ""))
		property := strings.TrimSpace(s.AttrOr("property", ""))
		switch {
		case strings.EqualFold(name, "description") && meta.Description == "":
			meta.Description = content
		case strings.EqualFold(property, "og:title") && meta.OGTitle == "":
			meta.OGTitle = content
		case strings.EqualFold(property, "og:description") && meta.OGDescription == "":
			meta.OGDescription = content
		}
	})

	if href, ok := doc.Find(`link[rel~="canonical"]`).First().Attr("href"); ok {
		meta.CanonicalURL = resolve(baseURL, href)
	}

	meta.Links = collect(doc.Find("a[href]"), "href", baseURL, MaxLinks, true)
	meta.Images = collect(doc.Find("img[src]"), "src", baseURL, MaxImages, false)
	return meta
}

func collect(sel *goquery.Selection, attr string, baseURL *url.URL, limit int, skipSpecial bool) []string {
	seen := make(map[string]struct{})
	var out []string
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.AttrOr(attr, ""))
		if raw == "" || (skipSpecial && hasSkippedPrefix(raw)) {
			return true
		}
		resolved := resolve(baseURL, raw)
		if _, dup := seen[resolved]; dup {
			return true
		}
		seen[resolved] = struct{}{}
		out = append(out, resolved)
		return len(out) < limit
	})
	return out
}

func hasSkippedPrefix(raw string) bool {
	lower := strings.ToLower(raw)
	for _, prefix := range skippedLinkPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func resolve(baseURL *url.URL, raw string) string {
	ref, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if baseURL == nil {
		return ref.String()
	}
	return baseURL.ResolveReference(ref).String()
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"main", "article", `[role="main"]`} {
		if found := doc.Find(sel).First(); found.Length() > 0 {
			return found
		}
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

var blockElements = map[string]bool{
	"address": true, "article": true, "blockquote": true, "br": true, "dd": true,
	"div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "li": true, "main": true, "ol": true, "p": true, "pre": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// plainText renders the selection as text with one line per block element.
func plainText(root *goquery.Selection) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
			return
		case html.CommentNode:
			return
		}
		block := node.Type == html.ElementNode && blockElements[node.Data]
		if block {
			buf.WriteByte('\n')
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if block {
			buf.WriteByte('\n')
		}
	}
	for _, node := range root.Nodes {
		walk(node)
	}
	return CleanText(buf.String())
}

// CleanText collapses whitespace runs within lines, drops blank lines and
// joins the rest with newlines.
func CleanText(raw string) string {
	lines := strings.Split(raw, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		kept = append(kept, strings.Join(fields, " "))
	}
	return strings.Join(kept, "\n")
}

func (n *Normalizer) richText(root *goquery.Selection, finalURL, fallback string) string {
	fragment, err := goquery.OuterHtml(root)
	if err != nil {
		return fallback
	}
	// Drop unsafe URLs before conversion.
	fragment = n.sanitizer.Sanitize(fragment)
	if strings.TrimSpace(fragment) == "" {
		return fallback
	}
	var markdown string
	if finalURL != "" {
		markdown, err = n.converter.ConvertString(fragment, converter.WithDomain(finalURL))
	} else {
		markdown, err = n.converter.ConvertString(fragment)
	}
	if err != nil {
		return fallback
	}
	markdown = strings.TrimSpace(markdown)
	if markdown == "" {
		return fallback
	}
	return markdown
}
