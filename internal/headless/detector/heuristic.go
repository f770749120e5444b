// Package detector decides when a statically fetched page is only a script
// shell and should be re-fetched with the rendered strategy.
package detector

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

// DefaultMinText is the visible text length, in characters, above which a
// static page is kept as is.
const DefaultMinText = 200

// mountPoints are the empty containers client-side frameworks render into.
const mountPoints = `#__next, #__nuxt, #root, #app, [data-reactroot], [ng-version], [data-server-rendered]`

// Heuristic implements monitor.ShellDetector. A page is promoted when its
// visible text is too short to monitor and scripts or a framework mount
// point suggest the content is rendered client-side.
type Heuristic struct {
	MinText int
}

// NewHeuristic creates a new detector.
func NewHeuristic(minText int) *Heuristic {
	if minText <= 0 {
		minText = DefaultMinText
	}
	return &Heuristic{MinText: minText}
}

// ShouldPromote reports whether the page needs a rendered fetch to expose its content.
func (h *Heuristic) ShouldPromote(resp monitor.PageResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if len(bytes.TrimSpace(resp.Body)) == 0 {
		return true
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false
	}

	scripts := doc.Find("script").Length()
	if visibleTextLen(doc) >= h.MinText {
		return false
	}
	return scripts > 0 || doc.Find(mountPoints).Length() > 0
}

func visibleTextLen(doc *goquery.Document) int {
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	body = body.Clone()
	body.Find("script, style, noscript, template").Remove()
	return utf8.RuneCountInString(strings.Join(strings.Fields(body.Text()), " "))
}
