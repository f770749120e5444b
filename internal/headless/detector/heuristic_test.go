package detector

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/change-monitor/internal/monitor"
)

func TestHeuristicShouldPromote(t *testing.T) {
	t.Parallel()

	article := "<html><body><main>" + strings.Repeat("<p>Quarterly update from the team.</p>", 50) + "</main><script>track()</script></body></html>"
	bundle := "<html><body><div id=\"root\"></div><script>" + strings.Repeat("render();", 500) + "</script></body></html>"

	tests := []struct {
		name string
		body string
		code int
		want bool
	}{
		{name: "empty body", code: 200, want: true},
		{name: "whitespace body", code: 200, body: "  \n ", want: true},
		{name: "next.js shell", code: 200, body: `<div id="__next"></div>`, want: true},
		{name: "angular shell", code: 200, body: `<app-root ng-version="17"></app-root>`, want: true},
		{name: "script text does not count as content", code: 200, body: bundle, want: true},
		{name: "short page with scripts", code: 200, body: `<html><script>var a=1;</script><p>t</p></html>`, want: true},
		{name: "short static page", code: 200, body: `<html><body><p>Closed for maintenance.</p></body></html>`, want: false},
		{name: "server rendered article", code: 200, body: article, want: false},
		{name: "non 200", code: 404, body: "not found", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			resp := monitor.PageResponse{StatusCode: tt.code, Body: []byte(tt.body)}
			require.Equal(t, tt.want, NewHeuristic(0).ShouldPromote(resp))
		})
	}
}

func TestHeuristicMinTextIsConfigurable(t *testing.T) {
	t.Parallel()

	resp := monitor.PageResponse{StatusCode: 200, Body: []byte(`<html><body><p>Plans from $10</p><script>x()</script></body></html>`)}
	require.True(t, NewHeuristic(100).ShouldPromote(resp))
	require.False(t, NewHeuristic(5).ShouldPromote(resp))
}

func TestNewHeuristicDefaultMinText(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultMinText, NewHeuristic(0).MinText)
	require.Equal(t, DefaultMinText, NewHeuristic(-1).MinText)
}
