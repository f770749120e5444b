package extract

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	hasher "github.com/JakeFAU/change-monitor/internal/hash/sha256"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title>  Acme Corp | About  </title>
  <meta name="Description" content="We build rockets.">
  <meta property="og:title" content="Acme">
  <meta property="og:description" content="Rockets for everyone">
  <link rel="canonical" href="/about">
</head>
<body>
  <header><nav><a href="/home">Home</a></nav></header>
  <main>
    <h1>About   Acme</h1>
    <p>Founded in 1999.
       We   employ 250 people.</p>
    <ul><li>Rockets</li><li>Anvils</li></ul>
    <a href="/careers">Careers</a>
    <a href="/careers">Careers again</a>
    <a href="mailto:hi@acme.test">Mail</a>
    <a href="#top">Top</a>
    <a href="javascript:void(0)">JS</a>
    <img src="/logo.png"><img src="https://cdn.acme.test/hero.jpg">
  </main>
  <script>window.tracking = true;</script>
  <footer>Copyright Acme</footer>
</body>
</html>`

func TestNormalizeExtractsMetadata(t *testing.T) {
	t.Parallel()

	n := New(hasher.New())
	snap, err := n.Normalize([]byte(samplePage), "https://acme.test/about?ref=x")
	require.NoError(t, err)

	require.Equal(t, "Acme Corp | About", snap.Metadata.Title)
	require.Equal(t, "We build rockets.", snap.Metadata.Description)
	require.Equal(t, "Acme", snap.Metadata.OGTitle)
	require.Equal(t, "Rockets for everyone", snap.Metadata.OGDescription)
	require.Equal(t, "https://acme.test/about", snap.Metadata.CanonicalURL)
	require.Equal(t, []string{"https://acme.test/home", "https://acme.test/careers"}, snap.Metadata.Links)
	require.Equal(t, []string{"https://acme.test/logo.png", "https://cdn.acme.test/hero.jpg"}, snap.Metadata.Images)
	require.Equal(t, "https://acme.test/about?ref=x", snap.FinalURL)
}

func TestNormalizeCleansText(t *testing.T) {
	t.Parallel()

	n := New(hasher.New())
	snap, err := n.Normalize([]byte(samplePage), "https://acme.test/about")
	require.NoError(t, err)

	require.Contains(t, snap.Text, "About Acme")
	require.Contains(t, snap.Text, "We employ 250 people.")
	require.Contains(t, snap.Text, "Rockets\nAnvils")
	require.NotContains(t, snap.Text, "tracking")
	require.NotContains(t, snap.Text, "Copyright")
	require.NotContains(t, snap.Text, "Home")
	require.NotContains(t, snap.Text, "\n\n")

	require.Contains(t, snap.RichText, "# About")
	require.NotEmpty(t, snap.Digest)
	require.Equal(t, hasher.New().HashString(snap.Text), snap.Digest)
}

func TestNormalizeFallsBackToBody(t *testing.T) {
	t.Parallel()

	n := New(hasher.New())
	snap, err := n.Normalize([]byte(`<html><body><div>One</div><div>Two</div></body></html>`), "")
	require.NoError(t, err)
	require.Equal(t, "One\nTwo", snap.Text)
}

func TestNormalizeDigestTracksTextEdits(t *testing.T) {
	t.Parallel()

	n := New(hasher.New())
	original, err := n.Normalize([]byte(samplePage), "https://acme.test/about")
	require.NoError(t, err)

	again, err := n.Normalize([]byte(samplePage), "https://acme.test/about")
	require.NoError(t, err)
	require.Equal(t, original.Digest, again.Digest)

	edited := strings.Replace(samplePage, "250 people", "251 people", 1)
	changed, err := n.Normalize([]byte(edited), "https://acme.test/about")
	require.NoError(t, err)
	require.NotEqual(t, original.Digest, changed.Digest)
}

func TestNormalizeCapsLinks(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	b.WriteString("<html><body>")
	for i := range MaxLinks + 50 {
		fmt.Fprintf(&b, `<a href="/p/%d">p</a>`, i)
	}
	b.WriteString("</body></html>")

	snap, err := New(hasher.New()).Normalize([]byte(b.String()), "https://acme.test/")
	require.NoError(t, err)
	require.Len(t, snap.Metadata.Links, MaxLinks)
	require.Equal(t, "https://acme.test/p/0", snap.Metadata.Links[0])
}

func TestCleanText(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a b\nc", CleanText("  a \t  b \n\n   \n c  "))
	require.Empty(t, CleanText(" \n\t\n"))
}

func TestNormalizeRichTextDropsUnsafeURLs(t *testing.T) {
	t.Parallel()

	page := `<html><body><main>
<h2>Offers</h2>
<p><a href="javascript:alert(1)" onclick="steal()">Claim</a> or <a href="/terms">read the terms</a>.</p>
<img src="data:image/png;base64,AAAA" alt="pixel">
</main></body></html>`
	n := New(hasher.New())
	snap, err := n.Normalize([]byte(page), "https://acme.test/offers")
	require.NoError(t, err)

	require.Contains(t, snap.RichText, "Claim")
	require.Contains(t, snap.RichText, "https://acme.test/terms")
	require.NotContains(t, snap.RichText, "javascript:")
	require.NotContains(t, snap.RichText, "steal")
	require.NotContains(t, snap.RichText, "data:image")
}
