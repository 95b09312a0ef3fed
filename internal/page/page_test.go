package page

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var linkPattern = regexp.MustCompile(`^/tarpit/(page|js|data|styles)/([a-z0-9]{5,8}/)*[a-z0-9]{10}\.(html|js|json|xml|csv|css)$`)

func seeded(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 1))
}

func TestFabricateLinksShape(t *testing.T) {
	links := FabricateLinks(seeded(1), 200, 3)
	require.Len(t, links, 200)

	kinds := map[string]bool{}
	for _, link := range links {
		m := linkPattern.FindStringSubmatch(link)
		require.NotNil(t, m, "unexpected link %q", link)
		kinds[m[1]] = true

		dirs := strings.Count(link, "/") - 3
		require.GreaterOrEqual(t, dirs, 0)
		require.LessOrEqual(t, dirs, 3)

		switch m[1] {
		case "page":
			require.Equal(t, "html", m[3])
		case "js":
			require.Equal(t, "js", m[3])
		case "styles":
			require.Equal(t, "css", m[3])
		case "data":
			require.Contains(t, []string{"json", "xml", "csv"}, m[3])
		}
	}
	require.Len(t, kinds, 4)
}

func TestFabricateLinksDepthZero(t *testing.T) {
	for _, link := range FabricateLinks(seeded(2), 20, 0) {
		require.Equal(t, 3, strings.Count(link, "/"), link)
		require.NotContains(t, link, "//")
	}
	require.Empty(t, FabricateLinks(seeded(2), 0, 3))
}

func TestFabricateLinksDeterministic(t *testing.T) {
	require.Equal(t, FabricateLinks(seeded(9), 10, 2), FabricateLinks(seeded(9), 10, 2))
}

func TestLinkLabel(t *testing.T) {
	cases := map[string]string{
		"/tarpit/page/abc/q1w2e3r4t5.html": "Q1w2e3r4t5",
		"/tarpit/data/my_file-name.json":   "My file name",
		"/tarpit/js/.js":                   "Resource Link",
	}
	for in, want := range cases {
		if got := LinkLabel(in); got != want {
			t.Fatalf("LinkLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

type fixedText string

func (f fixedText) GenerateWithRand(context.Context, *rand.Rand, int) string { return string(f) }

func TestAssemblePage(t *testing.T) {
	a := NewAssembler(fixedText("<p>alpha &amp; beta.</p>"), Config{Sentences: 2, LinkCount: 5, LinkDepth: 2})

	out, err := a.Assemble(context.Background(), seeded(4))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "<!DOCTYPE html>"))
	require.Contains(t, out, `<meta name="robots" content="noindex, nofollow">`)
	require.Regexp(t, `<title>[A-Z0-9][a-z0-9]{1,3} - System Documentation</title>`, out)
	require.Contains(t, out, "<p>alpha &amp; beta.</p>")
	require.Contains(t, out, "<h2>Further Reading:</h2>")
	require.Equal(t, 5, strings.Count(out, "<li><a href=\"/tarpit/"))
	require.Contains(t, out, `<a href="/internal-docs/admin" class="footer-link">Admin Console</a>`)
}

func TestAssembleSameSeedSamePage(t *testing.T) {
	a := NewAssembler(fixedText("<p>x.</p>"), Config{LinkCount: 3, LinkDepth: 1})
	first, err := a.Assemble(context.Background(), seeded(77))
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), seeded(77))
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRenderEscapesLabels(t *testing.T) {
	out, err := Render(Page{
		Title: "T<1>",
		Links: []Link{{Href: "/tarpit/page/x.html", Label: "<b>"}},
		Admin: AdminLinkPath,
	})
	require.NoError(t, err)
	require.Contains(t, out, "&lt;b&gt;")
	require.Contains(t, out, "T&lt;1&gt;")
}
