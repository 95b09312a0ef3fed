// Package page fabricates tarpit pages: fake internal links and the HTML
// shell around generated text.
package page

import (
	"math/rand/v2"
	"path"
	"strings"
)

// BasePath prefixes every fabricated link.
const BasePath = "/tarpit"

const nameAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

type linkKind struct {
	prefix string
	exts   []string
}

var linkKinds = []linkKind{
	{prefix: "/page/", exts: []string{".html"}},
	{prefix: "/js/", exts: []string{".js"}},
	{prefix: "/data/", exts: []string{".json", ".xml", ".csv"}},
	{prefix: "/styles/", exts: []string{".css"}},
}

// RandomName returns n characters from [a-z0-9].
func RandomName(rng *rand.Rand, n int) string {
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		b.WriteByte(nameAlphabet[rng.IntN(len(nameAlphabet))])
	}
	return b.String()
}

// FabricateLinks returns count plausible paths below BasePath, each nested
// in 0..depth random directories.
func FabricateLinks(rng *rand.Rand, count, depth int) []string {
	if count <= 0 {
		return nil
	}
	if depth < 0 {
		depth = 0
	}
	links := make([]string, 0, count)
	for i := 0; i < count; i++ {
		kind := linkKinds[rng.IntN(len(linkKinds))]
		ext := kind.exts[rng.IntN(len(kind.exts))]

		parts := []string{BasePath + kind.prefix}
		dirs := rng.IntN(depth + 1)
		for j := 0; j < dirs; j++ {
			parts = append(parts, RandomName(rng, 5+rng.IntN(4)))
		}
		parts = append(parts, RandomName(rng, 10)+ext)
		links = append(links, path.Join(parts...))
	}
	return links
}

// LinkLabel derives readable anchor text from the file name of link.
func LinkLabel(link string) string {
	base := path.Base(link)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	base = strings.TrimSpace(base)
	if base == "" || base == "/" {
		return "Resource Link"
	}
	return strings.ToUpper(base[:1]) + strings.ToLower(base[1:])
}
