package page

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"math/rand/v2"
	"strings"
)

// TextSource produces escaped HTML paragraphs.
type TextSource interface {
	GenerateWithRand(ctx context.Context, rng *rand.Rand, sentences int) string
}

type Config struct {
	Sentences int
	LinkCount int
	LinkDepth int
}

func (c Config) withDefaults() Config {
	if c.Sentences <= 0 {
		c.Sentences = 10
	}
	if c.LinkCount < 0 {
		c.LinkCount = 0
	}
	if c.LinkDepth < 0 {
		c.LinkDepth = 0
	}
	return c
}

// AdminLinkPath is the hidden footer trap.
const AdminLinkPath = "/internal-docs/admin"

type Link struct {
	Href  string
	Label string
}

// Page is the data behind one rendered document.
type Page struct {
	Title   string
	Content template.HTML
	Links   []Link
	Admin   string
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>{{.Title}} - System Documentation</title>
    <meta name="robots" content="noindex, nofollow">
    <style>
        body { font-family: 'Courier New', Courier, monospace; background-color: #f0f0f0; color: #333; padding: 2em; line-height: 1.6; }
        h1 { border-bottom: 1px solid #ccc; padding-bottom: 0.5em; color: #555; }
        a { color: #3478af; text-decoration: none; }
        ul { list-style-type: square; padding-left: 2em; }
        p { text-align: justify; }
        .footer-link { display: inline-block; margin-top: 40px; font-size: 0.8em; color: #aaa; visibility: hidden; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
{{.Content}}
    <h2>Further Reading:</h2>
    <ul>
{{- range .Links}}
    <li><a href="{{.Href}}">{{.Label}}</a></li>
{{- end}}
    </ul>
    <a href="{{.Admin}}" class="footer-link">Admin Console</a>
</body>
</html>
`))

// Assembler renders complete tarpit documents.
type Assembler struct {
	text TextSource
	cfg  Config
}

func NewAssembler(text TextSource, cfg Config) *Assembler {
	return &Assembler{text: text, cfg: cfg.withDefaults()}
}

// Build draws every random choice for one page from rng.
func (a *Assembler) Build(ctx context.Context, rng *rand.Rand) Page {
	title := RandomName(rng, 2+rng.IntN(3))
	title = strings.ToUpper(title[:1]) + title[1:]

	content := a.text.GenerateWithRand(ctx, rng, a.cfg.Sentences)

	hrefs := FabricateLinks(rng, a.cfg.LinkCount, a.cfg.LinkDepth)
	links := make([]Link, 0, len(hrefs))
	for _, href := range hrefs {
		links = append(links, Link{Href: href, Label: LinkLabel(href)})
	}

	return Page{
		Title: title,
		// Generated paragraphs are escaped word by word already.
		Content: template.HTML(content),
		Links:   links,
		Admin:   AdminLinkPath,
	}
}

// Render writes p as a full HTML document.
func Render(p Page) (string, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, p); err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return buf.String(), nil
}

// Assemble builds and renders one page.
func (a *Assembler) Assemble(ctx context.Context, rng *rand.Rand) (string, error) {
	return Render(a.Build(ctx, rng))
}
