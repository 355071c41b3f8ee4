package htmlutil

import (
	"context"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/net/html"
)

var tracer = otel.Tracer("lib/htmlutil")

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Anchor is a hyperlink lifted off a parsed page: the rendered link text
// and the raw href attribute.
type Anchor struct {
	Text string
	Href string
}

// GetAnchors collects every element in the selection carrying an href
// attribute, in document order.
func GetAnchors(ctx context.Context, sel *goquery.Selection) []Anchor {
	_, span := tracer.Start(ctx, "GetAnchors")
	defer span.End()

	var anchors []Anchor
	sel.Each(func(_ int, link *goquery.Selection) {
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		anchors = append(anchors, Anchor{
			Text: GetText(link),
			Href: strings.TrimSpace(href),
		})
	})

	span.SetAttributes(attribute.Int("count", len(anchors)))
	return anchors
}

// GetText returns the selection's text content the way a browser would
// render it, with nested markup flattened and whitespace runs collapsed.
func GetText(sel *goquery.Selection) string {
	var b strings.Builder
	for _, node := range sel.Nodes {
		writeTextContent(&b, node)
	}
	return strings.TrimSpace(whitespaceRegex.ReplaceAllString(b.String(), " "))
}

func writeTextContent(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteByte(' ')
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeTextContent(b, c)
	}
}
