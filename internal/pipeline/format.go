package pipeline

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gomarkdown/markdown"
	xhtml "golang.org/x/net/html"
)

// splitMessage breaks text into chunks of at most maxLen runes,
// preferring to cut on paragraph boundaries, then line boundaries,
// then a hard character split as a last resort.
func splitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = maxMessageLength
	}
	if runeLen(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimRight(current.String(), "\n"))
			current.Reset()
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		piece := para + "\n\n"
		if runeLen(piece) > maxLen {
			for _, line := range strings.Split(para, "\n") {
				lp := line + "\n"
				if runeLen(lp) > maxLen {
					flush()
					chunks = append(chunks, hardSplit(line, maxLen)...)
					continue
				}
				if runeLen(current.String())+runeLen(lp) > maxLen {
					flush()
				}
				current.WriteString(lp)
			}
			continue
		}
		if runeLen(current.String())+runeLen(piece) > maxLen {
			flush()
		}
		current.WriteString(piece)
	}
	flush()
	return chunks
}

func runeLen(s string) int { return len([]rune(s)) }

func hardSplit(s string, maxLen int) []string {
	runes := []rune(s)
	var out []string
	for len(runes) > 0 {
		n := maxLen
		if n > len(runes) {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// markdownToTelegramHTML converts source into the small tag subset
// Telegram's HTML parse mode accepts (b, i, s, code, pre, a),
// collapsing everything gomarkdown produces that Telegram doesn't
// understand (headings, lists, paragraphs) down to plain line breaks.
// Text content is re-escaped on the way out so code spans survive
// intact instead of being interpreted as markup.
func markdownToTelegramHTML(source string) (string, error) {
	raw := markdown.ToHTML([]byte(source), nil, nil)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("pipeline: parse converted markdown: %w", err)
	}
	body := doc.Find("body")
	if len(body.Nodes) == 0 {
		return "", fmt.Errorf("pipeline: markdown conversion produced no body")
	}

	var b strings.Builder
	for n := body.Nodes[0].FirstChild; n != nil; n = n.NextSibling {
		renderTelegramNode(n, &b)
	}
	return strings.TrimSpace(collapseBlankLines(b.String())), nil
}

func renderTelegramNode(n *xhtml.Node, b *strings.Builder) {
	switch n.Type {
	case xhtml.TextNode:
		b.WriteString(escapeHTMLText(n.Data))
	case xhtml.ElementNode:
		renderTelegramElement(n, b)
	default:
		renderTelegramChildren(n, b)
	}
}

func renderTelegramChildren(n *xhtml.Node, b *strings.Builder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderTelegramNode(c, b)
	}
}

func renderTelegramElement(n *xhtml.Node, b *strings.Builder) {
	switch n.Data {
	case "strong", "b":
		wrap(n, b, "b")
	case "em", "i":
		wrap(n, b, "i")
	case "del", "s", "strike":
		wrap(n, b, "s")
	case "code":
		wrap(n, b, "code")
	case "pre":
		wrap(n, b, "pre")
	case "a":
		href := nodeAttr(n, "href")
		if href == "" {
			renderTelegramChildren(n, b)
			return
		}
		b.WriteString(`<a href="` + escapeHTMLAttr(href) + `">`)
		renderTelegramChildren(n, b)
		b.WriteString("</a>")
	case "h1", "h2", "h3", "h4", "h5", "h6":
		b.WriteString("<b>")
		renderTelegramChildren(n, b)
		b.WriteString("</b>\n\n")
	case "li":
		b.WriteString("- ")
		renderTelegramChildren(n, b)
		b.WriteString("\n")
	case "br":
		b.WriteString("\n")
	case "p", "div", "ul", "ol", "blockquote":
		renderTelegramChildren(n, b)
		b.WriteString("\n\n")
	case "script", "style":
		// omitted entirely
	default:
		renderTelegramChildren(n, b)
	}
}

func wrap(n *xhtml.Node, b *strings.Builder, tag string) {
	b.WriteString("<" + tag + ">")
	renderTelegramChildren(n, b)
	b.WriteString("</" + tag + ">")
}

func nodeAttr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func escapeHTMLText(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func escapeHTMLAttr(s string) string {
	r := strings.NewReplacer("&", "&amp;", "\"", "&quot;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
