package parser

import (
	"bytes"
	"io"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// parseXHTML transcodes the document to UTF-8 (sniffing a declared charset
// from its <meta> tags or BOM), converts it to commonmark, and hands the
// result to the markdown section-tree walker so both paths share one set of
// heading/breadcrumb rules.
func parseXHTML(data []byte) (ParsedDocument, error) {
	utf8Body, err := toUTF8(data)
	if err != nil {
		utf8Body = data
	}

	md, err := htmltomarkdown.ConvertString(string(utf8Body))
	if err != nil {
		return ParsedDocument{}, err
	}

	if title := documentTitle(utf8Body); title != "" && !hasLeadingH1(md) {
		md = "# " + title + "\n\n" + md
	}

	fullText, sections := sectionsFromMarkdown([]byte(strings.TrimSpace(md)))
	return ParsedDocument{FullText: fullText, Sections: sections}, nil
}

func toUTF8(data []byte) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(data), "")
	if err != nil {
		return nil, err
	}
	return io.ReadAll(r)
}

// documentTitle walks the parsed DOM for <head><title>; used only to
// backfill a missing leading heading, since the converted markdown carries
// no document-level title of its own.
func documentTitle(data []byte) string {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return ""
	}
	var title string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if title != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return title
}

func hasLeadingH1(md string) bool {
	md = strings.TrimLeft(md, "\n")
	return strings.HasPrefix(md, "# ")
}
