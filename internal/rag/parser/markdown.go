package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmtext "github.com/yuin/goldmark/text"

	"ragchat/internal/rag/chunker"
)

var markdownParser = goldmark.New(goldmark.WithExtensions(extension.GFM)).Parser()

// parseMarkdown builds a section tree from a commonmark (+ GFM tables)
// document: each heading opens a new section at that breadcrumb depth, and
// every other top-level block (paragraph, list, table, code block) is
// appended verbatim - source formatting intact, including GFM pipe tables -
// to the section currently open.
func parseMarkdown(data []byte) (ParsedDocument, error) {
	fullText, sections := sectionsFromMarkdown(data)
	return ParsedDocument{FullText: fullText, Sections: sections}, nil
}

func sectionsFromMarkdown(source []byte) (string, []chunker.Section) {
	doc := markdownParser.Parse(gmtext.NewReader(source))

	var sections []chunker.Section
	var breadcrumb []string

	type building struct {
		breadcrumb []string
		content    strings.Builder
		offset     int
	}
	var cur *building

	flush := func() {
		if cur == nil {
			return
		}
		if text := strings.TrimSpace(cur.content.String()); text != "" {
			sections = append(sections, chunker.Section{
				Breadcrumb:  cur.breadcrumb,
				Content:     text,
				StartOffset: cur.offset,
			})
		}
		cur = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok {
			flush()
			title := headingText(h, source)
			if h.Level-1 < len(breadcrumb) {
				breadcrumb = breadcrumb[:h.Level-1]
			}
			for len(breadcrumb) < h.Level-1 {
				breadcrumb = append(breadcrumb, "")
			}
			breadcrumb = append(breadcrumb, title)
			cur = &building{breadcrumb: append([]string(nil), breadcrumb...)}
			continue
		}

		start, end, ok := nodeSourceRange(n, source)
		if !ok {
			continue
		}
		if cur == nil {
			cur = &building{breadcrumb: append([]string(nil), breadcrumb...), offset: start}
		}
		if cur.content.Len() == 0 {
			cur.offset = start
		} else {
			cur.content.WriteString("\n\n")
		}
		cur.content.Write(source[start:end])
	}
	flush()

	return string(source), sections
}

// nodeSourceRange computes the byte span [start,end) a block node (and its
// descendants) occupies in source, by taking the union of every descendant's
// line segments. Works across paragraphs, lists, tables, and code blocks
// without per-kind handling.
func nodeSourceRange(n ast.Node, source []byte) (int, int, bool) {
	start, end := 0, 0
	found := false
	_ = ast.Walk(n, func(walked ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if liner, ok := walked.(interface{ Lines() *gmtext.Segments }); ok {
			lines := liner.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if !found || seg.Start < start {
					start = seg.Start
				}
				if !found || seg.Stop > end {
					end = seg.Stop
				}
				found = true
			}
		}
		return ast.WalkContinue, nil
	})
	if !found {
		return 0, 0, false
	}
	if end > len(source) {
		end = len(source)
	}
	return start, end, true
}

// headingText concatenates a heading's inline text nodes.
func headingText(h ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(h, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if t, ok := n.(*ast.Text); ok {
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString(" ")
			}
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
