// Package parser implements the parser set (C1): turning a raw byte stream
// plus its MIME type into a ParsedDocument - full text, a section tree, and
// extracted images with spatial metadata - ready for the chunker (C2).
package parser

import (
	"bytes"
	"fmt"

	"ragchat/internal/config"
	"ragchat/internal/rag/chunker"
)

// Image is one image extracted from a document, with its raw bytes and
// best-effort placement. A chunker.ImageRef attached to a Section points at
// an Image by its position in ParsedDocument.Images (ImageRef.Index); not
// every Image has a ref (members of a PDF composite are reached only
// through the composite).
type Image struct {
	Data          []byte
	MIMEType      string
	PageNumber    int
	Width         int
	Height        int
	IsComposite   bool
	SourceIndices []int // member Image indices folded into a composite
}

// ParsedDocument is C1's output: a faithful plain-text rendering of the
// source document sufficient for BM25 and title inference, its section tree
// (each StartOffset indexes into FullText), and its extracted images.
type ParsedDocument struct {
	FullText string
	Sections []chunker.Section
	Images   []Image
}

// ParseError wraps a parse failure with the MIME type that caused it; the
// caller (C12) treats this as a terminal FAILED status for the Document.
type ParseError struct {
	MIME string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.MIME, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse dispatches to the PDF, Markdown, XHTML, DOCX, or EPUB path by mime, per
// spec.md §4.C1. Unrecognized MIME types fall back to the plain-text path.
func Parse(data []byte, mime string, cfg config.ImageConfig) (ParsedDocument, error) {
	switch {
	case mime == "application/pdf":
		doc, err := parsePDF(data, cfg)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	case mime == "text/markdown" || mime == "text/x-markdown":
		doc, err := parseMarkdown(data)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	case mime == "text/html" || mime == "application/xhtml+xml":
		doc, err := parseXHTML(data)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	case mime == "application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		doc, err := parseDocx(data)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	case mime == "application/epub+zip":
		doc, err := parseEpub(data)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	default:
		doc, err := parsePlainText(data)
		if err != nil {
			return ParsedDocument{}, &ParseError{MIME: mime, Err: err}
		}
		return doc, nil
	}
}

func parsePlainText(data []byte) (ParsedDocument, error) {
	text := string(bytes.ToValidUTF8(data, []byte{}))
	return ParsedDocument{FullText: text}, nil
}
