package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"ragchat/internal/rag/chunker"
)

// parseDocx reads an OOXML word/document.xml part directly out of the zip
// container: no conversion through HTML, since a docx's body is its own XML
// dialect, not markup goldmark or html-to-markdown understand. Headings
// (paragraphs styled "HeadingN"/"Title") open breadcrumb sections the same
// way parseMarkdown's walker does; other paragraphs are appended to the
// section currently open. Tables are rendered as pipe rows and appended
// after all paragraphs, to the last section, not at their position in the
// body. Embedded images are resolved through the document's relationship
// part and placed by their running text offset in the body.
func parseDocx(data []byte) (ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("open docx zip: %w", err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	docFile := files["word/document.xml"]
	if docFile == nil {
		return ParsedDocument{}, fmt.Errorf("word/document.xml not found")
	}
	docXML, err := readZipFile(docFile)
	if err != nil {
		return ParsedDocument{}, err
	}

	rels := docxRelationshipTargets(files)

	fullText, sections := docxSectionsFromXML(docXML)
	images, refs := docxExtractImages(docXML, rels, files)
	attachImageRefs(sections, refs)

	return ParsedDocument{FullText: fullText, Sections: sections, Images: images}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

type docxRelationships struct {
	Rels []docxRelationship `xml:"Relationship"`
}

type docxRelationship struct {
	ID     string `xml:"Id,attr"`
	Target string `xml:"Target,attr"`
}

func docxRelationshipTargets(files map[string]*zip.File) map[string]string {
	relsFile := files["word/_rels/document.xml.rels"]
	if relsFile == nil {
		return nil
	}
	data, err := readZipFile(relsFile)
	if err != nil {
		return nil
	}
	var rels docxRelationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return nil
	}
	out := make(map[string]string, len(rels.Rels))
	for _, r := range rels.Rels {
		out[r.ID] = r.Target
	}
	return out
}

// docxBody/docxPara/... mirror just enough of the WordprocessingML schema to
// recover paragraph text, heading styles, and tables; a full OOXML grammar
// isn't needed for plain-text extraction.
type docxBody struct {
	Paras  []docxPara  `xml:"p"`
	Tables []docxTable `xml:"tbl"`
}

type docxDocument struct {
	Body docxBody `xml:"body"`
}

type docxPara struct {
	PPr  *docxParaPr `xml:"pPr"`
	Runs []docxRun   `xml:"r"`
}

type docxParaPr struct {
	PStyle *docxPStyle `xml:"pStyle"`
}

type docxPStyle struct {
	Val string `xml:"val,attr"`
}

type docxRun struct {
	Text []docxText `xml:"t"`
}

type docxText struct {
	Content string `xml:",chardata"`
}

type docxTable struct {
	Rows []docxRow `xml:"tr"`
}

type docxRow struct {
	Cells []docxCell `xml:"tc"`
}

type docxCell struct {
	Paras []docxPara `xml:"p"`
}

func docxSectionsFromXML(data []byte) (string, []chunker.Section) {
	var doc docxDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return "", nil
	}

	var full strings.Builder
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

	appendText := func(text string) {
		if cur == nil {
			cur = &building{breadcrumb: append([]string(nil), breadcrumb...), offset: full.Len()}
		}
		if cur.content.Len() > 0 {
			cur.content.WriteString("\n")
		}
		cur.content.WriteString(text)
		if full.Len() > 0 {
			full.WriteString("\n")
		}
		full.WriteString(text)
	}

	for _, para := range doc.Body.Paras {
		text := extractParaText(para)
		if text == "" {
			continue
		}
		style := ""
		if para.PPr != nil && para.PPr.PStyle != nil {
			style = para.PPr.PStyle.Val
		}
		if isDocxHeading(style) {
			flush()
			level := docxHeadingLevel(style)
			if level-1 < len(breadcrumb) {
				breadcrumb = breadcrumb[:level-1]
			}
			for len(breadcrumb) < level-1 {
				breadcrumb = append(breadcrumb, "")
			}
			breadcrumb = append(breadcrumb, text)
			cur = &building{breadcrumb: append([]string(nil), breadcrumb...), offset: full.Len()}
			if full.Len() > 0 {
				full.WriteString("\n")
			}
			full.WriteString(text)
			continue
		}
		appendText(text)
	}

	for _, tbl := range doc.Body.Tables {
		var b strings.Builder
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				var cellText strings.Builder
				for i, p := range cell.Paras {
					if i > 0 {
						cellText.WriteString(" ")
					}
					cellText.WriteString(extractParaText(p))
				}
				cells = append(cells, cellText.String())
			}
			b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		if b.Len() > 0 {
			appendText(strings.TrimRight(b.String(), "\n"))
		}
	}

	flush()
	return full.String(), sections
}

func extractParaText(para docxPara) string {
	var b strings.Builder
	for _, run := range para.Runs {
		for _, t := range run.Text {
			b.WriteString(t.Content)
		}
	}
	return strings.TrimSpace(b.String())
}

func isDocxHeading(style string) bool {
	lower := strings.ToLower(style)
	return strings.HasPrefix(lower, "heading") || strings.HasPrefix(lower, "title")
}

func docxHeadingLevel(style string) int {
	lower := strings.ToLower(style)
	if strings.HasPrefix(lower, "title") {
		return 1
	}
	if n, err := strconv.Atoi(strings.TrimPrefix(lower, "heading")); err == nil && n > 0 {
		return n
	}
	return 1
}

// docxExtractImages walks the raw document XML token stream (rather than the
// unmarshaled struct, which doesn't carry drawing elements) looking for
// a:blip/r:embed references, resolving each through rels into a zip member.
// It tracks a running text offset in body order, approximating the offsets
// docxSectionsFromXML builds for paragraphs, so attachImageRefs can match
// each image to the nearest section StartOffset. Table text is counted
// where the table sits in the body, whereas docxSectionsFromXML places
// tables last, so images after a table get offsets past their section.
func docxExtractImages(docXML []byte, rels map[string]string, files map[string]*zip.File) ([]Image, []chunker.ImageRef) {
	if len(rels) == 0 {
		return nil, nil
	}

	decoder := xml.NewDecoder(bytes.NewReader(docXML))
	var images []Image
	var refs []chunker.ImageRef
	offset := 0
	var paraText strings.Builder

	flushPara := func() {
		if t := strings.TrimSpace(paraText.String()); t != "" {
			offset += len(t) + 1
		}
		paraText.Reset()
	}

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				flushPara()
			case "blip":
				var embedID string
				for _, attr := range t.Attr {
					if attr.Name.Local == "embed" {
						embedID = attr.Value
					}
				}
				if embedID == "" {
					continue
				}
				target, ok := rels[embedID]
				if !ok {
					continue
				}
				mediaPath := strings.ReplaceAll(filepath.Clean("word/"+target), "\\", "/")
				zf := files[mediaPath]
				if zf == nil {
					continue
				}
				imgData, err := readZipFile(zf)
				if err != nil {
					continue
				}
				mime := mimeFromExt(filepath.Ext(zf.Name))
				if mime == "" {
					continue
				}
				w, h := decodedImageSize(imgData)
				if w < 32 || h < 32 {
					continue
				}
				images = append(images, Image{Data: imgData, MIMEType: mime, Width: w, Height: h})
				refs = append(refs, chunker.ImageRef{Index: len(images) - 1, ApproximateOffset: offset, SpatialGroupID: -1})
			}
		case xml.CharData:
			paraText.Write(t)
		}
	}
	flushPara()

	return images, refs
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	default:
		return ""
	}
}

func decodedImageSize(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}
