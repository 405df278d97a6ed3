package parser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"path"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// parseEpub reads an EPUB the way a reading system does: META-INF/container.xml
// names the OPF package document, the OPF's manifest maps ids to hrefs and its
// spine lists those ids in reading order. Each spine content document is an
// (X)HTML file, so it's converted to markdown exactly like parseXHTML does,
// and every chapter's markdown is concatenated before running the shared
// section-tree walker once, so breadcrumbs and offsets span the whole book
// instead of restarting per chapter.
func parseEpub(data []byte) (ParsedDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("open epub zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	opfPath, err := epubOPFPath(files)
	if err != nil {
		return ParsedDocument{}, err
	}
	opfFile := files[opfPath]
	if opfFile == nil {
		return ParsedDocument{}, fmt.Errorf("epub: opf %q not found", opfPath)
	}
	opfData, err := readZipFile(opfFile)
	if err != nil {
		return ParsedDocument{}, err
	}

	hrefs, err := epubSpineHrefs(opfData)
	if err != nil {
		return ParsedDocument{}, err
	}

	opfDir := path.Dir(opfPath)
	var chapters []string
	for _, href := range hrefs {
		full := path.Clean(path.Join(opfDir, href))
		zf := files[full]
		if zf == nil {
			continue
		}
		raw, err := readZipFile(zf)
		if err != nil {
			continue
		}
		utf8Body, err := toUTF8(raw)
		if err != nil {
			utf8Body = raw
		}
		md, err := htmltomarkdown.ConvertString(string(utf8Body))
		if err != nil {
			continue
		}
		chapters = append(chapters, strings.TrimSpace(md))
	}

	joined := strings.Join(chapters, "\n\n")
	fullText, sections := sectionsFromMarkdown([]byte(joined))
	return ParsedDocument{FullText: fullText, Sections: sections}, nil
}

type epubContainer struct {
	Rootfiles []epubRootfile `xml:"rootfiles>rootfile"`
}

type epubRootfile struct {
	FullPath string `xml:"full-path,attr"`
}

func epubOPFPath(files map[string]*zip.File) (string, error) {
	cf := files["META-INF/container.xml"]
	if cf == nil {
		return "", fmt.Errorf("epub: META-INF/container.xml not found")
	}
	data, err := readZipFile(cf)
	if err != nil {
		return "", err
	}
	var c epubContainer
	if err := xml.Unmarshal(data, &c); err != nil {
		return "", fmt.Errorf("epub: parse container.xml: %w", err)
	}
	if len(c.Rootfiles) == 0 || c.Rootfiles[0].FullPath == "" {
		return "", fmt.Errorf("epub: no rootfile in container.xml")
	}
	return c.Rootfiles[0].FullPath, nil
}

type epubPackage struct {
	Manifest struct {
		Items []epubManifestItem `xml:"item"`
	} `xml:"manifest"`
	Spine struct {
		ItemRefs []epubSpineItemRef `xml:"itemref"`
	} `xml:"spine"`
}

type epubManifestItem struct {
	ID   string `xml:"id,attr"`
	Href string `xml:"href,attr"`
}

type epubSpineItemRef struct {
	IDRef string `xml:"idref,attr"`
}

func epubSpineHrefs(opfData []byte) ([]string, error) {
	var pkg epubPackage
	if err := xml.Unmarshal(opfData, &pkg); err != nil {
		return nil, fmt.Errorf("epub: parse opf: %w", err)
	}
	byID := make(map[string]string, len(pkg.Manifest.Items))
	for _, item := range pkg.Manifest.Items {
		byID[item.ID] = item.Href
	}
	hrefs := make([]string, 0, len(pkg.Spine.ItemRefs))
	for _, ref := range pkg.Spine.ItemRefs {
		if href, ok := byID[ref.IDRef]; ok {
			hrefs = append(hrefs, href)
		}
	}
	return hrefs, nil
}
