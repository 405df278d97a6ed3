package parser

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/fogleman/gg"
	"github.com/ledongthuc/pdf"

	"ragchat/internal/config"
	"ragchat/internal/rag/chunker"
)

// pdfHeading is one detected heading/body run within a page, before it is
// folded into the document's breadcrumb-based section tree.
type pdfHeading struct {
	Heading    string
	Content    string
	Level      int
	PageNumber int
}

// rawImage is one XObject image pulled off a page, before spatial grouping.
type rawImage struct {
	Data       []byte
	MIMEType   string
	PageNumber int
	Width      int
	Height     int
	// sectionOffset is the document full-text offset of the first section on
	// this image's page, used as the image's ApproximateOffset.
	sectionOffset int
}

// parsePDF extracts visually-ordered text (grouped into lines by Y
// proximity, since content-stream order does not follow reading order),
// detects headings to build a breadcrumb tree, and extracts embedded images,
// compositing images that cluster on the same page into one representative
// image per cfg.ImageConfig.
func parsePDF(data []byte, cfg config.ImageConfig) (ParsedDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ParsedDocument{}, fmt.Errorf("opening pdf: %w", err)
	}

	var headings []pdfHeading
	var images []rawImage

	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, terr := extractPageTextOrdered(page)
		if terr != nil {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		pageHeadings := splitPageIntoHeadings(text, i)
		headings = append(headings, pageHeadings...)

		images = append(images, extractPageImages(page, i)...)
	}

	headings = fixRunningHeaders(headings, totalPages)

	fullText, sections, pageOffsets := headingsToSections(headings)
	for i := range images {
		if off, ok := pageOffsets[images[i].PageNumber]; ok {
			images[i].sectionOffset = off
		}
	}

	parsedImages, imageRefs := groupAndComposite(images, cfg)
	attachImageRefs(sections, imageRefs)

	return ParsedDocument{FullText: fullText, Sections: sections, Images: parsedImages}, nil
}

// headingsToSections folds a flat, page-ordered heading list into a
// breadcrumb-based section tree and the document's concatenated full text,
// along with the full-text offset of the first section on each page (used
// to place images, since their own position is only known per-page).
func headingsToSections(headings []pdfHeading) (string, []chunker.Section, map[int]int) {
	var fullText strings.Builder
	var sections []chunker.Section
	var breadcrumb []string
	pageOffsets := map[int]int{}

	for _, h := range headings {
		if h.Heading != "" {
			level := h.Level
			if level < 1 {
				level = 1
			}
			if level-1 < len(breadcrumb) {
				breadcrumb = breadcrumb[:level-1]
			}
			for len(breadcrumb) < level-1 {
				breadcrumb = append(breadcrumb, "")
			}
			breadcrumb = append(breadcrumb, h.Heading)
		}

		if strings.TrimSpace(h.Content) == "" {
			continue
		}

		if fullText.Len() > 0 {
			fullText.WriteString("\n\n")
		}
		start := fullText.Len()
		fullText.WriteString(h.Content)
		if _, seen := pageOffsets[h.PageNumber]; !seen {
			pageOffsets[h.PageNumber] = start
		}

		sections = append(sections, chunker.Section{
			Breadcrumb:  append([]string(nil), breadcrumb...),
			Content:     h.Content,
			StartOffset: start,
		})
	}

	return fullText.String(), sections, pageOffsets
}

func extractPageImages(page pdf.Page, pageNum int) []rawImage {
	resources := page.Resources()
	if resources.IsNull() {
		return nil
	}
	xobjects := resources.Key("XObject")
	if xobjects.IsNull() {
		return nil
	}

	var out []rawImage
	for _, name := range xobjects.Keys() {
		xobj := xobjects.Key(name)
		if xobj.Key("Subtype").Name() != "Image" {
			continue
		}
		if xobj.Key("ImageMask").Bool() {
			continue
		}

		width := int(xobj.Key("Width").Int64())
		height := int(xobj.Key("Height").Int64())
		if width == 0 || height == 0 || width < 32 || height < 32 {
			continue
		}

		filter := xobj.Key("Filter").Name()
		data, mime := extractSingleImage(xobj, filter, width, height)
		if data == nil {
			continue
		}

		out = append(out, rawImage{
			Data:       data,
			MIMEType:   mime,
			PageNumber: pageNum,
			Width:      width,
			Height:     height,
		})
	}
	return out
}

// extractSingleImage reads image bytes from a PDF XObject. ledongthuc/pdf's
// Reader() panics on filter combinations it doesn't support (notably
// DCTDecode in some PDF versions), so this recovers and skips the image
// instead of failing the whole document.
func extractSingleImage(xobj pdf.Value, filter string, width, height int) (data []byte, mimeType string) {
	defer func() {
		if recover() != nil {
			data, mimeType = nil, ""
		}
	}()

	switch filter {
	case "DCTDecode":
		raw, err := readRawStreamBytes(xobj)
		if err != nil || len(raw) < 2 || raw[0] != 0xff || raw[1] != 0xd8 {
			return nil, ""
		}
		return raw, "image/jpeg"

	case "FlateDecode", "":
		rc := xobj.Reader()
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, ""
		}
		encoded, err := rawPixelsToPNG(raw, width, height, xobj.Key("ColorSpace").Name())
		if err != nil {
			return nil, ""
		}
		return encoded, "image/png"

	default:
		return nil, ""
	}
}

// readRawStreamBytes bypasses Reader()'s filter chain (which panics on
// DCTDecode) by reading the stream's raw bytes directly from the
// underlying file; for JPEG those raw bytes are already the final image.
func readRawStreamBytes(v pdf.Value) ([]byte, error) {
	length := v.Key("Length").Int64()
	if length <= 0 {
		return nil, fmt.Errorf("stream has no length")
	}

	val := reflect.ValueOf(v)
	dataField := val.Field(2)
	if dataField.IsNil() {
		return nil, fmt.Errorf("value has nil data")
	}
	streamVal := dataField.Elem()
	if streamVal.Kind() == reflect.Ptr {
		streamVal = streamVal.Elem()
	}
	offset := streamVal.Field(2).Int()

	rField := val.Field(0)
	if rField.IsNil() {
		return nil, fmt.Errorf("value has nil reader")
	}
	readerStruct := reflect.NewAt(rField.Type().Elem(), rField.UnsafePointer()).Elem()
	readerAt, ok := readerStruct.Field(0).Interface().(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("reader.f is not io.ReaderAt")
	}

	buf := make([]byte, length)
	n, err := readerAt.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("reading stream at offset %d: %w", offset, err)
	}
	return buf[:n], nil
}

func rawPixelsToPNG(data []byte, width, height int, colorSpace string) ([]byte, error) {
	var img image.Image
	switch colorSpace {
	case "DeviceRGB", "":
		expected := width * height * 3
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for RGB image: got %d, expected %d", len(data), expected)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				o := (y*width + x) * 3
				rgba.SetRGBA(x, y, color.RGBA{R: data[o], G: data[o+1], B: data[o+2], A: 255})
			}
		}
		img = rgba

	case "DeviceGray":
		expected := width * height
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for gray image: got %d, expected %d", len(data), expected)
		}
		gray := image.NewGray(image.Rect(0, 0, width, height))
		copy(gray.Pix, data[:expected])
		img = gray

	case "DeviceCMYK":
		expected := width * height * 4
		if len(data) < expected {
			return nil, fmt.Errorf("insufficient data for CMYK image: got %d, expected %d", len(data), expected)
		}
		rgba := image.NewRGBA(image.Rect(0, 0, width, height))
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				o := (y*width + x) * 4
				c, m, ye, k := data[o], data[o+1], data[o+2], data[o+3]
				r := 255 - min(255, int(c)+int(k))
				g := 255 - min(255, int(m)+int(k))
				b := 255 - min(255, int(ye)+int(k))
				rgba.SetRGBA(x, y, color.RGBA{R: uint8(r), G: uint8(g), B: uint8(b), A: 255})
			}
		}
		img = rgba

	default:
		return nil, fmt.Errorf("unsupported color space: %s", colorSpace)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// extractPageTextOrdered groups Content() text elements into visual lines by
// Y proximity, preserving content-stream order within a line, then sorts
// lines top-to-bottom. GetPlainText reads in content-stream object order,
// which can put a heading after the body text it labels; this does not.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0
	type visualLine struct {
		y   float64
		buf strings.Builder
	}
	var lines []*visualLine
	var cur *visualLine
	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	var parts []string
	for _, l := range lines {
		if s := strings.TrimSpace(l.buf.String()); s != "" {
			parts = append(parts, s)
		}
	}
	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

func splitPageIntoHeadings(text string, pageNum int) []pdfHeading {
	lines := strings.Split(text, "\n")
	var out []pdfHeading
	var content strings.Builder
	var heading string
	level := 0

	flush := func() {
		if content.Len() > 0 || heading != "" {
			out = append(out, pdfHeading{Heading: heading, Content: strings.TrimSpace(content.String()), Level: level, PageNumber: pageNum})
			content.Reset()
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isLikelyHeading(trimmed) {
			flush()
			heading = trimmed
			level = detectHeadingLevel(trimmed)
			continue
		}
		if content.Len() > 0 {
			content.WriteString("\n")
		}
		content.WriteString(trimmed)
	}
	flush()

	if len(out) == 0 && strings.TrimSpace(text) != "" {
		out = append(out, pdfHeading{Content: text, PageNumber: pageNum})
	}
	return out
}

func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 {
		if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
			return true
		}
		lower := strings.ToLower(line)
		for _, prefix := range []string{"section ", "article ", "chapter ", "part ",
			"sección ", "seccion ", "capítulo ", "capitulo ", "anexo ",
			"seção ", "secao ", "artigo ", "chapitre ", "partie ", "annexe "} {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		if dots := strings.Count(parts[0], "."); dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

// fixRunningHeaders replaces a heading that recurs on at least
// max(3, totalPages/4) pages (a running document title or footer) with the
// last real heading seen, so page-break continuations attach to the section
// that actually precedes them.
func fixRunningHeaders(headings []pdfHeading, totalPages int) []pdfHeading {
	if len(headings) == 0 || totalPages == 0 {
		return headings
	}

	pages := map[string]map[int]bool{}
	for _, h := range headings {
		norm := normalizeHeading(h.Heading)
		if norm == "" {
			continue
		}
		if pages[norm] == nil {
			pages[norm] = map[int]bool{}
		}
		pages[norm][h.PageNumber] = true
	}

	threshold := totalPages / 4
	if threshold < 3 {
		threshold = 3
	}
	running := map[string]bool{}
	for h, p := range pages {
		if len(p) >= threshold {
			running[h] = true
		}
	}
	if len(running) == 0 {
		return headings
	}

	var lastHeading string
	var lastLevel int
	for i := range headings {
		norm := normalizeHeading(headings[i].Heading)
		if running[norm] {
			if lastHeading != "" {
				headings[i].Heading = lastHeading
				headings[i].Level = lastLevel
			}
		} else if headings[i].Heading != "" {
			lastHeading = headings[i].Heading
			lastLevel = headings[i].Level
		}
	}
	return headings
}

func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 || r == '�' {
			h = h[:len(h)-1]
			h = strings.TrimSpace(h)
		} else {
			break
		}
	}
	return h
}

// groupAndComposite clusters images that share a page into spatial groups
// (ledongthuc/pdf exposes no content-stream (x, y) placement or page
// rasterizer, so page co-occurrence is the only proximity signal available;
// cfg.SpatialThreshold, a distance in points, has nothing to measure against
// here and is unused by this path) and composites each group of at least
// cfg.SpatialMinGroupSize into one representative image via direct raster
// compositing (no page bitmap exists to crop). Returns the final Images list
// (raw images followed by any composites) and one ImageRef per group/
// singleton for chunker.assignImages to attach.
func groupAndComposite(images []rawImage, cfg config.ImageConfig) ([]Image, []chunker.ImageRef) {
	minGroup := cfg.SpatialMinGroupSize
	if minGroup <= 0 {
		minGroup = 2
	}

	byPage := map[int][]int{} // page -> indices into images, in order
	for i, img := range images {
		byPage[img.PageNumber] = append(byPage[img.PageNumber], i)
	}

	out := make([]Image, len(images))
	for i, img := range images {
		out[i] = Image{Data: img.Data, MIMEType: img.MIMEType, PageNumber: img.PageNumber, Width: img.Width, Height: img.Height}
	}

	var refs []chunker.ImageRef
	groupID := 0
	for _, idxs := range byPage {
		if len(idxs) >= minGroup {
			composite, err := compositeImages(images, idxs, cfg)
			if err == nil {
				sources := append([]int(nil), idxs...)
				out = append(out, Image{
					Data: composite, MIMEType: "image/png",
					PageNumber: images[idxs[0]].PageNumber, IsComposite: true, SourceIndices: sources,
				})
				refs = append(refs, chunker.ImageRef{
					Index:             len(out) - 1,
					ApproximateOffset: images[idxs[0]].sectionOffset,
					SpatialGroupID:    groupID,
				})
				groupID++
				continue
			}
		}
		for _, idx := range idxs {
			refs = append(refs, chunker.ImageRef{Index: idx, ApproximateOffset: images[idx].sectionOffset, SpatialGroupID: -1})
		}
	}

	return out, refs
}

// compositeImages stacks a page's clustered images into one tall canvas,
// decoding each member's own raster bytes directly rather than cropping a
// rendered page (no page rasterizer is available).
func compositeImages(images []rawImage, idxs []int, cfg config.ImageConfig) ([]byte, error) {
	padding := 8
	if cfg.CompositePaddingPct > 0 {
		padding = int(float64(images[idxs[0]].Width) * cfg.CompositePaddingPct)
	}

	decoded := make([]image.Image, 0, len(idxs))
	width := 0
	height := 0
	for n, idx := range idxs {
		img, _, err := image.Decode(bytes.NewReader(images[idx].Data))
		if err != nil {
			continue
		}
		decoded = append(decoded, img)
		if b := img.Bounds().Dx(); b > width {
			width = b
		}
		height += img.Bounds().Dy()
		if n > 0 {
			height += padding
		}
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("no decodable images in group")
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	y := 0
	for n, img := range decoded {
		dc.DrawImage(img, 0, y)
		y += img.Bounds().Dy()
		if n < len(decoded)-1 {
			y += padding
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// attachImageRefs hands every ref to the section whose page produced it by
// nearest offset; chunker.assignImages does the final chunk-level nearest
// match, this only needs the refs reachable on the section tree.
func attachImageRefs(sections []chunker.Section, refs []chunker.ImageRef) {
	if len(sections) == 0 || len(refs) == 0 {
		return
	}
	for _, ref := range refs {
		best := 0
		bestDist := -1
		for i, s := range sections {
			d := s.StartOffset - ref.ApproximateOffset
			if d < 0 {
				d = -d
			}
			if bestDist == -1 || d < bestDist {
				bestDist = d
				best = i
			}
		}
		sections[best].Images = append(sections[best].Images, ref)
	}
}
