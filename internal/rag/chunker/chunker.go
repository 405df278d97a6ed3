// Package chunker implements the section-aware sliding window splitter (C2):
// it walks a parsed document's section tree in order and emits ordered
// chunks carrying a breadcrumb, a document offset, and image associations.
package chunker

import (
	"strings"

	"ragchat/internal/config"
)

// Section is one node of a parsed document's section tree, in document
// order. Content is that section's own text (not its descendants'); Images
// are the ones approximately located within this section.
type Section struct {
	Breadcrumb  []string
	Content     string
	StartOffset int
	Images      []ImageRef
}

// ImageRef is an image extracted from a document, located by its
// best-effort offset into the document's full text.
type ImageRef struct {
	Index             int
	ApproximateOffset int
	// SpatialGroupID groups images clustered together on a page; -1 means
	// the image is ungrouped. Only one representative index per group is
	// ever attached to a chunk.
	SpatialGroupID int
}

// Chunk is one section-aware slice of a document's text.
type Chunk struct {
	Index                  int
	Text                   string
	Breadcrumb             []string
	DocumentOffset         int
	AssociatedImageIndices []int
}

// Chunk splits a document's section tree (or, when every section is empty,
// the raw fullText) into a flat, ordered list of chunks per spec.md §4.C2:
// target size `cfg.Size` characters (default 400) with `cfg.Overlap` overlap
// (default 50), breaking preferably on paragraph, then sentence, then word
// boundaries. An empty fullText yields an empty chunk list.
func Chunk(fullText string, sections []Section, cfg config.ChunkingConfig) []Chunk {
	size := cfg.Size
	if size <= 0 {
		size = 400
	}
	overlap := cfg.Overlap
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 2
	}

	if fullText == "" {
		return nil
	}

	anySectionHasContent := false
	for _, s := range sections {
		if strings.TrimSpace(s.Content) != "" {
			anySectionHasContent = true
			break
		}
	}

	var raw []Chunk
	if anySectionHasContent {
		for _, s := range sections {
			raw = append(raw, chunkSection(s, size, overlap)...)
		}
	} else {
		raw = chunkSection(Section{Content: fullText, StartOffset: 0}, size, overlap)
	}

	allImages := collectImages(sections)
	assignImages(raw, allImages, size)

	for i := range raw {
		raw[i].Index = i
	}
	return raw
}

// chunkSection slides a window of `size` characters (with `overlap`) across
// one section's content, breaking preferably on a paragraph boundary, then
// a sentence boundary, then a word boundary, in that order of preference.
func chunkSection(s Section, size, overlap int) []Chunk {
	text := s.Content
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var out []Chunk
	start := 0
	for start < len(text) {
		end := start + size
		if end >= len(text) {
			end = len(text)
		} else {
			end = bestBoundary(text, start, end)
		}
		piece := strings.TrimSpace(text[start:end])
		if piece != "" {
			out = append(out, Chunk{
				Text:           piece,
				Breadcrumb:     s.Breadcrumb,
				DocumentOffset: s.StartOffset + start,
			})
		}
		if end >= len(text) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// bestBoundary looks for the latest paragraph break, then sentence end,
// then whitespace, within text[start:end], falling back to a hard cut at
// end when none is found past the halfway point of the window.
func bestBoundary(text string, start, end int) int {
	window := text[start:end]
	half := (end - start) / 2

	if i := strings.LastIndex(window, "\n\n"); i > half {
		return start + i + 2
	}
	if i := lastSentenceBoundary(window); i > half {
		return start + i
	}
	if i := strings.LastIndexAny(window, " \t\n"); i > half {
		return start + i + 1
	}
	return end
}

func lastSentenceBoundary(window string) int {
	best := -1
	for _, term := range []string{". ", "? ", "! ", ".\n", "?\n", "!\n"} {
		if i := strings.LastIndex(window, term); i > best {
			best = i + len(term)
		}
	}
	return best
}

func collectImages(sections []Section) []ImageRef {
	var out []ImageRef
	for _, s := range sections {
		out = append(out, s.Images...)
	}
	return out
}

// assignImages attaches, per spatial group, at most one representative
// image index to whichever chunk's start offset is nearest to the group's
// first image's approximate offset (ties go to the earlier chunk; size is
// not used). Ungrouped images (group ID < 0) are attached individually by
// the same nearest-chunk rule.
func assignImages(chunks []Chunk, images []ImageRef, size int) {
	if len(chunks) == 0 || len(images) == 0 {
		return
	}

	groups := map[int][]ImageRef{}
	var ungrouped []ImageRef
	for _, img := range images {
		if img.SpatialGroupID < 0 {
			ungrouped = append(ungrouped, img)
			continue
		}
		groups[img.SpatialGroupID] = append(groups[img.SpatialGroupID], img)
	}

	attach := func(offset int, idx int) {
		best := 0
		bestDist := -1
		for i, c := range chunks {
			dist := abs(c.DocumentOffset - offset)
			if bestDist == -1 || dist < bestDist {
				bestDist = dist
				best = i
			}
		}
		chunks[best].AssociatedImageIndices = append(chunks[best].AssociatedImageIndices, idx)
	}

	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		first := group[0]
		for _, img := range group {
			if img.ApproximateOffset < first.ApproximateOffset {
				first = img
			}
		}
		attach(first.ApproximateOffset, first.Index)
	}
	for _, img := range ungrouped {
		attach(img.ApproximateOffset, img.Index)
	}
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
