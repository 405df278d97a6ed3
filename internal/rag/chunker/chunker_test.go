package chunker

import (
	"strings"
	"testing"

	"ragchat/internal/config"
)

func genText(words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("word")
	}
	return b.String()
}

func TestChunk_EmptyFullTextYieldsEmptyList(t *testing.T) {
	out := Chunk("", nil, config.ChunkingConfig{Size: 400, Overlap: 50})
	if len(out) != 0 {
		t.Fatalf("expected 0 chunks for empty input, got %d", len(out))
	}
}

func TestChunk_FallsBackToFullTextWhenSectionsEmpty(t *testing.T) {
	text := genText(500) // ~2500 chars
	out := Chunk(text, []Section{{Breadcrumb: nil, Content: ""}}, config.ChunkingConfig{Size: 400, Overlap: 50})
	if len(out) == 0 {
		t.Fatalf("expected chunks from fallback path")
	}
	if out[0].Breadcrumb != nil {
		t.Fatalf("fallback chunking should carry an empty breadcrumb")
	}
}

func TestChunk_OrderingAndOffsetsMonotonic(t *testing.T) {
	text := genText(800)
	out := Chunk(text, nil, config.ChunkingConfig{Size: 400, Overlap: 50})
	for i, c := range out {
		if c.Index != i {
			t.Fatalf("chunk %d has Index %d", i, c.Index)
		}
		if i > 0 && c.DocumentOffset < out[i-1].DocumentOffset {
			t.Fatalf("chunk offsets must be non-decreasing: %d then %d", out[i-1].DocumentOffset, c.DocumentOffset)
		}
	}
}

func TestChunk_SectionBoundariesCarryBreadcrumb(t *testing.T) {
	sections := []Section{
		{Breadcrumb: []string{"Intro"}, Content: "Paragraph one. Paragraph two.", StartOffset: 0},
		{Breadcrumb: []string{"Intro", "Details"}, Content: "More detailed paragraph content here.", StartOffset: 40},
	}
	full := sections[0].Content + sections[1].Content
	out := Chunk(full, sections, config.ChunkingConfig{Size: 400, Overlap: 50})
	if len(out) != 2 {
		t.Fatalf("expected one chunk per section at this size, got %d", len(out))
	}
	if out[0].Breadcrumb[0] != "Intro" {
		t.Fatalf("expected first chunk breadcrumb to start with Intro, got %v", out[0].Breadcrumb)
	}
	if len(out[1].Breadcrumb) != 2 || out[1].Breadcrumb[1] != "Details" {
		t.Fatalf("expected second chunk breadcrumb Intro>Details, got %v", out[1].Breadcrumb)
	}
}

func TestChunk_BreaksOnParagraphBoundary(t *testing.T) {
	para1 := strings.Repeat("alpha ", 30) // ~180 chars
	para2 := strings.Repeat("beta ", 30)
	text := para1 + "\n\n" + para2
	out := Chunk(text, nil, config.ChunkingConfig{Size: 200, Overlap: 20})
	if len(out) < 2 {
		t.Fatalf("expected the paragraph break to produce multiple chunks, got %d", len(out))
	}
	if strings.Contains(out[0].Text, "beta") {
		t.Fatalf("first chunk should break at the paragraph boundary, got: %q", out[0].Text)
	}
}

func TestChunk_ImageAssociation(t *testing.T) {
	sections := []Section{
		{
			Breadcrumb:  []string{"Page 2"},
			Content:     strings.Repeat("word ", 200),
			StartOffset: 0,
			Images: []ImageRef{
				{Index: 0, ApproximateOffset: 10, SpatialGroupID: 1},
				{Index: 1, ApproximateOffset: 15, SpatialGroupID: 1},
				{Index: 2, ApproximateOffset: 20, SpatialGroupID: 1},
				{Index: 3, ApproximateOffset: 900, SpatialGroupID: -1},
			},
		},
	}
	full := sections[0].Content
	out := Chunk(full, sections, config.ChunkingConfig{Size: 400, Overlap: 50})

	groupHits := 0
	ungroupedHits := 0
	for _, c := range out {
		for _, idx := range c.AssociatedImageIndices {
			switch idx {
			case 0, 1, 2:
				groupHits++
			case 3:
				ungroupedHits++
			}
		}
	}
	if groupHits != 1 {
		t.Fatalf("expected exactly one representative image from the spatial group, got %d", groupHits)
	}
	if ungroupedHits != 1 {
		t.Fatalf("expected the ungrouped image to be attached once, got %d", ungroupedHits)
	}
}
