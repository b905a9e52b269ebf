package services

import (
	"strings"
	"testing"
)

func TestChunkTextEmpty(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	if got := c.ChunkText("   \n\t  "); len(got) != 0 {
		t.Fatalf("whitespace input produced %d chunks", len(got))
	}
}

func TestChunkCoverageAndOverlap(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	text := strings.Repeat("word ", 600) // 3000 chars, no sentence ends

	chunks := c.ChunkText(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	if chunks[0].StartChar != 0 {
		t.Fatalf("first chunk starts at %d, want 0", chunks[0].StartChar)
	}
	if last := chunks[len(chunks)-1]; last.EndChar != len(text) {
		t.Fatalf("last chunk ends at %d, want %d", last.EndChar, len(text))
	}

	for i := 1; i < len(chunks); i++ {
		if chunks[i].StartChar >= chunks[i-1].EndChar {
			t.Fatalf("chunk %d starts at %d, past previous end %d: gap in coverage",
				i, chunks[i].StartChar, chunks[i-1].EndChar)
		}
		if chunks[i].ChunkIndex != i {
			t.Fatalf("chunk %d carries index %d", i, chunks[i].ChunkIndex)
		}
	}
}

func TestChunkBoundarySnapsToSentence(t *testing.T) {
	c := NewDocumentChunker(100, 20, 500)
	text := strings.Repeat("a", 105) + ". " + strings.Repeat("b", 100)

	chunks := c.ChunkText(text)
	if len(chunks) == 0 {
		t.Fatalf("no chunks produced")
	}
	first := chunks[0]
	if !strings.HasSuffix(first.Text, ".") {
		t.Fatalf("first chunk did not snap to sentence end: %q", first.Text[len(first.Text)-10:])
	}
	if first.EndChar != 106 {
		t.Fatalf("first chunk ends at %d, want 106", first.EndChar)
	}
}

func TestChunkSectionsFromHeadings(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	text := "1. Introduction\nThis product treats mild pain.\n" +
		"2. Dosage\nTake one tablet twice daily.\n" +
		"2.1 Overdose\nContact a physician immediately.\n"

	chunks := c.ChunkText(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3 sections", len(chunks))
	}

	want := []struct{ number, title string }{
		{"1", "Introduction"},
		{"2", "Dosage"},
		{"2.1", "Overdose"},
	}
	for i, w := range want {
		if chunks[i].Section != w.number || chunks[i].SectionTitle != w.title {
			t.Fatalf("chunk %d section = %q %q, want %q %q",
				i, chunks[i].Section, chunks[i].SectionTitle, w.number, w.title)
		}
	}
}

func TestChunkPreambleBeforeFirstHeading(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	text := "Product leaflet for internal use.\n1. Composition\nEach tablet contains 500mg.\n"

	chunks := c.ChunkText(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Section != "" || chunks[0].SectionTitle != "" {
		t.Fatalf("preamble chunk carries section %q %q", chunks[0].Section, chunks[0].SectionTitle)
	}
	if chunks[1].Section != "1" {
		t.Fatalf("second chunk section = %q, want \"1\"", chunks[1].Section)
	}
}

func TestChunkPageFromFormFeeds(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	text := "1. Alpha\nFirst page body text.\n\f2. Beta\nSecond page body text.\n"

	chunks := c.ChunkText(text)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Page != 1 {
		t.Fatalf("first chunk page = %d, want 1", chunks[0].Page)
	}
	if chunks[1].Page != 2 {
		t.Fatalf("second chunk page = %d, want 2", chunks[1].Page)
	}
}

func TestChunkPageFromMarkers(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	text := "[Page 7]\n3. Storage\nStore below 25 degrees.\n"

	chunks := c.ChunkText(text)
	if len(chunks) == 0 {
		t.Fatalf("no chunks produced")
	}
	last := chunks[len(chunks)-1]
	if last.Page != 7 {
		t.Fatalf("chunk page = %d, want 7 from marker", last.Page)
	}
}

func TestChunkCeiling(t *testing.T) {
	c := NewDocumentChunker(50, 0, 3)
	text := strings.Repeat("word ", 200) // 1000 chars, would yield 20 chunks

	chunks := c.ChunkText(text)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want ceiling of 3", len(chunks))
	}
}

func TestChunkCounts(t *testing.T) {
	c := NewDocumentChunker(1000, 200, 500)
	chunks := c.ChunkText("Take two tablets daily.")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	got := chunks[0]
	if got.CharCount != len(got.Text) {
		t.Fatalf("char count %d != text length %d", got.CharCount, len(got.Text))
	}
	if got.WordCount != 4 {
		t.Fatalf("word count = %d, want 4", got.WordCount)
	}
}
