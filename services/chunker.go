package services

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"pharma-docs-platform/internal/logger"
	"pharma-docs-platform/models"
)

// DocumentChunker slices raw text into ordered, metadata-bearing chunks.
// Numbered section headings partition the document; each section is cut into
// fixed-size windows whose boundaries snap to nearby sentence ends.
type DocumentChunker struct {
	chunkSize    int
	chunkOverlap int
	maxChunks    int

	headingRegex *regexp.Regexp
	pageRegex    *regexp.Regexp
}

// snapWindow is how far a cut may move to land on a sentence terminator.
const snapWindow = 50

func NewDocumentChunker(chunkSize, chunkOverlap, maxChunks int) *DocumentChunker {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 5
	}
	if maxChunks <= 0 {
		maxChunks = 500
	}
	return &DocumentChunker{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		maxChunks:    maxChunks,
		headingRegex: regexp.MustCompile(`(?m)^\s*(\d+(?:\.\d+)*)[.)]?\s+(\S[^\n]*)$`),
		pageRegex:    regexp.MustCompile(`(?i)\[page\s+(\d+)\]`),
	}
}

type section struct {
	number string
	title  string
	start  int
	end    int
}

// ChunkText splits text into chunks. Offsets in the returned chunks are
// relative to the full input text.
func (c *DocumentChunker) ChunkText(text string) []models.Chunk {
	if len(strings.TrimSpace(text)) == 0 {
		return []models.Chunk{}
	}

	sections := c.splitSections(text)
	breaks := c.pageBreaks(text)

	var chunks []models.Chunk
	truncated := false

	for _, sec := range sections {
		if truncated {
			break
		}
		body := text[sec.start:sec.end]

		start := 0
		for start < len(body) {
			if len(chunks) >= c.maxChunks {
				truncated = true
				break
			}

			end := c.snapBoundary(body, start, start+c.chunkSize)
			chunkText := body[start:end]

			chunks = append(chunks, models.Chunk{
				Text:         chunkText,
				Section:      sec.number,
				SectionTitle: sec.title,
				Page:         pageAt(breaks, sec.start+start),
				ChunkIndex:   len(chunks),
				StartChar:    sec.start + start,
				EndChar:      sec.start + end,
				CharCount:    len(chunkText),
				WordCount:    len(strings.Fields(chunkText)),
			})

			if end >= len(body) {
				break
			}
			step := c.chunkSize - c.chunkOverlap
			if step < 1 {
				step = 1
			}
			start += step
		}
	}

	if truncated {
		logger.Warn("Chunk ceiling reached, document truncated",
			"max_chunks", c.maxChunks, "emitted", len(chunks))
	}
	return chunks
}

// splitSections partitions the text at numbered headings; a document without
// headings becomes one unnamed section.
func (c *DocumentChunker) splitSections(text string) []section {
	matches := c.headingRegex.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []section{{start: 0, end: len(text)}}
	}

	var sections []section
	if matches[0][0] > 0 {
		// Preamble before the first heading.
		sections = append(sections, section{start: 0, end: matches[0][0]})
	}
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		sections = append(sections, section{
			number: text[m[2]:m[3]],
			title:  strings.TrimSpace(text[m[4]:m[5]]),
			start:  m[0],
			end:    end,
		})
	}
	return sections
}

// snapBoundary moves a proposed cut to the nearest sentence terminator
// followed by whitespace, searching forward first, then backward, both within
// snapWindow characters. A cut at or past the end of the body stays there.
func (c *DocumentChunker) snapBoundary(body string, start, cut int) int {
	if cut >= len(body) {
		return len(body)
	}

	forwardLimit := cut + snapWindow
	if forwardLimit > len(body)-1 {
		forwardLimit = len(body) - 1
	}
	for i := cut; i <= forwardLimit; i++ {
		if isSentenceEnd(body, i) {
			return i + 1
		}
	}

	backwardLimit := cut - snapWindow
	if backwardLimit <= start {
		backwardLimit = start + 1
	}
	for i := cut - 1; i >= backwardLimit; i-- {
		if isSentenceEnd(body, i) {
			return i + 1
		}
	}

	return cut
}

func isSentenceEnd(body string, i int) bool {
	if i < 0 || i+1 >= len(body) {
		return false
	}
	ch := body[i]
	if ch != '.' && ch != '!' && ch != '?' {
		return false
	}
	next := body[i+1]
	return next == ' ' || next == '\t' || next == '\n' || next == '\r'
}

type pageBreak struct {
	offset int
	page   int
}

// pageBreaks derives page numbers from in-text markers: form feeds increment
// the running page, explicit "[Page N]" markers reset it.
func (c *DocumentChunker) pageBreaks(text string) []pageBreak {
	breaks := []pageBreak{{offset: 0, page: 1}}

	page := 1
	for i := 0; i < len(text); i++ {
		if text[i] == '\f' {
			page++
			// The break sits on the form feed itself so a section whose
			// heading match begins at the feed lands on the new page.
			breaks = append(breaks, pageBreak{offset: i, page: page})
		}
	}

	for _, m := range c.pageRegex.FindAllStringSubmatchIndex(text, -1) {
		if n, err := strconv.Atoi(text[m[2]:m[3]]); err == nil {
			breaks = append(breaks, pageBreak{offset: m[1], page: n})
		}
	}

	sort.Slice(breaks, func(i, j int) bool { return breaks[i].offset < breaks[j].offset })
	return breaks
}

func pageAt(breaks []pageBreak, offset int) int {
	page := 1
	for _, b := range breaks {
		if b.offset > offset {
			break
		}
		page = b.page
	}
	return page
}
