package models

// Chunk is a contiguous slice of document text plus positional metadata.
// Chunks are immutable once created; the vector index that holds the
// matching embedding owns them, with the ordinal position in the index
// acting as the stable ID.
type Chunk struct {
	Text         string `json:"text" bson:"text"`
	Section      string `json:"section" bson:"section"`
	SectionTitle string `json:"section_title" bson:"section_title"`
	Page         int    `json:"page" bson:"page"`
	ChunkIndex   int    `json:"chunk_index" bson:"chunk_index"`
	StartChar    int    `json:"start_char" bson:"start_char"`
	EndChar      int    `json:"end_char" bson:"end_char"`
	CharCount    int    `json:"char_count" bson:"char_count"`
	WordCount    int    `json:"word_count" bson:"word_count"`
}

// ChunkMetadata is the sidecar view of a Chunk without its text, stored in
// the index metadata JSON so search hits can be decorated cheaply.
type ChunkMetadata struct {
	Section      string `json:"section" bson:"section"`
	SectionTitle string `json:"section_title" bson:"section_title"`
	Page         int    `json:"page" bson:"page"`
	ChunkIndex   int    `json:"chunk_index" bson:"chunk_index"`
	StartChar    int    `json:"start_char" bson:"start_char"`
	EndChar      int    `json:"end_char" bson:"end_char"`
	CharCount    int    `json:"char_count" bson:"char_count"`
	WordCount    int    `json:"word_count" bson:"word_count"`
}

// Metadata strips the text from a chunk for the sidecar file.
func (c Chunk) Metadata() ChunkMetadata {
	return ChunkMetadata{
		Section:      c.Section,
		SectionTitle: c.SectionTitle,
		Page:         c.Page,
		ChunkIndex:   c.ChunkIndex,
		StartChar:    c.StartChar,
		EndChar:      c.EndChar,
		CharCount:    c.CharCount,
		WordCount:    c.WordCount,
	}
}
