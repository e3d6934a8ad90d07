// Package chunk turns raw corpus documents into ordered content+metadata
// chunks ready for embedding.
//
// Two document shapes are supported:
//   - Markdown: split on level 1 and 2 headers, each section becoming one
//     chunk prefixed with a feature marker derived from its level 2 header.
//   - CSV: one chunk per task row, with administrative rows filtered out
//     and the content assembled from a fixed set of semantic fields.
//
// Chunk ordering within a source file is preserved; chunk identity is
// (source, positional index).
package chunk

// Chunk is a unit of indexable content with its provenance metadata.
type Chunk struct {
	Content string
	Meta    Meta
}

// Meta carries chunk provenance. Header1/Header2 are populated by the
// markdown path; the task fields by the CSV path. Values are bounded to
// the index column widths at assembly time.
type Meta struct {
	Source  string
	Header1 string
	Header2 string

	// CSV row provenance
	ChunkID     string
	RowNumber   int
	TaskID      string
	TaskName    string
	ListName    string
	FolderName  string
	SpaceName   string
	DateCreated string
}

// Column width bounds shared with the index schema.
const (
	maxHeaderLen = 200
	maxSourceLen = 100
)

// truncate bounds s to max bytes, cutting on a rune boundary so
// multi-byte text never ends mid-character.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
