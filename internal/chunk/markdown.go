package chunk

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// featureUnknown marks markdown sections that have no level 2 header.
const featureUnknown = "Unknown"

// SplitMarkdown splits markdown text on level 1 and 2 headers. Each
// section becomes one chunk whose content is prefixed with a feature
// marker naming its level 2 header, so the feature survives embedding
// even when the retriever drops metadata.
func SplitMarkdown(source, text string) []Chunk {
	type section struct {
		header1 string
		header2 string
		lines   []string
	}

	var (
		sections []section
		cur      section
		inFence  bool
	)

	flush := func() {
		if len(cur.lines) > 0 {
			sections = append(sections, cur)
		}
		cur.lines = nil
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		// Headers inside fenced code blocks are content, not structure.
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			cur.lines = append(cur.lines, line)
			continue
		}
		if inFence {
			cur.lines = append(cur.lines, line)
			continue
		}

		switch {
		case strings.HasPrefix(trimmed, "# "):
			flush()
			cur.header1 = strings.TrimSpace(strings.TrimPrefix(trimmed, "# "))
			cur.header2 = ""
		case strings.HasPrefix(trimmed, "## "):
			flush()
			cur.header2 = strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))
		default:
			if trimmed == "" && len(cur.lines) == 0 {
				continue
			}
			cur.lines = append(cur.lines, line)
		}
	}
	flush()

	chunks := make([]Chunk, 0, len(sections))
	for _, s := range sections {
		feature := s.header2
		if feature == "" {
			feature = featureUnknown
		}
		body := strings.TrimRight(strings.Join(s.lines, "\n"), "\n")
		chunks = append(chunks, Chunk{
			Content: fmt.Sprintf("\n---\nfeature: %s\n%s", feature, body),
			Meta: Meta{
				Source:  truncate(source, maxSourceLen),
				Header1: truncate(s.header1, maxHeaderLen),
				Header2: truncate(s.header2, maxHeaderLen),
			},
		})
	}
	return chunks
}

// MarkdownFile chunks a single markdown file.
func MarkdownFile(path string) ([]Chunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading markdown file: %w", err)
	}
	return SplitMarkdown(filepath.Base(path), string(data)), nil
}

// MarkdownDir chunks every *.md file in dir. A missing directory or an
// empty one degrades to zero chunks so the caller can decide whether an
// empty corpus is fatal.
func MarkdownDir(dir string, logger *slog.Logger) ([]Chunk, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("scanning markdown files: %w", err)
	}
	if len(files) == 0 {
		logger.Warn("no markdown files found", "dir", dir)
		return nil, nil
	}
	sort.Strings(files)

	var all []Chunk
	for _, f := range files {
		chunks, err := MarkdownFile(f)
		if err != nil {
			return nil, err
		}
		logger.Info("markdown file chunked",
			"file", filepath.Base(f), "chunks", len(chunks))
		all = append(all, chunks...)
	}
	return all, nil
}
