package chunk

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Rows whose space classification matches one of these values are
// administrative, not product knowledge, and are filtered out.
var excludedSpaces = map[string]bool{
	"내 업무 리스트": true,
	"이사회":      true,
}

// FileStats accounts for one CSV file's chunking pass. Filtered+Kept
// always equals Rows.
type FileStats struct {
	File     string
	Rows     int
	Kept     int
	Filtered int
}

// csvRow is one record keyed by cleaned header names.
type csvRow map[string]string

func (r csvRow) get(key string) string { return r[key] }

// present reports whether the field has a meaningful value. Empty
// strings, whitespace and the literal placeholders produced by the
// export tool do not count.
func (r csvRow) present(key string) bool {
	v := strings.TrimSpace(r[key])
	return v != "" && v != "null" && v != "[]"
}

// CSVFile chunks one exported task CSV, one chunk per kept row.
func CSVFile(path string) ([]Chunk, FileStats, error) {
	source := filepath.Base(path)
	stats := FileStats{File: source}

	f, err := os.Open(path)
	if err != nil {
		return nil, stats, fmt.Errorf("opening csv file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, stats, fmt.Errorf("reading csv file: %w", err)
	}
	if len(records) < 1 {
		return nil, stats, nil
	}

	// Header names arrive with a BOM on the first cell and stray
	// whitespace; clean them once.
	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}

	var chunks []Chunk
	for idx, rec := range records[1:] {
		stats.Rows++

		row := make(csvRow, len(header))
		for i, name := range header {
			if i < len(rec) {
				row[name] = rec[i]
			}
		}

		if excludedSpaces[row.get("Space Name")] {
			stats.Filtered++
			continue
		}

		stats.Kept++
		chunks = append(chunks, buildRowChunk(source, idx+1, stats.Kept, row))
	}

	return chunks, stats, nil
}

// buildRowChunk assembles a row's chunk content from its semantic fields
// in a fixed section order, repeating the header fields inside the
// content so they stay searchable after embedding.
func buildRowChunk(source string, rowNumber, chunkSeq int, row csvRow) Chunk {
	var parts []string
	parts = append(parts, "=== 작업 정보 ===")

	if row.present("Task ID") {
		parts = append(parts, "작업ID: "+row.get("Task ID"))
	}
	if row.present("Task Name") {
		parts = append(parts, "작업명: "+strings.TrimSpace(row.get("Task Name")))
	}
	if row.present("Parent ID") {
		parts = append(parts, "상위작업ID: "+row.get("Parent ID"))
	}
	if row.get("List Name") != "" {
		parts = append(parts, "리스트: "+row.get("List Name"))
	}
	if row.get("Folder Name") != "" {
		parts = append(parts, "폴더: "+row.get("Folder Name"))
	}
	if row.get("Space Name") != "" {
		parts = append(parts, "스페이스: "+row.get("Space Name"))
	}
	if row.present("Tags") {
		parts = append(parts, "태그: "+row.get("Tags"))
	}
	if row.present("Assignees") {
		parts = append(parts, "담당자: "+row.get("Assignees"))
	}
	if row.present("Date Created Text") {
		parts = append(parts, "생성일: "+row.get("Date Created Text"))
	}

	if row.get("Task Content") != "" {
		parts = append(parts, "", "=== 작업 내용 ===", row.get("Task Content"))
	}
	if row.present("Comments") {
		parts = append(parts, "", "=== 댓글 ===", "댓글: "+row.get("Comments"))
	}

	return Chunk{
		Content: strings.Join(parts, "\n"),
		Meta: Meta{
			Source:      truncate(source, maxSourceLen),
			ChunkID:     fmt.Sprintf("%s_%d", source, chunkSeq),
			RowNumber:   rowNumber,
			TaskID:      truncate(row.get("Task ID"), maxHeaderLen),
			TaskName:    truncate(strings.TrimSpace(row.get("Task Name")), maxHeaderLen),
			ListName:    truncate(row.get("List Name"), maxHeaderLen),
			FolderName:  truncate(row.get("Folder Name"), maxHeaderLen),
			SpaceName:   truncate(row.get("Space Name"), maxHeaderLen),
			DateCreated: truncate(row.get("Date Created Text"), maxHeaderLen),
		},
	}
}

// CSVDir chunks every *.csv file in dir. Missing directory or no CSV
// files degrades to zero chunks.
func CSVDir(dir string, logger *slog.Logger) ([]Chunk, []FileStats, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, nil, fmt.Errorf("scanning csv files: %w", err)
	}
	if len(files) == 0 {
		logger.Warn("no csv files found", "dir", dir)
		return nil, nil, nil
	}
	sort.Strings(files)

	var (
		all      []Chunk
		allStats []FileStats
	)
	for _, f := range files {
		chunks, stats, err := CSVFile(f)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("csv file chunked",
			"file", stats.File, "rows", stats.Rows,
			"chunks", stats.Kept, "filtered", stats.Filtered)
		all = append(all, chunks...)
		allStats = append(allStats, stats)
	}
	return all, allStats, nil
}
