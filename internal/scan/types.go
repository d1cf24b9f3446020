// Package scan defines the records, chunks and the concurrent scan engine
// that walks an identifier range against the remote catalog.
package scan

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultURLTemplate renders the canonical media page for an identifier.
const DefaultURLTemplate = "https://www.bilibili.com/bangumi/media/md%d"

// Record is one resolved identifier with its title and canonical URL.
type Record struct {
	ID    int64
	Title string
	URL   string
}

// NewRecord builds a Record, deriving URL from id with template. An empty
// template falls back to DefaultURLTemplate.
func NewRecord(id int64, title, template string) Record {
	return Record{ID: id, Title: title, URL: RecordURL(id, template)}
}

// RecordURL renders the canonical URL for id.
func RecordURL(id int64, template string) string {
	if template == "" {
		template = DefaultURLTemplate
	}
	if strings.Contains(template, "%d") {
		return fmt.Sprintf(template, id)
	}
	return template + strconv.FormatInt(id, 10)
}

// Line renders the record in the user-facing delimited format, without the
// trailing newline.
func (r Record) Line(delimiter string) string {
	return strconv.FormatInt(r.ID, 10) + delimiter + r.Title + delimiter + r.URL
}

// Chunk is the half-open identifier range [Begin, End) owned by one worker.
type Chunk struct {
	Begin int64
	End   int64
}

// Len returns the number of identifiers covered by the chunk.
func (c Chunk) Len() int64 {
	return c.End - c.Begin
}

func (c Chunk) String() string {
	return fmt.Sprintf("[%d,%d)", c.Begin, c.End)
}

// Partition splits [begin, end) into consecutive chunks of at most size
// identifiers. Only the last chunk may be shorter; an empty range yields no
// chunks.
func Partition(begin, end, size int64) ([]Chunk, error) {
	if size < 1 {
		return nil, fmt.Errorf("chunk size must be >= 1, got %d", size)
	}
	if end < begin {
		return nil, fmt.Errorf("range end %d is before begin %d", end, begin)
	}
	if begin == end {
		return []Chunk{}, nil
	}
	// Bounds are clipped by distance to end so no sum can overflow int64.
	n := uint64(end-begin) / uint64(size)
	chunks := make([]Chunk, 0, min(n+1, 1<<16))
	for lo := begin; ; {
		hi := end
		if uint64(end-lo) > uint64(size) {
			hi = lo + size
		}
		chunks = append(chunks, Chunk{Begin: lo, End: hi})
		if hi == end {
			return chunks, nil
		}
		lo = hi
	}
}
