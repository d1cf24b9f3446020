// Package cache persists per-chunk scan results as write-once intermediate
// artifacts and writes the consolidated output file.
package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

const maxLineBytes = 1 << 20

// Config captures the parameters for the chunk cache store.
type Config struct {
	// Dir is the directory holding data_<begin>_<end>.tmp artifacts.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// Delimiter separates the id, title and url fields of a line.
	Delimiter string `mapstructure:"delimiter" yaml:"delimiter"`
	// URLTemplate rebuilds record URLs when artifacts are read back.
	URLTemplate string `mapstructure:"url_template" yaml:"url_template"`
}

// Store reads and writes chunk artifacts on the local filesystem.
type Store struct {
	dir         string
	delimiter   string
	urlTemplate string
	logger      *zap.Logger
}

// New creates a Store rooted at cfg.Dir, creating the directory if needed.
func New(cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.Delimiter == "" {
		return nil, fmt.Errorf("delimiter is required")
	}
	if strings.ContainsAny(cfg.Delimiter, "\r\n") {
		return nil, fmt.Errorf("delimiter must not contain line breaks")
	}
	dir := cfg.Dir
	if strings.TrimSpace(dir) == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if mkErr := os.MkdirAll(dir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create cache dir: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat cache dir: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("cache dir %s is not a directory", dir)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		dir:         dir,
		delimiter:   cfg.Delimiter,
		urlTemplate: cfg.URLTemplate,
		logger:      logger,
	}, nil
}

// Name returns the artifact file name for chunk.
func Name(chunk scan.Chunk) string {
	return fmt.Sprintf("data_%d_%d.tmp", chunk.Begin, chunk.End)
}

// Path returns the full artifact path for chunk.
func (s *Store) Path(chunk scan.Chunk) string {
	return filepath.Join(s.dir, Name(chunk))
}

// Write persists the records of chunk as one atomic file write and returns
// the artifact path.
func (s *Store) Write(ctx context.Context, chunk scan.Chunk, records []scan.Record) (string, error) {
	target := s.Path(chunk)
	if err := ctx.Err(); err != nil {
		return "", &PersistenceError{Path: target, Err: err}
	}
	err := writeAtomic(target, func(w io.Writer) error {
		for _, rec := range records {
			if _, err := io.WriteString(w, s.encode(rec)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", &PersistenceError{Path: target, Err: err}
	}
	s.logger.Debug("chunk artifact written",
		zap.String("path", target),
		zap.Stringer("chunk", chunk),
		zap.Int("records", len(records)),
	)
	return target, nil
}

// Read loads the records stored for chunk in file order.
func (s *Store) Read(ctx context.Context, chunk scan.Chunk) ([]scan.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("read chunk %s: %w", chunk, err)
	}
	target := s.Path(chunk)
	// #nosec G304 -- artifact names are derived from integer chunk bounds.
	f, err := os.Open(target)
	if err != nil {
		return nil, fmt.Errorf("open chunk artifact: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	var records []scan.Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		rec, err := s.decode(scanner.Text())
		if err != nil {
			return nil, &ParseError{Path: target, Line: lineNo, Err: err}
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan chunk artifact %s: %w", target, err)
	}
	return records, nil
}

// Remove deletes the artifact of chunk. A missing artifact is not an error.
func (s *Store) Remove(chunk scan.Chunk) error {
	target := s.Path(chunk)
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove chunk artifact %s: %w", target, err)
	}
	return nil
}

// encode renders a cache line. Titles are quoted so the delimiter or line
// breaks inside a title survive the round trip.
func (s *Store) encode(rec scan.Record) string {
	return strconv.FormatInt(rec.ID, 10) + s.delimiter + strconv.Quote(rec.Title) + s.delimiter + rec.URL + "\n"
}

func (s *Store) decode(line string) (scan.Record, error) {
	rawID, rest, ok := strings.Cut(line, s.delimiter)
	if !ok {
		return scan.Record{}, errors.New("missing title field")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return scan.Record{}, fmt.Errorf("invalid id %q: %w", rawID, err)
	}
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return scan.Record{}, fmt.Errorf("invalid title: %w", err)
	}
	title, err := strconv.Unquote(quoted)
	if err != nil {
		return scan.Record{}, fmt.Errorf("invalid title: %w", err)
	}
	url, ok := strings.CutPrefix(rest[len(quoted):], s.delimiter)
	if !ok {
		return scan.Record{}, errors.New("missing url field")
	}
	if url == "" {
		return scan.Record{}, errors.New("empty url field")
	}
	if want := scan.RecordURL(id, s.urlTemplate); url != want {
		return scan.Record{}, fmt.Errorf("url %q does not match id %d", url, id)
	}
	return scan.Record{ID: id, Title: title, URL: url}, nil
}
