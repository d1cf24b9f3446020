package cache

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// WriteOutput writes records to path in the user-facing delimited format,
// replacing any previous file of the same name in one atomic rename.
func WriteOutput(ctx context.Context, path string, records []scan.Record, delimiter string) error {
	if err := ctx.Err(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return &PersistenceError{Path: path, Err: fmt.Errorf("create output dir: %w", err)}
		}
	}
	err := writeAtomic(path, func(w io.Writer) error {
		for _, rec := range records {
			if _, err := io.WriteString(w, rec.Line(delimiter)+"\n"); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// writeAtomic streams fill into a temp file next to target, syncs it and
// renames it over target.
func writeAtomic(target string, fill func(io.Writer) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	buf := bufio.NewWriter(tmp)
	if err = fill(buf); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	if err = buf.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err = os.Rename(tmpName, target); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
