// Package gcs uploads the final artifact to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/JakeFAU/bangumi-scanner/internal/export"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Config captures the parameters required to upload to GCS.
type Config struct {
	Bucket      string
	Prefix      string
	ContentType string
}

// Exporter writes the final artifact to a configured GCS bucket.
type Exporter struct {
	client *storage.Client
	cfg    Config
	// uri is the location of the last upload.
	uri string
}

// New creates a GCS exporter.
func New(client *storage.Client, cfg Config) (*Exporter, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Exporter{client: client, cfg: cfg}, nil
}

// Name identifies the exporter in logs.
func (e *Exporter) Name() string { return "gcs" }

// ObjectName returns the object path used for output.
func (e *Exporter) ObjectName(output string) string {
	return path.Join(strings.Trim(e.cfg.Prefix, "/"), filepath.Base(output))
}

// URI returns the gs:// location of the last successful upload.
func (e *Exporter) URI() string { return e.uri }

// Export uploads the final artifact named by summary.Output.
func (e *Exporter) Export(ctx context.Context, summary export.Summary, _ []scan.Record) error {
	// #nosec G304 -- the output path comes from operator configuration.
	f, err := os.Open(summary.Output)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	name := e.ObjectName(summary.Output)
	writer := e.client.Bucket(e.cfg.Bucket).Object(name).NewWriter(ctx)
	if e.cfg.ContentType != "" {
		writer.ContentType = e.cfg.ContentType
	}
	writer.Metadata = map[string]string{
		"run_id":      summary.RunID.String(),
		"range_begin": fmt.Sprint(summary.RangeBegin),
		"range_end":   fmt.Sprint(summary.RangeEnd),
	}
	if summary.SHA256 != "" {
		writer.Metadata["sha256"] = summary.SHA256
	}
	if _, err := io.Copy(writer, f); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	e.uri = fmt.Sprintf("gs://%s/%s", e.cfg.Bucket, name)
	return nil
}
