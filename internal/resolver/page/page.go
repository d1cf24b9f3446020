// Package page resolves bangumi identifiers by scraping the og:title meta tag
// of the public media page.
package page

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// Resolver implements scan.Resolver by fetching the media page.
type Resolver struct {
	fetcher     resolver.Fetcher
	urlTemplate string
	logger      *zap.Logger
}

// New builds a page Resolver. urlTemplate addresses both the fetched page and
// the record URL; empty selects scan.DefaultURLTemplate.
func New(urlTemplate string, fetcher resolver.Fetcher, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("page resolver requires a fetcher")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{fetcher: fetcher, urlTemplate: urlTemplate, logger: logger}, nil
}

// Resolve fetches the media page of id. Only 429 and 5xx responses are
// errors; any other page, including 4xx error pages, is searched for
// og:title and a page without one means not found.
func (r *Resolver) Resolve(ctx context.Context, id int64) (scan.Record, bool, error) {
	target := scan.RecordURL(id, r.urlTemplate)
	resp, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		return scan.Record{}, false, fmt.Errorf("fetch media page %d: %w", id, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return scan.Record{}, false, nil
	}
	if resolver.TransientStatus(resp.StatusCode) {
		return scan.Record{}, false, fmt.Errorf("fetch media page %d: %w", id, resolver.CheckStatus(resp))
	}

	title, ok, err := ExtractTitle(resp.Body)
	if err != nil {
		return scan.Record{}, false, fmt.Errorf("parse media page %d: %w", id, err)
	}
	if !ok {
		r.logger.Debug("media page without og:title", zap.Int64("id", id))
		return scan.Record{}, false, nil
	}
	return scan.Record{ID: id, Title: title, URL: target}, true, nil
}

// ExtractTitle returns the content of the first og:title meta tag.
func ExtractTitle(body []byte) (string, bool, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("parse html: %w", err)
	}
	sel := doc.Find(`meta[property="og:title"]`).First()
	if sel.Length() == 0 {
		return "", false, nil
	}
	content, _ := sel.Attr("content")
	return strings.TrimSpace(content), true, nil
}
