// Package api resolves bangumi identifiers through the JSON review API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/bangumi-scanner/internal/resolver"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

// DefaultEndpoint is queried with the media id appended.
const DefaultEndpoint = "http://api.bilibili.com/pgc/review/user?media_id="

// codeNotFound is the payload code for an unknown media id.
const codeNotFound = -404

// Config configures the API resolver.
type Config struct {
	// Endpoint is the request URL prefix; the id is appended verbatim.
	Endpoint    string
	URLTemplate string
}

// Resolver implements scan.Resolver against the review API.
type Resolver struct {
	fetcher     resolver.Fetcher
	endpoint    string
	urlTemplate string
	logger      *zap.Logger
}

type payload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Result  *struct {
		Media *struct {
			Title string `json:"title"`
		} `json:"media"`
	} `json:"result"`
}

// New builds a Resolver.
func New(cfg Config, fetcher resolver.Fetcher, logger *zap.Logger) (*Resolver, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("api resolver requires a fetcher")
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		fetcher:     fetcher,
		endpoint:    endpoint,
		urlTemplate: cfg.URLTemplate,
		logger:      logger,
	}, nil
}

// Resolve fetches the review payload of id. A -404 payload code means not found.
func (r *Resolver) Resolve(ctx context.Context, id int64) (scan.Record, bool, error) {
	target := r.endpoint + strconv.FormatInt(id, 10)
	resp, err := r.fetcher.Fetch(ctx, target)
	if err != nil {
		return scan.Record{}, false, fmt.Errorf("fetch media %d: %w", id, err)
	}
	// The API reports unknown ids in the payload, but some edges answer 404.
	if resp.StatusCode == http.StatusNotFound {
		return scan.Record{}, false, nil
	}
	if err := resolver.CheckStatus(resp); err != nil {
		return scan.Record{}, false, fmt.Errorf("fetch media %d: %w", id, err)
	}

	var body payload
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return scan.Record{}, false, fmt.Errorf("decode media %d: %w", id, err)
	}
	switch {
	case body.Code == codeNotFound:
		return scan.Record{}, false, nil
	case body.Code != 0:
		return scan.Record{}, false, fmt.Errorf("media %d: api code %d: %s", id, body.Code, body.Message)
	case body.Result == nil || body.Result.Media == nil:
		return scan.Record{}, false, fmt.Errorf("media %d: payload has no media", id)
	}
	r.logger.Debug("media resolved", zap.Int64("id", id), zap.String("title", body.Result.Media.Title))
	return scan.NewRecord(id, body.Result.Media.Title, r.urlTemplate), true, nil
}
