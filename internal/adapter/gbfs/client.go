package gbfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/empi91/Bike-Sharing-Analytics/internal/domain"
	"github.com/empi91/Bike-Sharing-Analytics/internal/observability"
)

// Document names used in errors, logs and metric labels.
const (
	DocSystemInfo    = "system_information"
	DocStationInfo   = "station_information"
	DocStationStatus = "station_status"
)

// URLs locates the three GBFS documents the collector reads.
type URLs struct {
	SystemInfo    string
	StationInfo   string
	StationStatus string
}

// Client fetches GBFS documents. Each call makes exactly one request bounded
// by the client timeout; there is no retry.
type Client struct {
	urls       URLs
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient creates a GBFS feed client.
func NewClient(urls URLs, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Client {
	return &Client{
		urls: urls,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger:  logger,
		metrics: metrics,
	}
}

// envelope is the wrapper shared by every GBFS document.
type envelope struct {
	LastUpdated int64           `json:"last_updated"`
	TTL         int             `json:"ttl"`
	Version     string          `json:"version"`
	Data        json.RawMessage `json:"data"`
}

type stationList struct {
	Stations []json.RawMessage `json:"stations"`
}

// FetchSystemInfo returns the feed's system information.
func (c *Client) FetchSystemInfo(ctx context.Context) (domain.SystemInfo, error) {
	data, err := c.fetch(ctx, DocSystemInfo, c.urls.SystemInfo)
	if err != nil {
		return domain.SystemInfo{}, err
	}
	var info domain.SystemInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return domain.SystemInfo{}, &domain.FeedError{Document: DocSystemInfo, URL: c.urls.SystemInfo, Err: fmt.Errorf("decode data: %w", err)}
	}
	return info, nil
}

// FetchStations returns the station directory. Malformed records are skipped.
func (c *Client) FetchStations(ctx context.Context) ([]domain.StationInfo, error) {
	raws, err := c.fetchStations(ctx, DocStationInfo, c.urls.StationInfo)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StationInfo, 0, len(raws))
	for _, raw := range raws {
		var s domain.StationInfo
		if err := json.Unmarshal(raw, &s); err != nil {
			c.skip(DocStationInfo, raw, err)
			continue
		}
		if err := s.Validate(); err != nil {
			c.skip(DocStationInfo, raw, err)
			continue
		}
		out = append(out, s)
	}
	c.logger.Info("fetched stations", "count", len(out), "skipped", len(raws)-len(out))
	return out, nil
}

// FetchStatuses returns live status for every station. Malformed records are skipped.
func (c *Client) FetchStatuses(ctx context.Context) ([]domain.StationStatus, error) {
	raws, err := c.fetchStations(ctx, DocStationStatus, c.urls.StationStatus)
	if err != nil {
		return nil, err
	}
	out := make([]domain.StationStatus, 0, len(raws))
	for _, raw := range raws {
		var s domain.StationStatus
		if err := json.Unmarshal(raw, &s); err != nil {
			c.skip(DocStationStatus, raw, err)
			continue
		}
		if err := s.Validate(); err != nil {
			c.skip(DocStationStatus, raw, err)
			continue
		}
		out = append(out, s)
	}
	c.logger.Info("fetched station statuses", "count", len(out), "skipped", len(raws)-len(out))
	return out, nil
}

func (c *Client) fetchStations(ctx context.Context, doc, url string) ([]json.RawMessage, error) {
	data, err := c.fetch(ctx, doc, url)
	if err != nil {
		return nil, err
	}
	var list stationList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &domain.FeedError{Document: doc, URL: url, Err: fmt.Errorf("decode stations: %w", err)}
	}
	return list.Stations, nil
}

// fetch performs one GET and returns the envelope's data member.
func (c *Client) fetch(ctx context.Context, doc, url string) (json.RawMessage, error) {
	start := time.Now()
	data, err := c.doRequest(ctx, doc, url)
	c.metrics.FeedRequestDuration.WithLabelValues(doc).Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.FeedRequests.WithLabelValues(doc, "error").Inc()
		c.logger.Error("feed request failed", "document", doc, "error", err)
		return nil, err
	}
	c.metrics.FeedRequests.WithLabelValues(doc, "success").Inc()
	return data, nil
}

func (c *Client) doRequest(ctx context.Context, doc, url string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &domain.FeedError{Document: doc, URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.FeedError{Document: doc, URL: url, Err: fmt.Errorf("request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &domain.FeedError{
			Document:   doc,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", body),
		}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &domain.FeedError{Document: doc, URL: url, Err: fmt.Errorf("decode envelope: %w", err)}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &domain.FeedError{Document: doc, URL: url, Err: domain.ErrMissingData}
	}
	return env.Data, nil
}

// skip logs and counts a malformed record.
func (c *Client) skip(doc string, raw json.RawMessage, err error) {
	var id struct {
		StationID any `json:"station_id"`
	}
	_ = json.Unmarshal(raw, &id)
	perr := &domain.ParseError{Document: doc, Err: err}
	if id.StationID != nil {
		perr.RecordID = fmt.Sprint(id.StationID)
	}
	c.metrics.FeedParseErrors.WithLabelValues(doc).Inc()
	c.logger.Warn("skipping malformed feed record", "document", doc, "error", perr)
}
