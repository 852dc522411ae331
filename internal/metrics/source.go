package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// Source queries the metrics backend for one series scoped to a deployment
// target. Implementations must return samples ordered by timestamp and an
// empty slice (not an error) when the series has no data in the range.
type Source interface {
	Query(ctx context.Context, target string, series model.Series, from, to time.Time) ([]model.Sample, error)
}

func NewSource(cfg config.MetricsConfig) (Source, error) {
	switch strings.ToLower(cfg.Source) {
	case "http":
		return NewHTTPSource(cfg.HTTP.URL), nil
	case "influx":
		return NewInfluxSource(cfg.Influx), nil
	default:
		return nil, fmt.Errorf("unsupported metrics source: %s", cfg.Source)
	}
}

// HTTPSource reads from a JSON metrics endpoint:
// GET {base}/series?target=...&series=...&from=...&to=...
type HTTPSource struct {
	base   string
	client *http.Client
}

func NewHTTPSource(base string) *HTTPSource {
	return &HTTPSource{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{},
	}
}

type seriesResponse struct {
	Samples []model.Sample `json:"samples"`
}

func (s *HTTPSource) Query(ctx context.Context, target string, series model.Series, from, to time.Time) ([]model.Sample, error) {
	q := url.Values{}
	q.Set("target", target)
	q.Set("series", string(series))
	q.Set("from", from.UTC().Format(time.RFC3339Nano))
	q.Set("to", to.UTC().Format(time.RFC3339Nano))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/series?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("metrics backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out seriesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	samples := out.Samples
	for i := range samples {
		samples[i].Series = series
	}
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Timestamp.Before(samples[j].Timestamp)
	})
	return samples, nil
}
