package metrics

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"deployguard/internal/config"
	"deployguard/internal/model"
)

// InfluxSource reads deployment series from an InfluxDB bucket. Each series
// is stored as a field of the "deployments" measurement tagged with the
// deployment target.
type InfluxSource struct {
	client influxdb2.Client
	query  api.QueryAPI
	bucket string
}

func NewInfluxSource(cfg config.InfluxConfig) *InfluxSource {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &InfluxSource{
		client: client,
		query:  client.QueryAPI(cfg.Org),
		bucket: cfg.Bucket,
	}
}

func (s *InfluxSource) Query(ctx context.Context, target string, series model.Series, from, to time.Time) ([]model.Sample, error) {
	flux := fmt.Sprintf(`
		from(bucket: %q)
		  |> range(start: %s, stop: %s)
		  |> filter(fn: (r) => r._measurement == "deployments")
		  |> filter(fn: (r) => r.target == %q)
		  |> filter(fn: (r) => r._field == %q)
		  |> sort(columns: ["_time"], desc: false)
	`, s.bucket, from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), target, string(series))

	result, err := s.query.Query(ctx, flux)
	if err != nil {
		return nil, fmt.Errorf("influx query failed: %w", err)
	}
	var samples []model.Sample
	for result.Next() {
		record := result.Record()
		value, ok := record.Value().(float64)
		if !ok {
			continue
		}
		samples = append(samples, model.Sample{
			Series:    series,
			Timestamp: record.Time(),
			Value:     value,
		})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("influx result error: %w", result.Err())
	}
	return samples, nil
}

func (s *InfluxSource) Close() {
	s.client.Close()
}
