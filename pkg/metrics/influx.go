package metrics

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
)

// Recorder writes submission outcome points to InfluxDB. A nil Recorder is
// valid and drops every point, so callers never need to branch on whether
// metrics are configured.
type Recorder struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
}

// Config holds InfluxDB configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// NewRecorder creates a recorder backed by the non-blocking write API
func NewRecorder(cfg Config) *Recorder {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Recorder{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
}

// Submission records one submission outcome. Outcome is "accepted",
// "rejected", "replay" or "error"; reason carries the rejection reason when
// there is one.
func (r *Recorder) Submission(outcome, reason string, score int64, elapsed time.Duration) {
	if r == nil {
		return
	}

	p := influxdb2.NewPointWithMeasurement("submission").
		AddTag("outcome", outcome).
		AddField("elapsed_ms", elapsed.Milliseconds()).
		SetTime(time.Now())
	if reason != "" {
		p.AddTag("reason", reason)
	}
	if outcome == "accepted" {
		p.AddField("score", score)
	}

	r.writeAPI.WritePoint(p)
}

// Close flushes pending points and shuts the client down
func (r *Recorder) Close() {
	if r == nil {
		return
	}
	r.writeAPI.Flush()
	r.client.Close()
}
