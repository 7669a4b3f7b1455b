// Package adapters provides signal source connectors that retrieve samples
// from external systems and normalize them into a common DataFrame structure.
//
// Adapters only pull raw data. Turning a DataFrame into a minute-aligned
// series is left to the features package.
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"
)

// PrometheusAdapter evaluates range queries against the Prometheus HTTP API
// (/api/v1/query_range) and returns rows of the form:
//
//	{"ts": RFC3339 string, "value": float64}
//
// Matrix results with several series are summed per timestamp. NaN samples
// (staleness markers) are dropped.
type PrometheusAdapter struct {
	// ServerURL is the base URL of Prometheus, e.g. http://prometheus.monitoring.svc:9090
	ServerURL string
	// StepSeconds is the query resolution (60s if <= 0).
	StepSeconds int
	// HTTPClient is optional; nil uses a client with a 10s timeout.
	HTTPClient *http.Client
}

func (p *PrometheusAdapter) Name() string { return "prometheus" }

// Collect implements Adapter for the closed range [start, end].
func (p *PrometheusAdapter) Collect(ctx context.Context, query string, start, end time.Time) (*DataFrame, error) {
	if p.ServerURL == "" || query == "" {
		return &DataFrame{}, errors.New("prometheus adapter: ServerURL and query are required")
	}
	if end.Before(start) {
		return &DataFrame{}, fmt.Errorf("prometheus adapter: end %s before start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339))
	}

	u, err := p.rangeURL(query, start, end)
	if err != nil {
		return &DataFrame{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &DataFrame{}, err
	}
	req.Header.Set("Accept", "application/json")

	cli := p.HTTPClient
	if cli == nil {
		cli = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := cli.Do(req)
	if err != nil {
		return &DataFrame{}, err
	}
	defer resp.Body.Close()

	// Prometheus reports query errors as JSON with a 4xx/5xx status, so the
	// body is decoded before the status is judged.
	var body rangeResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && body.Error != "" {
			return &DataFrame{}, fmt.Errorf("prometheus: status %d: %s: %s", resp.StatusCode, body.ErrorType, body.Error)
		}
		return &DataFrame{}, fmt.Errorf("prometheus: status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return &DataFrame{}, fmt.Errorf("decode prometheus response: %w", decodeErr)
	}
	if body.Status != "success" {
		return &DataFrame{}, fmt.Errorf("prometheus status %q: %s", body.Status, body.Error)
	}

	return &DataFrame{Rows: sumSeries(body.Data.Result)}, nil
}

func (p *PrometheusAdapter) rangeURL(query string, start, end time.Time) (string, error) {
	u, err := url.Parse(p.ServerURL)
	if err != nil {
		return "", fmt.Errorf("invalid ServerURL: %w", err)
	}
	step := p.StepSeconds
	if step <= 0 {
		step = 60
	}
	u = u.JoinPath("api", "v1", "query_range")
	q := u.Query()
	q.Set("query", query)
	q.Set("start", strconv.FormatInt(start.Unix(), 10))
	q.Set("end", strconv.FormatInt(end.Unix(), 10))
	q.Set("step", strconv.Itoa(step))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type rangeResponse struct {
	Status    string `json:"status"`
	ErrorType string `json:"errorType,omitempty"`
	Error     string `json:"error,omitempty"`
	Data      struct {
		ResultType string        `json:"resultType"`
		Result     []rangeSeries `json:"result"`
	} `json:"data"`
}

type rangeSeries struct {
	Metric map[string]string `json:"metric"`
	Values []samplePair      `json:"values"`
}

// samplePair decodes a matrix sample: [ <unix seconds>, "<value>" ].
type samplePair struct {
	ts    int64
	value float64
}

func (s *samplePair) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if len(raw) != 2 {
		return fmt.Errorf("invalid value pair length: %d", len(raw))
	}

	var ts float64
	if err := json.Unmarshal(raw[0], &ts); err != nil {
		return fmt.Errorf("parse timestamp: %w", err)
	}
	s.ts = int64(ts)

	var str string
	if err := json.Unmarshal(raw[1], &str); err != nil {
		// Some exporters proxying the API emit bare numbers.
		return json.Unmarshal(raw[1], &s.value)
	}
	v, err := strconv.ParseFloat(str, 64)
	if err != nil {
		return fmt.Errorf("parse value: %w", err)
	}
	s.value = v
	return nil
}

func sumSeries(series []rangeSeries) []Row {
	acc := make(map[int64]float64)
	for _, s := range series {
		for _, p := range s.Values {
			if math.IsNaN(p.value) {
				continue
			}
			acc[p.ts] += p.value
		}
	}

	ticks := make([]int64, 0, len(acc))
	for ts := range acc {
		ticks = append(ticks, ts)
	}
	slices.Sort(ticks)

	rows := make([]Row, 0, len(ticks))
	for _, ts := range ticks {
		rows = append(rows, Row{
			"ts":    time.Unix(ts, 0).UTC().Format(time.RFC3339),
			"value": acc[ts],
		})
	}
	return rows
}
