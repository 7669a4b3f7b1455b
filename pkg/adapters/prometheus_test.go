package adapters

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var (
	testStart = time.Unix(1700000000, 0)
	testEnd   = time.Unix(1700000120, 0)
)

func TestPrometheusAdapter_SingleSeries(t *testing.T) {
	// Fake Prometheus server returning 3 points
	json := `{
        "status":"success",
        "data":{
            "resultType":"matrix",
            "result":[
                {
                    "metric":{},
                    "values":[
                        [ 1700000000, "100" ],
                        [ 1700000060, "110" ],
                        [ 1700000120, "120" ]
                    ]
                }
            ]
        }
    }`
	var gotPath, gotQuery, gotStart, gotEnd, gotStep string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("query")
		gotStart = r.URL.Query().Get("start")
		gotEnd = r.URL.Query().Get("end")
		gotStep = r.URL.Query().Get("step")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, json)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{ServerURL: server.URL, StepSeconds: 60}

	df, err := ad.Collect(context.Background(), `sum(plant_power_kw{plant="p1"})`, testStart, testEnd)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if df == nil {
		t.Fatalf("expected non-nil DataFrame pointer")
	}
	if len(df.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(df.Rows))
	}

	if gotPath != "/api/v1/query_range" {
		t.Errorf("path = %q, want /api/v1/query_range", gotPath)
	}
	if gotQuery != `sum(plant_power_kw{plant="p1"})` {
		t.Errorf("query = %q", gotQuery)
	}
	if gotStart != "1700000000" || gotEnd != "1700000120" || gotStep != "60" {
		t.Errorf("range = start %s end %s step %s", gotStart, gotEnd, gotStep)
	}

	// Check ordering and types
	prev := time.Time{}
	for i, row := range df.Rows {
		tsStr, ok := row["ts"].(string)
		if !ok {
			t.Fatalf("row %d ts not string", i)
		}
		ts, err := time.Parse(time.RFC3339, tsStr)
		if err != nil {
			t.Fatalf("row %d ts parse: %v", i, err)
		}
		if !prev.IsZero() && ts.Before(prev) {
			t.Fatalf("timestamps not sorted")
		}
		prev = ts
		if _, ok := row["value"].(float64); !ok {
			t.Fatalf("row %d value not float64", i)
		}
	}
}

func TestPrometheusAdapter_MultiSeriesAggregates(t *testing.T) {
	json := `{
        "status":"success",
        "data":{
            "resultType":"matrix",
            "result":[
                { "metric":{}, "values":[ [ 1700000000, "1" ], [ 1700000060, "2" ] ] },
                { "metric":{}, "values":[ [ 1700000000, "10" ], [ 1700000060, "20" ] ] }
            ]
        }
    }`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, json)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{ServerURL: server.URL, StepSeconds: 60}
	df, err := ad.Collect(context.Background(), "q", testStart, testEnd)
	if err != nil {
		t.Fatalf("Collect error: %v", err)
	}
	if df == nil {
		t.Fatalf("expected non-nil DataFrame pointer")
	}
	if len(df.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(df.Rows))
	}
	// Values should be summed: (1+10)=11, (2+20)=22
	if df.Rows[0]["value"].(float64) != 11 {
		t.Fatalf("row0 value = %v, want 11", df.Rows[0]["value"])
	}
	if df.Rows[1]["value"].(float64) != 22 {
		t.Fatalf("row1 value = %v, want 22", df.Rows[1]["value"])
	}
}

func TestPrometheusAdapter_ErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusInternalServerError, `{}`},
		{"prometheus error", http.StatusOK, `{"status":"error","data":{"result":[]}}`},
		{"bad json", http.StatusOK, `{`},
		{"bad value", http.StatusOK, `{"status":"success","data":{"result":[{"values":[[1700000000,"abc"]]}]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer server.Close()

			ad := &PrometheusAdapter{ServerURL: server.URL}
			if _, err := ad.Collect(context.Background(), "q", testStart, testEnd); err == nil {
				t.Error("Collect() error = nil")
			}
		})
	}
}

func TestPrometheusAdapter_ErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"status":"error","errorType":"bad_data","error":"parse error at char 3"}`)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{ServerURL: server.URL}
	_, err := ad.Collect(context.Background(), "q(", testStart, testEnd)
	if err == nil {
		t.Fatal("Collect() error = nil")
	}
	if !strings.Contains(err.Error(), "parse error at char 3") {
		t.Errorf("Collect() error = %v, want prometheus message", err)
	}
}

func TestPrometheusAdapter_DropsNaN(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"resultType":"matrix","result":[
			{"metric":{},"values":[[1700000000,"5"],[1700000060,"NaN"],[1700000120,7]]}]}}`)
	}))
	defer server.Close()

	ad := &PrometheusAdapter{ServerURL: server.URL}
	df, err := ad.Collect(context.Background(), "q", testStart, testEnd)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if len(df.Rows) != 2 {
		t.Fatalf("rows = %v, want 2", df.Rows)
	}
	if df.Rows[1]["ts"] != "2023-11-14T22:15:20Z" || df.Rows[1]["value"].(float64) != 7 {
		t.Errorf("row1 = %v", df.Rows[1])
	}
}

func TestPrometheusAdapter_ValidatesConfig(t *testing.T) {
	ad := &PrometheusAdapter{}
	if _, err := ad.Collect(context.Background(), "q", testStart, testEnd); err == nil {
		t.Fatalf("expected error for missing server URL")
	}

	ad = &PrometheusAdapter{ServerURL: "http://localhost:9090"}
	if _, err := ad.Collect(context.Background(), "", testStart, testEnd); err == nil {
		t.Fatalf("expected error for missing query")
	}
	if _, err := ad.Collect(context.Background(), "q", testEnd, testStart); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestAlignTimestamp(t *testing.T) {
	ts := time.Unix(1700000095, 0)
	if got := AlignTimestamp(ts, 60).Unix(); got != 1700000040 {
		t.Errorf("AlignTimestamp() = %d, want 1700000040", got)
	}
}
