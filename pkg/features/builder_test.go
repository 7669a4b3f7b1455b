package features

import (
	"testing"
	"time"

	"github.com/HatiCode/gridservices/pkg/adapters"
	"github.com/HatiCode/gridservices/pkg/models"
)

func TestNewBuilder(t *testing.T) {
	tests := []struct {
		in   int
		want int
	}{
		{60, 60},
		{30, 30},
		{0, DefaultStepSeconds},
		{-5, DefaultStepSeconds},
	}
	for _, tt := range tests {
		if got := NewBuilder(tt.in).StepSeconds(); got != tt.want {
			t.Errorf("NewBuilder(%d).StepSeconds() = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBuilder_BuildSeries_Success(t *testing.T) {
	builder := NewBuilder(60)

	now := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	df := adapters.DataFrame{
		Rows: []adapters.Row{
			{"ts": now.Format(time.RFC3339), "value": 100.0},
			{"ts": now.Add(time.Minute).Format(time.RFC3339), "value": 110.0},
			{"ts": now.Add(2 * time.Minute).Format(time.RFC3339), "value": 120.0},
		},
	}

	series, err := builder.BuildSeries(df)
	if err != nil {
		t.Fatalf("BuildSeries() error = %v", err)
	}

	if len(series) != 3 {
		t.Errorf("len(series) = %d, want 3", len(series))
	}
	if got := series[now.Unix()]; got != 100.0 {
		t.Errorf("series[%d] = %f, want 100.0", now.Unix(), got)
	}
	if got := series[now.Add(2*time.Minute).Unix()]; got != 120.0 {
		t.Errorf("series[+2m] = %f, want 120.0", got)
	}
}

func TestBuilder_BuildSeries_AlignsToStep(t *testing.T) {
	builder := NewBuilder(60)

	df := adapters.DataFrame{
		Rows: []adapters.Row{
			{"ts": int64(1700000045), "value": 1.0},
			{"ts": float64(1700000110), "value": 2.0},
			{"ts": int(1700000159), "value": 3.0}, // same minute as previous, wins
		},
	}

	series, err := builder.BuildSeries(df)
	if err != nil {
		t.Fatalf("BuildSeries() error = %v", err)
	}

	want := models.Series{1700000040: 1, 1700000100: 3}
	if len(series) != len(want) {
		t.Fatalf("series = %v, want %v", series, want)
	}
	for tick, v := range want {
		if series[tick] != v {
			t.Errorf("series[%d] = %f, want %f", tick, series[tick], v)
		}
	}
}

func TestBuilder_BuildSeries_EmptyDataFrame(t *testing.T) {
	builder := NewBuilder(60)

	if _, err := builder.BuildSeries(adapters.DataFrame{Rows: []adapters.Row{}}); err == nil {
		t.Error("Expected error for empty dataframe")
	}
}

func TestBuilder_BuildSeries_NoUsableRows(t *testing.T) {
	builder := NewBuilder(60)

	df := adapters.DataFrame{
		Rows: []adapters.Row{
			{"ts": "2024-01-01T00:00:00Z"},
			{"value": 100.0},
			{"value": 100.0, "ts": "yesterday"},
		},
	}

	if _, err := builder.BuildSeries(df); err == nil {
		t.Error("Expected error when no row has both 'value' and 'ts'")
	}
}

func TestBuilder_BuildSeries_MixedRows(t *testing.T) {
	builder := NewBuilder(60)

	df := adapters.DataFrame{
		Rows: []adapters.Row{
			{"value": 100.0, "ts": "2024-01-01T00:00:00Z"},
			{"other": "no value"}, // Skipped
			{"value": 110.0, "ts": "2024-01-01T00:01:00Z"},
			{"value": "invalid", "ts": "2024-01-01T00:03:00Z"}, // Skipped
			{"value": 120.0, "ts": "2024-01-01T00:02:00Z"},
		},
	}

	series, err := builder.BuildSeries(df)
	if err != nil {
		t.Fatalf("BuildSeries() error = %v", err)
	}

	if len(series) != 3 {
		t.Errorf("len(series) = %d, want 3", len(series))
	}
}

func TestBuilder_BuildSeries_NumericTypes(t *testing.T) {
	builder := NewBuilder(60)
	base := int64(1700000040)

	values := []any{float64(100.5), float32(110.5), int(120), int64(130), int32(140)}
	rows := make([]adapters.Row, len(values))
	for i, v := range values {
		rows[i] = adapters.Row{"ts": base + int64(i*60), "value": v}
	}

	series, err := builder.BuildSeries(adapters.DataFrame{Rows: rows})
	if err != nil {
		t.Fatalf("BuildSeries() error = %v", err)
	}

	expectedValues := []float64{100.5, 110.5, 120.0, 130.0, 140.0}
	for i, expected := range expectedValues {
		tick := base + int64(i*60)
		if series[tick] != expected {
			t.Errorf("series[%d] = %f, want %f", tick, series[tick], expected)
		}
	}
}

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  float64
		ok    bool
	}{
		{"float64", float64(123.45), 123.45, true},
		{"float32", float32(123.45), float64(float32(123.45)), true},
		{"int", int(123), 123.0, true},
		{"int64", int64(123), 123.0, true},
		{"int32", int32(123), 123.0, true},
		{"string", "123", 0, false},
		{"bool", true, 0, false},
		{"nil", nil, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := toFloat64(tt.input)
			if ok != tt.ok {
				t.Errorf("toFloat64() ok = %v, want %v", ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("toFloat64() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   any
		want    time.Time
		wantErr bool
	}{
		{
			name:  "RFC3339 string",
			input: now.Format(time.RFC3339),
			want:  now,
		},
		{
			name:  "Unix timestamp float64",
			input: float64(now.Unix()),
			want:  time.Unix(now.Unix(), 0),
		},
		{
			name:  "Unix timestamp int64",
			input: int64(now.Unix()),
			want:  time.Unix(now.Unix(), 0),
		},
		{
			name:  "Unix timestamp int",
			input: int(now.Unix()),
			want:  time.Unix(now.Unix(), 0),
		},
		{
			name:  "time.Time",
			input: now,
			want:  now,
		},
		{
			name:    "invalid string",
			input:   "not a timestamp",
			wantErr: true,
		},
		{
			name:    "unsupported type",
			input:   true,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("parseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("parseTimestamp() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFillGaps(t *testing.T) {
	tests := []struct {
		name     string
		input    models.Series
		from, to int64
		want     models.Series
	}{
		{
			name:  "no gaps",
			input: models.Series{0: 1, 60: 2, 120: 3},
			from:  0, to: 120,
			want: models.Series{0: 1, 60: 2, 120: 3},
		},
		{
			name:  "gap in middle",
			input: models.Series{0: 1, 120: 3},
			from:  0, to: 180,
			want: models.Series{0: 1, 60: 1, 120: 3, 180: 3},
		},
		{
			name:  "leading gap stays empty",
			input: models.Series{120: 5},
			from:  0, to: 180,
			want: models.Series{120: 5, 180: 5},
		},
		{
			name:  "empty",
			input: models.Series{},
			from:  0, to: 180,
			want: models.Series{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FillGaps(tt.input, tt.from, tt.to, 60)
			if len(got) != len(tt.want) {
				t.Fatalf("FillGaps() = %v, want %v", got, tt.want)
			}
			for tick, v := range tt.want {
				if gv, ok := got[tick]; !ok || gv != v {
					t.Errorf("FillGaps()[%d] = %v (present %v), want %v", tick, gv, ok, v)
				}
			}
		})
	}

	in := models.Series{0: 1}
	_ = FillGaps(in, 0, 120, 60)
	if len(in) != 1 {
		t.Error("FillGaps modified its input")
	}
}
