package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/HatiCode/gridservices/pkg/models"
	"github.com/HatiCode/gridservices/pkg/services"
)

func TestNewServiceHostClient(t *testing.T) {
	c := NewServiceHostClient("http://localhost:8080")
	if c.baseURL != "http://localhost:8080" {
		t.Errorf("baseURL = %q, want %q", c.baseURL, "http://localhost:8080")
	}
	if c.httpClient.Timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", c.httpClient.Timeout)
	}

	c = NewServiceHostClientWithTimeout("http://localhost:8080", time.Second)
	if c.httpClient.Timeout != time.Second {
		t.Errorf("timeout = %v, want 1s", c.httpClient.Timeout)
	}
}

func TestListServices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "heartbeat" || q.Get("plantId") != "p1" || q.Has("appId") {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(listResponse{Services: []services.Record{
			{ID: "a", Type: services.KindHeartbeat, PlantID: "p1", SampleTime: 60, Initialized: true},
		}})
	}))
	defer server.Close()

	c := NewServiceHostClient(server.URL)
	got, err := c.ListServices(context.Background(), services.Filter{Type: services.KindHeartbeat, PlantID: "p1"})
	if err != nil {
		t.Fatalf("ListServices() error = %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" || got[0].SampleTime != 60 {
		t.Errorf("ListServices() = %+v", got)
	}
}

func TestGetForecast(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/services/svc-1/forecast" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_ = json.NewEncoder(w).Encode(services.Output{
			Tick: 3060,
			Kind: services.KindLoadMonitoring,
			Forecast: &models.LoadForecast{
				Tick:            3060,
				PredictedEnergy: 55,
				PredictedPower:  660,
			},
		})
	}))
	defer server.Close()

	out, err := NewServiceHostClient(server.URL).GetForecast(context.Background(), "svc-1")
	if err != nil {
		t.Fatalf("GetForecast() error = %v", err)
	}
	if out.Tick != 3060 || out.Forecast == nil || out.Forecast.PredictedPower != 660 {
		t.Errorf("GetForecast() = %+v", out)
	}
}

func TestCreateAndUpdate(t *testing.T) {
	var gotDoc services.Document
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &gotDoc); err != nil {
			t.Errorf("decode request: %v", err)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/services":
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(services.Record{ID: "new", Type: gotDoc.ServiceType})
		case r.Method == http.MethodPut && r.URL.Path == "/services/new/config":
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	c := NewServiceHostClient(server.URL)
	ctx := context.Background()
	rec, err := c.CreateService(ctx, services.Document{ServiceType: services.KindHeartbeat, SampleTime: 5})
	if err != nil {
		t.Fatalf("CreateService() error = %v", err)
	}
	if rec.ID != "new" || gotDoc.SampleTime != 5 {
		t.Errorf("CreateService() = %+v, sent %+v", rec, gotDoc)
	}

	if err := c.UpdateConfig(ctx, "new", services.Document{SampleTime: 10}); err != nil {
		t.Fatalf("UpdateConfig() error = %v", err)
	}
	if gotDoc.SampleTime != 10 {
		t.Errorf("sent %+v", gotDoc)
	}
}

func TestStatusErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantNotFnd bool
		wantMsg    string
	}{
		{"not found", http.StatusNotFound, `{"error":"service not found: x"}`, true, "service not found: x"},
		{"not initialized", http.StatusServiceUnavailable, `{"error":"not initialized"}`, false, "not initialized"},
		{"bad request", http.StatusBadRequest, `{"error":"invalid"}`, false, "invalid"},
		{"no body", http.StatusInternalServerError, ``, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewServiceHostClient(server.URL).GetService(context.Background(), "x")
			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatalf("GetService() error = %v, want *StatusError", err)
			}
			if se.StatusCode != tt.status || se.Message != tt.wantMsg {
				t.Errorf("StatusError = %+v", se)
			}
			if IsNotFound(err) != tt.wantNotFnd {
				t.Errorf("IsNotFound() = %v, want %v", IsNotFound(err), tt.wantNotFnd)
			}
		})
	}
}

func TestEmptyID(t *testing.T) {
	c := NewServiceHostClient("http://localhost:1")
	ctx := context.Background()
	if _, err := c.GetService(ctx, ""); err == nil {
		t.Error("GetService(\"\") error = nil")
	}
	if _, err := c.GetForecast(ctx, ""); err == nil {
		t.Error("GetForecast(\"\") error = nil")
	}
	if err := c.DeleteService(ctx, ""); err == nil {
		t.Error("DeleteService(\"\") error = nil")
	}
}

func TestRequestTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	c := NewServiceHostClientWithTimeout(server.URL, 20*time.Millisecond)
	if err := c.DeleteService(context.Background(), "x"); err == nil {
		t.Error("DeleteService() error = nil, want timeout")
	}
}
