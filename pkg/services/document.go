package services

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/HatiCode/gridservices/pkg/models"
	"github.com/HatiCode/gridservices/pkg/storage"
)

// Kind tags a service variant.
type Kind string

const (
	KindLoadMonitoring Kind = "load_monitoring"
	KindHeartbeat      Kind = "heartbeat"
)

// Storage layout: one configuration document and one output document per service.
var (
	ConfigNamespace = storage.Namespace{Prefix: "services/", Suffix: "/config.json"}
	OutputNamespace = storage.Namespace{Prefix: "services/", Suffix: "/forecast.json"}
)

// Document is the persisted configuration of a service.
// Type-specific fields live under Settings.
type Document struct {
	ServiceType Kind            `json:"serviceType"`
	SampleTime  int64           `json:"sampleTime"`
	AppID       string          `json:"appId,omitempty"`
	PlantID     string          `json:"plantId,omitempty"`
	Settings    json.RawMessage `json:"settings,omitempty"`
}

// Clone returns a copy of d that shares no memory with it.
func (d Document) Clone() Document {
	if d.Settings != nil {
		d.Settings = bytes.Clone(d.Settings)
	}
	return d
}

// Record is the runtime view of a registered service.
type Record struct {
	ID              string `json:"id"`
	Type            Kind   `json:"type"`
	AppID           string `json:"appId,omitempty"`
	PlantID         string `json:"plantId,omitempty"`
	SampleTime      int64  `json:"sampleTime"`
	Initialized     bool   `json:"initialized"`
	InitTick        *int64 `json:"initTick,omitempty"`
	LastRefreshTick *int64 `json:"lastRefreshTick,omitempty"`
}

// Output is the latest result persisted by a service's refresh hook.
type Output struct {
	Tick     int64                `json:"tick"`
	Kind     Kind                 `json:"kind"`
	Forecast *models.LoadForecast `json:"forecast,omitempty"`
}

// Clone returns a copy of o that shares no memory with it.
func (o Output) Clone() Output {
	if o.Forecast != nil {
		f := *o.Forecast
		f.Historical = slices.Clone(f.Historical)
		f.Predicted = slices.Clone(f.Predicted)
		o.Forecast = &f
	}
	return o
}

// Filter selects services in List. Empty fields match everything.
type Filter struct {
	Type    Kind
	AppID   string
	PlantID string
}

func (f Filter) matches(r Record) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.AppID != "" && r.AppID != f.AppID {
		return false
	}
	if f.PlantID != "" && r.PlantID != f.PlantID {
		return false
	}
	return true
}

// Validate checks doc against the built-in variant table.
func Validate(doc Document) error {
	return validate(defaultVariants, doc)
}

func validate(variants map[Kind]Handlers, doc Document) error {
	h, ok := variants[doc.ServiceType]
	if !ok {
		if doc.ServiceType == "" {
			return configErr("", "serviceType is required")
		}
		return configErr(doc.ServiceType, "unknown service type")
	}
	if doc.SampleTime <= 0 {
		return configErr(doc.ServiceType, "sampleTime must be positive, got %d", doc.SampleTime)
	}
	if h.Validate != nil {
		if err := h.Validate(doc); err != nil {
			return configErr(doc.ServiceType, "%v", err)
		}
	}
	return nil
}
