package status

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string        `json:"event,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	State         string        `json:"state"`
	Enabled       bool          `json:"enabled"`
	Actuator      string        `json:"actuator"`
	ReadingsValid bool          `json:"readings_valid"`
	Differential  *float64      `json:"differential,omitempty"`
	Readings      *ReadingsJSON `json:"readings,omitempty"`
	Timers        TimersJSON    `json:"timers"`
	Entities      []EntityJSON  `json:"entities,omitempty"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	StartTime     string        `json:"start_time"`
	Timestamp     string        `json:"timestamp"`
	MQTT          MQTTStatus    `json:"mqtt"`
	Counts        CountsJSON    `json:"event_counts"`
	Network       *NetworkJSON  `json:"network,omitempty"`
	Config        ConfigJSON    `json:"config"`
}

// ZoneJSON is one zone's humidity and temperature.
type ZoneJSON struct {
	Humidity    float64 `json:"humidity"`
	Temperature float64 `json:"temperature"`
}

// ReadingsJSON holds the last valid sensor snapshot.
type ReadingsJSON struct {
	Bathroom ZoneJSON `json:"bathroom"`
	Living   ZoneJSON `json:"living"`
}

// TimerJSON describes a pending shutoff.
type TimerJSON struct {
	Deadline         string  `json:"deadline"`
	RemainingSeconds int64   `json:"remaining_seconds"`
	Differential     float64 `json:"differential"`
}

// TimersJSON lists the pending shutoffs.
type TimersJSON struct {
	AutoShutoff   *TimerJSON `json:"auto_shutoff"`
	ManualShutoff *TimerJSON `json:"manual_shutoff"`
}

// EntityJSON is a watched entity and its last known value.
type EntityJSON struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	AutoOn          int `json:"auto_on"`
	ManualOn        int `json:"manual_on"`
	ManualOff       int `json:"manual_off"`
	Override        int `json:"override"`
	Shutoff         int `json:"shutoff"`
	Deferred        int `json:"shutoff_deferred"`
	InvalidReadings int `json:"invalid_readings"`
	CommandFailed   int `json:"command_failed"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Backend            string  `json:"actuator_backend"`
	Actuator           string  `json:"actuator"`
	Gate               string  `json:"gate,omitempty"`
	Mode               string  `json:"differential"`
	Unit               string  `json:"temperature_unit"`
	Threshold          float64 `json:"threshold"`
	LowerThreshold     float64 `json:"lower_threshold"`
	AutoDelaySeconds   int64   `json:"auto_delay_seconds"`
	ManualDelaySeconds int64   `json:"manual_delay_seconds"`
	HeartbeatMs        int64   `json:"heartbeat_ms"`
	PollMs             int64   `json:"poll_ms,omitempty"`
	Broker             string  `json:"broker"`
	HTTPAddr           string  `json:"http_addr"`
	Journal            string  `json:"journal,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	fan := snap.Fan
	state := string(fan.State)
	if state == "" {
		state = "UNKNOWN"
	}
	actuator := fan.Actuator
	if actuator == "" {
		actuator = "unknown"
	}

	inner := StatusInner{
		State:         state,
		Enabled:       fan.Enabled,
		Actuator:      actuator,
		ReadingsValid: fan.ReadingsValid,
		Timers: TimersJSON{
			AutoShutoff:   buildTimer(fan.AutoShutoff, snap.Now),
			ManualShutoff: buildTimer(fan.ManualShutoff, snap.Now),
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			AutoOn:          fan.Counts.AutoOn,
			ManualOn:        fan.Counts.ManualOn,
			ManualOff:       fan.Counts.ManualOff,
			Override:        fan.Counts.Override,
			Shutoff:         fan.Counts.Shutoff,
			Deferred:        fan.Counts.Deferred,
			InvalidReadings: fan.Counts.InvalidReadings,
			CommandFailed:   fan.Counts.CommandFailed,
		},
		Config: ConfigJSON{
			Backend:            snap.Config.Backend,
			Actuator:           snap.Config.Actuator,
			Gate:               snap.Config.Gate,
			Mode:               snap.Config.Mode,
			Unit:               snap.Config.Unit,
			Threshold:          snap.Config.Threshold,
			LowerThreshold:     snap.Config.LowerThreshold,
			AutoDelaySeconds:   int64(snap.Config.AutoDelay / time.Second),
			ManualDelaySeconds: int64(snap.Config.ManualDelay / time.Second),
			HeartbeatMs:        snap.Config.HeartbeatMs,
			PollMs:             snap.Config.PollMs,
			Broker:             snap.Config.Broker,
			HTTPAddr:           snap.Config.HTTPAddr,
			Journal:            snap.Config.Journal,
		},
	}

	// Readings are only meaningful once a full snapshot has been taken.
	if !fan.LastEvaluatedAt.IsZero() {
		d := round3(fan.Differential)
		inner.Differential = &d
		inner.Readings = &ReadingsJSON{
			Bathroom: ZoneJSON{Humidity: fan.Readings.Bathroom.Humidity, Temperature: fan.Readings.Bathroom.Temperature},
			Living:   ZoneJSON{Humidity: fan.Readings.Living.Humidity, Temperature: fan.Readings.Living.Temperature},
		}
	}

	ids := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		inner.Entities = append(inner.Entities, EntityJSON{ID: id, Value: snap.Entities[id]})
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
}

func buildTimer(p *logic.PendingTimer, now time.Time) *TimerJSON {
	if p == nil {
		return nil
	}
	remaining := p.Deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return &TimerJSON{
		Deadline:         p.Deadline.UTC().Format(time.RFC3339),
		RemainingSeconds: int64(remaining.Round(time.Second) / time.Second),
		Differential:     round3(p.Differential),
	}
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
