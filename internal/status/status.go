// Package status provides a thread-safe status tracker for the humidity-fan daemon.
// The event loop writes it; HTTP handlers and lifecycle publishers read it.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/humidity-fan/internal/logic"
)

// NetworkInfo contains network state as written by pi-helper.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	HeartbeatMs    int64
	PollMs         int64 // relay poll interval; 0 with the MQTT actuator backend
	Broker         string
	HTTPAddr       string
	Backend        string
	Mode           string
	Unit           string
	Threshold      float64
	LowerThreshold float64
	AutoDelay      time.Duration
	ManualDelay    time.Duration
	Gate           string
	Actuator       string
	Journal        string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Fan           logic.Status
	Entities      map[string]string
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
	Version       uint64
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu      sync.RWMutex
	snap    Snapshot
	changed chan struct{}
	now     func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Fan:       logic.Status{State: logic.StateIdle},
			StartTime: startTime,
			Config:    cfg,
		},
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

// Update records the controller status and the last known value of every
// watched entity. Called from the event loop after each handled input.
func (t *Tracker) Update(fan logic.Status, entities map[string]string) {
	cp := make(map[string]string, len(entities))
	for k, v := range entities {
		cp[k] = v
	}

	t.mu.Lock()
	t.snap.Fan = fan
	t.snap.Entities = cp
	t.bumpLocked()
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	if t.snap.MQTTConnected != connected {
		t.snap.MQTTConnected = connected
		t.bumpLocked()
	}
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Changed returns a channel that is closed at the next state change.
func (t *Tracker) Changed() <-chan struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.changed
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}

func (t *Tracker) bumpLocked() {
	t.snap.Version++
	close(t.changed)
	t.changed = make(chan struct{})
}
