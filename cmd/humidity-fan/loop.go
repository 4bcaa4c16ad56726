package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/gpio"
	"github.com/sweeney/humidity-fan/internal/logic"
	"github.com/sweeney/humidity-fan/internal/mqtt"
	"github.com/sweeney/humidity-fan/internal/status"
)

const journalTimeout = 2 * time.Second

type eventJournal interface {
	Append(ctx context.Context, e logic.Event) error
}

// loop owns the controller. Every input is handled to completion on the
// goroutine running run, so nothing here is locked.
type loop struct {
	ctl       *logic.Controller
	store     *logic.Store
	client    mqtt.EntityClient
	publisher mqtt.Publisher
	conn      mqtt.ConnectionStatus
	actuator  *gpio.Actuator // nil with the MQTT backend
	journal   eventJournal   // nil when disabled
	tracker   *status.Tracker
	log       *zap.SugaredLogger
	heartbeat time.Duration
	now       func() time.Time

	subscribed []string
	reported   bool
}

type inputs struct {
	updates <-chan mqtt.Update
	timers  <-chan logic.TimerFired
	poll    <-chan time.Time // nil without a relay
	tick    <-chan time.Time
	sig     <-chan os.Signal
}

// subscribe requests every watched entity from the broker. A relay-backed
// actuator is polled instead.
func (l *loop) subscribe() error {
	for _, e := range l.ctl.WatchedEntities() {
		if l.actuator != nil && e == l.actuator.Entity() {
			continue
		}
		if err := l.client.Subscribe(e); err != nil {
			return fmt.Errorf("subscribe %s: %w", e, err)
		}
		l.subscribed = append(l.subscribed, e)
	}
	l.log.Infow("subscribed", "entities", l.subscribed)
	return nil
}

func (l *loop) unsubscribe() {
	for _, e := range l.subscribed {
		if err := l.client.Unsubscribe(e); err != nil {
			l.log.Warnw("unsubscribe failed", "entity", e, "err", err)
		}
	}
	l.subscribed = nil
}

func (l *loop) run(in inputs) error {
	for {
		select {
		case s := <-in.sig:
			l.shutdown(s)
			return nil

		case u := <-in.updates:
			l.apply(u.Entity, u.Value)

		case f := <-in.timers:
			l.handle(l.ctl.HandleTimer(f))

		case <-in.poll:
			l.pollRelay()

		case <-in.tick:
			l.housekeeping()
		}
	}
}

func (l *loop) pollRelay() {
	v, err := l.actuator.Poll()
	if err != nil {
		l.log.Warnw("relay read error", "err", err)
		return
	}
	l.apply(l.actuator.Entity(), v)
}

func (l *loop) apply(entity, value string) {
	ch, changed := l.store.Apply(entity, value)
	if !changed {
		return
	}
	l.log.Debugw("entity changed", "entity", ch.Entity, "old", ch.Old, "new", ch.New)
	l.handle(l.ctl.HandleChange(ch))
	l.reportWhenComplete()
}

// reportWhenComplete logs every watched value once all of them have arrived.
func (l *loop) reportWhenComplete() {
	if l.reported {
		return
	}
	values := l.entityValues()
	for _, e := range l.ctl.WatchedEntities() {
		if _, ok := values[e]; !ok {
			return
		}
	}
	l.reported = true

	kv := make([]interface{}, 0, 2*len(values))
	for _, e := range l.ctl.WatchedEntities() {
		kv = append(kv, e, values[e])
	}
	l.log.Infow("all entities reported", kv...)
}

func (l *loop) handle(events []logic.Event) {
	commanded := false
	for _, e := range events {
		if e.Type == logic.EventAutoOn || e.Type == logic.EventShutoff {
			commanded = true
		}
		l.logEvent(e)
		if err := l.publisher.Publish(e); err != nil {
			l.log.Warnw("publish error", "event", e.Type, "err", err)
		}
		if l.journal != nil {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			if err := l.journal.Append(ctx, e); err != nil {
				l.log.Warnw("journal append failed", "event", e.Type, "err", err)
			}
			cancel()
		}
	}
	l.refresh()

	// A relay has no broker echo; read it back so the store sees the command.
	if commanded && l.actuator != nil {
		l.pollRelay()
	}
}

func (l *loop) logEvent(e logic.Event) {
	cfg := l.ctl.Config()
	fields := []interface{}{"event", e.Type, "state", e.State}
	if e.HasDifferential {
		fields = append(fields, "differential", fmt.Sprintf("%.3f", e.Differential))
	}
	if e.Timer != "" {
		fields = append(fields, "timer", e.Timer)
	}
	if e.Entity != "" {
		fields = append(fields, "entity", e.Entity)
	}
	if e.Detail != "" {
		fields = append(fields, "detail", e.Detail)
	}

	switch e.Type {
	case logic.EventInvalidReadings, logic.EventCommandFailed:
		l.log.Warnw(describe(e, cfg), fields...)
	case logic.EventShutoffScheduled, logic.EventShutoffCancelled:
		l.log.Debugw(describe(e, cfg), fields...)
	default:
		l.log.Infow(describe(e, cfg), fields...)
	}
}

// describe renders an event as a sentence naming the actuator.
func describe(e logic.Event, cfg logic.Config) string {
	fan := cfg.Entities.Actuator
	switch e.Type {
	case logic.EventAutoOn:
		return fmt.Sprintf("turning on %s: differential above %.3f", fan, cfg.Threshold)
	case logic.EventManualOn:
		return fmt.Sprintf("%s turned on manually", fan)
	case logic.EventManualOff:
		return fmt.Sprintf("%s turned off manually", fan)
	case logic.EventOverride:
		return fmt.Sprintf("%s switched off by hand during automatic activation", fan)
	case logic.EventShutoffScheduled:
		delay := cfg.AutoDelay
		if e.Timer == logic.TimerManualShutoff.String() {
			delay = cfg.ManualDelay
		}
		return fmt.Sprintf("turning off %s in %v", fan, delay)
	case logic.EventShutoffCancelled:
		return fmt.Sprintf("keeping %s on", fan)
	case logic.EventShutoff:
		return fmt.Sprintf("turning off %s", fan)
	case logic.EventShutoffDeferred:
		return fmt.Sprintf("leaving %s on: still humid", fan)
	case logic.EventGateOn:
		return "automatic control enabled"
	case logic.EventGateOff:
		return "automatic control disabled"
	case logic.EventInvalidReadings:
		return "skipping evaluation: sensor readings unavailable"
	case logic.EventCommandFailed:
		return fmt.Sprintf("command to %s failed", fan)
	}
	return "controller event"
}

func (l *loop) entityValues() map[string]string {
	values := make(map[string]string)
	for _, e := range l.ctl.WatchedEntities() {
		if v, ok := l.store.Value(e); ok {
			values[e] = v
		}
	}
	return values
}

func (l *loop) refresh() {
	if l.tracker == nil {
		return
	}
	if l.conn != nil {
		l.tracker.SetMQTTConnected(l.conn.IsConnected())
	}
	l.tracker.Update(l.ctl.Status(), l.entityValues())
}

func (l *loop) housekeeping() {
	if l.tracker != nil && l.conn != nil {
		l.tracker.SetMQTTConnected(l.conn.IsConnected())
	}

	hb := l.ctl.CheckHeartbeat(l.now(), l.heartbeat)
	if hb == nil {
		return
	}
	l.log.Infow("heartbeat",
		"uptime", hb.Uptime.Truncate(time.Second),
		"state", l.ctl.State(),
		"auto_on", hb.Counts.AutoOn,
		"manual_on", hb.Counts.ManualOn,
		"shutoff", hb.Counts.Shutoff,
		"invalid_readings", hb.Counts.InvalidReadings,
		"command_failed", hb.Counts.CommandFailed,
	)

	event := mqtt.SystemEvent{
		Timestamp: hb.Timestamp,
		Event:     "HEARTBEAT",
	}
	if l.tracker != nil {
		if net := readNetworkInfo(); net != nil {
			l.tracker.SetNetwork(net)
		}
		l.refresh()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("heartbeat publish error", "err", err)
	}
}

func (l *loop) shutdown(s os.Signal) {
	l.log.Infow("shutting down", "signal", s)
	l.handle(l.ctl.Shutdown())
	l.unsubscribe()

	signalName := "UNKNOWN"
	switch s {
	case syscall.SIGINT:
		signalName = "SIGINT"
	case syscall.SIGTERM:
		signalName = "SIGTERM"
	}
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    signalName,
		Retained:  true,
	}
	if l.tracker != nil {
		l.refresh()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", signalName)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warnw("publish shutdown event failed", "err", err)
	} else {
		l.log.Infow("published shutdown event")
	}
}
