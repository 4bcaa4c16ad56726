// Command humidity-fan runs a bathroom exhaust fan from the humidity
// difference between the bathroom and the rest of the house.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/humidity-fan/internal/config"
	"github.com/sweeney/humidity-fan/internal/gpio"
	"github.com/sweeney/humidity-fan/internal/journal"
	"github.com/sweeney/humidity-fan/internal/logger"
	"github.com/sweeney/humidity-fan/internal/logic"
	"github.com/sweeney/humidity-fan/internal/mqtt"
	"github.com/sweeney/humidity-fan/internal/schedule"
	"github.com/sweeney/humidity-fan/internal/status"
	"github.com/sweeney/humidity-fan/internal/web"
)

// housekeepingInterval paces heartbeat checks and connectivity refreshes.
const housekeepingInterval = time.Second

func main() {
	cfg, err := config.Load(os.Args[1:], os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "humidity-fan: %v\n", err)
		os.Exit(2)
	}
	if cfg.PrintConfig {
		cfg.Print(os.Stdout)
		return
	}

	log := logger.Get(cfg.LogLevel).SugaredLogger
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatalw("fatal", "err", err)
	}
}

func run(cfg *config.Config, log *zap.SugaredLogger) error {
	if cfg.File != "" {
		log.Infow("loaded config", "file", cfg.File)
	}

	var events eventJournal
	var history web.EventSource
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		defer j.Close()
		events, history = j, j
		log.Infow("journal open", "path", cfg.JournalPath)
	}

	timers := schedule.New(16)
	defer timers.Close()

	client, err := mqtt.NewRealClient(cfg.MQTT.Options(), log)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	var commander logic.Commander = client
	var actuator *gpio.Actuator
	if cfg.Backend == config.BackendGPIO {
		relay, err := gpio.NewRealRelay(cfg.GPIO.RelayPin, cfg.GPIO.ButtonPin, cfg.GPIO.ActiveLow)
		if err != nil {
			return fmt.Errorf("init gpio: %w", err)
		}
		defer relay.Close()
		actuator = gpio.NewActuator(cfg.Controller.Entities.Actuator, relay)
		actuator.SetDebounce(cfg.GPIO.Debounce)
		commander = actuator
	}

	store := logic.NewStore()
	ctl, err := logic.New(cfg.Controller, store, commander, timers, time.Now)
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(client.IsConnected())
	tracker.Update(ctl.Status(), nil)

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := client.PublishSystem(startup); err != nil {
		log.Warnw("publish startup event failed", "err", err)
	} else {
		log.Infow("published startup event")
	}

	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, tracker, history, log)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorw("http server error", "err", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		}()
		log.Infow("http status server listening", "addr", cfg.HTTPAddr)
	}

	logPolicy(log, cfg)

	l := &loop{
		ctl:       ctl,
		store:     store,
		client:    client,
		publisher: client,
		conn:      client,
		actuator:  actuator,
		journal:   events,
		tracker:   tracker,
		log:       log,
		heartbeat: cfg.Heartbeat,
		now:       time.Now,
	}
	if err := l.subscribe(); err != nil {
		return err
	}

	var poll <-chan time.Time
	if actuator != nil {
		t := time.NewTicker(cfg.GPIO.Poll)
		defer t.Stop()
		poll = t.C
	}
	tick := time.NewTicker(housekeepingInterval)
	defer tick.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	return l.run(inputs{
		updates: client.Updates(),
		timers:  timers.C(),
		poll:    poll,
		tick:    tick.C,
		sig:     sigCh,
	})
}

func statusConfig(cfg *config.Config) status.Config {
	c := cfg.Controller
	sc := status.Config{
		HeartbeatMs:    cfg.Heartbeat.Milliseconds(),
		Broker:         cfg.MQTT.Broker,
		HTTPAddr:       cfg.HTTPAddr,
		Backend:        cfg.Backend,
		Mode:           string(c.Mode),
		Unit:           string(c.Unit),
		Threshold:      c.Threshold,
		LowerThreshold: c.LowerThreshold,
		AutoDelay:      c.AutoDelay,
		ManualDelay:    c.ManualDelay,
		Gate:           c.Entities.Gate,
		Actuator:       c.Entities.Actuator,
		Journal:        cfg.JournalPath,
	}
	if cfg.Backend == config.BackendGPIO {
		sc.PollMs = cfg.GPIO.Poll.Milliseconds()
	}
	return sc
}

func logPolicy(log *zap.SugaredLogger, cfg *config.Config) {
	c := cfg.Controller
	gate := c.Entities.Gate
	if gate == "" {
		gate = "(always enabled)"
	}
	log.Infow("started",
		"actuator", c.Entities.Actuator,
		"backend", cfg.Backend,
		"gate", gate,
		"differential", c.Mode,
		"unit", c.Unit,
		"threshold", c.Threshold,
		"lower_threshold", c.LowerThreshold,
		"auto_delay", c.AutoDelay,
		"manual_delay", c.ManualDelay,
		"broker", cfg.MQTT.Broker,
		"heartbeat", cfg.Heartbeat,
	)
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
