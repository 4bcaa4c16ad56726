// Package config loads daemon settings from flags, environment and
// humidity-fan.yaml.
//
// Precedence, highest first: command-line flags, HUMIDITY_FAN_* environment
// variables, the config file, built-in defaults. Nested keys map to
// environment names with "." replaced by "_", so mqtt.broker is
// HUMIDITY_FAN_MQTT_BROKER.
package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sweeney/humidity-fan/internal/gpio"
	"github.com/sweeney/humidity-fan/internal/logger"
	"github.com/sweeney/humidity-fan/internal/logic"
	"github.com/sweeney/humidity-fan/internal/mqtt"
)

// Actuator backends.
const (
	BackendMQTT = "mqtt"
	BackendGPIO = "gpio"
)

const (
	configName = "humidity-fan"
	envPrefix  = "HUMIDITY_FAN"
	systemDir  = "/etc/humidity-fan"
)

// MQTT holds broker connection and topic settings.
type MQTT struct {
	Broker        string
	ClientID      string
	Username      string
	Password      string
	StatePrefix   string
	CommandPrefix string
	EventTopic    string
	SystemTopic   string
	OutboxSize    int
}

// Options converts the settings to client options.
func (m MQTT) Options() mqtt.Options {
	return mqtt.Options{
		Broker:        m.Broker,
		ClientID:      m.ClientID,
		Username:      m.Username,
		Password:      m.Password,
		StatePrefix:   m.StatePrefix,
		CommandPrefix: m.CommandPrefix,
		EventTopic:    m.EventTopic,
		SystemTopic:   m.SystemTopic,
		OutboxSize:    m.OutboxSize,
	}
}

// GPIO holds the directly-wired relay settings.
type GPIO struct {
	RelayPin  int
	ButtonPin int // gpio.NoButton when absent
	ActiveLow bool
	Poll      time.Duration
	Debounce  time.Duration // wall button
}

// Config is the complete daemon configuration.
type Config struct {
	Controller  logic.Config
	MQTT        MQTT
	Backend     string
	GPIO        GPIO
	HTTPAddr    string // empty disables the status server
	Heartbeat   time.Duration
	JournalPath string // empty disables the journal
	LogLevel    string
	PrintConfig bool
	File        string // config file actually read, if any
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("temperature_unit", "F")
	v.SetDefault("differential", string(logic.ModeAbsoluteHumidity))
	v.SetDefault("actuator_backend", BackendMQTT)

	v.SetDefault("mqtt.broker", "tcp://192.168.1.200:1883")
	v.SetDefault("mqtt.client_id", "humidity-fan")
	v.SetDefault("mqtt.state_prefix", mqtt.DefaultStatePrefix)
	v.SetDefault("mqtt.command_prefix", mqtt.DefaultCommandPrefix)
	v.SetDefault("mqtt.event_topic", mqtt.DefaultEventTopic)
	v.SetDefault("mqtt.system_topic", mqtt.DefaultSystemTopic)
	v.SetDefault("mqtt.outbox_size", 100)

	v.SetDefault("gpio.relay_pin", gpio.DefaultPinRelay)
	v.SetDefault("gpio.button_pin", gpio.DefaultPinButton)
	v.SetDefault("gpio.active_low", false)
	v.SetDefault("gpio.poll", 100*time.Millisecond)
	v.SetDefault("gpio.debounce", 50*time.Millisecond)

	v.SetDefault("http", ":80")
	v.SetDefault("heartbeat", 15*time.Minute)
	v.SetDefault("journal.path", "")
	v.SetDefault("log_level", logger.InfoLevel)
}

// newFlagSet declares the command-line flags. Only process-level switches are
// flags; policy lives in the config file.
func newFlagSet(out io.Writer) *pflag.FlagSet {
	fs := pflag.NewFlagSet(configName, pflag.ContinueOnError)
	fs.SetOutput(out)
	fs.String("config", "", "path to config file (default: search ./ and "+systemDir+" for "+configName+".yaml)")
	fs.String("log-level", logger.InfoLevel, "log level: debug, info, warn, error")
	fs.Bool("print-config", false, "print the resolved configuration and exit")
	return fs
}

// Load parses args and reads configuration from every source. args excludes
// the program name. A missing config file is only an error when --config
// names one explicitly.
func Load(args []string, errOut io.Writer) (*Config, error) {
	fs := newFlagSet(errOut)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return nil, fmt.Errorf("bind log-level: %w", err)
	}

	path, _ := fs.GetString("config")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(systemDir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}
	cfg.PrintConfig, _ = fs.GetBool("print-config")
	cfg.File = v.ConfigFileUsed()
	return cfg, nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	var errs []error

	for _, key := range []string{"threshold", "lower_threshold", "auto_delay_seconds", "manual_delay_seconds"} {
		if !v.IsSet(key) {
			errs = append(errs, fmt.Errorf("%s is required", key))
		}
	}
	threshold := number(v, "threshold", &errs)
	lower := number(v, "lower_threshold", &errs)
	autoDelay := seconds(v, "auto_delay_seconds", &errs)
	manualDelay := seconds(v, "manual_delay_seconds", &errs)

	unit, err := logic.ParseTemperatureUnit(v.GetString("temperature_unit"))
	if err != nil {
		errs = append(errs, err)
	}
	mode, err := logic.ParseDifferentialMode(v.GetString("differential"))
	if err != nil {
		errs = append(errs, err)
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("actuator_backend")))
	if backend != BackendMQTT && backend != BackendGPIO {
		errs = append(errs, fmt.Errorf("actuator_backend %q must be %s or %s", backend, BackendMQTT, BackendGPIO))
	}

	level := strings.ToLower(v.GetString("log_level"))
	if !logger.ValidLevel(level) {
		errs = append(errs, fmt.Errorf("log level %q must be debug, info, warn or error", level))
	}

	controller := logic.Config{
		Entities: logic.Entities{
			Gate:                strings.TrimSpace(v.GetString("gate")),
			BathroomHumidity:    strings.TrimSpace(v.GetString("bathroom_humidity_sensor")),
			BathroomTemperature: strings.TrimSpace(v.GetString("bathroom_temperature_sensor")),
			LivingHumidity:      strings.TrimSpace(v.GetString("living_humidity_sensor")),
			LivingTemperature:   strings.TrimSpace(v.GetString("living_temperature_sensor")),
			Actuator:            strings.TrimSpace(v.GetString("actuator")),
		},
		Unit:           unit,
		Mode:           mode,
		Threshold:      threshold,
		LowerThreshold: lower,
		AutoDelay:      autoDelay,
		ManualDelay:    manualDelay,
	}
	if len(errs) == 0 {
		if err := controller.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Controller: controller,
		MQTT: MQTT{
			Broker:        v.GetString("mqtt.broker"),
			ClientID:      v.GetString("mqtt.client_id"),
			Username:      v.GetString("mqtt.username"),
			Password:      v.GetString("mqtt.password"),
			StatePrefix:   strings.TrimSuffix(v.GetString("mqtt.state_prefix"), "/"),
			CommandPrefix: strings.TrimSuffix(v.GetString("mqtt.command_prefix"), "/"),
			EventTopic:    v.GetString("mqtt.event_topic"),
			SystemTopic:   v.GetString("mqtt.system_topic"),
			OutboxSize:    v.GetInt("mqtt.outbox_size"),
		},
		Backend: backend,
		GPIO: GPIO{
			RelayPin:  v.GetInt("gpio.relay_pin"),
			ButtonPin: v.GetInt("gpio.button_pin"),
			ActiveLow: v.GetBool("gpio.active_low"),
			Poll:      v.GetDuration("gpio.poll"),
			Debounce:  v.GetDuration("gpio.debounce"),
		},
		HTTPAddr:    v.GetString("http"),
		Heartbeat:   v.GetDuration("heartbeat"),
		JournalPath: v.GetString("journal.path"),
		LogLevel:    level,
	}

	if cfg.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if cfg.Heartbeat < 0 {
		errs = append(errs, fmt.Errorf("heartbeat must not be negative, got %v", cfg.Heartbeat))
	}
	if backend == BackendGPIO && cfg.GPIO.Poll <= 0 {
		errs = append(errs, fmt.Errorf("gpio.poll must be positive, got %v", cfg.GPIO.Poll))
	}
	if cfg.GPIO.Debounce < 0 {
		errs = append(errs, fmt.Errorf("gpio.debounce must not be negative, got %v", cfg.GPIO.Debounce))
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// number reads a required numeric key. GetFloat64 would read bad text as 0.
func number(v *viper.Viper, key string, errs *[]error) float64 {
	if !v.IsSet(key) {
		return 0
	}
	f, err := cast.ToFloat64E(v.Get(key))
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*errs = append(*errs, fmt.Errorf("%s must be a number, got %v", key, v.Get(key)))
		return 0
	}
	return f
}

// seconds reads a required whole number of seconds.
func seconds(v *viper.Viper, key string, errs *[]error) time.Duration {
	if !v.IsSet(key) {
		return 0
	}
	f, err := cast.ToFloat64E(v.Get(key))
	if err != nil || f != math.Trunc(f) || math.IsInf(f, 0) {
		*errs = append(*errs, fmt.Errorf("%s must be a whole number of seconds, got %v", key, v.Get(key)))
		return 0
	}
	return time.Duration(f) * time.Second
}

// Print writes the resolved configuration, password redacted.
func (c *Config) Print(w io.Writer) {
	e := c.Controller.Entities
	password := ""
	if c.MQTT.Password != "" {
		password = "(redacted)"
	}
	file := c.File
	if file == "" {
		file = "(none)"
	}
	fmt.Fprintf(w, "config_file: %s\n", file)
	fmt.Fprintf(w, "gate: %s\n", e.Gate)
	fmt.Fprintf(w, "bathroom_humidity_sensor: %s\n", e.BathroomHumidity)
	fmt.Fprintf(w, "bathroom_temperature_sensor: %s\n", e.BathroomTemperature)
	fmt.Fprintf(w, "living_humidity_sensor: %s\n", e.LivingHumidity)
	fmt.Fprintf(w, "living_temperature_sensor: %s\n", e.LivingTemperature)
	fmt.Fprintf(w, "actuator: %s\n", e.Actuator)
	fmt.Fprintf(w, "actuator_backend: %s\n", c.Backend)
	fmt.Fprintf(w, "differential: %s\n", c.Controller.Mode)
	fmt.Fprintf(w, "temperature_unit: %s\n", c.Controller.Unit)
	fmt.Fprintf(w, "threshold: %v\n", c.Controller.Threshold)
	fmt.Fprintf(w, "lower_threshold: %v\n", c.Controller.LowerThreshold)
	fmt.Fprintf(w, "auto_delay_seconds: %d\n", int64(c.Controller.AutoDelay/time.Second))
	fmt.Fprintf(w, "manual_delay_seconds: %d\n", int64(c.Controller.ManualDelay/time.Second))
	fmt.Fprintf(w, "mqtt.broker: %s\n", c.MQTT.Broker)
	fmt.Fprintf(w, "mqtt.client_id: %s\n", c.MQTT.ClientID)
	fmt.Fprintf(w, "mqtt.username: %s\n", c.MQTT.Username)
	fmt.Fprintf(w, "mqtt.password: %s\n", password)
	fmt.Fprintf(w, "mqtt.state_prefix: %s\n", c.MQTT.StatePrefix)
	fmt.Fprintf(w, "mqtt.command_prefix: %s\n", c.MQTT.CommandPrefix)
	fmt.Fprintf(w, "mqtt.event_topic: %s\n", c.MQTT.EventTopic)
	fmt.Fprintf(w, "mqtt.system_topic: %s\n", c.MQTT.SystemTopic)
	fmt.Fprintf(w, "mqtt.outbox_size: %d\n", c.MQTT.OutboxSize)
	if c.Backend == BackendGPIO {
		fmt.Fprintf(w, "gpio.relay_pin: %d\n", c.GPIO.RelayPin)
		fmt.Fprintf(w, "gpio.button_pin: %d\n", c.GPIO.ButtonPin)
		fmt.Fprintf(w, "gpio.active_low: %t\n", c.GPIO.ActiveLow)
		fmt.Fprintf(w, "gpio.poll: %v\n", c.GPIO.Poll)
		fmt.Fprintf(w, "gpio.debounce: %v\n", c.GPIO.Debounce)
	}
	fmt.Fprintf(w, "http: %s\n", c.HTTPAddr)
	fmt.Fprintf(w, "heartbeat: %v\n", c.Heartbeat)
	fmt.Fprintf(w, "journal.path: %s\n", c.JournalPath)
	fmt.Fprintf(w, "log_level: %s\n", c.LogLevel)
}
