package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Register kinds exported over Modbus
const (
	RegisterTimestamp = "timestamp" // uint32 epoch seconds, two registers
	RegisterCounter   = "counter"   // uint16 trigger count
	RegisterPercent   = "percent"   // uint16
	RegisterSwitch    = "switch"    // coil / discrete input
)

// ModbusTcpConfig holds Modbus TCP listener settings
type ModbusTcpConfig struct {
	Host    string `yaml:"Host"`
	Port    int    `yaml:"Port"`
	SlaveID byte   `yaml:"SlaveID"`
}

// ModbusRtuConfig holds Modbus RTU serial settings
type ModbusRtuConfig struct {
	Port     string `yaml:"Port"`
	BaudRate int    `yaml:"BaudRate"`
	DataBits int    `yaml:"DataBits"`
	Parity   string `yaml:"Parity"`
	StopBits int    `yaml:"StopBits"`
	SlaveID  byte   `yaml:"SlaveID"`
}

// RegisterConfig maps one Modbus address to a channel
type RegisterConfig struct {
	Address uint16 `yaml:"Address"`
	Channel string `yaml:"Channel"` // full channel UID, e.g. avmfritz:FRITZ_DECT_440:hall:top-left.last-changed
	Kind    string `yaml:"Kind"`
}

// ModbusConfig holds the register export settings
type ModbusConfig struct {
	Enabled   bool             `yaml:"Enabled"`
	Type      string           `yaml:"Type"` // "TCP" or "RTU"
	TCP       ModbusTcpConfig  `yaml:"TCP"`
	RTU       ModbusRtuConfig  `yaml:"RTU"`
	Timeout   int              `yaml:"Timeout"` // ms
	Registers []RegisterConfig `yaml:"Registers"`
}

// MqttConfig holds MQTT client settings
type MqttConfig struct {
	Broker    string `yaml:"Broker"`
	ClientID  string `yaml:"ClientID"`
	Username  string `yaml:"Username"`
	Password  string `yaml:"Password"`
	QoS       int    `yaml:"QoS"`
	KeepAlive int    `yaml:"KeepAlive"` // s
}

// CacheConfig holds channel state cache settings
type CacheConfig struct {
	DefaultTTL      string `yaml:"DefaultTTL"`      // e.g. "24h"
	CleanupInterval string `yaml:"CleanupInterval"` // e.g. "5m"
}

// GetDefaultTTL returns DefaultTTL as a time.Duration
func (c *CacheConfig) GetDefaultTTL() time.Duration {
	d, err := time.ParseDuration(c.DefaultTTL)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// GetCleanupInterval returns CleanupInterval as a time.Duration
func (c *CacheConfig) GetCleanupInterval() time.Duration {
	d, err := time.ParseDuration(c.CleanupInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// HeartbeatConfig holds heartbeat settings
type HeartbeatConfig struct {
	Interval string `yaml:"Interval"` // e.g. "2m"
	Timeout  string `yaml:"Timeout"`  // e.g. "10s"
}

// GetInterval returns Interval as a time.Duration
func (h *HeartbeatConfig) GetInterval() time.Duration {
	d, err := time.ParseDuration(h.Interval)
	if err != nil {
		return 2 * time.Minute
	}
	return d
}

// GetTimeout returns Timeout as a time.Duration
func (h *HeartbeatConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(h.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// DispatchConfig sizes the device update worker pool
type DispatchConfig struct {
	Workers   int    `yaml:"Workers"`
	QueueSize int    `yaml:"QueueSize"` // per worker
	Timeout   string `yaml:"Timeout"`   // per update
}

// GetTimeout returns Timeout as a time.Duration
func (d *DispatchConfig) GetTimeout() time.Duration {
	v, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return v
}

// ForwardConfig tunes the outbound channel event publisher
type ForwardConfig struct {
	BatchSize     int    `yaml:"BatchSize"`
	FlushInterval string `yaml:"FlushInterval"`
	MaxRetries    int    `yaml:"MaxRetries"`
}

// GetFlushInterval returns FlushInterval as a time.Duration
func (f *ForwardConfig) GetFlushInterval() time.Duration {
	d, err := time.ParseDuration(f.FlushInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ThingConfig declares one button thing
type ThingConfig struct {
	UID   string `yaml:"UID"`
	Type  string `yaml:"Type"` // FRITZ_DECT_400, FRITZ_DECT_440, HAN_FUN_BUTTON
	Label string `yaml:"Label"`
	// Channels lists channel ids; empty means the default layout of Type
	Channels []string `yaml:"Channels"`
}

// WritableConfig holds settings that may change at runtime
type WritableConfig struct {
	LogLevel string `yaml:"LogLevel"`
}

// LogConfig holds log file settings
type LogConfig struct {
	FilePath      string `yaml:"FilePath"`
	FileMaxSizeMB int    `yaml:"FileMaxSizeMB"`
	MaxBackups    int    `yaml:"MaxBackups"`
	MaxAgeDays    int    `yaml:"MaxAgeDays"`
}

// ServiceConfig holds service endpoint settings
type ServiceConfig struct {
	Host string `yaml:"Host"`
	Port int    `yaml:"Port"`
}

// AppConfig is the root configuration
type AppConfig struct {
	Writable  WritableConfig  `yaml:"Writable"`
	Log       LogConfig       `yaml:"Log"`
	Service   ServiceConfig   `yaml:"Service"`
	NodeID    string          `yaml:"NodeID"`
	Mqtt      MqttConfig      `yaml:"Mqtt"`
	Modbus    ModbusConfig    `yaml:"Modbus"`
	Cache     CacheConfig     `yaml:"Cache"`
	Heartbeat HeartbeatConfig `yaml:"Heartbeat"`
	Dispatch  DispatchConfig  `yaml:"Dispatch"`
	Forward   ForwardConfig   `yaml:"Forward"`
	Things    []ThingConfig   `yaml:"Things"`
}

// Validate checks the configuration and fills in defaults
func (c *AppConfig) Validate() error {
	if c.NodeID == "" {
		return errors.New("NodeID cannot be empty")
	}
	if c.Mqtt.Broker == "" {
		return errors.New("MQTT Broker cannot be empty")
	}
	if c.Mqtt.ClientID == "" {
		return errors.New("MQTT ClientID cannot be empty")
	}
	if c.Mqtt.QoS < 0 || c.Mqtt.QoS > 2 {
		return errors.New("MQTT QoS must be 0, 1, or 2")
	}
	if c.Mqtt.KeepAlive <= 0 {
		c.Mqtt.KeepAlive = 60
	}

	if err := c.validateThings(); err != nil {
		return err
	}
	if err := c.validateModbus(); err != nil {
		return err
	}

	if c.Cache.DefaultTTL == "" {
		c.Cache.DefaultTTL = "24h"
	}
	if c.Cache.CleanupInterval == "" {
		c.Cache.CleanupInterval = "5m"
	}
	if c.Heartbeat.Interval == "" {
		c.Heartbeat.Interval = "2m"
	}
	if c.Heartbeat.Timeout == "" {
		c.Heartbeat.Timeout = "10s"
	}
	if c.Dispatch.Workers <= 0 {
		c.Dispatch.Workers = 4
	}
	if c.Dispatch.QueueSize <= 0 {
		c.Dispatch.QueueSize = 256
	}
	if c.Dispatch.Timeout == "" {
		c.Dispatch.Timeout = "10s"
	}
	if c.Forward.BatchSize <= 0 {
		c.Forward.BatchSize = 10
	}
	if c.Forward.FlushInterval == "" {
		c.Forward.FlushInterval = "500ms"
	}
	if c.Forward.MaxRetries <= 0 {
		c.Forward.MaxRetries = 3
	}
	if c.Writable.LogLevel == "" {
		c.Writable.LogLevel = "INFO"
	}
	if c.Service.Host == "" {
		c.Service.Host = "localhost"
	}
	if c.Service.Port <= 0 {
		c.Service.Port = 59712
	}

	return nil
}

func (c *AppConfig) validateThings() error {
	seen := make(map[string]struct{}, len(c.Things))
	for i, th := range c.Things {
		if th.UID == "" {
			return fmt.Errorf("Things[%d]: UID cannot be empty", i)
		}
		if th.Type == "" {
			return fmt.Errorf("thing %s: Type cannot be empty", th.UID)
		}
		if _, dup := seen[th.UID]; dup {
			return fmt.Errorf("duplicate thing UID %s", th.UID)
		}
		seen[th.UID] = struct{}{}
	}
	return nil
}

func (c *AppConfig) validateModbus() error {
	if !c.Modbus.Enabled {
		return nil
	}

	switch c.Modbus.Type {
	case "RTU":
		if c.Modbus.RTU.Port == "" {
			return errors.New("Modbus RTU Port cannot be empty")
		}
		if c.Modbus.RTU.BaudRate <= 0 {
			c.Modbus.RTU.BaudRate = 9600
		}
		if c.Modbus.RTU.DataBits <= 0 {
			c.Modbus.RTU.DataBits = 8
		}
		if c.Modbus.RTU.Parity == "" {
			c.Modbus.RTU.Parity = "N"
		}
		if c.Modbus.RTU.StopBits <= 0 {
			c.Modbus.RTU.StopBits = 1
		}
		if c.Modbus.RTU.SlaveID == 0 {
			c.Modbus.RTU.SlaveID = 1
		}
	default:
		c.Modbus.Type = "TCP"
		if c.Modbus.TCP.Host == "" {
			c.Modbus.TCP.Host = "0.0.0.0"
		}
		if c.Modbus.TCP.Port <= 0 {
			c.Modbus.TCP.Port = 502
		}
		if c.Modbus.TCP.SlaveID == 0 {
			c.Modbus.TCP.SlaveID = 1
		}
	}

	coils := make(map[uint16]struct{})
	regs := make(map[uint16]struct{})
	for _, r := range c.Modbus.Registers {
		if r.Channel == "" {
			return fmt.Errorf("Modbus register %d: Channel cannot be empty", r.Address)
		}
		switch r.Kind {
		case RegisterSwitch:
			if _, dup := coils[r.Address]; dup {
				return fmt.Errorf("Modbus coil %d mapped twice", r.Address)
			}
			coils[r.Address] = struct{}{}
		case RegisterCounter, RegisterPercent:
			if _, dup := regs[r.Address]; dup {
				return fmt.Errorf("Modbus register %d mapped twice", r.Address)
			}
			regs[r.Address] = struct{}{}
		case RegisterTimestamp:
			if r.Address == math.MaxUint16 {
				return fmt.Errorf("Modbus register %d: timestamp needs two registers", r.Address)
			}
			for _, a := range []uint16{r.Address, r.Address + 1} {
				if _, dup := regs[a]; dup {
					return fmt.Errorf("Modbus register %d mapped twice", a)
				}
				regs[a] = struct{}{}
			}
		default:
			return fmt.Errorf("Modbus register %d: unknown Kind %q", r.Address, r.Kind)
		}
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file
func LoadConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the configuration used when no file can be loaded
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Writable: WritableConfig{
			LogLevel: "INFO",
		},
		Service: ServiceConfig{
			Host: "localhost",
			Port: 59712,
		},
		NodeID: "fritzbutton-node-001",
		Mqtt: MqttConfig{
			Broker:    "tcp://localhost:1883",
			ClientID:  "app-fritzbutton-go-001",
			QoS:       1,
			KeepAlive: 60,
		},
		Modbus: ModbusConfig{
			Type: "TCP",
			TCP: ModbusTcpConfig{
				Host:    "0.0.0.0",
				Port:    502,
				SlaveID: 1,
			},
		},
		Cache: CacheConfig{
			DefaultTTL:      "24h",
			CleanupInterval: "5m",
		},
		Heartbeat: HeartbeatConfig{
			Interval: "2m",
			Timeout:  "10s",
		},
		Dispatch: DispatchConfig{
			Workers:   4,
			QueueSize: 256,
			Timeout:   "10s",
		},
		Forward: ForwardConfig{
			BatchSize:     10,
			FlushInterval: "500ms",
			MaxRetries:    3,
		},
	}
}
