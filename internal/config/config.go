// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config defines the global configuration structure
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Link     LinkConfig     `mapstructure:"link"`
	Loop     LoopConfig     `mapstructure:"loop"`
	Drives   []DriveConfig  `mapstructure:"drives"`
	Emulator EmulatorConfig `mapstructure:"emulator"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"` // debug, info, warn, error
	File  string `mapstructure:"file"`  // Log file path
}

// LinkConfig defines the connection to the drive bus
type LinkConfig struct {
	Type            string        `mapstructure:"type"` // "serial", "tcp", "local"
	Serial          SerialConfig  `mapstructure:"serial"`
	Tcp             TcpConfig     `mapstructure:"tcp"`
	RxQueue         int           `mapstructure:"rx_queue"`
	ConnectAttempts uint          `mapstructure:"connect_attempts"`
	ConnectDelay    time.Duration `mapstructure:"connect_delay"`
}

// LoopConfig defines the control loop
type LoopConfig struct {
	Period time.Duration `mapstructure:"period"`
}

// RetryConfig holds the retry maxima of one layer. A nil maximum was not
// configured; zero disables retries on that axis.
type RetryConfig struct {
	Busy    *int `mapstructure:"busy"`
	Timeout *int `mapstructure:"timeout"`
}

// Retries builds a RetryConfig with both maxima set.
func Retries(busy, timeout int) RetryConfig {
	return RetryConfig{Busy: &busy, Timeout: &timeout}
}

// DriveConfig defines one controlled drive
type DriveConfig struct {
	Name            string        `mapstructure:"name"`
	NodeID          int           `mapstructure:"node_id"`
	SDO             RetryConfig   `mapstructure:"sdo"`
	Node            RetryConfig   `mapstructure:"node"`
	ResponseTimeout time.Duration `mapstructure:"response_timeout"` // SDO answer deadline
	ResponseDelay   time.Duration `mapstructure:"response_delay"`   // Status word echo of a control word
	PollCycle       time.Duration `mapstructure:"poll_cycle"`       // Status word poll while waiting
	Attempts        int           `mapstructure:"attempts"`         // Tries per program step
	Program         []StepConfig  `mapstructure:"program"`
}

// StepConfig is one step of a drive program. Only the fields used by Op
// are read.
type StepConfig struct {
	Op           string        `mapstructure:"op"`
	Mode         string        `mapstructure:"mode"` // "pp", "pv", "homing"
	Position     int32         `mapstructure:"position"`
	Immediate    bool          `mapstructure:"immediate"`
	Speed        int32         `mapstructure:"speed"`
	Acceleration uint32        `mapstructure:"acceleration"`
	Deceleration uint32        `mapstructure:"deceleration"`
	ProfileType  int16         `mapstructure:"profile_type"`
	Method       int8          `mapstructure:"method"`
	Object       string        `mapstructure:"object"` // "0x6081.00"
	Size         int           `mapstructure:"size"`
	Value        uint32        `mapstructure:"value"`
	Duration     time.Duration `mapstructure:"duration"`
}

// EmulatorConfig defines the simulated drives served by "emulate" and by
// the "local" link type.
type EmulatorConfig struct {
	NodeIDs     string            `mapstructure:"node_ids"` // "1", "1,2", "1-4"
	Tcp         TcpConfig         `mapstructure:"tcp"`
	Serial      SerialConfig      `mapstructure:"serial"`
	Tick        time.Duration     `mapstructure:"tick"`
	MoveTicks   int               `mapstructure:"move_ticks"`
	HomingTicks int               `mapstructure:"homing_ticks"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
}

// PersistenceConfig defines data storage settings
type PersistenceConfig struct {
	Type string `mapstructure:"type"` // "memory", "file", "mmap", "sql"
	Path string `mapstructure:"path"` // File path for "file/mmap/sql" type
}

// TcpConfig defines TCP settings
type TcpConfig struct {
	Address string        `mapstructure:"address"` // e.g. "0.0.0.0:5020" or "192.168.1.100:5020"
	Timeout time.Duration `mapstructure:"timeout"`
}

// SerialConfig defines serial line settings
type SerialConfig struct {
	Device   string        `mapstructure:"device"`
	BaudRate int           `mapstructure:"baud_rate"`
	DataBits int           `mapstructure:"data_bits"`
	Parity   string        `mapstructure:"parity"`
	StopBits int           `mapstructure:"stop_bits"`
	Timeout  time.Duration `mapstructure:"timeout"`

	// RS485 specific
	RS485              bool          `mapstructure:"rs485"`
	DelayRtsBeforeSend time.Duration `mapstructure:"delay_rts_before_send"`
	DelayRtsAfterSend  time.Duration `mapstructure:"delay_rts_after_send"`
	RtsHighDuringSend  bool          `mapstructure:"rts_high_during_send"`
	RtsHighAfterSend   bool          `mapstructure:"rts_high_after_send"`
	RxDuringTx         bool          `mapstructure:"rx_during_tx"`
}

// BindFlags registers the command line overrides understood by LoadConfig.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "", "Log level (debug, info, warn, error)")
	fs.String("link-type", "", "Link type (serial, tcp, local)")
	fs.String("link-device", "", "Serial device of the link")
	fs.String("link-address", "", "TCP address of the link")
	fs.Duration("loop-period", 0, "Control loop period")
}

var flagKeys = map[string]string{
	"log-level":    "log.level",
	"link-type":    "link.type",
	"link-device":  "link.serial.device",
	"link-address": "link.tcp.address",
	"loop-period":  "loop.period",
}

// LoadConfig loads configuration from file. Flags set on fs override the
// file; fs may be nil.
func LoadConfig(configFile string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mcdrive/")
		v.AddConfigPath("$HOME/.mcdrive")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		return nil, fmt.Errorf("failed to find config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.fixup(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("link.type", "serial")
	v.SetDefault("link.rx_queue", 64)
	v.SetDefault("link.connect_attempts", 3)
	v.SetDefault("link.connect_delay", 500*time.Millisecond)
	v.SetDefault("loop.period", 5*time.Millisecond)
	v.SetDefault("emulator.node_ids", "1")
	v.SetDefault("emulator.tcp.address", "0.0.0.0:5020")
	v.SetDefault("emulator.tick", 10*time.Millisecond)
	v.SetDefault("emulator.move_ticks", 20)
	v.SetDefault("emulator.homing_ticks", 30)
	v.SetDefault("emulator.persistence.type", "memory")
}

func (c *Config) fixup() error {
	c.Link.Type = strings.ToLower(c.Link.Type)
	fixupSerial(&c.Link.Serial)
	fixupTcp(&c.Link.Tcp)
	fixupSerial(&c.Emulator.Serial)
	fixupTcp(&c.Emulator.Tcp)

	for i := range c.Drives {
		d := &c.Drives[i]
		if d.NodeID < 0 || d.NodeID > 255 {
			return fmt.Errorf("drive %d: node id out of range: %d", i, d.NodeID)
		}
		if d.Name == "" {
			d.Name = "drive-" + strconv.Itoa(d.NodeID)
		}
		if d.Attempts <= 0 {
			d.Attempts = 1
		}
		if err := fixupRetry(&d.SDO, 3, 1); err != nil {
			return fmt.Errorf("drive %s: sdo: %w", d.Name, err)
		}
		if err := fixupRetry(&d.Node, 1, 1); err != nil {
			return fmt.Errorf("drive %s: node: %w", d.Name, err)
		}
		if d.ResponseTimeout <= 0 {
			d.ResponseTimeout = 20 * time.Millisecond
		}
		if d.ResponseDelay <= 0 {
			d.ResponseDelay = 50 * time.Millisecond
		}
		if d.PollCycle <= 0 {
			d.PollCycle = 20 * time.Millisecond
		}
		for j := range d.Program {
			d.Program[j].Op = strings.ToLower(strings.TrimSpace(d.Program[j].Op))
			d.Program[j].Mode = strings.ToLower(strings.TrimSpace(d.Program[j].Mode))
		}
	}

	if _, err := ParseNodeIDs(c.Emulator.NodeIDs); err != nil {
		return fmt.Errorf("emulator: %w", err)
	}
	return nil
}

func fixupRetry(r *RetryConfig, busy, timeout int) error {
	if r.Busy == nil {
		r.Busy = &busy
	}
	if r.Timeout == nil {
		r.Timeout = &timeout
	}
	if *r.Busy < 0 || *r.Timeout < 0 {
		return fmt.Errorf("negative retry maximum: busy %d, timeout %d", *r.Busy, *r.Timeout)
	}
	return nil
}

func fixupSerial(s *SerialConfig) {
	s.Parity = strings.ToUpper(s.Parity)
	if s.Parity == "" {
		s.Parity = "N"
	}
	if s.BaudRate == 0 {
		s.BaudRate = 115200
	}
	if s.DataBits == 0 {
		s.DataBits = 8
	}
	if s.StopBits == 0 {
		s.StopBits = 1
	}
	if s.Timeout == 0 {
		s.Timeout = 10 * time.Millisecond
	}
}

func fixupTcp(t *TcpConfig) {
	if t.Timeout == 0 {
		t.Timeout = 2 * time.Second
	}
}

// ParseNodeIDs parses a string of node ids like "1,2,5-10".
func ParseNodeIDs(input string) ([]byte, error) {
	var ids []byte
	parts := strings.Split(input, ",")
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			ranges := strings.Split(part, "-")
			if len(ranges) != 2 {
				return nil, fmt.Errorf("invalid range: %s", part)
			}
			start, err := strconv.Atoi(strings.TrimSpace(ranges[0]))
			if err != nil {
				return nil, fmt.Errorf("invalid start of range: %w", err)
			}
			end, err := strconv.Atoi(strings.TrimSpace(ranges[1]))
			if err != nil {
				return nil, fmt.Errorf("invalid end of range: %w", err)
			}
			if start > end {
				return nil, fmt.Errorf("start of range %d is greater than end %d", start, end)
			}
			for i := start; i <= end; i++ {
				if i < 0 || i > 255 {
					return nil, fmt.Errorf("id out of range: %d", i)
				}
				ids = append(ids, byte(i))
			}
			continue
		}
		id, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		if id < 0 || id > 255 {
			return nil, fmt.Errorf("id out of range: %d", id)
		}
		ids = append(ids, byte(id))
	}
	return ids, nil
}
