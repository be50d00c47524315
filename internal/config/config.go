package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the rtubuffered configuration file.
type Config struct {
	Port    *PortConfig    `yaml:"port"`
	Poll    *PollConfig    `yaml:"poll"`
	Bridge  *BridgeConfig  `yaml:"bridge"`
	Metrics *MetricsConfig `yaml:"metrics"`
	Log     LogConfig      `yaml:"log"`
}

// PortConfig describes the client side connection to a gateway.
type PortConfig struct {
	Address         string        `yaml:"address"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	InitialSequence uint16        `yaml:"initial_sequence"`
	VerifyCRC       bool          `yaml:"verify_crc"`
}

// PollConfig describes a request sent on a fixed interval.
type PollConfig struct {
	Request  string        `yaml:"request"` // hex RTU frame including CRC
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// BridgeConfig describes the gateway side.
type BridgeConfig struct {
	Listen         string        `yaml:"listen"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Serial         *SerialConfig `yaml:"serial"`
	ModbusTCP      *MBAPConfig   `yaml:"modbus_tcp"`
}

// SerialConfig holds serial line parameters.
type SerialConfig struct {
	Device   string        `yaml:"device"`
	BaudRate int           `yaml:"baud_rate"`
	DataBits int           `yaml:"data_bits"`
	StopBits int           `yaml:"stop_bits"`
	Parity   string        `yaml:"parity"`
	Timeout  time.Duration `yaml:"timeout"`
}

// MBAPConfig points the bridge at a Modbus TCP server.
type MBAPConfig struct {
	Address     string        `yaml:"address"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// ReadConfigFile loads, defaults and validates a configuration file.
func ReadConfigFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	config := Config{}
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	if config.Port == nil && config.Bridge == nil {
		return nil, errors.New("empty configuration: need a port or bridge section")
	}
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Port != nil {
		if c.Port.DialTimeout == 0 {
			c.Port.DialTimeout = 5 * time.Second
		}
		if c.Port.WriteTimeout == 0 {
			c.Port.WriteTimeout = time.Second
		}
	}
	if c.Poll != nil {
		if c.Poll.Interval == 0 {
			c.Poll.Interval = time.Second
		}
		if c.Poll.Timeout == 0 {
			c.Poll.Timeout = c.Poll.Interval
		}
	}
	if b := c.Bridge; b != nil {
		if b.Listen == "" {
			b.Listen = "127.0.0.1:502"
		}
		if b.RequestTimeout == 0 {
			b.RequestTimeout = time.Second
		}
		if s := b.Serial; s != nil {
			if s.BaudRate == 0 {
				s.BaudRate = 9600
			}
			if s.DataBits == 0 {
				s.DataBits = 8
			}
			if s.StopBits == 0 {
				s.StopBits = 1
			}
			if s.Parity == "" {
				s.Parity = "N"
			}
			if s.Timeout == 0 {
				s.Timeout = 50 * time.Millisecond
			}
		}
		if m := b.ModbusTCP; m != nil && m.DialTimeout == 0 {
			m.DialTimeout = 5 * time.Second
		}
	}
	if c.Metrics != nil && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first inconsistency in c.
func (c *Config) Validate() error {
	if c.Port != nil && c.Port.Address == "" {
		return errors.New("port.address is required")
	}
	if c.Poll != nil {
		if c.Port == nil {
			return errors.New("poll requires a port section")
		}
		if _, err := c.Poll.RequestBytes(); err != nil {
			return err
		}
		if c.Poll.Interval < 0 || c.Poll.Timeout < 0 {
			return errors.New("poll.interval and poll.timeout must be positive")
		}
	}
	if b := c.Bridge; b != nil {
		switch {
		case b.Serial == nil && b.ModbusTCP == nil:
			return errors.New("bridge needs a serial or modbus_tcp device")
		case b.Serial != nil && b.ModbusTCP != nil:
			return errors.New("bridge.serial and bridge.modbus_tcp are exclusive")
		case b.Serial != nil && b.Serial.Device == "":
			return errors.New("bridge.serial.device is required")
		case b.Serial != nil && !validParity(b.Serial.Parity):
			return fmt.Errorf("bridge.serial.parity %q must be N, E or O", b.Serial.Parity)
		case b.ModbusTCP != nil && b.ModbusTCP.Address == "":
			return errors.New("bridge.modbus_tcp.address is required")
		}
	}
	if c.Metrics != nil && c.Metrics.Listen == "" {
		return errors.New("metrics.listen is required")
	}
	return nil
}

func validParity(p string) bool {
	switch strings.ToUpper(p) {
	case "N", "E", "O":
		return true
	}
	return false
}

// RequestBytes decodes the poll request. Spaces are allowed between bytes.
func (p *PollConfig) RequestBytes() ([]byte, error) {
	request, err := hex.DecodeString(strings.ReplaceAll(p.Request, " ", ""))
	if err != nil {
		return nil, fmt.Errorf("poll.request: %w", err)
	}
	if len(request) < 4 {
		return nil, fmt.Errorf("poll.request: %d bytes is too short", len(request))
	}
	return request, nil
}
