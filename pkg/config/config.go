// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config loads the converter configuration from a YAML file,
// BILLBRIDGE_ environment variables and command line flags, and persists
// the two interface configurations in a bbolt blob store.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/atomic"

	bp "github.com/Thermoquad/billbridge/pkg/billproto"
	"github.com/Thermoquad/billbridge/pkg/logging"
)

// EnvPrefix prefixes every environment override, e.g.
// BILLBRIDGE_DOWNSTREAM_PHY_BAUD
const EnvPrefix = "BILLBRIDGE"

// Link roles
const (
	RoleUpstream   = "upstream"
	RoleDownstream = "downstream"
)

// Parity and polarity settings
const (
	ParityNone       = "none"
	ParityEven       = "even"
	ParityOdd        = "odd"
	PolarityNormal   = "normal"
	PolarityInverted = "inverted"
)

// PhyConfig is the physical layer of one link
type PhyConfig struct {
	Baud     int    `mapstructure:"baud" yaml:"baud" cbor:"1,keyasint"`
	Parity   string `mapstructure:"parity" yaml:"parity" cbor:"2,keyasint"`
	Polarity string `mapstructure:"polarity" yaml:"polarity" cbor:"3,keyasint"`
}

// DatalinkConfig overrides the protocol's default framing. Zero values keep
// the default.
type DatalinkConfig struct {
	PollPeriod       time.Duration `mapstructure:"poll_period" yaml:"poll_period" cbor:"1,keyasint"`
	Sync             string        `mapstructure:"sync" yaml:"sync" cbor:"2,keyasint"`
	LengthOffset     int           `mapstructure:"length_offset" yaml:"length_offset" cbor:"3,keyasint"`
	ChecksumLength   int           `mapstructure:"checksum_length" yaml:"checksum_length" cbor:"4,keyasint"`
	InterByteTimeout time.Duration `mapstructure:"inter_byte_timeout" yaml:"inter_byte_timeout" cbor:"5,keyasint"`
}

// LinkConfig describes one side of the converter. Port selects a local
// serial device; URL a WebSocket serial bridge.
type LinkConfig struct {
	Role     string         `mapstructure:"role" yaml:"role" cbor:"1,keyasint"`
	Protocol string         `mapstructure:"protocol" yaml:"protocol" cbor:"2,keyasint"`
	Port     string         `mapstructure:"port" yaml:"port" cbor:"3,keyasint"`
	URL      string         `mapstructure:"url" yaml:"url" cbor:"4,keyasint"`
	Username string         `mapstructure:"username" yaml:"username" cbor:"5,keyasint"`
	Phy      PhyConfig      `mapstructure:"phy" yaml:"phy" cbor:"6,keyasint"`
	Datalink DatalinkConfig `mapstructure:"datalink" yaml:"datalink" cbor:"7,keyasint"`
}

// TimingConfig holds the converter's timeouts
type TimingConfig struct {
	StatusTTL        time.Duration `mapstructure:"status_ttl" yaml:"status_ttl"`
	StartupTimeout   time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
	ResponseTimeout  time.Duration `mapstructure:"response_timeout" yaml:"response_timeout"`
	BillTableTimeout time.Duration `mapstructure:"bill_table_timeout" yaml:"bill_table_timeout"`
	Retries          int           `mapstructure:"retries" yaml:"retries"`
	StatsInterval    time.Duration `mapstructure:"stats_interval" yaml:"stats_interval"`
}

// StoreConfig locates the bbolt blob store
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// RedisConfig enables event publishing when Address is set
type RedisConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db"`
	Channel   string `mapstructure:"channel" yaml:"channel"`
	StatusKey string `mapstructure:"status_key" yaml:"status_key"`
}

// LogConfig sets the log level
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Config is the complete converter configuration
type Config struct {
	Upstream   LinkConfig   `mapstructure:"upstream" yaml:"upstream"`
	Downstream LinkConfig   `mapstructure:"downstream" yaml:"downstream"`
	Timing     TimingConfig `mapstructure:"timing" yaml:"timing"`
	Currency   string       `mapstructure:"currency" yaml:"currency"`
	Store      StoreConfig  `mapstructure:"store" yaml:"store"`
	Redis      RedisConfig  `mapstructure:"redis" yaml:"redis"`
	Log        LogConfig    `mapstructure:"log" yaml:"log"`
}

var defaults = map[string]interface{}{
	"upstream.role":                          RoleUpstream,
	"upstream.protocol":                      "ccnet",
	"upstream.port":                          "/dev/ttyUSB0",
	"upstream.url":                           "",
	"upstream.username":                      "",
	"upstream.phy.baud":                      9600,
	"upstream.phy.parity":                    ParityNone,
	"upstream.phy.polarity":                  PolarityNormal,
	"upstream.datalink.poll_period":          time.Duration(0),
	"upstream.datalink.sync":                 "",
	"upstream.datalink.length_offset":        0,
	"upstream.datalink.checksum_length":      0,
	"upstream.datalink.inter_byte_timeout":   bp.DefaultInterByteTimeout,
	"downstream.role":                        RoleDownstream,
	"downstream.protocol":                    "id003",
	"downstream.port":                        "/dev/ttyUSB1",
	"downstream.url":                         "",
	"downstream.username":                    "",
	"downstream.phy.baud":                    9600,
	"downstream.phy.parity":                  ParityEven,
	"downstream.phy.polarity":                PolarityNormal,
	"downstream.datalink.poll_period":        100 * time.Millisecond,
	"downstream.datalink.sync":               "",
	"downstream.datalink.length_offset":      0,
	"downstream.datalink.checksum_length":    0,
	"downstream.datalink.inter_byte_timeout": bp.DefaultInterByteTimeout,
	"timing.status_ttl":                      1500 * time.Millisecond,
	"timing.startup_timeout":                 200 * time.Millisecond,
	"timing.response_timeout":                50 * time.Millisecond,
	"timing.bill_table_timeout":              100 * time.Millisecond,
	"timing.retries":                         1,
	"timing.stats_interval":                  time.Duration(0),
	"currency":                               "EUR",
	"store.path":                             "",
	"redis.address":                          "",
	"redis.password":                         "",
	"redis.db":                               0,
	"redis.channel":                          "billbridge:events",
	"redis.status_key":                       "billbridge:status",
	"log.level":                              "info",
}

// New returns a viper instance with defaults, environment overrides and the
// config file (when path is set) registered but not yet read
func New(path string) *viper.Viper {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("billbridge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/billbridge")
	}
	return v
}

// Load reads the config file if one is present and returns the validated
// configuration. A missing default config file is not an error; a missing
// explicit one is.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Live holds the most recently loaded configuration
type Live struct {
	current atomic.Pointer[Config]
}

// NewLive returns a holder seeded with cfg
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.current.Store(cfg)
	return l
}

// Get returns the latest snapshot. Do not mutate it.
func (l *Live) Get() *Config {
	return l.current.Load()
}

// Watch reloads the config file whenever it changes. Invalid edits are
// logged and ignored. onChange runs on the watcher goroutine.
func Watch(v *viper.Viper, live *Live, logger *slog.Logger, onChange func(old, updated *Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		reload(v, live, logger, onChange)
	})
	v.WatchConfig()
}

func reload(v *viper.Viper, live *Live, logger *slog.Logger, onChange func(old, updated *Config)) {
	updated, err := decode(v)
	if err != nil {
		logger.Error("config reload failed", "path", v.ConfigFileUsed(), "error", err)
		return
	}
	old := live.Get()
	live.current.Store(updated)
	logger.Info("config reloaded", "path", v.ConfigFileUsed())
	if onChange != nil {
		onChange(old, updated)
	}
}

// Validate checks every field that the converter cannot fix up itself
func (c *Config) Validate() error {
	up, err := c.Upstream.Validate()
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}
	if up != bp.ProtocolCCNET {
		return fmt.Errorf("upstream: protocol %s not supported, want CCNET", up)
	}
	down, err := c.Downstream.Validate()
	if err != nil {
		return fmt.Errorf("downstream: %w", err)
	}
	if down == bp.ProtocolCCNET {
		return errors.New("downstream: protocol CCNET not supported, want ID003 or CCTALK")
	}

	t := c.Timing
	for name, d := range map[string]time.Duration{
		"status_ttl":         t.StatusTTL,
		"startup_timeout":    t.StartupTimeout,
		"response_timeout":   t.ResponseTimeout,
		"bill_table_timeout": t.BillTableTimeout,
		"stats_interval":     t.StatsInterval,
	} {
		if d < 0 {
			return fmt.Errorf("timing.%s must not be negative", name)
		}
	}
	if t.Retries < 0 {
		return errors.New("timing.retries must not be negative")
	}
	if len(c.Currency) != 3 {
		return fmt.Errorf("currency %q must be a 3 letter code", c.Currency)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Validate checks the link and returns its protocol
func (l LinkConfig) Validate() (bp.Protocol, error) {
	p, err := bp.ParseProtocol(l.Protocol)
	if err != nil {
		return bp.ProtocolUnknown, err
	}
	if l.Port == "" && l.URL == "" {
		return p, errors.New("either port or url is required")
	}
	if l.Phy.Baud <= 0 {
		return p, fmt.Errorf("invalid baud rate %d", l.Phy.Baud)
	}
	switch l.Phy.Parity {
	case ParityNone, ParityEven, ParityOdd:
	default:
		return p, fmt.Errorf("invalid parity %q", l.Phy.Parity)
	}
	switch l.Phy.Polarity {
	case PolarityNormal, PolarityInverted:
	default:
		return p, fmt.Errorf("invalid polarity %q", l.Phy.Polarity)
	}
	if l.Datalink.PollPeriod < 0 {
		return p, errors.New("poll_period must not be negative")
	}
	if _, err := l.Framing(); err != nil {
		return p, err
	}
	return p, nil
}

// Framing returns the protocol's default framing with the datalink overrides
// applied
func (l LinkConfig) Framing() (bp.Framing, error) {
	p, err := bp.ParseProtocol(l.Protocol)
	if err != nil {
		return bp.Framing{}, err
	}
	f, err := bp.DefaultFraming(p)
	if err != nil {
		return bp.Framing{}, err
	}

	d := l.Datalink
	if d.Sync != "" {
		sync, err := hex.DecodeString(strings.ReplaceAll(d.Sync, " ", ""))
		if err != nil {
			return bp.Framing{}, fmt.Errorf("invalid sync %q: %w", d.Sync, err)
		}
		f.Sync = sync
	}
	if d.LengthOffset != 0 {
		f.LengthOffset = d.LengthOffset
	}
	if d.ChecksumLength != 0 {
		f.ChecksumLength = d.ChecksumLength
	}
	if d.InterByteTimeout != 0 {
		f.InterByteTimeout = d.InterByteTimeout
	}
	if err := f.Validate(); err != nil {
		return bp.Framing{}, fmt.Errorf("framing: %w", err)
	}
	return f, nil
}

// Override writes the link's fields back into v so that a stored interface
// configuration overrides the file
func (l LinkConfig) Override(v *viper.Viper, role string) {
	v.Set(role+".protocol", l.Protocol)
	v.Set(role+".port", l.Port)
	v.Set(role+".url", l.URL)
	v.Set(role+".username", l.Username)
	v.Set(role+".phy.baud", l.Phy.Baud)
	v.Set(role+".phy.parity", l.Phy.Parity)
	v.Set(role+".phy.polarity", l.Phy.Polarity)
	v.Set(role+".datalink.poll_period", l.Datalink.PollPeriod)
	v.Set(role+".datalink.sync", l.Datalink.Sync)
	v.Set(role+".datalink.length_offset", l.Datalink.LengthOffset)
	v.Set(role+".datalink.checksum_length", l.Datalink.ChecksumLength)
	v.Set(role+".datalink.inter_byte_timeout", l.Datalink.InterByteTimeout)
}
